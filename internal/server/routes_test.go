package server

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func base(p string) string { return "/api/principals/" + url.PathEscape(p) }

func TestRememberAndList(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", base(alice)+"/memories", `{"text":"my SSN is 123-45-6789"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["tag"] != "confidential" || body["label"] != "Confidential" {
		t.Errorf("tag = %v / %v", body["tag"], body["label"])
	}
	if body["source"] != "text" {
		t.Errorf("source = %v, want text default", body["source"])
	}

	w = do(t, srv, "GET", base(alice)+"/memories", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if got := decodeBody(t, w)["count"]; got != float64(1) {
		t.Errorf("count = %v, want 1", got)
	}
}

func TestRememberValidation(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"text":`},
		{"empty text", `{"text":"   "}`},
		{"bad source", `{"text":"hello there","source":"fax"}`},
	}
	for _, tt := range tests {
		w := do(t, srv, "POST", base(alice)+"/memories", tt.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, w.Code)
		}
	}
}

func TestSecretTierGating(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", base(alice)+"/memories", `{"text":"the launch plan is secret: attack at dawn"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("remember: %d %s", w.Code, w.Body.String())
	}
	id := decodeBody(t, w)["id"].(string)

	if w := do(t, srv, "GET", base(alice)+"/memories?tag=secret", ""); w.Code != http.StatusForbidden {
		t.Errorf("locked list: status = %d, want 403", w.Code)
	}
	if w := do(t, srv, "GET", base(alice)+"/memories/"+id, ""); w.Code != http.StatusForbidden {
		t.Errorf("locked get: status = %d, want 403", w.Code)
	}
	w = do(t, srv, "GET", base(alice)+"/search?q=plan", "")
	if got := decodeBody(t, w)["count"]; got != float64(0) {
		t.Errorf("locked search count = %v, want 0", got)
	}

	if w := do(t, srv, "POST", base(alice)+"/passphrase", `{"passphrase":"open sesame"}`); w.Code != http.StatusOK {
		t.Fatalf("enroll: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, srv, "POST", base(alice)+"/unlock", `{"passphrase":"wrong"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong passphrase: status = %d, want 401", w.Code)
	}
	w = do(t, srv, "POST", base(alice)+"/unlock", `{"passphrase":"open sesame"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unlock: %d %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["expires_at"]; got != "2026-03-01T09:10:00Z" {
		t.Errorf("expires_at = %v", got)
	}

	if w := do(t, srv, "GET", base(alice)+"/memories/"+id, ""); w.Code != http.StatusOK {
		t.Errorf("unlocked get: status = %d", w.Code)
	}
	w = do(t, srv, "GET", base(alice)+"/search?q=plan&scope=self", "")
	if got := decodeBody(t, w)["count"]; got != float64(1) {
		t.Errorf("unlocked search count = %v, want 1", got)
	}

	w = do(t, srv, "GET", base(alice)+"/status", "")
	if got := decodeBody(t, w)["state"]; got != "unlocked" {
		t.Errorf("state = %v, want unlocked", got)
	}

	w = do(t, srv, "POST", base(alice)+"/lock", "")
	if got := decodeBody(t, w)["had_session"]; got != true {
		t.Errorf("had_session = %v", got)
	}
}

func TestSearchErrors(t *testing.T) {
	srv := testServer(t)

	if w := do(t, srv, "GET", base(alice)+"/search?q=", ""); w.Code != http.StatusBadRequest {
		t.Errorf("empty query: status = %d, want 400", w.Code)
	}
	if w := do(t, srv, "GET", base(alice)+"/search?q=plan&scope=galaxy", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad scope: status = %d, want 400", w.Code)
	}
	// Default role cannot search the whole tenant.
	w := do(t, srv, "GET", base(alice)+"/search?q=plan&scope=tenant", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("tenant scope: status = %d, want 403", w.Code)
	}
	if got := decodeBody(t, w)["error"]; got != "You are not allowed to do that." {
		t.Errorf("error = %v", got)
	}
}

func TestDeleteAndNotFound(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", base(alice)+"/memories", `{"text":"i like green tea"}`)
	id := decodeBody(t, w)["id"].(string)

	if w := do(t, srv, "DELETE", base("+15550000002")+"/memories/"+id, ""); w.Code != http.StatusNotFound {
		t.Errorf("stranger delete: status = %d, want 404", w.Code)
	}
	if w := do(t, srv, "DELETE", base(alice)+"/memories/"+id+"?reason=stale", ""); w.Code != http.StatusOK {
		t.Errorf("owner delete: status = %d", w.Code)
	}
	if w := do(t, srv, "GET", base(alice)+"/memories/"+id, ""); w.Code != http.StatusNotFound {
		t.Errorf("get deleted: status = %d, want 404", w.Code)
	}
}

func TestAuditAndDigest(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", base(alice)+"/memories", `{"text":"i like green tea"}`)

	w := do(t, srv, "GET", base(alice)+"/audit?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("audit: %d", w.Code)
	}
	recs := decodeBody(t, w)["records"].([]any)
	if len(recs) == 0 || recs[0].(map[string]any)["event_type"] != "memory.append" {
		t.Errorf("records = %v", recs)
	}

	if w := do(t, srv, "GET", base(alice)+"/audit?target=%2B15550000002", ""); w.Code != http.StatusForbidden {
		t.Errorf("cross audit: status = %d, want 403", w.Code)
	}

	w = do(t, srv, "GET", base(alice)+"/digest", "")
	digest, _ := decodeBody(t, w)["digest"].(string)
	if !strings.Contains(digest, "green tea") {
		t.Errorf("digest = %q", digest)
	}

	w = do(t, srv, "GET", base(alice)+"/digest?format=markdown", "")
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("content type = %q", ct)
	}
}

func TestMessageWebhook(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/messages", `{"from":"+1 555 000 0001","text":"i like green tea","kind":"text"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["to"] != alice || body["text"] != "Saved as General." {
		t.Errorf("reply = %v", body)
	}

	w = do(t, srv, "POST", "/api/messages", `{"from":"+15550000001","text":"/list secret"}`)
	if got := decodeBody(t, w)["text"]; got != "You are not allowed to do that." {
		t.Errorf("denial reply = %v", got)
	}
}
