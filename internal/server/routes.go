package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lazypower/confidant/internal/access"
	"github.com/lazypower/confidant/internal/errs"
	"github.com/lazypower/confidant/internal/store"
	"github.com/lazypower/confidant/internal/tags"
)

type entryJSON struct {
	ID                string   `json:"id"`
	PrincipalID       string   `json:"principal_id"`
	Tag               string   `json:"tag"`
	Label             string   `json:"label"`
	Seq               int64    `json:"seq"`
	Content           string   `json:"content"`
	Source            string   `json:"source"`
	Confidence        float64  `json:"confidence"`
	RelatedPrincipals []string `json:"related_principals"`
	Context           string   `json:"context,omitempty"`
	CreatedAt         string   `json:"created_at"`
}

func toEntryJSON(e *store.Entry) entryJSON {
	return entryJSON{
		ID:                e.ID,
		PrincipalID:       e.PrincipalID,
		Tag:               string(e.Tag),
		Label:             e.Tag.Label(),
		Seq:               e.Seq,
		Content:           e.Content,
		Source:            e.Source,
		Confidence:        e.Confidence,
		RelatedPrincipals: e.RelatedPrincipals,
		Context:           e.Context,
		CreatedAt:         time.UnixMilli(e.CreatedAt).UTC().Format(time.RFC3339),
	}
}

func toEntriesJSON(entries []store.Entry) []entryJSON {
	out := make([]entryJSON, len(entries))
	for i := range entries {
		out[i] = toEntryJSON(&entries[i])
	}
	return out
}

// writeError maps an error kind to its status code. The body only ever
// carries the generic user message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindAuthorization:
		status = http.StatusForbidden
	case errs.KindAuthentication:
		status = http.StatusUnauthorized
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindTransient:
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		s.logger.Warn("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": errs.UserMessage(err)})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validation("decode", "invalid json")
	}
	return nil
}

// queryInt returns the positive integer query parameter name, or 0.
func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text    string `json:"text"`
		Source  string `json:"source"`
		Context string `json:"context"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	entry, err := s.eng.Ingest(r.Context(), chi.URLParam(r, "principalID"), req.Text, req.Source, req.Context)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryJSON(entry))
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	who := chi.URLParam(r, "principalID")
	limit := queryInt(r, "limit")

	var (
		entries []store.Entry
		err     error
	)
	if raw := r.URL.Query().Get("tag"); raw != "" {
		tag, perr := tags.Parse(raw)
		if perr != nil {
			// Unknown tags go through the engine so the rejection is audited.
			tag = tags.Tag(raw)
		}
		entries, err = s.eng.ListByTag(r.Context(), who, tag, limit)
	} else {
		entries, err = s.eng.Recent(r.Context(), who, limit)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(entries),
		"memories": toEntriesJSON(entries),
	})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	entry, err := s.eng.Get(r.Context(), chi.URLParam(r, "principalID"), chi.URLParam(r, "entryID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryJSON(entry))
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	err := s.eng.Delete(r.Context(), chi.URLParam(r, "principalID"), chi.URLParam(r, "entryID"), r.URL.Query().Get("reason"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Passphrase string `json:"passphrase"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.eng.Enroll(r.Context(), chi.URLParam(r, "principalID"), req.Passphrase); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enrolled"})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Passphrase string `json:"passphrase"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.eng.Unlock(r.Context(), chi.URLParam(r, "principalID"), req.Passphrase)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"unlocked":   true,
		"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	had, err := s.eng.Logout(r.Context(), chi.URLParam(r, "principalID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "locked", "had_session": had})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, sess, err := s.eng.Status(r.Context(), chi.URLParam(r, "principalID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := map[string]any{"state": state.String()}
	if state == access.Unlocked && sess != nil {
		out["expires_at"] = sess.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	raw := r.URL.Query().Get("scope")
	scope := tags.Scope(raw)
	if sc, err := tags.ParseScope(raw); err == nil {
		scope = sc
	}

	hits, err := s.eng.SearchScoped(r.Context(), chi.URLParam(r, "principalID"), scope, query, queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	type resultJSON struct {
		entryJSON
		Score float64 `json:"score"`
	}
	out := make([]resultJSON, len(hits))
	for i := range hits {
		out[i] = resultJSON{entryJSON: toEntryJSON(&hits[i].Entry), Score: hits[i].Score}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"scope":   string(scope),
		"count":   len(out),
		"results": out,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	recs, err := s.eng.AuditTrail(r.Context(), chi.URLParam(r, "principalID"), r.URL.Query().Get("target"), queryInt(r, "limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	type recordJSON struct {
		ID        int64          `json:"id"`
		TS        string         `json:"ts"`
		EventType string         `json:"event_type"`
		Actor     string         `json:"actor"`
		Fields    map[string]any `json:"fields"`
		Hash      string         `json:"hash"`
	}
	out := make([]recordJSON, len(recs))
	for i, rec := range recs {
		out[i] = recordJSON{
			ID:        rec.ID,
			TS:        time.UnixMilli(rec.TS).UTC().Format(time.RFC3339),
			EventType: rec.EventType,
			Actor:     rec.Actor,
			Fields:    rec.Fields,
			Hash:      rec.Hash,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "records": out})
}
