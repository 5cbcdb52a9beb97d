package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseLines(t *testing.T) {
	lines := `{"from":"+15550000001","text":"Dentist appointment on friday at 3pm","kind":"text","ts":"2026-02-01T10:00:00Z"}
{"from":"+15550000002","text":"Sure, I can drive you there.","ts":1769940000}
{"from":"+15550000001","text":"the alarm code is secret: 4512","kind":"voice"}`

	msgs, err := ParseLines(lines)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}

	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	if msgs[0].From != "+15550000001" {
		t.Errorf("msgs[0].From = %q", msgs[0].From)
	}
	if !msgs[0].TS.Equal(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("msgs[0].TS = %v", msgs[0].TS)
	}
	if msgs[1].Kind != "text" {
		t.Errorf("msgs[1].Kind = %q, want text default", msgs[1].Kind)
	}
	if msgs[1].TS.Unix() != 1769940000 {
		t.Errorf("msgs[1].TS = %v", msgs[1].TS)
	}
	if msgs[2].Kind != "voice" || !msgs[2].TS.IsZero() {
		t.Errorf("msgs[2] = %+v", msgs[2])
	}
}

func TestParseLinesSkipsShort(t *testing.T) {
	lines := `{"from":"+15550000001","text":"ok"}
{"from":"+15550000001","text":"  yes  "}
{"from":"+15550000001","text":"This is a real message"}`

	msgs, err := ParseLines(lines)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}

	// "ok" and "yes" are < 5 chars, should be skipped
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message (skipping short), got %d", len(msgs))
	}
}

func TestParseLinesSkipsNoise(t *testing.T) {
	lines := `{"from":"+15550000001","text":"{\"json\":\"data\"}"}
{"from":"+15550000001","text":"/unlock open sesame"}
{"from":"+15550000001","text":"<Media omitted>"}
{"from":"+15550000001","text":"This message was deleted"}
{"text":"no sender on this one"}
{"from":"+15550000001","text":"Real user message here"}`

	msgs, err := ParseLines(lines)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}

	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Text != "Real user message here" {
		t.Errorf("text = %q", msgs[0].Text)
	}
}

func TestParseLinesMalformed(t *testing.T) {
	lines := `not json at all
{"from":"+15550000001","text":"Valid message here"}
{"from":"+15550000001","text":"Bad timestamp here","ts":"yesterday"}
{broken json`

	msgs, err := ParseLines(lines)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}

	// Should skip malformed, keep valid
	if len(msgs) != 1 {
		t.Fatalf("expected 1 valid message, got %d", len(msgs))
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.jsonl")
	data := `{"from":"+15550000001","text":"Valid message here"}` + "\n\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	msgs, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCountFrom(t *testing.T) {
	msgs := []Message{
		{From: "+15550000001", Text: "hello"},
		{From: "+15550000002", Text: "hi"},
		{From: "+15550000001", Text: "world"},
	}

	if count := CountFrom(msgs, "+15550000001"); count != 2 {
		t.Errorf("CountFrom = %d, want 2", count)
	}
}
