// Package transcript reads chat-history exports so earlier conversations can
// be imported as memories.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Line is a single line of a JSONL chat export.
type Line struct {
	From string          `json:"from"`
	Text string          `json:"text"`
	Kind string          `json:"kind"` // "text", "voice"
	TS   json.RawMessage `json:"ts"`   // RFC 3339 string or unix seconds
}

// Message is a parsed, importable message.
type Message struct {
	From string
	Text string
	Kind string
	TS   time.Time // zero when the export carried none
}

// minChars drops acknowledgements like "ok" that are not worth remembering.
const minChars = 5

// placeholders are texts chat apps export in place of real content.
var placeholders = map[string]bool{
	"<media omitted>":           true,
	"this message was deleted":  true,
	"you deleted this message":  true,
	"missed voice call":         true,
	"<attached: image omitted>": true,
	"image omitted":             true,
}

// ParseFile reads a JSONL export file and returns parsed messages.
func ParseFile(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads JSONL from r. Malformed and trivial lines are skipped.
func Parse(r io.Reader) ([]Message, error) {
	var msgs []Message
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line buffer

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := parseLine(line)
		if err != nil {
			continue // skip malformed lines
		}
		if msg != nil {
			msgs = append(msgs, *msg)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}

	return msgs, nil
}

// ParseLines parses export content from a string.
func ParseLines(content string) ([]Message, error) {
	return Parse(strings.NewReader(content))
}

func parseLine(line []byte) (*Message, error) {
	var l Line
	if err := json.Unmarshal(line, &l); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(l.Text)
	if l.From == "" || utf8.RuneCountInString(text) < minChars {
		return nil, nil
	}
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "/") {
		return nil, nil
	}
	if placeholders[strings.ToLower(text)] {
		return nil, nil
	}

	ts, err := parseTS(l.TS)
	if err != nil {
		return nil, err
	}

	kind := strings.ToLower(l.Kind)
	if kind != "voice" {
		kind = "text"
	}
	return &Message{From: l.From, Text: text, Kind: kind, TS: ts}, nil
}

// parseTS handles the polymorphic ts field.
func parseTS(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	// Try as string first
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339, s)
	}

	secs, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("ts %s: %w", raw, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// CountFrom returns the number of messages sent by from.
func CountFrom(msgs []Message, from string) int {
	count := 0
	for _, m := range msgs {
		if m.From == from {
			count++
		}
	}
	return count
}
