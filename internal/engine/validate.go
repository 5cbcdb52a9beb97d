package engine

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lazypower/confidant/internal/audit"
	"github.com/lazypower/confidant/internal/directory"
	"github.com/lazypower/confidant/internal/errs"
)

// MaxContentChars caps a single memory. Longer input is truncated, not
// rejected.
const MaxContentChars = 8000

// maxActorChars bounds how much of an unparseable principal id is copied
// into the audit trail.
const maxActorChars = 64

// Reject records a refused request as access.rejected and returns the
// validation error to hand back to the caller.
func (e *Engine) Reject(ctx context.Context, actor, op, reason string) error {
	e.Audit.Record(ctx, audit.AccessRejected, actor, audit.Fields{"op": op, "reason": reason})
	return errs.Validation(op, reason)
}

// validateContent trims text and enforces the size ceiling.
func (e *Engine) validateContent(ctx context.Context, op, actor, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", e.Reject(ctx, actor, op, "message is empty")
	}
	if n := utf8.RuneCountInString(text); n > MaxContentChars {
		e.logger.Info("truncating memory", zap.Int("chars", n), zap.Int("max", MaxContentChars))
		text = truncateClean(text, MaxContentChars)
	}
	return text, nil
}

// principal canonicalises a caller-supplied principal id. A malformed id is
// rejected under the raw value, shortened.
func (e *Engine) principal(ctx context.Context, op, raw string) (string, error) {
	id, err := directory.NormalizePrincipal(raw)
	if err != nil {
		return "", e.Reject(ctx, truncateClean(strings.TrimSpace(raw), maxActorChars), op, "invalid principal")
	}
	return id, nil
}

// truncateClean truncates a string to maxLen runes, cutting at the last word
// boundary to avoid mid-word breaks.
func truncateClean(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}

	// Back up to last space
	truncated := string(runes[:maxLen])
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > 0 && idx > len(truncated)-200 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}
