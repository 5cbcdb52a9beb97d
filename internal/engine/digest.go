package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/confidant/internal/access"
	"github.com/lazypower/confidant/internal/memory"
	"github.com/lazypower/confidant/internal/tags"
)

const (
	maxDigestItems = 15
	maxDigestLine  = 160
)

// Digest renders a markdown summary of what the principal can currently see:
// unlock status, entry counts for visible tiers, and the newest entries.
// Tiers hidden by the lock are neither counted nor named.
func (e *Engine) Digest(ctx context.Context, who string) (string, error) {
	p, err := e.principal(ctx, "digest", who)
	if err != nil {
		return "", err
	}

	state, sess, err := e.Gate.Status(ctx, p)
	if err != nil {
		return "", err
	}
	visible := tags.Visible(state == access.Unlocked)

	counts, err := e.Memory.Counts(ctx, p)
	if err != nil {
		return "", err
	}
	recent, err := e.Memory.List(memory.WithActor(ctx, p), p, visible, maxDigestItems)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Confidant: %s\n", p)

	switch state {
	case access.Unlocked:
		fmt.Fprintf(&b, "\nUnlocked until %s.\n", sess.ExpiresAt.Format("15:04"))
	case access.Enrolled:
		b.WriteString("\nLocked.\n")
	default:
		b.WriteString("\nNo passphrase enrolled.\n")
	}

	b.WriteString("\n### Memories\n")
	for _, t := range visible.Slice() {
		fmt.Fprintf(&b, "- %s: %d\n", t.Label(), counts[t])
	}

	if len(recent) > 0 {
		b.WriteString("\n### Recent\n")
		for _, entry := range recent {
			ts := time.UnixMilli(entry.CreatedAt).Format("2006-01-02 15:04")
			fmt.Fprintf(&b, "- [%s] %s: %s\n", ts, entry.Tag.Label(), oneLine(entry.Content, maxDigestLine))
		}
	}
	return b.String(), nil
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		return truncateClean(s, max) + "…"
	}
	return s
}
