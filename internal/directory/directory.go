// Package directory answers org-chart questions: who shares a department or
// tenant with a principal, and what their role lets them do.
package directory

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lazypower/confidant/internal/tags"
)

// Capabilities beyond a principal's own memories.
const (
	CapDeleteAny    = "memory.delete.any"
	CapAuditReadAny = "audit.read.any"
)

// Directory is the org-chart collaborator consulted by search and by
// privileged operations.
type Directory interface {
	MembersOfDepartment(ctx context.Context, principalID string) ([]string, error)
	MembersOfTenant(ctx context.Context, principalID string) ([]string, error)
	RoleOf(ctx context.Context, principalID string) (string, error)
	CanSearch(ctx context.Context, principalID string, scope tags.Scope) (bool, error)
	CanPerform(ctx context.Context, principalID, capability string) (bool, error)
}

var (
	phoneChars = regexp.MustCompile(`^[+\d\s().-]+$`)
	phoneShape = regexp.MustCompile(`^\+?\d{6,15}$`)
	handle     = regexp.MustCompile(`^[a-z0-9][a-z0-9._@-]{0,63}$`)
)

// NormalizePrincipal canonicalises a principal id. Phone numbers lose their
// separators and always carry a leading '+'; other handles are lower-cased.
func NormalizePrincipal(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty principal id")
	}
	if phoneChars.MatchString(s) {
		compact := strings.Map(func(r rune) rune {
			if r == '+' || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, s)
		if !phoneShape.MatchString(compact) {
			return "", fmt.Errorf("invalid phone number %q", raw)
		}
		return "+" + strings.TrimPrefix(compact, "+"), nil
	}
	lower := strings.ToLower(s)
	if !handle.MatchString(lower) {
		return "", fmt.Errorf("invalid principal id %q", raw)
	}
	return lower, nil
}
