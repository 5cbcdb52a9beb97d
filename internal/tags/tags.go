// Package tags defines the five memory sensitivity tiers and the scope policy
// that decides which tiers a search may ever surface.
package tags

import (
	"fmt"
	"sort"
	"strings"
)

// Tag is a memory sensitivity tier.
type Tag string

const (
	Chronological Tag = "chronological"
	General       Tag = "general"
	Confidential  Tag = "confidential"
	Secret        Tag = "secret"
	UltraSecret   Tag = "ultra_secret"
)

// Scope is the breadth of a search request.
type Scope string

const (
	ScopeSelf       Scope = "self"
	ScopeDepartment Scope = "department"
	ScopeTenant     Scope = "tenant"
)

// Policy describes one tier.
type Policy struct {
	Tag         Tag
	Rank        int // 1-5, classification weight only, never an access threshold
	Label       string
	Description string
	// Scopes that may ever reveal this tier through ranked search.
	Scopes []Scope
	// RequiresUnlock gates listing and retrieval on an active unlock session.
	RequiresUnlock bool
	// SealAtRest marks tiers whose content is encrypted in storage.
	SealAtRest bool
}

// declaration order is the classifier tie-break order.
var policies = []Policy{
	{
		Tag:         Chronological,
		Rank:        2,
		Label:       "Chronological",
		Description: "Dated events, schedules and reminders",
		Scopes:      []Scope{ScopeSelf, ScopeDepartment},
	},
	{
		Tag:         General,
		Rank:        1,
		Label:       "General",
		Description: "Everyday notes with no sensitivity",
		Scopes:      []Scope{ScopeSelf, ScopeDepartment, ScopeTenant},
	},
	{
		Tag:         Confidential,
		Rank:        3,
		Label:       "Confidential",
		Description: "Personal identifiers, credentials and private details",
		Scopes:      []Scope{ScopeSelf},
	},
	{
		Tag:            Secret,
		Rank:           4,
		Label:          "Secret",
		Description:    "Explicitly secret material, visible to its owner after unlocking",
		Scopes:         []Scope{ScopeSelf},
		RequiresUnlock: true,
	},
	{
		Tag:            UltraSecret,
		Rank:           5,
		Label:          "Ultra Secret",
		Description:    "Never searchable; reachable only by direct, audited retrieval",
		RequiresUnlock: true,
		SealAtRest:     true,
	},
}

var byTag = func() map[Tag]Policy {
	m := make(map[Tag]Policy, len(policies))
	for _, p := range policies {
		m[p.Tag] = p
	}
	return m
}()

// All returns every tag in declaration order.
func All() []Tag {
	out := make([]Tag, len(policies))
	for i, p := range policies {
		out[i] = p.Tag
	}
	return out
}

// Policies returns a copy of the policy table in declaration order.
func Policies() []Policy {
	out := make([]Policy, len(policies))
	copy(out, policies)
	return out
}

// PolicyFor returns the policy of t. ok is false for unknown tags.
func PolicyFor(t Tag) (Policy, bool) {
	p, ok := byTag[t]
	return p, ok
}

// Valid reports whether t is one of the five tiers.
func (t Tag) Valid() bool {
	_, ok := byTag[t]
	return ok
}

// Rank returns the tier's rank, 0 for unknown tags.
func (t Tag) Rank() int { return byTag[t].Rank }

// Label returns the human label, or the raw value for unknown tags.
func (t Tag) Label() string {
	if p, ok := byTag[t]; ok {
		return p.Label
	}
	return string(t)
}

// RequiresUnlock reports whether listing or reading t needs an unlock session.
func (t Tag) RequiresUnlock() bool { return byTag[t].RequiresUnlock }

// SealAtRest reports whether t's content is encrypted in storage.
func (t Tag) SealAtRest() bool { return byTag[t].SealAtRest }

// Parse accepts a tag label in any case, with spaces, dashes or underscores.
func Parse(s string) (Tag, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	if norm == "ultrasecret" {
		norm = string(UltraSecret)
	}
	t := Tag(norm)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tag %q", s)
	}
	return t, nil
}

// ParseScope accepts self, department/dept or tenant/org.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "self", "me", "":
		return ScopeSelf, nil
	case "department", "dept", "team":
		return ScopeDepartment, nil
	case "tenant", "org", "company":
		return ScopeTenant, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeSelf || s == ScopeDepartment || s == ScopeTenant
}

// Set is an unordered visibility set of tags.
type Set map[Tag]bool

// NewSet builds a set from tags.
func NewSet(ts ...Tag) Set {
	s := make(Set, len(ts))
	for _, t := range ts {
		s[t] = true
	}
	return s
}

// Has reports membership.
func (s Set) Has(t Tag) bool { return s[t] }

// Slice returns the members in declaration order.
func (s Set) Slice() []Tag {
	var out []Tag
	for _, p := range policies {
		if s[p.Tag] {
			out = append(out, p.Tag)
		}
	}
	return out
}

// Strings returns the member labels in declaration order.
func (s Set) Strings() []string {
	ts := s.Slice()
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	sort.Strings(out)
	return out
}

// Allowed returns the tags a search in scope may surface. Only the self scope
// reacts to the unlock state, by adding SECRET. ULTRA_SECRET is never included.
func Allowed(scope Scope, unlocked bool) Set {
	s := make(Set)
	for _, p := range policies {
		if p.RequiresUnlock {
			continue
		}
		for _, sc := range p.Scopes {
			if sc == scope {
				s[p.Tag] = true
			}
		}
	}
	if scope == ScopeSelf && unlocked {
		s[Secret] = true
	}
	return s
}

// Visible returns the tags a principal may list from their own log.
func Visible(unlocked bool) Set {
	return Allowed(ScopeSelf, unlocked)
}
