package directory

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lazypower/confidant/internal/tags"
)

// DefaultRole is assigned to principals missing from the org file.
const DefaultRole = "member"

// File is the YAML org file layout.
type File struct {
	DefaultRole string          `yaml:"default_role"`
	Roles       map[string]Role `yaml:"roles"`
	Principals  []Principal     `yaml:"principals"`
}

// Role grants search scopes and capabilities.
type Role struct {
	Scopes       []string `yaml:"scopes"`
	Capabilities []string `yaml:"capabilities"`
}

// Principal places one id in the org chart.
type Principal struct {
	ID         string `yaml:"id"`
	Department string `yaml:"department"`
	Tenant     string `yaml:"tenant"`
	Role       string `yaml:"role"`
}

// DefaultRoles apply when the org file defines none.
func DefaultRoles() map[string]Role {
	return map[string]Role{
		"member":  {Scopes: []string{"self", "department"}},
		"manager": {Scopes: []string{"self", "department", "tenant"}},
		"admin": {
			Scopes:       []string{"self", "department", "tenant"},
			Capabilities: []string{CapDeleteAny, CapAuditReadAny},
		},
	}
}

type role struct {
	scopes map[tags.Scope]bool
	caps   map[string]bool
}

// Static is an immutable in-memory Directory.
type Static struct {
	defaultRole string
	roles       map[string]role
	principals  map[string]Principal
	departments map[string][]string // "tenant/department" -> ids
	tenants     map[string][]string
}

var _ Directory = (*Static)(nil)

// LoadFile reads an org file. An empty path yields a directory with default
// roles and no principals.
func LoadFile(path string) (*Static, error) {
	if path == "" {
		return New(File{})
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML org file.
func Parse(data []byte) (*Static, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse directory: %w", err)
	}
	return New(f)
}

// New validates f and builds the lookup tables.
func New(f File) (*Static, error) {
	if len(f.Roles) == 0 {
		f.Roles = DefaultRoles()
	}
	if f.DefaultRole == "" {
		f.DefaultRole = DefaultRole
	}

	d := &Static{
		defaultRole: f.DefaultRole,
		roles:       make(map[string]role, len(f.Roles)),
		principals:  make(map[string]Principal, len(f.Principals)),
		departments: make(map[string][]string),
		tenants:     make(map[string][]string),
	}
	for name, r := range f.Roles {
		rr := role{scopes: make(map[tags.Scope]bool), caps: make(map[string]bool)}
		for _, s := range r.Scopes {
			sc, err := tags.ParseScope(s)
			if err != nil {
				return nil, fmt.Errorf("role %q: %w", name, err)
			}
			rr.scopes[sc] = true
		}
		for _, c := range r.Capabilities {
			rr.caps[c] = true
		}
		d.roles[name] = rr
	}
	if _, ok := d.roles[d.defaultRole]; !ok {
		return nil, fmt.Errorf("default role %q is not defined", d.defaultRole)
	}

	for _, p := range f.Principals {
		id, err := NormalizePrincipal(p.ID)
		if err != nil {
			return nil, err
		}
		if _, dup := d.principals[id]; dup {
			return nil, fmt.Errorf("principal %s listed twice", id)
		}
		if p.Role == "" {
			p.Role = d.defaultRole
		}
		if _, ok := d.roles[p.Role]; !ok {
			return nil, fmt.Errorf("principal %s: unknown role %q", id, p.Role)
		}
		p.ID = id
		d.principals[id] = p
		if p.Tenant != "" {
			d.tenants[p.Tenant] = append(d.tenants[p.Tenant], id)
			if p.Department != "" {
				key := p.Tenant + "/" + p.Department
				d.departments[key] = append(d.departments[key], id)
			}
		}
	}
	for _, ids := range d.departments {
		sort.Strings(ids)
	}
	for _, ids := range d.tenants {
		sort.Strings(ids)
	}
	return d, nil
}

// Lookup returns the org entry for a principal. Unknown principals get the
// default role in a department and tenant of their own.
func (d *Static) Lookup(principalID string) Principal {
	if p, ok := d.principals[principalID]; ok {
		return p
	}
	return Principal{ID: principalID, Role: d.defaultRole}
}

// Principals returns every listed principal id, sorted.
func (d *Static) Principals() []string {
	out := make([]string, 0, len(d.principals))
	for id := range d.principals {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MembersOfDepartment implements Directory. The requester is always included.
func (d *Static) MembersOfDepartment(_ context.Context, principalID string) ([]string, error) {
	p := d.Lookup(principalID)
	if p.Tenant == "" || p.Department == "" {
		return []string{principalID}, nil
	}
	return append([]string(nil), d.departments[p.Tenant+"/"+p.Department]...), nil
}

// MembersOfTenant implements Directory. The requester is always included.
func (d *Static) MembersOfTenant(_ context.Context, principalID string) ([]string, error) {
	p := d.Lookup(principalID)
	if p.Tenant == "" {
		return []string{principalID}, nil
	}
	return append([]string(nil), d.tenants[p.Tenant]...), nil
}

// RoleOf implements Directory.
func (d *Static) RoleOf(_ context.Context, principalID string) (string, error) {
	return d.Lookup(principalID).Role, nil
}

// CanSearch implements Directory.
func (d *Static) CanSearch(_ context.Context, principalID string, scope tags.Scope) (bool, error) {
	return d.roles[d.Lookup(principalID).Role].scopes[scope], nil
}

// CanPerform implements Directory.
func (d *Static) CanPerform(_ context.Context, principalID, capability string) (bool, error) {
	return d.roles[d.Lookup(principalID).Role].caps[capability], nil
}
