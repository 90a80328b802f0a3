// Package permissions maps a caller's role in a chat to the operations they may invoke.
package permissions

import (
	"os"
	"sort"
	"strings"

	"github.com/mb0/glob"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var ErrNotPermitted = errors.New("the user doesn't have permission to use this function")

// Role is the member status of the caller in the chat, as reported by the platform.
type Role string

const (
	RoleCreator       Role = "creator"
	RoleAdministrator Role = "administrator"
	RoleMember        Role = "member"
	RoleRestricted    Role = "restricted"
	RoleLeft          Role = "left"
	RoleKicked        Role = "kicked"
)

// Table is an immutable role -> operation lookup. Entries are either operation
// names or glob patterns (e.g. "getChat*").
type Table struct {
	entries map[Role][]string
}

// NewTable copies entries, so later changes to the map do not leak into the table.
func NewTable(entries map[Role][]string) (*Table, error) {
	t := &Table{entries: make(map[Role][]string, len(entries))}
	for role, patterns := range entries {
		cleaned := make([]string, 0, len(patterns))
		for _, p := range patterns {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, err := glob.Match(p, ""); err != nil {
				return nil, errors.Wrapf(err, "invalid pattern %q for role %s", p, role)
			}
			cleaned = append(cleaned, p)
		}
		t.entries[Role(strings.ToLower(string(role)))] = cleaned
	}
	return t, nil
}

// NewTableFromStrings is a convenience for configuration maps keyed by plain strings.
func NewTableFromStrings(entries map[string][]string) (*Table, error) {
	m := make(map[Role][]string, len(entries))
	for k, v := range entries {
		m[Role(k)] = v
	}
	return NewTable(m)
}

// LoadFile reads a YAML document of the form `role: [operation, ...]`.
func LoadFile(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read permissions file %s", path)
	}
	var entries map[string][]string
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, errors.Wrapf(err, "could not parse permissions file %s", path)
	}
	log.Debug().Str("path", path).Int("roles", len(entries)).Msg("loaded permissions file")
	return NewTableFromStrings(entries)
}

// Permitted reports whether role may invoke operation. Unknown roles are denied everything.
func (t *Table) Permitted(role Role, operation string) bool {
	if t == nil || operation == "" {
		return false
	}
	for _, p := range t.entries[Role(strings.ToLower(string(role)))] {
		if p == operation {
			return true
		}
		if ok, err := glob.Match(p, operation); err == nil && ok {
			return true
		}
	}
	return false
}

// Allowed filters operations down to the ones role may invoke, keeping their order.
func (t *Table) Allowed(role Role, operations []string) []string {
	ret := []string{}
	for _, op := range operations {
		if t.Permitted(role, op) {
			ret = append(ret, op)
		}
	}
	return ret
}

func (t *Table) Roles() []Role {
	ret := make([]Role, 0, len(t.entries))
	for r := range t.entries {
		ret = append(ret, r)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// DefaultEntries grants owners and administrators every operation and plain
// members the given read-only ones.
func DefaultEntries(all []string, readOnly []string) map[Role][]string {
	return map[Role][]string{
		RoleCreator:       append([]string{}, all...),
		RoleAdministrator: append([]string{}, all...),
		RoleMember:        append([]string{}, readOnly...),
	}
}
