package guest

import (
	"fmt"

	"go.starlark.net/starlark"
)

// Module is a named member table. Imports surface guest modules as
// Module values so host code can read and assign members.
type Module struct {
	members starlark.StringDict
	name    string
	frozen  bool
}

var (
	_ starlark.HasAttrs    = (*Module)(nil)
	_ starlark.HasSetField = (*Module)(nil)
)

// NewModule wraps members. The map is copied.
func NewModule(name string, members starlark.StringDict) *Module {
	m := make(starlark.StringDict, len(members))
	for k, v := range members {
		m[k] = v
	}
	return &Module{name: name, members: m}
}

func (m *Module) Name() string          { return m.name }
func (m *Module) String() string        { return fmt.Sprintf("<module %q>", m.name) }
func (m *Module) Type() string          { return "module" }
func (m *Module) Truth() starlark.Bool  { return starlark.True }
func (m *Module) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: module") }

func (m *Module) Freeze() {
	if m.frozen {
		return
	}
	m.frozen = true
	m.members.Freeze()
}

// Attr returns nil, nil for a missing member.
func (m *Module) Attr(name string) (starlark.Value, error) {
	return m.members[name], nil
}

func (m *Module) AttrNames() []string {
	return m.members.Keys()
}

func (m *Module) SetField(name string, v starlark.Value) error {
	if m.frozen {
		return fmt.Errorf("cannot set %s on frozen module %q", name, m.name)
	}
	m.members[name] = v
	return nil
}

// Members returns a copy of the member table.
func (m *Module) Members() starlark.StringDict {
	out := make(starlark.StringDict, len(m.members))
	for k, v := range m.members {
		out[k] = v
	}
	return out
}

// Merge copies members into the table, replacing existing names.
func (m *Module) Merge(members starlark.StringDict) error {
	if m.frozen {
		return fmt.Errorf("cannot merge into frozen module %q", m.name)
	}
	for k, v := range members {
		m.members[k] = v
	}
	return nil
}
