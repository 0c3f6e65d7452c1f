package guest

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// Namespace is a mutable attribute bag.
type Namespace struct {
	attrs  starlark.StringDict
	frozen bool
}

var (
	_ starlark.HasAttrs    = (*Namespace)(nil)
	_ starlark.HasSetField = (*Namespace)(nil)
)

func NewNamespace(attrs starlark.StringDict) *Namespace {
	a := make(starlark.StringDict, len(attrs))
	for k, v := range attrs {
		a[k] = v
	}
	return &Namespace{attrs: a}
}

func (n *Namespace) String() string {
	var b strings.Builder
	b.WriteString("namespace(")
	for i, k := range n.attrs.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(" = ")
		b.WriteString(n.attrs[k].String())
	}
	b.WriteByte(')')
	return b.String()
}

func (n *Namespace) Type() string          { return "namespace" }
func (n *Namespace) Truth() starlark.Bool  { return starlark.True }
func (n *Namespace) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: namespace") }

func (n *Namespace) Freeze() {
	if n.frozen {
		return
	}
	n.frozen = true
	n.attrs.Freeze()
}

func (n *Namespace) Attr(name string) (starlark.Value, error) {
	return n.attrs[name], nil
}

func (n *Namespace) AttrNames() []string {
	return n.attrs.Keys()
}

func (n *Namespace) SetField(name string, v starlark.Value) error {
	if n.frozen {
		return fmt.Errorf("cannot set %s on frozen namespace", name)
	}
	n.attrs[name] = v
	return nil
}

func makeNamespace(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("%s: unexpected positional arguments", b.Name())
	}
	attrs := make(starlark.StringDict, len(kwargs))
	for _, kv := range kwargs {
		attrs[string(kv[0].(starlark.String))] = kv[1]
	}
	return &Namespace{attrs: attrs}, nil
}
