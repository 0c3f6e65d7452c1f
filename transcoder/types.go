package transcoder

import (
	"context"

	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge"
)

// Safety limits for recursive conversion.
const (
	// MaxDepth bounds nesting so self-referencing guest lists fail instead
	// of recursing forever.
	MaxDepth = 512
)

// Policy controls how guest values surface on the host.
type Policy struct {
	// AutoConvert converts value shapes to host values. When false every
	// value surfaces as a proxy until converted explicitly.
	AutoConvert bool
}

// DefaultPolicy converts value shapes automatically.
var DefaultPolicy = Policy{AutoConvert: true}

// GuestValuer is implemented by host values that stand for a guest value.
type GuestValuer interface {
	GuestValue() (starlark.Value, error)
}

// Wrapper surfaces guest values that have no host shape, typically as a
// proxy owning a fresh handle.
type Wrapper interface {
	Wrap(v starlark.Value, p Policy) (any, error)
}

// WrapperFunc adapts a function to Wrapper.
type WrapperFunc func(v starlark.Value, p Policy) (any, error)

func (f WrapperFunc) Wrap(v starlark.Value, p Policy) (any, error) { return f(v, p) }

// Func is the general host callable shape. Positional arguments arrive
// converted; keyword arguments arrive as an ordered Mapping, nil when none
// were passed.
type Func func(ctx context.Context, args []any, kwargs *starbridge.Mapping) (any, error)
