package transcoder

import (
	"context"
	"reflect"
	"sync"

	"github.com/wippyai/starbridge/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Signature describes how a Go func is called from the guest.
type Signature struct {
	// In lists the parameters the guest supplies, without a leading context.
	In []reflect.Type

	// Context is set when the first parameter is a context.Context.
	Context bool

	// Variadic mirrors reflect.Type.IsVariadic.
	Variadic bool

	// Error is set when the last result is an error.
	Error bool

	// Results counts the non-error results.
	Results int
}

// Compiler analyzes and caches host func signatures.
type Compiler struct {
	cache sync.Map // reflect.Type -> *Signature
}

func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile returns the cached signature of a func type.
func (c *Compiler) Compile(t reflect.Type) (*Signature, error) {
	if t == nil || t.Kind() != reflect.Func {
		return nil, errors.New(errors.PhaseEncode, errors.KindTypeMismatch).
			Detail("expected func type, got %v", t).
			Build()
	}
	if cached, ok := c.cache.Load(t); ok {
		return cached.(*Signature), nil
	}

	sig, err := compileSignature(t)
	if err != nil {
		return nil, err
	}
	c.cache.Store(t, sig)
	return sig, nil
}

func compileSignature(t reflect.Type) (*Signature, error) {
	sig := &Signature{Variadic: t.IsVariadic()}

	start := 0
	if t.NumIn() > 0 && t.In(0) == contextType {
		sig.Context = true
		start = 1
	}
	for i := start; i < t.NumIn(); i++ {
		sig.In = append(sig.In, t.In(i))
	}

	n := t.NumOut()
	for i := 0; i < n; i++ {
		if t.Out(i) != errorType {
			continue
		}
		if i != n-1 {
			return nil, errors.New(errors.PhaseEncode, errors.KindUnsupported).
				GoType(t.String()).
				Detail("error result must be last").
				Build()
		}
		sig.Error = true
	}
	sig.Results = n
	if sig.Error {
		sig.Results--
	}
	return sig, nil
}
