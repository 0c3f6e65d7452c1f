package transcoder

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"

	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge"
	"github.com/wippyai/starbridge/engine"
	"github.com/wippyai/starbridge/errors"
)

var funcType = reflect.TypeOf(Func(nil))

// HostFunc is a guest callable that calls into host code. Arguments are
// decoded, the Go func is invoked, and its result is encoded back. A panic
// in host code becomes a host_callback error.
type HostFunc struct {
	fn      reflect.Value
	orig    any
	general Func
	sig     *Signature
	enc     *Encoder
	name    string
}

var _ starlark.Callable = (*HostFunc)(nil)

// NewHostFunc wraps fn under name. fn is a Func or any Go func whose
// optional first parameter is a context.Context and whose optional last
// result is an error.
func (e *Encoder) NewHostFunc(name string, fn any) (*HostFunc, error) {
	rv := reflect.ValueOf(fn)
	if !rv.IsValid() || rv.Kind() != reflect.Func || rv.IsNil() {
		return nil, errors.New(errors.PhaseEncode, errors.KindTypeMismatch).
			Path(name).
			Detail("expected func, got %T", fn).
			Build()
	}

	hf := &HostFunc{fn: rv, orig: fn, enc: e, name: name}
	switch {
	case rv.Type() == funcType:
		hf.general = fn.(Func)
	case rv.Type().ConvertibleTo(funcType):
		hf.general = rv.Convert(funcType).Interface().(Func)
	default:
		sig, err := e.compiler.Compile(rv.Type())
		if err != nil {
			return nil, err
		}
		hf.sig = sig
	}
	return hf, nil
}

func (e *Encoder) hostFunc(name string, fn any) (starlark.Value, error) {
	hf, err := e.NewHostFunc(name, fn)
	if err != nil {
		return nil, err
	}
	return hf, nil
}

func (f *HostFunc) Name() string          { return f.name }
func (f *HostFunc) String() string        { return fmt.Sprintf("<host function %s>", f.name) }
func (f *HostFunc) Type() string          { return "host_function" }
func (f *HostFunc) Freeze()               {}
func (f *HostFunc) Truth() starlark.Bool  { return starlark.True }
func (f *HostFunc) Hash() (uint32, error) { return starlark.String(f.name).Hash() }

// Value returns the wrapped Go func.
func (f *HostFunc) Value() any { return f.orig }

func (f *HostFunc) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (result starlark.Value, err error) {
	ctx := engine.ContextOf(thread)
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.HostCallback(f.name, fmt.Errorf("panic: %v", r))
		}
	}()

	var out any
	if f.general != nil {
		out, err = f.callGeneral(ctx, args, kwargs)
	} else {
		out, err = f.callReflect(ctx, args, kwargs)
	}
	if err != nil {
		return nil, f.hostError(err)
	}

	v, err := f.enc.Encode(out)
	if err != nil {
		return nil, f.hostError(err)
	}
	return v, nil
}

// hostError tags a failure as raised by host code. Guest failures from
// nested calls pass through unchanged.
func (f *HostFunc) hostError(err error) error {
	var be *errors.Error
	if stderrors.As(err, &be) && (be.Origin == errors.OriginGuest || be.Kind == errors.KindHostCallback) {
		return err
	}
	return errors.HostCallback(f.name, err)
}

func (f *HostFunc) callGeneral(ctx context.Context, args starlark.Tuple, kwargs []starlark.Tuple) (any, error) {
	dec := f.enc.decoder
	host := make([]any, len(args))
	for i, a := range args {
		v, err := dec.decode(a, DefaultPolicy, []string{f.name, index(i)}, 0)
		if err != nil {
			return nil, err
		}
		host[i] = v
	}
	kw, err := f.kwargs(kwargs)
	if err != nil {
		return nil, err
	}
	return f.general(ctx, host, kw)
}

func (f *HostFunc) kwargs(kwargs []starlark.Tuple) (*starbridge.Mapping, error) {
	if len(kwargs) == 0 {
		return nil, nil
	}
	m := starbridge.NewMapping()
	for _, kv := range kwargs {
		name := string(kv[0].(starlark.String))
		v, err := f.enc.decoder.decode(kv[1], DefaultPolicy, []string{f.name, name}, 0)
		if err != nil {
			return nil, err
		}
		m.Set(name, v)
	}
	return m, nil
}

func (f *HostFunc) callReflect(ctx context.Context, args starlark.Tuple, kwargs []starlark.Tuple) (any, error) {
	sig := f.sig
	n := len(sig.In)

	// Keyword arguments fill a trailing struct or map parameter.
	options := len(kwargs) > 0
	if options {
		if sig.Variadic || n == 0 || !isOptions(sig.In[n-1]) || len(args) != n-1 {
			return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
				Path(f.name).
				Detail("unexpected keyword arguments").
				Build()
		}
	}

	switch {
	case options:
	case sig.Variadic && len(args) >= n-1:
	case len(args) == n:
	default:
		return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Path(f.name).
			Detail("got %d arguments, want %d", len(args), n).
			Build()
	}

	in := make([]reflect.Value, 0, n+1)
	if sig.Context {
		in = append(in, reflect.ValueOf(ctx))
	}
	dec := f.enc.decoder
	for i, a := range args {
		pt := sig.In[min(i, n-1)]
		if sig.Variadic && i >= n-1 {
			pt = sig.In[n-1].Elem()
		}
		rv, err := dec.assign(a, pt, []string{f.name, index(i)})
		if err != nil {
			return nil, err
		}
		in = append(in, rv)
	}
	if options {
		kw, err := f.kwargs(kwargs)
		if err != nil {
			return nil, err
		}
		rv, err := dec.assignValue(kw, sig.In[n-1], []string{f.name, "kwargs"})
		if err != nil {
			return nil, err
		}
		in = append(in, rv)
	}

	out := f.fn.Call(in)
	if sig.Error {
		last := out[len(out)-1]
		out = out[:len(out)-1]
		if !last.IsNil() {
			return nil, last.Interface().(error)
		}
	}

	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	}
	t := make(starbridge.Tuple, len(out))
	for i, o := range out {
		t[i] = o.Interface()
	}
	return t, nil
}

func isOptions(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct || (t.Kind() == reflect.Map && t.Key().Kind() == reflect.String)
}
