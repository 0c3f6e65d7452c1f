package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge"
	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/resource"
	"github.com/wippyai/starbridge/transcoder"
)

// Proxy is a host-side stand-in for one guest object. It owns exactly one
// Handle and carries the conversion policy of the subtree it was reached
// through. Every proxy derived from it inherits that policy.
//
// A Proxy that is garbage collected without Release gives up its handle
// automatically.
type Proxy struct {
	rt     *Runtime
	handle *resource.Handle
	policy transcoder.Policy
}

var _ transcoder.GuestValuer = (*Proxy)(nil)

func (r *Runtime) newProxy(v starlark.Value, p transcoder.Policy) (*Proxy, error) {
	h, err := r.table.Acquire(v)
	if err != nil {
		return nil, err
	}
	return &Proxy{rt: r, handle: h, policy: p}, nil
}

func (p *Proxy) value() (starlark.Value, error) {
	v, err := p.handle.Value()
	if err != nil {
		return nil, err
	}
	return v.(starlark.Value), nil
}

// GuestValue returns the proxied guest value. A released proxy yields a
// dead_reference error.
func (p *Proxy) GuestValue() (starlark.Value, error) {
	return p.value()
}

// Policy returns the conversion policy of this proxy.
func (p *Proxy) Policy() transcoder.Policy {
	return p.policy
}

// Handle returns the handle owned by this proxy.
func (p *Proxy) Handle() *resource.Handle {
	return p.handle
}

// IsLive reports whether the proxy can still reach its guest object.
func (p *Proxy) IsLive() bool {
	return p.handle.IsLive()
}

// Release gives up the guest reference. It returns false if the proxy was
// already released.
func (p *Proxy) Release() bool {
	return p.handle.Release()
}

// Clone returns an independent proxy over the same guest object.
func (p *Proxy) Clone() (*Proxy, error) {
	return p.WithPolicy(p.policy)
}

// WithPolicy returns a new proxy over the same guest object that uses
// policy pol for everything surfaced through it.
func (p *Proxy) WithPolicy(pol transcoder.Policy) (*Proxy, error) {
	h, err := p.handle.Clone()
	if err != nil {
		return nil, err
	}
	return &Proxy{rt: p.rt, handle: h, policy: pol}, nil
}

// Type returns the guest type name, or an empty string once released.
func (p *Proxy) Type() string {
	v, err := p.value()
	if err != nil {
		return ""
	}
	return v.Type()
}

// String returns the guest representation. It reads the value without
// taking the guest lock.
func (p *Proxy) String() string {
	v, err := p.value()
	if err != nil {
		return fmt.Sprintf("<released proxy %d>", p.handle.ID())
	}
	return v.String()
}

// IsCallable reports whether the guest object can be called.
func (p *Proxy) IsCallable() bool {
	v, err := p.value()
	if err != nil {
		return false
	}
	_, ok := v.(starlark.Callable)
	return ok
}

// do runs fn with the guest value under the guest lock.
func (p *Proxy) do(ctx context.Context, fn func(ctx context.Context, thread *starlark.Thread, v starlark.Value) error) error {
	if _, err := p.value(); err != nil {
		return err
	}
	return p.rt.engine.Do(ctx, func(sctx context.Context, thread *starlark.Thread) error {
		v, err := p.value()
		if err != nil {
			return err
		}
		return fn(sctx, thread, v)
	})
}

// attr looks up a member. A missing member is an attribute_not_found error.
func attr(v starlark.Value, name string) (starlark.Value, error) {
	ha, ok := v.(starlark.HasAttrs)
	if !ok {
		return nil, errors.AttributeNotFound(v.Type(), name)
	}
	a, err := ha.Attr(name)
	if err != nil {
		var nsa starlark.NoSuchAttrError
		if stderrors.As(err, &nsa) {
			return nil, errors.AttributeNotFound(v.Type(), name)
		}
		return nil, errors.FromGuest(errors.PhaseMember, err)
	}
	if a == nil {
		return nil, errors.AttributeNotFound(v.Type(), name)
	}
	return a, nil
}

// Get returns member name surfaced under the proxy policy.
func (p *Proxy) Get(ctx context.Context, name string) (any, error) {
	var out any
	err := p.do(ctx, func(_ context.Context, _ *starlark.Thread, v starlark.Value) error {
		a, err := attr(v, name)
		if err != nil {
			return err
		}
		out, err = p.rt.surface(a, p.policy)
		return err
	})
	return out, err
}

// Attr returns member name as a proxy regardless of policy.
func (p *Proxy) Attr(ctx context.Context, name string) (*Proxy, error) {
	var out *Proxy
	err := p.do(ctx, func(_ context.Context, _ *starlark.Thread, v starlark.Value) error {
		a, err := attr(v, name)
		if err != nil {
			return err
		}
		out, err = p.rt.newProxy(a, p.policy)
		return err
	})
	return out, err
}

// Set assigns a marshaled value to member name.
func (p *Proxy) Set(ctx context.Context, name string, value any) error {
	return p.do(ctx, func(_ context.Context, _ *starlark.Thread, v starlark.Value) error {
		sf, ok := v.(starlark.HasSetField)
		if !ok {
			return errors.New(errors.PhaseMember, errors.KindUnsupported).
				GuestType(v.Type()).
				Path(name).
				Detail("%s does not support attribute assignment", v.Type()).
				Build()
		}
		gv, err := p.rt.encode(value)
		if err != nil {
			return err
		}
		if err := sf.SetField(name, gv); err != nil {
			return errors.New(errors.PhaseMember, errors.KindUnsupported).
				GuestType(v.Type()).
				Path(name).
				Cause(err).
				Detail("%s", err.Error()).
				Build()
		}
		return nil
	})
}

// Has reports whether member name exists. Only a missing member reports
// false without an error.
func (p *Proxy) Has(ctx context.Context, name string) (bool, error) {
	found := false
	err := p.do(ctx, func(_ context.Context, _ *starlark.Thread, v starlark.Value) error {
		_, err := attr(v, name)
		if stderrors.Is(err, errors.ErrAttributeNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Members returns the member names in sorted order.
func (p *Proxy) Members(ctx context.Context) ([]string, error) {
	var out []string
	err := p.do(ctx, func(_ context.Context, _ *starlark.Thread, v starlark.Value) error {
		ha, ok := v.(starlark.HasAttrs)
		if !ok {
			out = []string{}
			return nil
		}
		out = append([]string{}, ha.AttrNames()...)
		sort.Strings(out)
		return nil
	})
	return out, err
}

// Call calls the guest object with positional arguments.
func (p *Proxy) Call(ctx context.Context, args ...any) (any, error) {
	return p.CallKwargs(ctx, args, nil)
}

// CallKwargs calls the guest object with positional and keyword arguments.
// Keyword arguments are passed in the mapping's order.
func (p *Proxy) CallKwargs(ctx context.Context, args []any, kwargs *starbridge.Mapping) (any, error) {
	start := time.Now()
	var out any
	err := p.do(ctx, func(_ context.Context, thread *starlark.Thread, v starlark.Value) error {
		var err error
		out, err = p.call(thread, v, args, kwargs)
		return err
	})
	p.rt.metrics.Observe("call", start, err)
	return out, err
}

// CallMethod calls member name with positional arguments.
func (p *Proxy) CallMethod(ctx context.Context, name string, args ...any) (any, error) {
	start := time.Now()
	var out any
	err := p.do(ctx, func(_ context.Context, thread *starlark.Thread, v starlark.Value) error {
		m, err := attr(v, name)
		if err != nil {
			return err
		}
		out, err = p.call(thread, m, args, nil)
		return err
	})
	p.rt.metrics.Observe("call", start, err)
	return out, err
}

func (p *Proxy) call(thread *starlark.Thread, fn starlark.Value, args []any, kwargs *starbridge.Mapping) (any, error) {
	if _, ok := fn.(starlark.Callable); !ok {
		return nil, errors.NotCallable(fn.Type())
	}
	gargs, err := p.rt.encodeArgs(args)
	if err != nil {
		return nil, err
	}
	var gkw []starlark.Tuple
	if kwargs != nil {
		gkw = make([]starlark.Tuple, 0, kwargs.Len())
		for pair := kwargs.Oldest(); pair != nil; pair = pair.Next() {
			gv, err := p.rt.encode(pair.Value)
			if err != nil {
				return nil, err
			}
			gkw = append(gkw, starlark.Tuple{starlark.String(pair.Key), gv})
		}
	}

	res, err := starlark.Call(thread, fn, gargs, gkw)
	if err != nil {
		return nil, errors.FromGuest(errors.PhaseCall, err)
	}
	return p.rt.surface(res, p.policy)
}

// Convert returns the host form of the guest object regardless of the
// proxy policy. Objects without a host shape come back as a new proxy.
func (p *Proxy) Convert(ctx context.Context) (any, error) {
	var out any
	err := p.do(ctx, func(_ context.Context, _ *starlark.Thread, v starlark.Value) error {
		var err error
		if transcoder.IsValueShape(v) {
			out, err = p.rt.decode(v, p.policy)
		} else {
			out, err = p.rt.newProxy(v, p.policy)
		}
		return err
	})
	return out, err
}

// Len returns the number of elements of a guest sequence or mapping.
func (p *Proxy) Len(ctx context.Context) (int, error) {
	n := 0
	err := p.do(ctx, func(_ context.Context, _ *starlark.Thread, v starlark.Value) error {
		n = starlark.Len(v)
		if n < 0 {
			return errors.New(errors.PhaseMember, errors.KindUnsupported).
				GuestType(v.Type()).
				Detail("%s has no length", v.Type()).
				Build()
		}
		return nil
	})
	return n, err
}

// Item returns element key of a guest mapping or sequence.
func (p *Proxy) Item(ctx context.Context, key any) (any, error) {
	var out any
	err := p.do(ctx, func(_ context.Context, _ *starlark.Thread, v starlark.Value) error {
		k, err := p.rt.encode(key)
		if err != nil {
			return err
		}
		var elem starlark.Value
		switch x := v.(type) {
		case starlark.Mapping:
			var found bool
			elem, found, err = x.Get(k)
			if err != nil {
				return errors.FromGuest(errors.PhaseMember, err)
			}
			if !found {
				return errors.New(errors.PhaseMember, errors.KindNotFound).
					GuestType(v.Type()).
					Detail("key %s not found", k.String()).
					Build()
			}
		case starlark.Indexable:
			i, ok := k.(starlark.Int)
			if !ok {
				return errors.TypeMismatch(errors.PhaseMember, nil, "int", k.Type())
			}
			idx, ok := i.Int64()
			n := int64(x.Len())
			if ok && idx < 0 {
				idx += n
			}
			if !ok || idx < 0 || idx >= n {
				return errors.New(errors.PhaseMember, errors.KindInvalidInput).
					GuestType(v.Type()).
					Detail("index %s out of range [0:%d]", i.String(), n).
					Build()
			}
			elem = x.Index(int(idx))
		default:
			return errors.New(errors.PhaseMember, errors.KindUnsupported).
				GuestType(v.Type()).
				Detail("%s is not subscriptable", v.Type()).
				Build()
		}
		out, err = p.rt.surface(elem, p.policy)
		return err
	})
	return out, err
}
