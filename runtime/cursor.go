package runtime

import (
	"context"
	"reflect"

	"go.starlark.net/starlark"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/engine"
	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/guest"
	"github.com/wippyai/starbridge/resource"
	"github.com/wippyai/starbridge/transcoder"
)

type exhausted struct{}

func (exhausted) String() string { return "<exhausted>" }

// Exhausted is the default sentinel: Step returns it once the cursor is
// exhausted, and a GeneratorFunc returns it to end iteration.
var Exhausted any = exhausted{}

// Cursor pulls elements from a guest iterable one at a time. The guest
// iterator is created on the first pull. Once exhausted, a cursor stays
// exhausted: Drain returns an empty slice and Next reports false.
type Cursor struct {
	rt     *Runtime
	handle *resource.Handle
	policy transcoder.Policy
}

// cursorState is the table entry behind a Cursor.
type cursorState struct {
	eng    *engine.Engine
	source starlark.Iterable
	iter   starlark.Iterator
	done   bool
}

// Drop releases a live guest iterator at the start of the next session.
func (s *cursorState) Drop() {
	if it := s.iter; it != nil {
		s.iter = nil
		s.eng.Defer(it.Done)
	}
}

// Iter returns a cursor over the guest iterable behind p.
func (p *Proxy) Iter(ctx context.Context) (*Cursor, error) {
	var out *Cursor
	err := p.do(ctx, func(_ context.Context, _ *starlark.Thread, v starlark.Value) error {
		it, ok := v.(starlark.Iterable)
		if !ok {
			return errors.New(errors.PhaseIterate, errors.KindTypeMismatch).
				GuestType(v.Type()).
				Detail("%s is not iterable", v.Type()).
				Build()
		}
		h, err := p.rt.table.Acquire(&cursorState{eng: p.rt.engine, source: it})
		if err != nil {
			return err
		}
		out = &Cursor{rt: p.rt, handle: h, policy: p.policy}
		return nil
	})
	return out, err
}

func (c *Cursor) state() (*cursorState, error) {
	v, err := c.handle.Value()
	if err != nil {
		return nil, err
	}
	return v.(*cursorState), nil
}

// pull returns the next guest element. It must run under the guest lock.
func (c *Cursor) pull() (starlark.Value, bool, error) {
	s, err := c.state()
	if err != nil {
		return nil, false, err
	}
	if s.done {
		return nil, false, nil
	}
	it := s.iter
	if it == nil {
		it = s.source.Iterate()
		s.iter = it
	}

	var v starlark.Value
	if it.Next(&v) {
		return v, true, nil
	}

	var iterErr error
	if e, ok := it.(interface{ Err() error }); ok {
		iterErr = e.Err()
	}
	s.done = true
	// Drop may have taken the iterator already and deferred its Done.
	if s.iter == it {
		s.iter = nil
		it.Done()
	}
	if iterErr != nil {
		return nil, false, errors.FromGuest(errors.PhaseIterate, iterErr)
	}
	return nil, false, nil
}

// Next returns the next element surfaced under the cursor policy. ok is
// false once the cursor is exhausted.
func (c *Cursor) Next(ctx context.Context) (v any, ok bool, err error) {
	err = c.rt.engine.Do(ctx, func(context.Context, *starlark.Thread) error {
		gv, more, err := c.pull()
		if err != nil || !more {
			return err
		}
		v, err = c.rt.surface(gv, c.policy)
		ok = err == nil
		return err
	})
	return v, ok, err
}

// Step returns the next element, or sentinel once exhausted.
func (c *Cursor) Step(ctx context.Context, sentinel any) (any, error) {
	v, ok, err := c.Next(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return sentinel, nil
	}
	return v, nil
}

// Drain pulls every remaining element in one session.
func (c *Cursor) Drain(ctx context.Context) ([]any, error) {
	out := []any{}
	err := c.rt.engine.Do(ctx, func(context.Context, *starlark.Thread) error {
		for {
			gv, more, err := c.pull()
			if err != nil || !more {
				return err
			}
			v, err := c.rt.surface(gv, c.policy)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForEach calls fn with each remaining element. The guest lock is not
// held while fn runs. Iteration stops at the first error fn returns.
func (c *Cursor) ForEach(ctx context.Context, fn func(ctx context.Context, v any) error) error {
	for {
		v, ok, err := c.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(ctx, v); err != nil {
			return err
		}
	}
}

// IsExhausted reports whether the cursor has reached the end. A released
// cursor counts as exhausted.
func (c *Cursor) IsExhausted() bool {
	s, err := c.state()
	if err != nil {
		return true
	}
	return s.done
}

// Close releases the cursor and its guest iterator. It returns false if
// the cursor was already closed.
func (c *Cursor) Close() bool {
	return c.handle.Release()
}

// GeneratorFunc produces one element per call. Returning the generator's
// sentinel ends iteration.
type GeneratorFunc func(ctx context.Context) (any, error)

// MakeGenerator returns a proxy over a guest iterable that calls fn on
// every pull until fn returns sentinel. Pass Exhausted for the default
// sentinel. An error from fn ends the iteration; guest loops observe the
// end and host cursors report the error.
func (r *Runtime) MakeGenerator(fn GeneratorFunc, sentinel any) (*Proxy, error) {
	if fn == nil {
		return nil, errors.InvalidInput(errors.PhaseIterate, "generator func is nil")
	}
	pull := func() (starlark.Value, bool, error) {
		ctx, ok := r.engine.Active()
		if !ok {
			ctx = context.Background()
		}
		v, err := fn(ctx)
		if err != nil {
			return nil, false, errors.HostCallback("generator", err)
		}
		if isSentinel(v, sentinel) {
			return nil, false, nil
		}
		gv, err := r.encode(v)
		if err != nil {
			return nil, false, err
		}
		return gv, true, nil
	}
	onError := func(err error) {
		r.log.Warn("host generator stopped by error", zap.Error(err))
	}
	return r.newProxy(guest.NewGenerator("host", pull, onError), r.policy)
}

func isSentinel(v, sentinel any) bool {
	if v == nil || sentinel == nil {
		return v == nil && sentinel == nil
	}
	tv, ts := reflect.TypeOf(v), reflect.TypeOf(sentinel)
	if tv == ts && tv.Comparable() {
		return v == sentinel
	}
	return reflect.DeepEqual(v, sentinel)
}
