package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"go.starlark.net/starlark"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
)

// ExitFunc leaves a scope entered with EnterScope. bodyErr is the failure
// of the scoped work, or nil. The result combines bodyErr with any exit
// failure. Only the first call has an effect; later calls return the
// first result.
type ExitFunc func(ctx context.Context, bodyErr error) error

// EnterScope calls __enter__ on the guest object behind p and returns its
// result surfaced under the proxy policy, together with the matching
// exit function.
//
// The exit function calls __exit__(kind, message, traceback), or
// __exit__(None, None, None) when bodyErr is nil. The body failure is
// always returned, whatever __exit__ returns.
func (r *Runtime) EnterScope(ctx context.Context, p *Proxy) (bound any, exit ExitFunc, err error) {
	var (
		exitFn  starlark.Value
		entered bool
	)
	err = p.do(ctx, func(_ context.Context, thread *starlark.Thread, v starlark.Value) error {
		enter, err := attr(v, "__enter__")
		if err != nil {
			return err
		}
		if exitFn, err = attr(v, "__exit__"); err != nil {
			return err
		}
		if _, ok := exitFn.(starlark.Callable); !ok {
			return errors.NotCallable(exitFn.Type())
		}

		res, err := starlark.Call(thread, enter, nil, nil)
		if err != nil {
			return errors.FromGuest(errors.PhaseScope, err)
		}
		entered = true
		bound, err = r.surface(res, p.policy)
		return err
	})
	if err != nil {
		// __enter__ ran, so the guest expects its __exit__.
		if entered {
			err = multierr.Append(err, r.exitScope(ctx, exitFn, err))
		}
		return nil, nil, err
	}
	r.log.Debug("scope entered", zap.String("type", p.Type()))

	var (
		once   sync.Once
		result error
	)
	exit = func(ctx context.Context, bodyErr error) error {
		once.Do(func() {
			result = multierr.Append(bodyErr, r.exitScope(ctx, exitFn, bodyErr))
			r.log.Debug("scope exited", zap.Bool("body_failed", bodyErr != nil), zap.Error(result))
		})
		return result
	}
	return bound, exit, nil
}

func (r *Runtime) exitScope(ctx context.Context, fn starlark.Value, bodyErr error) error {
	args := starlark.Tuple{starlark.None, starlark.None, starlark.None}
	if bodyErr != nil {
		args = exitArgs(bodyErr)
	}
	// exit runs even when ctx was cancelled by the body
	return r.engine.Do(context.WithoutCancel(ctx), func(_ context.Context, thread *starlark.Thread) error {
		if _, err := starlark.Call(thread, fn, args, nil); err != nil {
			return errors.FromGuest(errors.PhaseScope, err)
		}
		return nil
	})
}

// exitArgs describes a failure as (kind, message, traceback).
func exitArgs(err error) starlark.Tuple {
	kind := fmt.Sprintf("%T", err)
	traceback := starlark.Value(starlark.None)
	var be *errors.Error
	if stderrors.As(err, &be) {
		kind = string(be.Kind)
		if be.Traceback != "" {
			traceback = starlark.String(be.Traceback)
		}
	}
	return starlark.Tuple{starlark.String(kind), starlark.String(err.Error()), traceback}
}

// With runs body inside the scope of the guest object behind p. The exit
// protocol runs when body returns or panics; a panic is re-raised after
// exit.
func (r *Runtime) With(ctx context.Context, p *Proxy, body func(ctx context.Context, bound any) error) (err error) {
	bound, exit, err := r.EnterScope(ctx, p)
	if err != nil {
		return err
	}
	defer func() {
		if rec := recover(); rec != nil {
			panicErr := fmt.Errorf("panic: %v", rec)
			if err := exit(ctx, panicErr); err != panicErr {
				r.log.Warn("scope exit failed during panic", zap.Error(err))
			}
			panic(rec)
		}
	}()
	return exit(ctx, body(ctx, bound))
}
