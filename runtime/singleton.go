package runtime

import (
	"context"
	"sync"

	"github.com/wippyai/starbridge/errors"
)

var (
	defaultMu   sync.Mutex
	defaultRT   *Runtime
	initialized bool
)

// Init creates the process-wide runtime. It may be called once per
// process; a second call, including one after Shutdown, fails with an
// already_initialized error.
func Init(ctx context.Context, opts ...Option) (*Runtime, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if initialized {
		return nil, errors.New(errors.PhaseRuntime, errors.KindAlreadyInitialized).
			Detail("runtime already initialized").
			Build()
	}
	rt, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	defaultRT = rt
	initialized = true
	return rt, nil
}

// Default returns the process-wide runtime.
func Default() (*Runtime, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRT == nil {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "runtime")
	}
	return defaultRT, nil
}

// Shutdown closes the process-wide runtime. Every proxy and cursor it
// produced becomes dead.
func Shutdown(ctx context.Context) error {
	defaultMu.Lock()
	rt := defaultRT
	defaultRT = nil
	defaultMu.Unlock()
	if rt == nil {
		return errors.NotInitialized(errors.PhaseRuntime, "runtime")
	}
	return rt.Close(ctx)
}
