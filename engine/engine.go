package engine

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/guest"
)

func init() {
	resolve.AllowSet = true
	resolve.AllowGlobalReassign = true
	resolve.AllowRecursion = true
}

const threadContextKey = "starbridge.context"

// Config holds configuration for engine creation
type Config struct {
	// Print receives guest print output. Defaults to os.Stdout.
	Print io.Writer

	// Logger defaults to Logger().
	Logger *zap.Logger

	// Predeclared adds names visible to every guest module.
	Predeclared starlark.StringDict

	// Paths are searched in order for <name>.star, <name>.wasm and <name>.wit.
	Paths []fs.FS

	// Hosts supplies host modules. They take precedence over sources on Paths.
	Hosts ModuleSource

	// MaxSteps caps the Starlark steps one session may execute. 0 means no cap.
	MaxSteps uint64

	Wasm WasmConfig
}

// ModuleSource provides host modules by name.
type ModuleSource interface {
	HostModule(name string) (starlark.StringDict, bool)
}

// WasmConfig controls loading of core WebAssembly guest modules.
type WasmConfig struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32

	Enabled bool

	// WASI instantiates wasi_snapshot_preview1 so modules importing it can load.
	WASI bool
}

// Engine owns one Starlark interpreter state. Guest code runs on at most one
// goroutine at a time; Enter serializes access.
type Engine struct {
	cfg         Config
	log         *zap.Logger
	print       io.Writer
	sem         chan struct{}
	active      atomic.Pointer[session]
	closed      atomic.Bool
	predeclared starlark.StringDict
	main        *guest.Module
	wasm        *wasmHost

	// guarded by the session lock
	cache map[string]*loadEntry

	deferMu  sync.Mutex
	deferred []func()
}

type session struct {
	ctx    context.Context
	thread *starlark.Thread
}

type sessionKey struct{}

// New creates an engine.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	e := &Engine{
		cfg:   cfg,
		log:   cfg.Logger,
		print: cfg.Print,
		sem:   make(chan struct{}, 1),
		main:  guest.NewModule("__main__", nil),
		cache: make(map[string]*loadEntry),
	}
	if e.log == nil {
		e.log = Logger()
	}
	if e.print == nil {
		e.print = os.Stdout
	}

	e.predeclared = guest.Predeclared()
	for k, v := range cfg.Predeclared {
		e.predeclared[k] = v
	}
	e.predeclared.Freeze()

	if cfg.Wasm.Enabled {
		w, err := newWasmHost(ctx, cfg.Wasm)
		if err != nil {
			return nil, err
		}
		e.wasm = w
	}
	return e, nil
}

// Enter acquires the guest lock and returns a session context. Calling
// leave releases it. Entering with an active session context of this
// engine does not lock again, so host callbacks may re-enter the guest.
//
// A context that is already done is rejected. Guest code that is running
// is not interrupted when its context is cancelled.
func (e *Engine) Enter(ctx context.Context) (sctx context.Context, leave func(), err error) {
	if e.closed.Load() {
		return nil, nil, errors.NotInitialized(errors.PhaseRuntime, "engine")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, "context done before entering guest")
	}
	if s, ok := ctx.Value(sessionKey{}).(*session); ok && e.active.Load() == s {
		return ctx, func() {}, nil
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, ctx.Err(), "context done while waiting for guest")
	}
	if e.closed.Load() {
		<-e.sem
		return nil, nil, errors.NotInitialized(errors.PhaseRuntime, "engine")
	}

	s := &session{}
	s.ctx = context.WithValue(ctx, sessionKey{}, s)
	s.thread = e.newThread(s.ctx)
	e.active.Store(s)
	e.runDeferred()

	var once sync.Once
	return s.ctx, func() {
		once.Do(func() {
			e.active.Store(nil)
			<-e.sem
		})
	}, nil
}

// Do runs fn inside a session.
func (e *Engine) Do(ctx context.Context, fn func(ctx context.Context, thread *starlark.Thread) error) error {
	sctx, leave, err := e.Enter(ctx)
	if err != nil {
		return err
	}
	defer leave()
	return fn(sctx, e.Thread(sctx))
}

// Thread returns the interpreter thread of the session carried by ctx, or
// nil outside a session.
func (e *Engine) Thread(ctx context.Context) *starlark.Thread {
	if s, ok := ctx.Value(sessionKey{}).(*session); ok {
		return s.thread
	}
	return nil
}

// Active returns the context of the session currently holding the guest lock.
func (e *Engine) Active() (context.Context, bool) {
	s := e.active.Load()
	if s == nil {
		return nil, false
	}
	return s.ctx, true
}

// ContextOf returns the session context a thread was created for.
func ContextOf(thread *starlark.Thread) context.Context {
	if thread != nil {
		if ctx, ok := thread.Local(threadContextKey).(context.Context); ok {
			return ctx
		}
	}
	return context.Background()
}

// Defer queues fn to run under the guest lock at the start of the next
// session. It is used for guest cleanup triggered outside a session.
func (e *Engine) Defer(fn func()) {
	e.deferMu.Lock()
	e.deferred = append(e.deferred, fn)
	e.deferMu.Unlock()
}

func (e *Engine) runDeferred() {
	e.deferMu.Lock()
	fns := e.deferred
	e.deferred = nil
	e.deferMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (e *Engine) newThread(ctx context.Context) *starlark.Thread {
	t := &starlark.Thread{
		Name: "starbridge",
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(e.print, msg)
		},
		Load: e.load,
	}
	if e.cfg.MaxSteps > 0 {
		t.SetMaxExecutionSteps(e.cfg.MaxSteps)
	}
	t.SetLocal(threadContextKey, ctx)
	return t
}

func (e *Engine) env(extra starlark.StringDict) starlark.StringDict {
	env := make(starlark.StringDict, len(e.predeclared)+len(extra))
	for k, v := range e.predeclared {
		env[k] = v
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

// Main returns the persistent __main__ module that Exec and Eval share.
func (e *Engine) Main() *guest.Module {
	return e.main
}

// Exec runs src as part of __main__. Globals it defines, including those
// bound before a failure, are kept for later Exec and Eval calls.
func (e *Engine) Exec(ctx context.Context, filename string, src any) error {
	return e.Do(ctx, func(_ context.Context, thread *starlark.Thread) error {
		globals, err := starlark.ExecFile(thread, filename, src, e.env(e.main.Members()))
		if mergeErr := e.main.Merge(globals); mergeErr != nil {
			err = multierr.Append(err, mergeErr)
		}
		if err != nil {
			return errors.FromGuest(errors.PhaseEval, err)
		}
		return nil
	})
}

// Eval evaluates a single expression in the __main__ namespace.
func (e *Engine) Eval(ctx context.Context, expr string) (starlark.Value, error) {
	var out starlark.Value
	err := e.Do(ctx, func(_ context.Context, thread *starlark.Thread) error {
		v, err := starlark.Eval(thread, "<eval>", expr, e.env(e.main.Members()))
		if err != nil {
			return errors.FromGuest(errors.PhaseEval, err)
		}
		out = v
		return nil
	})
	return out, err
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	return e.closed.Load()
}

// Close waits for the active session, runs pending cleanup and releases
// the wasm runtime. Later calls are no-ops.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	nested := false
	if s, ok := ctx.Value(sessionKey{}).(*session); ok && e.active.Load() == s {
		nested = true
	}
	if !nested {
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
	}
	e.runDeferred()

	var err error
	if e.wasm != nil {
		err = multierr.Append(err, e.wasm.close(context.WithoutCancel(ctx)))
	}
	e.log.Debug("engine closed")
	return err
}
