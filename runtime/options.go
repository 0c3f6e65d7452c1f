package runtime

import (
	"io"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/starbridge/engine"
	"github.com/wippyai/starbridge/metrics"
	"github.com/wippyai/starbridge/transcoder"
)

// Option configures a Runtime.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	print    io.Writer
	paths    []fs.FS
	globals  map[string]any
	metrics  *metrics.Collector
	wasm     engine.WasmConfig
	maxSteps uint64
	policy   transcoder.Policy
}

func defaultOptions() options {
	return options{
		policy: transcoder.DefaultPolicy,
		wasm:   engine.WasmConfig{Enabled: true},
	}
}

// WithLogger sets the logger. Defaults to engine.Logger().
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPrintWriter receives guest print output. Defaults to os.Stdout.
func WithPrintWriter(w io.Writer) Option {
	return func(o *options) {
		o.print = w
	}
}

// WithModulePaths adds directories searched for guest modules.
func WithModulePaths(dirs ...string) Option {
	return func(o *options) {
		for _, d := range dirs {
			o.paths = append(o.paths, os.DirFS(d))
		}
	}
}

// WithModuleFS adds file systems searched for guest modules.
func WithModuleFS(fsys ...fs.FS) Option {
	return func(o *options) {
		o.paths = append(o.paths, fsys...)
	}
}

// WithGlobal adds a name visible to every guest module. v is marshaled
// when the runtime is created.
func WithGlobal(name string, v any) Option {
	return func(o *options) {
		if o.globals == nil {
			o.globals = make(map[string]any)
		}
		o.globals[name] = v
	}
}

// WithAutoConvert sets the default conversion policy of imported modules.
func WithAutoConvert(enabled bool) Option {
	return func(o *options) {
		o.policy = transcoder.Policy{AutoConvert: enabled}
	}
}

// WithMaxSteps caps the guest steps one host call may run. 0 disables the cap.
func WithMaxSteps(n uint64) Option {
	return func(o *options) {
		o.maxSteps = n
	}
}

// WithWasm configures loading of .wasm guest modules.
func WithWasm(cfg engine.WasmConfig) Option {
	return func(o *options) {
		o.wasm = cfg
	}
}

// WithMetrics records handle and crossing metrics into m.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// ImportOption adjusts a single Import, Eval or Main call.
type ImportOption func(*transcoder.Policy)

// Convert sets whether values surfaced through the returned proxy are
// converted to host shapes.
func Convert(enabled bool) ImportOption {
	return func(p *transcoder.Policy) {
		p.AutoConvert = enabled
	}
}

func (r *Runtime) policyFor(opts []ImportOption) transcoder.Policy {
	p := r.policy
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
