package runtime

import (
	"context"
	"sync/atomic"
	"time"

	"go.starlark.net/starlark"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/engine"
	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/metrics"
	"github.com/wippyai/starbridge/resource"
	"github.com/wippyai/starbridge/transcoder"
)

// Runtime is a guest interpreter together with the handle table and the
// marshaling engine that connect it to host code.
type Runtime struct {
	engine  *engine.Engine
	table   *resource.Table
	hosts   *HostRegistry
	enc     *transcoder.Encoder
	dec     *transcoder.Decoder
	log     *zap.Logger
	metrics *metrics.Collector
	policy  transcoder.Policy
	closed  atomic.Bool
}

var _ transcoder.Wrapper = (*Runtime)(nil)

func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r := &Runtime{
		table:   resource.NewTable(),
		log:     o.logger,
		metrics: o.metrics,
		policy:  o.policy,
	}
	if r.log == nil {
		r.log = engine.Logger()
	}
	r.dec = transcoder.NewDecoder(r)
	r.enc = transcoder.NewEncoder(r.dec)
	r.hosts = NewHostRegistry(r.enc)
	if r.metrics != nil {
		r.table.Subscribe(r.metrics)
	}

	predeclared := make(starlark.StringDict, len(o.globals))
	for name, v := range o.globals {
		gv, err := r.enc.Encode(v)
		if err != nil {
			return nil, err
		}
		predeclared[name] = gv
	}

	eng, err := engine.New(ctx, engine.Config{
		Print:       o.print,
		Logger:      r.log,
		Predeclared: predeclared,
		Paths:       o.paths,
		Hosts:       r.hosts,
		MaxSteps:    o.maxSteps,
		Wasm:        o.wasm,
	})
	if err != nil {
		return nil, errors.Load("create engine", err)
	}
	r.engine = eng
	return r, nil
}

// Close invalidates every proxy and cursor and releases the interpreter.
// Later calls are no-ops.
func (r *Runtime) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Table entries drop guest state, so they go under the guest lock.
	var err error
	lockErr := r.engine.Do(context.WithoutCancel(ctx), func(context.Context, *starlark.Thread) error {
		err = r.table.Close()
		return nil
	})
	if lockErr != nil {
		err = r.table.Close()
	}
	err = multierr.Append(err, r.engine.Close(ctx))
	r.log.Debug("runtime closed")
	return err
}

// Closed reports whether Close has been called.
func (r *Runtime) Closed() bool {
	return r.closed.Load()
}

// RegisterHost registers all exported methods of h as members of the host
// module h.Namespace(). Method names are converted from CamelCase to
// snake_case (GetValue -> get_value). Must be called before the module is
// first loaded.
func (r *Runtime) RegisterHost(h Host) error {
	return r.hosts.RegisterHost(h)
}

// RegisterModule makes members importable from guest code under name.
func (r *Runtime) RegisterModule(name string, members map[string]any) error {
	return r.hosts.RegisterModule(name, members)
}

func (r *Runtime) RegisterFunc(namespace, name string, fn any) error {
	return r.hosts.RegisterFunc(namespace, name, fn)
}

func (r *Runtime) Hosts() *HostRegistry {
	return r.hosts
}

// Table returns the handle table backing this runtime's proxies.
func (r *Runtime) Table() *resource.Table {
	return r.table
}

// Engine returns the underlying interpreter.
func (r *Runtime) Engine() *engine.Engine {
	return r.engine
}

// Import loads a module and returns a proxy over it. The module proxy
// carries the conversion policy for everything reached through it.
func (r *Runtime) Import(ctx context.Context, name string, opts ...ImportOption) (*Proxy, error) {
	start := time.Now()
	m, err := r.engine.Import(ctx, name)
	r.metrics.Observe("import", start, err)
	if err != nil {
		return nil, err
	}
	return r.newProxy(m, r.policyFor(opts))
}

// Exec runs src in the persistent __main__ module.
func (r *Runtime) Exec(ctx context.Context, filename string, src any) error {
	start := time.Now()
	err := r.engine.Exec(ctx, filename, src)
	r.metrics.Observe("exec", start, err)
	return err
}

// Eval evaluates expr in __main__ and surfaces the result under the
// runtime policy, adjusted by opts.
func (r *Runtime) Eval(ctx context.Context, expr string, opts ...ImportOption) (any, error) {
	start := time.Now()
	var out any
	err := r.engine.Do(ctx, func(sctx context.Context, _ *starlark.Thread) error {
		v, err := r.engine.Eval(sctx, expr)
		if err != nil {
			return err
		}
		out, err = r.surface(v, r.policyFor(opts))
		return err
	})
	r.metrics.Observe("eval", start, err)
	return out, err
}

// Main returns a proxy over the persistent __main__ module.
func (r *Runtime) Main(opts ...ImportOption) (*Proxy, error) {
	return r.newProxy(r.engine.Main(), r.policyFor(opts))
}

// ToHost converts v to host shapes regardless of policy. Proxies over
// value shapes are converted; other proxies are returned as new proxies.
// Host values are returned unchanged.
func (r *Runtime) ToHost(ctx context.Context, v any) (any, error) {
	switch x := v.(type) {
	case *Proxy:
		return x.Convert(ctx)
	case starlark.Value:
		var out any
		err := r.engine.Do(ctx, func(context.Context, *starlark.Thread) error {
			var err error
			out, err = r.decode(x, r.policy)
			return err
		})
		return out, err
	}
	return v, nil
}

// ToGuest marshals v into the guest and returns a proxy over the result.
func (r *Runtime) ToGuest(ctx context.Context, v any) (*Proxy, error) {
	var out *Proxy
	err := r.engine.Do(ctx, func(context.Context, *starlark.Thread) error {
		gv, err := r.encode(v)
		if err != nil {
			return err
		}
		out, err = r.newProxy(gv, r.policy)
		return err
	})
	return out, err
}

// Iterate returns a cursor over the guest iterable behind p.
func (r *Runtime) Iterate(ctx context.Context, p *Proxy) (*Cursor, error) {
	return p.Iter(ctx)
}

// Wrap implements transcoder.Wrapper: values without a host shape surface
// as proxies.
func (r *Runtime) Wrap(v starlark.Value, p transcoder.Policy) (any, error) {
	return r.newProxy(v, p)
}

// surface returns v as seen by host code under policy p.
func (r *Runtime) surface(v starlark.Value, p transcoder.Policy) (any, error) {
	if p.AutoConvert && transcoder.IsValueShape(v) {
		return r.decode(v, p)
	}
	return r.newProxy(v, p)
}

func (r *Runtime) decode(v starlark.Value, p transcoder.Policy) (any, error) {
	out, err := r.dec.Decode(v, p)
	if err == nil {
		r.metrics.Crossing(metrics.ToHost)
	}
	return out, err
}

func (r *Runtime) encode(v any) (starlark.Value, error) {
	out, err := r.enc.Encode(v)
	if err == nil {
		r.metrics.Crossing(metrics.ToGuest)
	}
	return out, err
}

func (r *Runtime) encodeArgs(args []any) (starlark.Tuple, error) {
	out := make(starlark.Tuple, len(args))
	for i, a := range args {
		v, err := r.encode(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
