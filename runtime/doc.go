// Package runtime is the host-facing API of the bridge.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, runtime.WithModulePaths("./lib"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	// Import a guest module (lib/stats.star)
//	stats, err := rt.Import(ctx, "stats")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Call guest functions; value shapes come back as Go values
//	mean, err := stats.CallMethod(ctx, "mean", []float64{1, 2, 3})
//	fmt.Println(mean) // 2
//
// # Proxies
//
// Guest objects without a host shape (functions, modules, namespaces,
// structs, iterables) surface as *Proxy. A proxy owns one handle on the
// guest object; Release gives it up and later operations fail with a
// dead_reference error. Proxies that are garbage collected release
// themselves.
//
//	p.Get(ctx, "name")          // member, surfaced under the proxy policy
//	p.Set(ctx, "name", v)       // assign a marshaled value
//	p.Call(ctx, args...)        // call the guest object
//	p.CallMethod(ctx, "m", ...) // call a member
//	p.Convert(ctx)              // explicit conversion
//	p.Iter(ctx)                 // cursor over a guest iterable
//
// # Conversion Policy
//
// Import(ctx, name, runtime.Convert(false)) returns a module whose members,
// call results and elements all surface as proxies, scalars included.
// Proxy.Convert and Runtime.ToHost convert explicitly. Proxy.WithPolicy
// derives a proxy with a different policy.
//
// # Iteration
//
//	cur, _ := p.Iter(ctx)
//	all, _ := cur.Drain(ctx)            // remaining elements
//	v, _ := cur.Step(ctx, runtime.Exhausted)
//
// MakeGenerator exposes a host closure to the guest as an iterable. The
// closure keeps its own state and returns the sentinel to stop:
//
//	n := 0
//	gen, _ := rt.MakeGenerator(func(ctx context.Context) (any, error) {
//	    if n == 3 {
//	        return runtime.Exhausted, nil
//	    }
//	    n++
//	    return n, nil
//	}, runtime.Exhausted)
//
// # Scopes
//
// Guest objects with __enter__ and __exit__ members are scoped resources:
//
//	err := rt.With(ctx, res, func(ctx context.Context, bound any) error {
//	    return use(bound)
//	})
//
// __exit__ runs exactly once, on success, error and panic.
//
// # Concurrency
//
// Guest code runs on one goroutine at a time. Every proxy operation takes
// the guest lock for its duration; host functions called from the guest
// receive the session context and may call back into proxies with it.
//
// Init, Default and Shutdown manage an optional process-wide runtime.
package runtime
