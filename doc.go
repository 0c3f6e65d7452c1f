// Package starbridge embeds a Starlark interpreter in Go programs and lets
// host code and guest code call each other with native values.
//
// The root package holds the value shapes shared by every layer: Tuple,
// Mapping and Array. Mapping is an insertion-ordered map so keyword
// arguments and guest dicts keep their order across the boundary.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	starbridge/          Root package with shared value shapes
//	├── runtime/         High-level API: imports, proxies, cursors, scopes
//	├── engine/          Interpreter sessions, module loading, wasm guests
//	├── transcoder/      Marshaling between Go values and guest values
//	├── guest/           Guest-side types: arrays, generators, modules
//	├── resource/        Handle table that keeps guest objects alive
//	├── errors/          Structured error types with phase and origin
//	├── metrics/         Prometheus collector for handles and crossings
//	├── config/          YAML configuration, validation and logging
//	└── cmd/starbridge/  Command-line runner, REPL and module browser
//
// # Quick Start
//
// Import a module and call a function:
//
//	rt, err := runtime.New(ctx, runtime.WithModulePaths("./scripts"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.Import(ctx, "greetings")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mod.Release()
//
//	result, err := mod.CallMethod(ctx, "greet", "World")
//	fmt.Println(result) // "Hello, World!"
//
// # Value Shapes
//
// Values cross the boundary as follows:
//
//   - Scalars: None, bool, int, float, string map to nil, bool, int (or
//     *big.Int), float64, string
//   - Sequences: list to []any (or a typed slice), tuple to Tuple
//   - Mappings: dict with string keys to *Mapping
//   - Grids: dense numeric arrays to Array
//   - Everything else: a *runtime.Proxy holding a handle to the guest object
//
// # Host Functions
//
// Register Go functions as a guest module:
//
//	rt.RegisterFunc("calc", "add", func(a, b int) int { return a + b })
//
// The guest then uses load("calc", "add").
//
// # Thread Safety
//
// A Runtime is safe for concurrent use. Guest code runs on one goroutine
// at a time; calls from other goroutines wait for the guest lock. A host
// function called by the guest may call back into the guest with the
// context it receives.
package starbridge
