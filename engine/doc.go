// Package engine embeds the Starlark interpreter that runs guest code.
//
// An Engine owns one interpreter state: the predeclared environment, the
// persistent __main__ module, the module cache and, when enabled, a wazero
// runtime for WebAssembly guest modules.
//
// # Sessions
//
// Guest code is single-threaded. Enter acquires the guest lock and returns
// a session context that carries the interpreter thread:
//
//	sctx, leave, err := eng.Enter(ctx)
//	if err != nil {
//	    return err
//	}
//	defer leave()
//	thread := eng.Thread(sctx)
//
// Host code called back from the guest receives the thread; ContextOf
// recovers the session context from it, and entering again with that
// context does not block. Work that must touch guest state but is
// triggered elsewhere (garbage-collected iterators) is queued with Defer
// and runs at the start of the next session.
//
// A context that is already done is rejected before entering. Running
// guest code is not interrupted when its context is cancelled; use
// Config.MaxSteps to bound runaway code.
//
// # Module Resolution
//
// Import and the guest load statement resolve a name in this order:
//
//  1. host modules supplied by Config.Hosts
//  2. <name>.star on the configured paths
//  3. <name>.wasm on the configured paths, typed by an optional <name>.wit
//
// Loaded modules are cached; a failed load is not. Cycles are reported as
// errors.
//
// # WebAssembly Modules
//
// Core wasm exports become guest callables. Without a WIT sidecar i32 and
// i64 map to int, f32 and f64 to float. A sidecar declaring primitive
// signatures refines the mapping:
//
//	WIT Type          Core    Guest
//	───────────────────────────────
//	bool              i32     bool
//	s8..s32, u8..u32  i32     int (range checked)
//	s64, u64          i64     int
//	f32, f64          f32/f64 float
//	char              i32     single-character string
//
// Strings, lists and records require the canonical ABI and are rejected.
package engine
