// Package guest defines the guest-side object model layered on Starlark.
//
// Starlark supplies scalars, lists, tuples, dicts, functions and iteration.
// This package adds the object shapes the bridge needs on the guest side:
//
//	Module     - named member table returned by imports; host-assignable
//	Namespace  - mutable attribute bag, namespace(**kw), used for stateful
//	             objects and the __enter__/__exit__ resource protocol
//	Array      - dense row-major float64 array, array(rows)
//	HostObject - opaque read-only view of a Go value
//	Generator  - guest iterable driven by a host pull function
//
// Predeclared returns the builtins that expose these shapes to guest code.
package guest
