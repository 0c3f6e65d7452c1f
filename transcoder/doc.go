// Package transcoder converts values between Go and the guest.
//
//	┌─────────────────────────────────────────────────────────┐
//	│ Go value ←→ [Encoder / Decoder] ←→ Starlark value       │
//	└─────────────────────────────────────────────────────────┘
//
// # Key Types
//
//	Encoder   - host to guest, Encode(v) (starlark.Value, error)
//	Decoder   - guest to host, Decode(v, policy) (any, error)
//	Compiler  - analyzes and caches host func signatures
//	HostFunc  - guest callable trampolining into Go code
//	Policy    - AutoConvert on or off for a proxy subtree
//
// # Shapes
//
// Integers and floats stay distinct in both directions: a Go int becomes a
// guest int, a Go float64 a guest float, and back. A one-element Go slice
// crosses as its element, so []int{42} becomes 42 while []int{1, 2, 3}
// becomes a list. Rectangular [][]float64 grids become dense arrays.
// Mixed []any values become tuples. Ordered Mappings keep insertion order;
// plain Go maps are emitted in sorted key order.
//
// Values without a host shape (functions, modules, namespaces, dicts with
// non-string keys, sets, generators) are handed to a Wrapper. The runtime
// package wraps them in proxies.
//
// # Host Functions
//
// Any Go func can be called from the guest:
//
//	func(a int, b float64) float64
//	func(ctx context.Context, name string) (string, error)
//	func(ctx context.Context, path string, opts Options) error  // kwargs fill opts
//	transcoder.Func                                             // raw args and kwargs
//
// Guest arguments are decoded and assigned to parameter types. Mappings
// fill struct and map parameters through mapstructure. Parameters of
// starlark.Value type receive the raw guest value. A returned error or a
// panic becomes a host_callback error whose origin stays host after it
// travels back through guest frames.
package transcoder
