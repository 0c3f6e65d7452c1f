package transcoder

import (
	"math/big"

	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge"
	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/guest"
)

// Decoder converts guest values to host values.
type Decoder struct {
	wrapper Wrapper
}

// NewDecoder returns a Decoder. Guest values without a host shape are
// handed to w; with a nil w they fail to decode.
func NewDecoder(w Wrapper) *Decoder {
	return &Decoder{wrapper: w}
}

// Decode converts a guest value:
//
//	None                   nil
//	bool, float, string    bool, float64, string
//	bytes                  []byte
//	int                    int when it fits, else *big.Int
//	list                   []int, []float64, []string, []bool when homogeneous, else []any
//	tuple                  starbridge.Tuple
//	dict with string keys  *starbridge.Mapping in insertion order
//	array                  starbridge.Array (copied)
//	host object, host func the original Go value
//
// Everything else goes to the Wrapper with policy p.
func (d *Decoder) Decode(v starlark.Value, p Policy) (any, error) {
	return d.decode(v, p, nil, 0)
}

// IsValueShape reports whether v has a host value shape, meaning Decode
// would not wrap it at the top level.
func IsValueShape(v starlark.Value) bool {
	switch x := v.(type) {
	case starlark.NoneType, starlark.Bool, starlark.Int, starlark.Float, starlark.String, starlark.Bytes,
		*starlark.List, starlark.Tuple, *guest.Array, *guest.HostObject, *HostFunc:
		return true
	case *starlark.Dict:
		return stringKeys(x)
	}
	return false
}

func (d *Decoder) decode(v starlark.Value, p Policy, path []string, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, errors.New(errors.PhaseDecode, errors.KindOverflow).
			Path(path...).
			Detail("nesting exceeds %d levels", MaxDepth).
			Build()
	}

	switch x := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		return decodeInt(x), nil
	case starlark.Float:
		return float64(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Bytes:
		return []byte(x), nil
	case *starlark.List:
		vals := make([]any, x.Len())
		for i := range vals {
			elem, err := d.decode(x.Index(i), p, appendPath(path, index(i)), depth+1)
			if err != nil {
				return nil, err
			}
			vals[i] = elem
		}
		return narrow(vals), nil
	case starlark.Tuple:
		out := make(starbridge.Tuple, len(x))
		for i, elem := range x {
			hv, err := d.decode(elem, p, appendPath(path, index(i)), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = hv
		}
		return out, nil
	case *starlark.Dict:
		if !stringKeys(x) {
			return d.wrap(v, p, path)
		}
		m := starbridge.NewMapping()
		for _, item := range x.Items() {
			key := string(item[0].(starlark.String))
			hv, err := d.decode(item[1], p, appendPath(path, key), depth+1)
			if err != nil {
				return nil, err
			}
			m.Set(key, hv)
		}
		return m, nil
	case *guest.Array:
		return starbridge.Array{Shape: x.Shape(), Data: x.Data()}, nil
	case *guest.HostObject:
		return x.Value(), nil
	case *HostFunc:
		return x.Value(), nil
	}
	return d.wrap(v, p, path)
}

func (d *Decoder) wrap(v starlark.Value, p Policy, path []string) (any, error) {
	if d.wrapper == nil {
		return nil, errors.New(errors.PhaseDecode, errors.KindUnsupported).
			Path(path...).
			GuestType(v.Type()).
			Detail("no host shape and no wrapper").
			Build()
	}
	return d.wrapper.Wrap(v, p)
}

func decodeInt(x starlark.Int) any {
	if i, ok := x.Int64(); ok {
		if int64(int(i)) == i {
			return int(i)
		}
		return i
	}
	return new(big.Int).Set(x.BigInt())
}

func stringKeys(d *starlark.Dict) bool {
	for _, k := range d.Keys() {
		if _, ok := k.(starlark.String); !ok {
			return false
		}
	}
	return true
}

// narrow turns a homogeneous scalar list into a typed slice.
func narrow(vals []any) any {
	if len(vals) == 0 {
		return vals
	}
	switch vals[0].(type) {
	case int:
		return narrowTo[int](vals)
	case float64:
		return narrowTo[float64](vals)
	case string:
		return narrowTo[string](vals)
	case bool:
		return narrowTo[bool](vals)
	}
	return vals
}

func narrowTo[T any](vals []any) any {
	out := make([]T, len(vals))
	for i, v := range vals {
		t, ok := v.(T)
		if !ok {
			return vals
		}
		out[i] = t
	}
	return out
}
