package transcoder

import (
	"math"
	"math/big"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge"
	"github.com/wippyai/starbridge/errors"
)

var starlarkValueType = reflect.TypeOf((*starlark.Value)(nil)).Elem()

// DecodeInto decodes a converted host value into target, which must be a
// non-nil pointer. Mappings fill structs and maps by field name.
func DecodeInto(value any, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
			Detail("target must be a non-nil pointer, got %T", target).
			Build()
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		ZeroFields:       true,
		WeaklyTypedInput: false,
		DecodeHook:       plainHook,
	})
	if err != nil {
		return errors.Wrap(errors.PhaseDecode, errors.KindInvalidInput, err, "configure decoder")
	}
	if err := dec.Decode(value); err != nil {
		return errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
			GoType(rv.Type().Elem().String()).
			Cause(err).
			Detail("decode into target").
			Build()
	}
	return nil
}

func plainHook(_ reflect.Type, _ reflect.Type, data any) (any, error) {
	return Plain(data), nil
}

// Plain replaces Mapping, Tuple and Array values with maps, slices and
// nested float slices, recursively. The result marshals to JSON directly.
func Plain(v any) any {
	switch x := v.(type) {
	case *starbridge.Mapping:
		if x == nil {
			return nil
		}
		m := make(map[string]any, x.Len())
		for pair := x.Oldest(); pair != nil; pair = pair.Next() {
			m[pair.Key] = Plain(pair.Value)
		}
		return m
	case starbridge.Tuple:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Plain(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Plain(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Plain(e)
		}
		return out
	case starbridge.Array:
		if rows, ok := x.Rows(); ok {
			return rows
		}
		return append([]float64(nil), x.Data...)
	}
	return v
}

// assign converts a guest argument to a value of type t.
func (d *Decoder) assign(v starlark.Value, t reflect.Type, path []string) (reflect.Value, error) {
	if t == starlarkValueType || (t.Kind() == reflect.Interface && t.Implements(starlarkValueType)) {
		rv := reflect.ValueOf(v)
		if rv.Type().AssignableTo(t) {
			return rv, nil
		}
	}
	if rv := reflect.ValueOf(v); t != reflect.TypeOf((*any)(nil)).Elem() && rv.Type().AssignableTo(t) {
		return rv, nil
	}

	host, err := d.decode(v, DefaultPolicy, path, 0)
	if err != nil {
		return reflect.Value{}, err
	}
	return d.assignValue(host, t, path)
}

// assignValue converts a decoded host value to type t. Ints widen to
// floats; floats never narrow to ints.
func (d *Decoder) assignValue(host any, t reflect.Type, path []string) (reflect.Value, error) {
	if host == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, errors.TypeMismatch(errors.PhaseDecode, path, t.String(), "NoneType")
	}

	hv := reflect.ValueOf(host)
	if hv.Type().AssignableTo(t) {
		return hv, nil
	}

	mismatch := func() (reflect.Value, error) {
		return reflect.Value{}, errors.TypeMismatch(errors.PhaseDecode, path, t.String(), hv.Type().String())
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := asInt64(host)
		if !ok {
			return mismatch()
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(n) {
			return reflect.Value{}, errors.Overflow(errors.PhaseDecode, path, host, t.String())
		}
		out.SetInt(n)
		return out, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u, ok := asUint64(host)
		if !ok {
			if _, isInt := asInt64(host); isInt {
				return reflect.Value{}, errors.Overflow(errors.PhaseDecode, path, host, t.String())
			}
			return mismatch()
		}
		out := reflect.New(t).Elem()
		if out.OverflowUint(u) {
			return reflect.Value{}, errors.Overflow(errors.PhaseDecode, path, host, t.String())
		}
		out.SetUint(u)
		return out, nil

	case reflect.Float32, reflect.Float64:
		var f float64
		switch x := host.(type) {
		case float64:
			f = x
		case int:
			f = float64(x)
		case int64:
			f = float64(x)
		default:
			return mismatch()
		}
		out := reflect.New(t).Elem()
		if t.Kind() == reflect.Float32 && !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
			return reflect.Value{}, errors.Overflow(errors.PhaseDecode, path, host, t.String())
		}
		out.SetFloat(f)
		return out, nil

	case reflect.String, reflect.Bool:
		if hv.Kind() == t.Kind() {
			return hv.Convert(t), nil
		}
		return mismatch()

	case reflect.Slice, reflect.Array:
		return d.assignSequence(host, hv, t, path)

	case reflect.Struct, reflect.Map:
		return d.assignDecoded(host, t, path)

	case reflect.Pointer:
		if isOptions(t) {
			target := reflect.New(t.Elem())
			if err := DecodeInto(host, target.Interface()); err != nil {
				return reflect.Value{}, withPath(err, path)
			}
			return target, nil
		}
		elem, err := d.assignValue(host, t.Elem(), path)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	}
	return mismatch()
}

func (d *Decoder) assignSequence(host any, hv reflect.Value, t reflect.Type, path []string) (reflect.Value, error) {
	if a, ok := host.(starbridge.Array); ok {
		host = Plain(a)
		hv = reflect.ValueOf(host)
	}
	if hv.Kind() != reflect.Slice && hv.Kind() != reflect.Array {
		// a one-element host slice arrives as its element
		elem, err := d.assignValue(host, t.Elem(), appendPath(path, index(0)))
		if err != nil {
			return reflect.Value{}, err
		}
		if t.Kind() == reflect.Array {
			if t.Len() != 1 {
				return reflect.Value{}, errors.TypeMismatch(errors.PhaseDecode, path, t.String(), hv.Type().String())
			}
			out := reflect.New(t).Elem()
			out.Index(0).Set(elem)
			return out, nil
		}
		return reflect.Append(reflect.MakeSlice(t, 0, 1), elem), nil
	}

	n := hv.Len()
	var out reflect.Value
	if t.Kind() == reflect.Array {
		if t.Len() != n {
			return reflect.Value{}, errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
				Path(path...).
				GoType(t.String()).
				Detail("length %d, want %d", n, t.Len()).
				Build()
		}
		out = reflect.New(t).Elem()
	} else {
		out = reflect.MakeSlice(t, n, n)
	}
	for i := 0; i < n; i++ {
		elem, err := d.assignValue(hv.Index(i).Interface(), t.Elem(), appendPath(path, index(i)))
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(elem)
	}
	return out, nil
}

func (d *Decoder) assignDecoded(host any, t reflect.Type, path []string) (reflect.Value, error) {
	target := reflect.New(t)
	if err := DecodeInto(host, target.Interface()); err != nil {
		return reflect.Value{}, withPath(err, path)
	}
	return target.Elem(), nil
}

func withPath(err error, path []string) error {
	if be, ok := err.(*errors.Error); ok && len(be.Path) == 0 {
		be.Path = path
	}
	return err
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case *big.Int:
		if x.IsInt64() {
			return x.Int64(), true
		}
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case int:
		if x >= 0 {
			return uint64(x), true
		}
	case int64:
		if x >= 0 {
			return uint64(x), true
		}
	case *big.Int:
		if x.IsUint64() {
			return x.Uint64(), true
		}
	}
	return 0, false
}
