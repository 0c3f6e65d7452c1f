package transcoder

import (
	"fmt"
	"math/big"
	"reflect"
	goruntime "runtime"
	"sort"
	"strconv"
	"strings"

	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge"
	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/guest"
)

// Encoder converts host values to guest values.
type Encoder struct {
	compiler *Compiler
	decoder  *Decoder
}

// NewEncoder returns an Encoder. The decoder converts arguments of host
// funcs called from the guest.
func NewEncoder(dec *Decoder) *Encoder {
	return NewEncoderWithCompiler(NewCompiler(), dec)
}

func NewEncoderWithCompiler(c *Compiler, dec *Decoder) *Encoder {
	if dec == nil {
		dec = NewDecoder(nil)
	}
	return &Encoder{compiler: c, decoder: dec}
}

// Decoder returns the decoder used for host func arguments.
func (e *Encoder) Decoder() *Decoder {
	return e.decoder
}

// Encode converts v. The first matching rule wins:
//
//	nil, nil pointer             None
//	starlark.Value               unchanged
//	GuestValuer                  the guest value it stands for
//	bool, string, []byte         bool, string, bytes
//	integers, *big.Int           int
//	float32, float64             float
//	starbridge.Tuple             tuple
//	*starbridge.Mapping, map     dict (Go maps in sorted key order)
//	starbridge.Array, [][]float64 array (rectangular grids only)
//	func                         host callable
//	one-element slice            the element
//	homogeneous or empty slice   list
//	mixed []any                  tuple
//	anything else                opaque host object
func (e *Encoder) Encode(v any) (starlark.Value, error) {
	return e.encode(v, nil, 0)
}

func (e *Encoder) encode(v any, path []string, depth int) (starlark.Value, error) {
	if depth > MaxDepth {
		return nil, errors.New(errors.PhaseEncode, errors.KindOverflow).
			Path(path...).
			Detail("nesting exceeds %d levels", MaxDepth).
			Build()
	}

	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return x, nil
	case GuestValuer:
		return x.GuestValue()
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case []byte:
		return starlark.Bytes(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case uint64:
		return starlark.MakeUint64(x), nil
	case *big.Int:
		if x == nil {
			return starlark.None, nil
		}
		return starlark.MakeBigInt(x), nil
	case float64:
		return starlark.Float(x), nil
	case float32:
		return starlark.Float(x), nil
	case starbridge.Tuple:
		return e.encodeTuple(x, path, depth)
	case *starbridge.Mapping:
		if x == nil {
			return starlark.None, nil
		}
		return e.encodeMapping(x, path, depth)
	case starbridge.Array:
		return e.encodeArray(x, path)
	case *starbridge.Array:
		if x == nil {
			return starlark.None, nil
		}
		return e.encodeArray(*x, path)
	case Func:
		if x == nil {
			return starlark.None, nil
		}
		return e.hostFunc(funcName(reflect.ValueOf(x)), x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return starlark.Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return starlark.MakeUint64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return starlark.Float(rv.Float()), nil
	case reflect.String:
		return starlark.String(rv.String()), nil
	case reflect.Pointer, reflect.Interface, reflect.Chan:
		if rv.IsNil() {
			return starlark.None, nil
		}
	case reflect.Map:
		if rv.IsNil() {
			return starlark.NewDict(0), nil
		}
		return e.encodeMap(rv, path, depth)
	case reflect.Func:
		if rv.IsNil() {
			return starlark.None, nil
		}
		return e.hostFunc(funcName(rv), v)
	case reflect.Slice, reflect.Array:
		return e.encodeSequence(rv, path, depth)
	}

	return guest.NewHostObject(v, e), nil
}

func (e *Encoder) encodeTuple(t starbridge.Tuple, path []string, depth int) (starlark.Value, error) {
	out := make(starlark.Tuple, len(t))
	for i, elem := range t {
		v, err := e.encode(elem, appendPath(path, index(i)), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *Encoder) encodeMapping(m *starbridge.Mapping, path []string, depth int) (starlark.Value, error) {
	d := starlark.NewDict(m.Len())
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		v, err := e.encode(pair.Value, appendPath(path, pair.Key), depth+1)
		if err != nil {
			return nil, err
		}
		if err := d.SetKey(starlark.String(pair.Key), v); err != nil {
			return nil, errors.Wrap(errors.PhaseEncode, errors.KindConversion, err, "set dict key "+pair.Key)
		}
	}
	return d, nil
}

func (e *Encoder) encodeMap(rv reflect.Value, path []string, depth int) (starlark.Value, error) {
	keys := rv.MapKeys()
	sortKeys(keys)

	d := starlark.NewDict(len(keys))
	for _, k := range keys {
		name := fmt.Sprint(k.Interface())
		key, err := e.encode(k.Interface(), appendPath(path, name), depth+1)
		if err != nil {
			return nil, err
		}
		val, err := e.encode(rv.MapIndex(k).Interface(), appendPath(path, name), depth+1)
		if err != nil {
			return nil, err
		}
		if err := d.SetKey(key, val); err != nil {
			return nil, errors.New(errors.PhaseEncode, errors.KindConversion).
				Path(appendPath(path, name)...).
				GoType(k.Type().String()).
				Cause(err).
				Detail("map key is not hashable in the guest").
				Build()
		}
	}
	return d, nil
}

func (e *Encoder) encodeArray(a starbridge.Array, path []string) (starlark.Value, error) {
	arr, err := guest.NewArray(a.Shape, a.Data)
	if err != nil {
		return nil, errors.New(errors.PhaseEncode, errors.KindInvalidInput).
			Path(path...).
			GoType("starbridge.Array").
			Cause(err).
			Build()
	}
	return arr, nil
}

func (e *Encoder) encodeSequence(rv reflect.Value, path []string, depth int) (starlark.Value, error) {
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return starlark.Bytes(rv.Bytes()), nil
	}
	if rows, cols, ok := rectangular(rv); ok {
		data := make([]float64, 0, rows*cols)
		for i := 0; i < rows; i++ {
			row := rv.Index(i)
			for j := 0; j < cols; j++ {
				data = append(data, row.Index(j).Float())
			}
		}
		return e.encodeArray(starbridge.Array{Shape: []int{rows, cols}, Data: data}, path)
	}

	n := rv.Len()
	if n == 1 {
		return e.encode(rv.Index(0).Interface(), appendPath(path, index(0)), depth+1)
	}

	elems := make([]starlark.Value, n)
	for i := 0; i < n; i++ {
		v, err := e.encode(rv.Index(i).Interface(), appendPath(path, index(i)), depth+1)
		if err != nil {
			return nil, err
		}
		elems[i] = v
	}
	if homogeneous(rv) {
		return starlark.NewList(elems), nil
	}
	return starlark.Tuple(elems), nil
}

// rectangular reports whether rv is a non-empty grid of equal-length
// float rows.
func rectangular(rv reflect.Value) (rows, cols int, ok bool) {
	t := rv.Type().Elem()
	if t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
		return 0, 0, false
	}
	if k := t.Elem().Kind(); k != reflect.Float64 && k != reflect.Float32 {
		return 0, 0, false
	}
	rows = rv.Len()
	if rows == 0 {
		return 0, 0, false
	}
	cols = rv.Index(0).Len()
	if cols == 0 {
		return 0, 0, false
	}
	for i := 1; i < rows; i++ {
		if rv.Index(i).Len() != cols {
			return 0, 0, false
		}
	}
	return rows, cols, true
}

// homogeneous reports whether every element has the same dynamic type.
func homogeneous(rv reflect.Value) bool {
	if rv.Type().Elem().Kind() != reflect.Interface {
		return true
	}
	var first reflect.Type
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i)
		var t reflect.Type
		if !elem.IsNil() {
			t = elem.Elem().Type()
		}
		if i == 0 {
			first = t
			continue
		}
		if t != first {
			return false
		}
	}
	return true
}

func sortKeys(keys []reflect.Value) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Kind() == b.Kind() {
			switch a.Kind() {
			case reflect.String:
				return a.String() < b.String()
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				return a.Int() < b.Int()
			case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
				return a.Uint() < b.Uint()
			case reflect.Float32, reflect.Float64:
				return a.Float() < b.Float()
			}
		}
		return fmt.Sprint(a.Interface()) < fmt.Sprint(b.Interface())
	})
}

func funcName(rv reflect.Value) string {
	fn := goruntime.FuncForPC(rv.Pointer())
	if fn == nil {
		return "host_function"
	}
	name := fn.Name()
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	if name == "" || strings.HasPrefix(name, "func") {
		return "host_function"
	}
	return name
}

func appendPath(path []string, elem string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

func index(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}
