package guest

import (
	"fmt"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
)

// Array is a dense row-major float64 array.
type Array struct {
	shape  []int
	data   []float64
	frozen bool
}

var (
	_ starlark.Indexable = (*Array)(nil)
	_ starlark.Iterable  = (*Array)(nil)
	_ starlark.HasAttrs  = (*Array)(nil)
)

// NewArray validates shape against data. Both slices are copied.
func NewArray(shape []int, data []float64) (*Array, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("array: shape must have at least one dimension")
	}
	size := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("array: negative dimension %d", d)
		}
		size *= d
	}
	if size != len(data) {
		return nil, fmt.Errorf("array: shape %v needs %d elements, got %d", shape, size, len(data))
	}
	return &Array{
		shape: append([]int(nil), shape...),
		data:  append([]float64(nil), data...),
	}, nil
}

// Shape returns a copy of the dimensions.
func (a *Array) Shape() []int { return append([]int(nil), a.shape...) }

// Data returns a copy of the row-major elements.
func (a *Array) Data() []float64 { return append([]float64(nil), a.data...) }

func (a *Array) Type() string          { return "array" }
func (a *Array) Freeze()               { a.frozen = true }
func (a *Array) Truth() starlark.Bool  { return len(a.data) > 0 }
func (a *Array) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: array") }

func (a *Array) String() string {
	var b strings.Builder
	b.WriteString("array(")
	a.format(&b, 0, 0)
	b.WriteByte(')')
	return b.String()
}

func (a *Array) format(b *strings.Builder, dim, offset int) {
	b.WriteByte('[')
	stride := a.stride(dim)
	for i := 0; i < a.shape[dim]; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		if dim == len(a.shape)-1 {
			b.WriteString(strconv.FormatFloat(a.data[offset+i], 'g', -1, 64))
		} else {
			a.format(b, dim+1, offset+i*stride)
		}
	}
	b.WriteByte(']')
}

func (a *Array) stride(dim int) int {
	s := 1
	for _, d := range a.shape[dim+1:] {
		s *= d
	}
	return s
}

// Len returns the length of the first dimension.
func (a *Array) Len() int { return a.shape[0] }

// Index returns an element of a one-dimensional array, or a sub-array.
func (a *Array) Index(i int) starlark.Value {
	if len(a.shape) == 1 {
		return starlark.Float(a.data[i])
	}
	stride := a.stride(0)
	sub := &Array{
		shape:  append([]int(nil), a.shape[1:]...),
		data:   append([]float64(nil), a.data[i*stride:(i+1)*stride]...),
		frozen: a.frozen,
	}
	return sub
}

func (a *Array) Iterate() starlark.Iterator {
	return &arrayIterator{a: a}
}

type arrayIterator struct {
	a *Array
	i int
}

func (it *arrayIterator) Next(p *starlark.Value) bool {
	if it.i >= it.a.Len() {
		return false
	}
	*p = it.a.Index(it.i)
	it.i++
	return true
}

func (it *arrayIterator) Done() {}

var arrayAttrNames = []string{"ndim", "shape", "size", "sum", "tolist"}

func (a *Array) Attr(name string) (starlark.Value, error) {
	switch name {
	case "ndim":
		return starlark.MakeInt(len(a.shape)), nil
	case "shape":
		t := make(starlark.Tuple, len(a.shape))
		for i, d := range a.shape {
			t[i] = starlark.MakeInt(d)
		}
		return t, nil
	case "size":
		return starlark.MakeInt(len(a.data)), nil
	case "sum":
		return starlark.NewBuiltin("sum", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			var total float64
			for _, v := range a.data {
				total += v
			}
			return starlark.Float(total), nil
		}).BindReceiver(a), nil
	case "tolist":
		return starlark.NewBuiltin("tolist", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return a.toList(0, 0), nil
		}).BindReceiver(a), nil
	}
	return nil, nil
}

func (a *Array) AttrNames() []string {
	return append([]string(nil), arrayAttrNames...)
}

func (a *Array) toList(dim, offset int) *starlark.List {
	n := a.shape[dim]
	elems := make([]starlark.Value, n)
	stride := a.stride(dim)
	for i := 0; i < n; i++ {
		if dim == len(a.shape)-1 {
			elems[i] = starlark.Float(a.data[offset+i])
		} else {
			elems[i] = a.toList(dim+1, offset+i*stride)
		}
	}
	return starlark.NewList(elems)
}

// makeArray implements array(rows). rows is a list of numbers (one
// dimension) or a list of equal-length lists of numbers (two dimensions).
func makeArray(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var rows starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &rows); err != nil {
		return nil, err
	}

	var (
		data  []float64
		shape []int
		cols  = -1
		n     int
	)
	iter := rows.Iterate()
	defer iter.Done()

	var x starlark.Value
	for iter.Next(&x) {
		n++
		if f, ok := toFloat(x); ok {
			if cols > 0 {
				return nil, fmt.Errorf("%s: mixed scalars and rows", b.Name())
			}
			cols = 0
			data = append(data, f)
			continue
		}
		row, ok := x.(starlark.Iterable)
		if !ok || cols == 0 {
			return nil, fmt.Errorf("%s: element %d is %s, want number or row", b.Name(), n-1, x.Type())
		}
		before := len(data)
		it := row.Iterate()
		var y starlark.Value
		for it.Next(&y) {
			f, ok := toFloat(y)
			if !ok {
				it.Done()
				return nil, fmt.Errorf("%s: row %d holds %s, want number", b.Name(), n-1, y.Type())
			}
			data = append(data, f)
		}
		it.Done()
		width := len(data) - before
		if cols > 0 && width != cols {
			return nil, fmt.Errorf("%s: row %d has %d columns, want %d", b.Name(), n-1, width, cols)
		}
		cols = width
	}

	switch {
	case cols <= 0 && n > 0:
		shape = []int{n}
	case n == 0:
		shape = []int{0}
	default:
		shape = []int{n, cols}
	}
	return NewArray(shape, data)
}

func isArray(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	_, ok := x.(*Array)
	return starlark.Bool(ok), nil
}

func toFloat(v starlark.Value) (float64, bool) {
	switch x := v.(type) {
	case starlark.Float:
		return float64(x), true
	case starlark.Int:
		f := x.Float()
		return float64(f), true
	}
	return 0, false
}
