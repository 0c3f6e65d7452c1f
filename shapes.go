package starbridge

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Tuple is a fixed, possibly mixed-type ordered sequence.
// It crosses the boundary as a guest tuple.
type Tuple []any

// Mapping is a key-named ordered sequence.
// It crosses the boundary as a guest dict, keeping insertion order.
type Mapping = orderedmap.OrderedMap[string, any]

// NewMapping returns an empty Mapping.
func NewMapping() *Mapping {
	return orderedmap.New[string, any]()
}

// MappingOf builds a Mapping from alternating key, value arguments.
func MappingOf(kv ...any) *Mapping {
	if len(kv)%2 != 0 {
		panic("starbridge: MappingOf needs key/value pairs")
	}
	m := NewMapping()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("starbridge: MappingOf key %d is %T, not string", i/2, kv[i]))
		}
		m.Set(key, kv[i+1])
	}
	return m
}

// Array is a dense rectangular numeric grid stored row-major.
type Array struct {
	Shape []int
	Data  []float64
}

// NewArray builds an Array from rows of equal length.
func NewArray(rows [][]float64) (Array, error) {
	if len(rows) == 0 {
		return Array{Shape: []int{0, 0}}, nil
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return Array{}, fmt.Errorf("row %d has %d columns, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return Array{Shape: []int{len(rows), cols}, Data: data}, nil
}

// Size returns the number of elements implied by Shape.
func (a Array) Size() int {
	if len(a.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Valid reports whether Data matches Shape.
func (a Array) Valid() bool {
	for _, d := range a.Shape {
		if d < 0 {
			return false
		}
	}
	return len(a.Shape) > 0 && a.Size() == len(a.Data)
}

// Rows returns a two-dimensional array as rows.
func (a Array) Rows() ([][]float64, bool) {
	if len(a.Shape) != 2 || !a.Valid() {
		return nil, false
	}
	rows := make([][]float64, a.Shape[0])
	for i := range rows {
		start := i * a.Shape[1]
		rows[i] = append([]float64(nil), a.Data[start:start+a.Shape[1]]...)
	}
	return rows, true
}

// Equal reports element-wise equality including shape.
func (a Array) Equal(b Array) bool {
	if len(a.Shape) != len(b.Shape) || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}
