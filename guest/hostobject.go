package guest

import (
	"fmt"
	"reflect"
	"sort"

	"go.starlark.net/starlark"
)

// ValueEncoder converts host values reached through a HostObject.
type ValueEncoder interface {
	Encode(v any) (starlark.Value, error)
}

// HostObject is an opaque view of a Go value. Exported struct fields and
// methods are readable from the guest; nothing is assignable.
type HostObject struct {
	value any
	rv    reflect.Value
	enc   ValueEncoder
}

var _ starlark.HasAttrs = (*HostObject)(nil)

func NewHostObject(v any, enc ValueEncoder) *HostObject {
	return &HostObject{value: v, rv: reflect.ValueOf(v), enc: enc}
}

// Value returns the wrapped Go value unchanged.
func (h *HostObject) Value() any { return h.value }

func (h *HostObject) String() string {
	if s, ok := h.value.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("<host %s>", h.goType())
}

func (h *HostObject) Type() string          { return "host." + h.goType() }
func (h *HostObject) Freeze()               {}
func (h *HostObject) Truth() starlark.Bool  { return starlark.Bool(h.rv.IsValid() && !h.isNil()) }
func (h *HostObject) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: %s", h.Type()) }

func (h *HostObject) goType() string {
	if !h.rv.IsValid() {
		return "nil"
	}
	return h.rv.Type().String()
}

func (h *HostObject) isNil() bool {
	switch h.rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return h.rv.IsNil()
	}
	return false
}

func (h *HostObject) Attr(name string) (starlark.Value, error) {
	if !h.rv.IsValid() {
		return nil, nil
	}
	if m := h.rv.MethodByName(name); m.IsValid() {
		return h.enc.Encode(m.Interface())
	}
	if s, ok := h.structValue(); ok {
		f, ok := s.Type().FieldByName(name)
		if ok && f.IsExported() && len(f.Index) > 0 {
			return h.enc.Encode(s.FieldByIndex(f.Index).Interface())
		}
	}
	return nil, nil
}

func (h *HostObject) AttrNames() []string {
	if !h.rv.IsValid() {
		return nil
	}
	var names []string
	t := h.rv.Type()
	for i := 0; i < t.NumMethod(); i++ {
		names = append(names, t.Method(i).Name)
	}
	if s, ok := h.structValue(); ok {
		st := s.Type()
		for i := 0; i < st.NumField(); i++ {
			if f := st.Field(i); f.IsExported() && !f.Anonymous {
				names = append(names, f.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func (h *HostObject) structValue() (reflect.Value, bool) {
	v := h.rv
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.Kind() == reflect.Struct
}
