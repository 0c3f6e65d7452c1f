package transcoder

import (
	"context"
	stderrors "errors"
	"math"
	"math/big"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge"
	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/guest"
)

type opaque struct {
	Name string
}

func testCodec() (*Encoder, *Decoder) {
	dec := NewDecoder(WrapperFunc(func(v starlark.Value, _ Policy) (any, error) {
		return v, nil
	}))
	return NewEncoder(dec), dec
}

func TestEncodeRules(t *testing.T) {
	enc, _ := testCodec()

	tests := []struct {
		name     string
		in       any
		wantType string
		wantRepr string
	}{
		{"nil", nil, "NoneType", "None"},
		{"bool", true, "bool", "True"},
		{"string", "hi", "string", `"hi"`},
		{"bytes", []byte("ab"), "bytes", `b"ab"`},
		{"int", 42, "int", "42"},
		{"int8", int8(-3), "int", "-3"},
		{"uint64", uint64(math.MaxUint64), "int", "18446744073709551615"},
		{"big", new(big.Int).Lsh(big.NewInt(1), 80), "int", "1208925819614629174706176"},
		{"float", 2.5, "float", "2.5"},
		{"whole float", 3.0, "float", "3.0"},
		{"float32", float32(0.5), "float", "0.5"},
		{"named float", celsius(21.5), "float", "21.5"},
		{"tuple", starbridge.Tuple{1, "a"}, "tuple", `(1, "a")`},
		{"single element", []int{42}, "int", "42"},
		{"single any", []any{"x"}, "string", `"x"`},
		{"list", []int{1, 2, 3}, "list", "[1, 2, 3]"},
		{"empty list", []string{}, "list", "[]"},
		{"homogeneous any", []any{1, 2}, "list", "[1, 2]"},
		{"mixed any", []any{1, "a", 2.5}, "tuple", `(1, "a", 2.5)`},
		{"map sorted", map[string]int{"b": 2, "a": 1}, "dict", `{"a": 1, "b": 2}`},
		{"int keys sorted", map[int]string{10: "x", 2: "y"}, "dict", `{2: "y", 10: "x"}`},
		{"mapping ordered", starbridge.MappingOf("z", 1, "a", 2), "dict", `{"z": 1, "a": 2}`},
		{"grid", [][]float64{{1, 2}, {3, 4}}, "array", "array([[1, 2], [3, 4]])"},
		{"single row grid", [][]float64{{1, 2, 3}}, "array", "array([[1, 2, 3]])"},
		{"ragged grid", [][]float64{{1}, {2, 3}}, "list", "[1.0, [2.0, 3.0]]"},
		{"int grid", [][]int{{1, 2}, {3, 4}}, "list", "[[1, 2], [3, 4]]"},
		{"nil pointer", (*opaque)(nil), "NoneType", "None"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := enc.Encode(tt.in)
			if err != nil {
				t.Fatalf("Encode(%v) failed: %v", tt.in, err)
			}
			if v.Type() != tt.wantType {
				t.Errorf("type = %s, want %s", v.Type(), tt.wantType)
			}
			if v.String() != tt.wantRepr {
				t.Errorf("repr = %s, want %s", v.String(), tt.wantRepr)
			}
		})
	}
}

type celsius float64

func TestEncodeOpaqueStruct(t *testing.T) {
	enc, dec := testCodec()
	o := &opaque{Name: "widget"}

	v, err := enc.Encode(o)
	if err != nil {
		t.Fatal(err)
	}
	ho, ok := v.(*guest.HostObject)
	if !ok {
		t.Fatalf("Encode(struct) = %T, want *guest.HostObject", v)
	}
	name, err := ho.Attr("Name")
	if err != nil || name != starlark.String("widget") {
		t.Errorf("Name attr = %v, %v", name, err)
	}

	back, err := dec.Decode(v, DefaultPolicy)
	if err != nil {
		t.Fatal(err)
	}
	if back != o {
		t.Error("host object must decode to the original pointer")
	}
}

type fakeProxy struct{ v starlark.Value }

func (p fakeProxy) GuestValue() (starlark.Value, error) { return p.v, nil }

func TestEncodeGuestValuer(t *testing.T) {
	enc, _ := testCodec()
	ns := guest.NewNamespace(nil)
	v, err := enc.Encode(fakeProxy{ns})
	if err != nil {
		t.Fatal(err)
	}
	if v != ns {
		t.Error("GuestValuer must encode to its guest value")
	}
}

func TestEncodeInvalidArray(t *testing.T) {
	enc, _ := testCodec()
	_, err := enc.Encode(starbridge.Array{Shape: []int{2, 2}, Data: []float64{1}})
	var be *errors.Error
	if !stderrors.As(err, &be) || be.Kind != errors.KindInvalidInput {
		t.Fatalf("expected invalid_input, got %v", err)
	}
}

func TestDecodeRules(t *testing.T) {
	_, dec := testCodec()

	dict := starlark.NewDict(2)
	_ = dict.SetKey(starlark.String("z"), starlark.MakeInt(1))
	_ = dict.SetKey(starlark.String("a"), starlark.Float(2))

	arr, _ := guest.NewArray([]int{2}, []float64{1, 2})
	huge := new(big.Int).Lsh(big.NewInt(1), 70)

	tests := []struct {
		name string
		in   starlark.Value
		want any
	}{
		{"none", starlark.None, nil},
		{"bool", starlark.True, true},
		{"int", starlark.MakeInt(7), 7},
		{"big int", starlark.MakeBigInt(huge), huge},
		{"float", starlark.Float(1.5), 1.5},
		{"string", starlark.String("s"), "s"},
		{"bytes", starlark.Bytes("b"), []byte("b")},
		{"int list", starlark.NewList([]starlark.Value{starlark.MakeInt(1), starlark.MakeInt(2)}), []int{1, 2}},
		{"float list", starlark.NewList([]starlark.Value{starlark.Float(1), starlark.Float(2)}), []float64{1, 2}},
		{"single list", starlark.NewList([]starlark.Value{starlark.MakeInt(42)}), []int{42}},
		{"mixed list", starlark.NewList([]starlark.Value{starlark.MakeInt(1), starlark.String("a")}), []any{1, "a"}},
		{"empty list", starlark.NewList(nil), []any{}},
		{"tuple", starlark.Tuple{starlark.MakeInt(1), starlark.None}, starbridge.Tuple{1, nil}},
		{"array", arr, starbridge.Array{Shape: []int{2}, Data: []float64{1, 2}}},
	}

	opts := cmp.Comparer(func(a, b *big.Int) bool { return a.Cmp(b) == 0 })
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dec.Decode(tt.in, DefaultPolicy)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got, opts); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("dict order", func(t *testing.T) {
		got, err := dec.Decode(dict, DefaultPolicy)
		if err != nil {
			t.Fatal(err)
		}
		m, ok := got.(*starbridge.Mapping)
		if !ok {
			t.Fatalf("dict decoded to %T", got)
		}
		var keys []string
		for pair := m.Oldest(); pair != nil; pair = pair.Next() {
			keys = append(keys, pair.Key)
		}
		if diff := cmp.Diff([]string{"z", "a"}, keys); diff != "" {
			t.Errorf("key order mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestDecodeWrapsObjects(t *testing.T) {
	_, dec := testCodec()

	intKeys := starlark.NewDict(1)
	_ = intKeys.SetKey(starlark.MakeInt(1), starlark.String("one"))
	fn := starlark.NewBuiltin("f", nil)

	for _, v := range []starlark.Value{intKeys, fn, guest.NewNamespace(nil), starlark.NewSet(0)} {
		got, err := dec.Decode(v, DefaultPolicy)
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", v.Type(), err)
		}
		if got != v {
			t.Errorf("Decode(%s) = %v, want wrapped guest value", v.Type(), got)
		}
		if IsValueShape(v) {
			t.Errorf("IsValueShape(%s) = true", v.Type())
		}
	}

	if _, err := NewDecoder(nil).Decode(fn, DefaultPolicy); err == nil {
		t.Error("expected error without a wrapper")
	}
}

func TestDecodeSelfReference(t *testing.T) {
	_, dec := testCodec()
	l := starlark.NewList(nil)
	_ = l.Append(l)
	_, err := dec.Decode(l, DefaultPolicy)
	var be *errors.Error
	if !stderrors.As(err, &be) || be.Kind != errors.KindOverflow {
		t.Fatalf("expected overflow error, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	enc, dec := testCodec()

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int stays int", 5, 5},
		{"float stays float", 5.0, 5.0},
		{"string", "x", "x"},
		{"list", []int{1, 2, 3}, []int{1, 2, 3}},
		{"scalar collapse", []int{42}, 42},
		{"floats", []float64{0.5, 1.5}, []float64{0.5, 1.5}},
		{"tuple", starbridge.Tuple{1, "a", 2.5}, starbridge.Tuple{1, "a", 2.5}},
		{"mixed any", []any{true, "a"}, starbridge.Tuple{true, "a"}},
		{"array", starbridge.Array{Shape: []int{1, 2}, Data: []float64{3, 4}}, starbridge.Array{Shape: []int{1, 2}, Data: []float64{3, 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := enc.Encode(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			got, err := dec.Decode(g, DefaultPolicy)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("mapping", func(t *testing.T) {
		in := starbridge.MappingOf("b", 1, "a", []string{"x", "y"})
		g, err := enc.Encode(in)
		if err != nil {
			t.Fatal(err)
		}
		got, err := dec.Decode(g, DefaultPolicy)
		if err != nil {
			t.Fatal(err)
		}
		want := map[string]any{"b": 1, "a": []string{"x", "y"}}
		if diff := cmp.Diff(want, Plain(got)); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
		if first := got.(*starbridge.Mapping).Oldest().Key; first != "b" {
			t.Errorf("first key = %s, want b", first)
		}
	})
}

func TestSignatureCompiler(t *testing.T) {
	c := NewCompiler()
	fn := func(ctx context.Context, a int, rest ...string) (int, error) { return 0, nil }

	sig, err := c.Compile(reflect.TypeOf(fn))
	if err != nil {
		t.Fatal(err)
	}
	if !sig.Context || !sig.Variadic || !sig.Error || sig.Results != 1 || len(sig.In) != 2 {
		t.Errorf("unexpected signature %+v", sig)
	}
	again, _ := c.Compile(reflect.TypeOf(fn))
	if again != sig {
		t.Error("signature must be cached")
	}

	if _, err := c.Compile(reflect.TypeOf(func() (error, int) { return nil, 0 })); err == nil {
		t.Error("expected error for misplaced error result")
	}
	if _, err := c.Compile(reflect.TypeOf(42)); err == nil {
		t.Error("expected error for non-func type")
	}
}

func TestPlain(t *testing.T) {
	in := starbridge.MappingOf(
		"t", starbridge.Tuple{1, starbridge.MappingOf("k", "v")},
		"a", starbridge.Array{Shape: []int{2, 1}, Data: []float64{1, 2}},
	)
	want := map[string]any{
		"t": []any{1, map[string]any{"k": "v"}},
		"a": [][]float64{{1}, {2}},
	}
	if diff := cmp.Diff(want, Plain(in)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

type server struct {
	Host  string
	Port  int
	Ratio float64
	Tags  []string
}

func TestDecodeInto(t *testing.T) {
	in := starbridge.MappingOf("host", "localhost", "port", 8080, "ratio", 1, "tags", []string{"a"})
	var s server
	if err := DecodeInto(in, &s); err != nil {
		t.Fatalf("DecodeInto failed: %v", err)
	}
	want := server{Host: "localhost", Port: 8080, Ratio: 1, Tags: []string{"a"}}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if err := DecodeInto(in, s); err == nil {
		t.Error("expected error for non-pointer target")
	}
	if err := DecodeInto(starbridge.MappingOf("port", "not a number"), &s); err == nil {
		t.Error("expected error for mismatched field")
	}
}

func TestDecodeIntoTypeMismatchMessage(t *testing.T) {
	var n []int
	err := DecodeInto("text", &n)
	if err == nil || !strings.Contains(err.Error(), "type_mismatch") {
		t.Fatalf("expected type_mismatch, got %v", err)
	}
}
