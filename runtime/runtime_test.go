package runtime

import (
	"context"
	stderrors "errors"
	"io"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge"
	"github.com/wippyai/starbridge/config"
	"github.com/wippyai/starbridge/engine"
	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/metrics"
	"github.com/wippyai/starbridge/transcoder"
)

const libSource = `
answer = 42
pi = 3.5
name = "lib"
grid = array([[1, 2], [3, 4]])
items = [1, 2, 3]
settings = {"debug": True, "level": 3}
ns = namespace(x = 1, y = 2)

def add(a, b):
    return a + b

def greet(who, greeting = "hello"):
    return greeting + " " + who

def boom(msg):
    fail(msg)

def apply(f, x):
    return f(x)

def consume(it):
    out = []
    for x in it:
        out.append(x)
    return out

def make_counter():
    state = {"n": 0}
    def inc():
        state["n"] += 1
        return state["n"]
    return inc

def open_resource(label, fail_exit = False):
    events = []
    def enter():
        events.append("enter")
        return label
    def exit(kind, msg, tb):
        events.append("exit:" + str(kind))
        if fail_exit:
            fail("exit failed")
        return True
    return struct(__enter__ = enter, __exit__ = exit, events = events)

def open_cyclic():
    events = []
    def enter():
        events.append("enter")
        loop = []
        loop.append(loop)
        return loop
    def exit(kind, msg, tb):
        events.append("exit:" + str(kind))
    return struct(__enter__ = enter, __exit__ = exit, events = events)
`

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"lib.star": {Data: []byte(libSource)},
		"uses.star": {Data: []byte(`
load("lib", "add")
total = add(40, 2)
`)},
	}
}

func newRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	ctx := context.Background()
	base := []Option{
		WithWasm(engine.WasmConfig{}),
		WithPrintWriter(io.Discard),
		WithModuleFS(testFS()),
	}
	rt, err := New(ctx, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { rt.Close(ctx) })
	return rt
}

func importLib(t *testing.T, rt *Runtime, opts ...ImportOption) *Proxy {
	t.Helper()
	lib, err := rt.Import(context.Background(), "lib", opts...)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	return lib
}

func TestImportAutoConvert(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	lib := importLib(t, rt)

	tests := []struct {
		member string
		want   any
	}{
		{"answer", 42},
		{"pi", 3.5},
		{"name", "lib"},
		{"items", []int{1, 2, 3}},
		{"grid", starbridge.Array{Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.member, func(t *testing.T) {
			got, err := lib.Get(ctx, tt.member)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	settings, err := lib.Get(ctx, "settings")
	if err != nil {
		t.Fatal(err)
	}
	m, ok := settings.(*starbridge.Mapping)
	if !ok {
		t.Fatalf("settings = %T, want *starbridge.Mapping", settings)
	}
	if v, _ := m.Get("level"); v != 3 {
		t.Errorf("level = %v", v)
	}

	ns, err := lib.Get(ctx, "ns")
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := ns.(*Proxy); !ok || p.Type() != "namespace" {
		t.Errorf("ns = %v, want namespace proxy", ns)
	}
}

func TestImportWithoutConversion(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	lib := importLib(t, rt, Convert(false))

	for _, member := range []string{"answer", "grid"} {
		v, err := lib.Get(ctx, member)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := v.(*Proxy); !ok {
			t.Fatalf("%s = %T, want *Proxy", member, v)
		}
	}

	answer, _ := lib.Get(ctx, "answer")
	got, err := answer.(*Proxy).Convert(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("Convert = %v, want 42", got)
	}

	grid, _ := lib.Get(ctx, "grid")
	arr, err := rt.ToHost(ctx, grid)
	if err != nil {
		t.Fatal(err)
	}
	want := starbridge.Array{Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}}
	if diff := cmp.Diff(want, arr); diff != "" {
		t.Errorf("array mismatch (-want +got):\n%s", diff)
	}

	sum, err := lib.CallMethod(ctx, "add", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := sum.(*Proxy); !ok || p.String() != "3" {
		t.Errorf("add result = %v, want proxy over 3", sum)
	}

	converted, err := lib.WithPolicy(transcoder.DefaultPolicy)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := converted.Get(ctx, "answer"); v != 42 {
		t.Errorf("override policy: answer = %v", v)
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	values := []any{
		nil,
		true,
		false,
		7,
		-3,
		2.5,
		"text",
		[]byte{1, 2},
		[]int{1, 2, 3},
		[]string{"a", "b"},
		[]float64{1.5, 2.5},
		starbridge.Tuple{1, "a", 2.5},
		starbridge.Array{Shape: []int{2, 3}, Data: []float64{1, 2, 3, 4, 5, 6}},
	}
	for _, v := range values {
		p, err := rt.ToGuest(ctx, v)
		if err != nil {
			t.Fatalf("ToGuest(%v) failed: %v", v, err)
		}
		got, err := p.Convert(ctx)
		if err != nil {
			t.Fatalf("Convert(%v) failed: %v", v, err)
		}
		if diff := cmp.Diff(v, got); diff != "" {
			t.Errorf("round trip of %T mismatch (-want +got):\n%s", v, diff)
		}
	}

	m := starbridge.MappingOf("b", 1, "a", []int{2, 3})
	p, err := rt.ToGuest(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Convert(ctx)
	if err != nil {
		t.Fatal(err)
	}
	back := got.(*starbridge.Mapping)
	var keys []string
	for pair := back.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	if diff := cmp.Diff([]string{"b", "a"}, keys); diff != "" {
		t.Errorf("mapping order mismatch (-want +got):\n%s", diff)
	}
	if v, _ := back.Get("a"); !cmp.Equal(v, []int{2, 3}) {
		t.Errorf("a = %v", v)
	}
}

func TestSingleElementCollapse(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	single, err := rt.ToGuest(ctx, []int{42})
	if err != nil {
		t.Fatal(err)
	}
	if single.Type() != "int" || single.String() != "42" {
		t.Errorf("[42] became %s %s, want int 42", single.Type(), single)
	}

	multi, err := rt.ToGuest(ctx, []int{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if multi.Type() != "list" || multi.String() != "[1, 2, 3]" {
		t.Errorf("[1 2 3] became %s %s", multi.Type(), multi)
	}
}

func TestExecEvalMain(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	if err := rt.Exec(ctx, "main.star", "x = 10\nwords = ['a', 'b']"); err != nil {
		t.Fatal(err)
	}
	v, err := rt.Eval(ctx, "x * 2")
	if err != nil {
		t.Fatal(err)
	}
	if v != 20 {
		t.Errorf("x * 2 = %v", v)
	}

	main, err := rt.Main()
	if err != nil {
		t.Fatal(err)
	}
	words, err := main.Get(ctx, "words")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, words); diff != "" {
		t.Errorf("words mismatch (-want +got):\n%s", diff)
	}

	raw, err := rt.Eval(ctx, "x", Convert(false))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := raw.(*Proxy); !ok {
		t.Errorf("Eval with Convert(false) = %T, want *Proxy", raw)
	}
}

func TestLoadChain(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	uses, err := rt.Import(ctx, "uses")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := uses.Get(ctx, "total"); v != 42 {
		t.Errorf("total = %v", v)
	}

	_, err = rt.Import(ctx, "missing")
	var be *errors.Error
	if !stderrors.As(err, &be) || be.Kind != errors.KindNotFound {
		t.Errorf("expected not_found, got %v", err)
	}
}

type mathHost struct {
	factor int
}

func (mathHost) Namespace() string           { return "mathx" }
func (h mathHost) Scale(x int) int           { return x * h.factor }
func (mathHost) GetHTTPCode() int            { return 200 }
func (mathHost) Describe(name string) string { return "math:" + name }

func TestRegisterHost(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	if err := rt.RegisterHost(mathHost{factor: 3}); err != nil {
		t.Fatal(err)
	}
	if err := rt.RegisterFunc("mathx", "negate", func(x float64) float64 { return -x }); err != nil {
		t.Fatal(err)
	}

	err := rt.Exec(ctx, "host.star", `
load("mathx", "scale", "get_http_code", "describe", "negate")
r = [scale(14), get_http_code(), describe("x")]
n = negate(2)
`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := rt.Eval(ctx, "r")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{42, 200, "math:x"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if n, _ := rt.Eval(ctx, "n"); n != -2.0 {
		t.Errorf("n = %v", n)
	}
	if diff := cmp.Diff([]string{"mathx"}, rt.Hosts().Namespaces()); diff != "" {
		t.Errorf("namespaces mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterModuleErrors(t *testing.T) {
	rt := newRuntime(t)
	if err := rt.RegisterModule("", nil); err == nil {
		t.Error("expected error for empty name")
	}
	if err := rt.RegisterModule("bad", map[string]any{"f": func(a int) (error, int) { return nil, a }}); err == nil {
		t.Error("expected error for unsupported signature")
	}
	if err := rt.RegisterFunc("bad", "x", 42); err == nil {
		t.Error("expected error for non-func")
	}
}

func TestHostCallbackOrigin(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	errBoom := stderrors.New("boom")
	if err := rt.RegisterModule("host", map[string]any{
		"explode": func() error { return errBoom },
	}); err != nil {
		t.Fatal(err)
	}
	if err := rt.Exec(ctx, "cb.star", `
load("host", "explode")
def run():
    explode()
`); err != nil {
		t.Fatal(err)
	}
	main, _ := rt.Main()
	_, err := main.CallMethod(ctx, "run")
	var be *errors.Error
	if !stderrors.As(err, &be) {
		t.Fatalf("expected *errors.Error, got %v", err)
	}
	if be.Origin != errors.OriginHost {
		t.Errorf("origin = %s, want host", be.Origin)
	}
	if !stderrors.Is(err, errBoom) {
		t.Error("host error must stay reachable")
	}
}

func TestToHostPassthrough(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	v, err := rt.ToHost(ctx, starlark.MakeInt(5))
	if err != nil || v != 5 {
		t.Errorf("ToHost(starlark 5) = %v, %v", v, err)
	}
	host := []string{"x"}
	v, err = rt.ToHost(ctx, host)
	if err != nil || !cmp.Equal(v, host) {
		t.Errorf("ToHost(host value) = %v, %v", v, err)
	}
}

func TestGlobals(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, WithGlobal("version", "1.2"), WithGlobal("double", func(x int) int { return 2 * x }))
	v, err := rt.Eval(ctx, "version + ':' + str(double(4))")
	if err != nil {
		t.Fatal(err)
	}
	if v != "1.2:8" {
		t.Errorf("v = %v", v)
	}
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	rt := newRuntime(t, WithMetrics(m))
	lib := importLib(t, rt)
	fn, err := lib.Get(ctx, "add")
	if err != nil {
		t.Fatal(err)
	}
	fn.(*Proxy).Release()

	want := `
# HELP starbridge_handles_live Guest references currently held by the host
# TYPE starbridge_handles_live gauge
starbridge_handles_live 1
`
	if err := testutil.CollectAndCompare(m, strings.NewReader(want), "starbridge_handles_live"); err != nil {
		t.Error(err)
	}
	if !lib.IsLive() {
		t.Error("module proxy released early")
	}
}

func TestFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.AutoConvert = false
	cfg.Print = "discard"
	cfg.Wasm.Enabled = false

	rt, err := New(ctx, FromConfig(cfg)...)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close(ctx)

	v, err := rt.Eval(ctx, "1 + 1")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(*Proxy); !ok {
		t.Errorf("auto_convert false: Eval = %T, want *Proxy", v)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, WithWasm(engine.WasmConfig{}), WithModuleFS(testFS()))
	if err != nil {
		t.Fatal(err)
	}
	lib := importLib(t, rt)
	if err := rt.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if lib.IsLive() {
		t.Error("proxy must be dead after Close")
	}
	if _, err := lib.Get(ctx, "answer"); !stderrors.Is(err, errors.ErrDeadReference) {
		t.Errorf("Get after Close = %v, want dead reference", err)
	}
	if _, err := rt.Eval(ctx, "1"); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("Eval after Close = %v, want not initialized", err)
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"Get":          "get",
		"GetValue":     "get_value",
		"GetHTTPCode":  "get_http_code",
		"ParseJSON":    "parse_json",
		"Base64Encode": "base64_encode",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
