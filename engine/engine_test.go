package engine

import (
	"bytes"
	"context"
	stderrors "errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge/errors"
)

// mathWasm exports add(i32, i32) -> i32 and half(f64) -> f64.
var mathWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type section
	0x01, 0x0c, 0x02,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x60, 0x01, 0x7c, 0x01, 0x7c,
	// function section
	0x03, 0x03, 0x02, 0x00, 0x01,
	// export section
	0x07, 0x0e, 0x02,
	0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x04, 0x68, 0x61, 0x6c, 0x66, 0x00, 0x01,
	// code section
	0x0a, 0x18, 0x02,
	0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
	0x0e, 0x00, 0x20, 0x00, 0x44, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xe0, 0x3f, 0xa2, 0x0b,
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestExecAndEval(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})

	if err := e.Exec(ctx, "main.star", "x = 1 + 2"); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if err := e.Exec(ctx, "main.star", "y = x * 10"); err != nil {
		t.Fatalf("second Exec failed: %v", err)
	}
	v, err := e.Eval(ctx, "x + y")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if v.String() != "33" {
		t.Errorf("x + y = %s, want 33", v)
	}
	if got, _ := e.Main().Attr("y"); got == nil || got.String() != "30" {
		t.Errorf("__main__.y = %v", got)
	}
}

func TestExecGuestError(t *testing.T) {
	e := newTestEngine(t, Config{})
	err := e.Exec(context.Background(), "bad.star", "a = 1\nb = 1 // 0")
	if !stderrors.Is(err, errors.ErrGuestRuntime) {
		t.Fatalf("expected guest_runtime error, got %v", err)
	}
	var be *errors.Error
	if !stderrors.As(err, &be) || !strings.Contains(be.GuestMessage, "division by zero") {
		t.Errorf("guest message lost: %v", err)
	}
	if be.Traceback == "" {
		t.Error("expected traceback")
	}
	// bindings made before the failure are kept
	if got, _ := e.Main().Attr("a"); got == nil {
		t.Error("a should be kept in __main__")
	}
}

func TestPrintWriter(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(t, Config{Print: &buf})
	if err := e.Exec(context.Background(), "p.star", `print("hello", 42)`); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "hello 42\n" {
		t.Errorf("print output = %q", got)
	}
}

func TestImportStarModule(t *testing.T) {
	ctx := context.Background()
	fsys := fstest.MapFS{
		"calc.star": {Data: []byte(`
load("consts", "SCALE")

def scale(x):
    return x * SCALE
`)},
		"consts.star": {Data: []byte("SCALE = 3\n")},
	}
	e := newTestEngine(t, Config{Paths: []fs.FS{fsys}})

	m, err := e.Import(ctx, "calc")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	fn, _ := m.Attr("scale")
	err = e.Do(ctx, func(_ context.Context, thread *starlark.Thread) error {
		v, err := starlark.Call(thread, fn, starlark.Tuple{starlark.MakeInt(4)}, nil)
		if err != nil {
			return err
		}
		if v.String() != "12" {
			t.Errorf("scale(4) = %s", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}

	again, err := e.Import(ctx, "calc.star")
	if err != nil {
		t.Fatal(err)
	}
	if again != m {
		t.Error("repeated import must return the cached module")
	}
}

func TestImportNotFound(t *testing.T) {
	e := newTestEngine(t, Config{Paths: []fs.FS{fstest.MapFS{}}})
	_, err := e.Import(context.Background(), "missing")
	var be *errors.Error
	if !stderrors.As(err, &be) || be.Kind != errors.KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestImportFailureNotCached(t *testing.T) {
	ctx := context.Background()
	fsys := fstest.MapFS{"flaky.star": {Data: []byte("x = undefined_name")}}
	e := newTestEngine(t, Config{Paths: []fs.FS{fsys}})

	if _, err := e.Import(ctx, "flaky"); err == nil {
		t.Fatal("expected error")
	}
	fsys["flaky.star"] = &fstest.MapFile{Data: []byte("x = 1")}
	if _, err := e.Import(ctx, "flaky"); err != nil {
		t.Fatalf("retry after fix failed: %v", err)
	}
}

func TestLoadCycle(t *testing.T) {
	fsys := fstest.MapFS{
		"a.star": {Data: []byte(`load("b", "y")` + "\nx = 1\n")},
		"b.star": {Data: []byte(`load("a", "x")` + "\ny = 2\n")},
	}
	e := newTestEngine(t, Config{Paths: []fs.FS{fsys}})
	_, err := e.Import(context.Background(), "a")
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

type hostModules map[string]starlark.StringDict

func (h hostModules) HostModule(name string) (starlark.StringDict, bool) {
	m, ok := h[name]
	return m, ok
}

func TestHostModulePrecedence(t *testing.T) {
	ctx := context.Background()
	fsys := fstest.MapFS{"cfg.star": {Data: []byte("source = 'file'")}}
	hosts := hostModules{"cfg": {"source": starlark.String("host")}}
	e := newTestEngine(t, Config{Paths: []fs.FS{fsys}, Hosts: hosts})

	if err := e.Exec(ctx, "main.star", `load("cfg", "source")`+"\nseen = source"); err != nil {
		t.Fatal(err)
	}
	if got, _ := e.Main().Attr("seen"); got != starlark.String("host") {
		t.Errorf("seen = %v, want host", got)
	}
}

func TestWasmModule(t *testing.T) {
	ctx := context.Background()
	fsys := fstest.MapFS{"math.wasm": {Data: mathWasm}}
	e := newTestEngine(t, Config{Paths: []fs.FS{fsys}, Wasm: WasmConfig{Enabled: true}})

	src := `
load("math", "add", "half")
s = add(2, 40)
neg = add(-5, 2)
h = half(5)
`
	if err := e.Exec(ctx, "main.star", src); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	tests := map[string]string{"s": "42", "neg": "-3", "h": "2.5"}
	for name, want := range tests {
		got, _ := e.Main().Attr(name)
		if got == nil || got.String() != want {
			t.Errorf("%s = %v, want %s", name, got, want)
		}
	}

	if err := e.Exec(ctx, "bad.star", "add(1)"); err == nil {
		t.Error("expected arity error")
	}
}

func TestWasmModuleWithWit(t *testing.T) {
	ctx := context.Background()
	fsys := fstest.MapFS{
		"umath.wasm": {Data: mathWasm},
		"umath.wit": {Data: []byte(`
interface umath {
    add: func(a: u32, b: u32) -> u32;
    half: func(x: f64) -> f64;
}
`)},
	}
	e := newTestEngine(t, Config{Paths: []fs.FS{fsys}, Wasm: WasmConfig{Enabled: true}})

	if err := e.Exec(ctx, "main.star", `load("umath", "add")`+"\nbig = add(4000000000, 1)"); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if got, _ := e.Main().Attr("big"); got == nil || got.String() != "4000000001" {
		t.Errorf("big = %v", got)
	}
	if err := e.Exec(ctx, "neg.star", `load("umath", "add")`+"\nadd(-1, 1)"); err == nil {
		t.Error("expected range error for negative u32")
	}
}

func TestWasmDisabled(t *testing.T) {
	fsys := fstest.MapFS{"math.wasm": {Data: mathWasm}}
	e := newTestEngine(t, Config{Paths: []fs.FS{fsys}})
	if _, err := e.Import(context.Background(), "math"); err == nil {
		t.Fatal("wasm modules must not load when disabled")
	}
}

func TestParseWit(t *testing.T) {
	sigs, err := parseWit(`
export ping: func() -> bool;
mix: func(a: s8, b: char) -> (u64, f32);
`)
	if err != nil {
		t.Fatalf("parseWit failed: %v", err)
	}
	if sig := sigs["ping"]; sig == nil || len(sig.params) != 0 || sig.results[0] != witBool {
		t.Errorf("ping = %+v", sig)
	}
	mix := sigs["mix"]
	if mix == nil || mix.params[0] != witS8 || mix.params[1] != witChar || mix.results[0] != witU64 || mix.results[1] != witF32 {
		t.Errorf("mix = %+v", mix)
	}

	if _, err := parseWit("f: func(s: string);"); err == nil {
		t.Error("expected unsupported error for string")
	}
	if _, err := parseWit("nothing here"); err == nil {
		t.Error("expected error for text without functions")
	}
}

func TestEnterNested(t *testing.T) {
	e := newTestEngine(t, Config{})
	sctx, leave, err := e.Enter(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer leave()

	inner, innerLeave, err := e.Enter(sctx)
	if err != nil {
		t.Fatalf("nested Enter failed: %v", err)
	}
	innerLeave()
	if e.Thread(inner) != e.Thread(sctx) {
		t.Error("nested Enter must reuse the session thread")
	}
	if active, ok := e.Active(); !ok || active != sctx {
		t.Error("outer session must stay active after nested leave")
	}
	if ContextOf(e.Thread(sctx)) != sctx {
		t.Error("thread must carry its session context")
	}
}

func TestEnterCancelled(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := e.Enter(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestDeferRunsOnNextSession(t *testing.T) {
	e := newTestEngine(t, Config{})
	ran := false
	e.Defer(func() { ran = true })
	if ran {
		t.Fatal("deferred work must not run immediately")
	}
	if err := e.Do(context.Background(), func(context.Context, *starlark.Thread) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("deferred work must run on the next session")
	}
}

func TestMaxSteps(t *testing.T) {
	e := newTestEngine(t, Config{MaxSteps: 1000})
	err := e.Exec(context.Background(), "loop.star", `
def spin():
    n = 0
    while True:
        n += 1
spin()
`)
	if err == nil {
		t.Fatal("expected step limit error")
	}
}

func TestClose(t *testing.T) {
	e, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(context.Background()); err != nil {
		t.Errorf("second Close = %v", err)
	}
	_, err = e.Eval(context.Background(), "1")
	if !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("expected not_initialized after Close, got %v", err)
	}
}
