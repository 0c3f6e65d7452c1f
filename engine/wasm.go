package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.starlark.net/starlark"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
)

type wasmHost struct {
	runtime wazero.Runtime
}

func newWasmHost(ctx context.Context, cfg WasmConfig) (*wasmHost, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if cfg.WASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			_ = rt.Close(ctx)
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err, "instantiate WASI")
		}
	}
	return &wasmHost{runtime: rt}, nil
}

func (w *wasmHost) close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

// instantiate compiles and instantiates a core module and exposes each
// exported function as a guest callable.
func (w *wasmHost) instantiate(ctx context.Context, name string, bin []byte, witText string) (starlark.StringDict, error) {
	var sigs map[string]*witSignature
	if witText != "" {
		var err error
		if sigs, err = parseWit(witText); err != nil {
			return nil, err
		}
	}

	compiled, err := w.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Load("compile "+name+".wasm", err)
	}
	mod, err := w.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, errors.Load("instantiate "+name+".wasm", err)
	}

	members := make(starlark.StringDict)
	for export, def := range compiled.ExportedFunctions() {
		fn := &WasmFunc{
			name:    name + "." + export,
			fn:      mod.ExportedFunction(export),
			params:  def.ParamTypes(),
			results: def.ResultTypes(),
		}
		if sig, ok := sigs[export]; ok {
			if len(sig.params) != len(fn.params) || len(sig.results) != len(fn.results) {
				_ = mod.Close(ctx)
				return nil, errors.New(errors.PhaseLoad, errors.KindTypeMismatch).
					Path(name, export).
					Detail("WIT signature has %d params and %d results, core function has %d and %d",
						len(sig.params), len(sig.results), len(fn.params), len(fn.results)).
					Build()
			}
			fn.sig = sig
		}
		members[export] = fn
	}
	Logger().Debug("wasm module instantiated", zap.String("module", name), zap.Strings("exports", sortedKeys(members)))
	return members, nil
}

func sortedKeys(d starlark.StringDict) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WasmFunc is an exported wasm function callable from the guest. Arguments
// and results are core values, refined by a WIT signature when one was found.
type WasmFunc struct {
	fn      api.Function
	sig     *witSignature
	name    string
	params  []api.ValueType
	results []api.ValueType
}

var _ starlark.Callable = (*WasmFunc)(nil)

func (f *WasmFunc) Name() string          { return f.name }
func (f *WasmFunc) String() string        { return fmt.Sprintf("<wasm function %s>", f.name) }
func (f *WasmFunc) Type() string          { return "wasm_function" }
func (f *WasmFunc) Freeze()               {}
func (f *WasmFunc) Truth() starlark.Bool  { return starlark.True }
func (f *WasmFunc) Hash() (uint32, error) { return starlark.String(f.name).Hash() }

func (f *WasmFunc) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", f.name)
	}
	if len(args) != len(f.params) {
		return nil, fmt.Errorf("%s: got %d arguments, want %d", f.name, len(args), len(f.params))
	}

	stack := make([]uint64, len(args))
	for i, a := range args {
		v, err := encodeCore(a, f.params[i], f.kind(i, true))
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", f.name, i+1, err)
		}
		stack[i] = v
	}

	out, err := f.fn.Call(ContextOf(thread), stack...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}

	switch len(out) {
	case 0:
		return starlark.None, nil
	case 1:
		return decodeCore(out[0], f.results[0], f.kind(0, false)), nil
	}
	tuple := make(starlark.Tuple, len(out))
	for i, raw := range out {
		tuple[i] = decodeCore(raw, f.results[i], f.kind(i, false))
	}
	return tuple, nil
}

func (f *WasmFunc) kind(i int, param bool) witKind {
	if f.sig == nil {
		return witNone
	}
	if param {
		return f.sig.params[i]
	}
	return f.sig.results[i]
}

func encodeCore(v starlark.Value, vt api.ValueType, k witKind) (uint64, error) {
	switch vt {
	case api.ValueTypeI32, api.ValueTypeI64:
		if b, ok := v.(starlark.Bool); ok && k == witBool {
			if b {
				return 1, nil
			}
			return 0, nil
		}
		if s, ok := v.(starlark.String); ok && k == witChar {
			r := []rune(string(s))
			if len(r) != 1 {
				return 0, fmt.Errorf("char needs a single code point, got %q", s)
			}
			return uint64(r[0]), nil
		}
		i, ok := v.(starlark.Int)
		if !ok {
			return 0, fmt.Errorf("got %s, want int", v.Type())
		}
		return encodeInt(i, vt, k)
	case api.ValueTypeF32:
		f, ok := starlark.AsFloat(v)
		if !ok {
			return 0, fmt.Errorf("got %s, want float", v.Type())
		}
		return api.EncodeF32(float32(f)), nil
	case api.ValueTypeF64:
		f, ok := starlark.AsFloat(v)
		if !ok {
			return 0, fmt.Errorf("got %s, want float", v.Type())
		}
		return api.EncodeF64(f), nil
	}
	return 0, fmt.Errorf("unsupported core type %s", api.ValueTypeName(vt))
}

func encodeInt(i starlark.Int, vt api.ValueType, k witKind) (uint64, error) {
	if vt == api.ValueTypeI64 {
		if k == witU64 {
			u, ok := i.Uint64()
			if !ok {
				return 0, fmt.Errorf("%s out of range for u64", i)
			}
			return u, nil
		}
		n, ok := i.Int64()
		if !ok {
			return 0, fmt.Errorf("%s out of range for i64", i)
		}
		return api.EncodeI64(n), nil
	}

	lo, hi := int64(math.MinInt32), int64(math.MaxUint32)
	switch k {
	case witU32:
		lo = 0
	case witS32:
		hi = math.MaxInt32
	case witU8:
		lo, hi = 0, math.MaxUint8
	case witS8:
		lo, hi = math.MinInt8, math.MaxInt8
	case witU16:
		lo, hi = 0, math.MaxUint16
	case witS16:
		lo, hi = math.MinInt16, math.MaxInt16
	}
	n, ok := i.Int64()
	if !ok || n < lo || n > hi {
		return 0, fmt.Errorf("%s out of range for i32", i)
	}
	if n > math.MaxInt32 {
		return api.EncodeU32(uint32(n)), nil
	}
	return api.EncodeI32(int32(n)), nil
}

func decodeCore(raw uint64, vt api.ValueType, k witKind) starlark.Value {
	switch vt {
	case api.ValueTypeI32:
		switch k {
		case witBool:
			return starlark.Bool(uint32(raw) != 0)
		case witChar:
			return starlark.String(string(rune(uint32(raw))))
		case witU32:
			return starlark.MakeUint64(uint64(api.DecodeU32(raw)))
		case witU8:
			return starlark.MakeInt(int(uint8(raw)))
		case witS8:
			return starlark.MakeInt(int(int8(raw)))
		case witU16:
			return starlark.MakeInt(int(uint16(raw)))
		case witS16:
			return starlark.MakeInt(int(int16(raw)))
		}
		return starlark.MakeInt64(int64(api.DecodeI32(raw)))
	case api.ValueTypeI64:
		if k == witU64 {
			return starlark.MakeUint64(raw)
		}
		return starlark.MakeInt64(int64(raw))
	case api.ValueTypeF32:
		return starlark.Float(api.DecodeF32(raw))
	case api.ValueTypeF64:
		return starlark.Float(api.DecodeF64(raw))
	}
	return starlark.None
}
