package engine

import (
	"regexp"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/starbridge/errors"
)

// witKind is the primitive WIT type refining a core wasm value.
type witKind uint8

const (
	witNone witKind = iota
	witBool
	witS8
	witU8
	witS16
	witU16
	witS32
	witU32
	witS64
	witU64
	witF32
	witF64
	witChar
)

var witKindNames = [...]string{"", "bool", "s8", "u8", "s16", "u16", "s32", "u32", "s64", "u64", "f32", "f64", "char"}

func (k witKind) String() string { return witKindNames[k] }

type witSignature struct {
	params  []witKind
	results []witKind
}

var witFuncPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

// parseWit extracts primitive function signatures from WIT text of the form
// [export] name: func(a: t, ...) -> t;
func parseWit(text string) (map[string]*witSignature, error) {
	sigs := make(map[string]*witSignature)
	for _, m := range witFuncPattern.FindAllStringSubmatch(text, -1) {
		name := m[1]
		sig := &witSignature{}

		for _, p := range splitWitList(m[2]) {
			typ := p
			if i := strings.LastIndex(p, ":"); i != -1 {
				typ = p[i+1:]
			}
			k, err := parseWitKind(typ)
			if err != nil {
				return nil, errors.Load("param of "+name, err)
			}
			sig.params = append(sig.params, k)
		}

		res := strings.TrimSpace(m[3])
		if strings.HasPrefix(res, "(") && strings.HasSuffix(res, ")") {
			res = res[1 : len(res)-1]
		}
		for _, r := range splitWitList(res) {
			k, err := parseWitKind(r)
			if err != nil {
				return nil, errors.Load("result of "+name, err)
			}
			sig.results = append(sig.results, k)
		}
		sigs[name] = sig
	}
	if len(sigs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "no functions found in WIT text")
	}
	return sigs, nil
}

func splitWitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseWitKind(s string) (witKind, error) {
	t, err := wit.ParseType(strings.TrimSpace(s))
	if err != nil {
		return witNone, err
	}
	switch t.(type) {
	case wit.Bool:
		return witBool, nil
	case wit.S8:
		return witS8, nil
	case wit.U8:
		return witU8, nil
	case wit.S16:
		return witS16, nil
	case wit.U16:
		return witU16, nil
	case wit.S32:
		return witS32, nil
	case wit.U32:
		return witU32, nil
	case wit.S64:
		return witS64, nil
	case wit.U64:
		return witU64, nil
	case wit.F32:
		return witF32, nil
	case wit.F64:
		return witF64, nil
	case wit.Char:
		return witChar, nil
	}
	return witNone, errors.New(errors.PhaseLoad, errors.KindUnsupported).
		Detail("WIT type %s needs the canonical ABI; only primitive types are supported", s).
		Build()
}
