package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/wippyai/starbridge/runtime"
	"github.com/wippyai/starbridge/transcoder"
)

// parseArg converts a command-line argument to a host value:
//
//	42L            int (big.Int when it does not fit)
//	42, 4.2, 1e3   float64
//	true, false    bool
//	null, None     nil
//	[...], {...}   JSON arrays and objects
//	anything else  string
func parseArg(s string) any {
	switch s {
	case "true", "True":
		return true
	case "false", "False":
		return false
	case "null", "None":
		return nil
	}

	if strings.HasSuffix(s, "L") {
		digits := strings.TrimSuffix(s, "L")
		if n, err := strconv.Atoi(digits); err == nil {
			return n
		}
		if n, ok := new(big.Int).SetString(digits, 10); ok {
			return n
		}
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}

	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		if err := dec.Decode(&v); err == nil {
			return fromJSON(v)
		}
	}
	return s
}

// fromJSON keeps JSON integers as ints and other numbers as floats.
func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n)
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = fromJSON(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = fromJSON(x[k])
		}
		return x
	}
	return v
}

func parseArgs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = parseArg(a)
	}
	return out
}

// formatValue renders a result for the terminal. Structured values are
// printed as JSON; proxies use the guest representation.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case *runtime.Proxy:
		return x.String()
	}
	b, err := json.Marshal(transcoder.Plain(v))
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
