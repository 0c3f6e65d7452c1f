package guest

import (
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Predeclared returns the builtins every guest module sees in addition to
// the Starlark universe.
func Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"namespace": starlark.NewBuiltin("namespace", makeNamespace),
		"struct":    starlark.NewBuiltin("struct", starlarkstruct.Make),
		"array":     starlark.NewBuiltin("array", makeArray),
		"is_array":  starlark.NewBuiltin("is_array", isArray),
	}
}
