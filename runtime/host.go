package runtime

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/transcoder"
)

// Host is the interface for struct-based host modules.
// All exported methods (except Namespace) become module members.
type Host interface {
	// Namespace returns the module name guest code loads (e.g. "http").
	Namespace() string
}

// ExplicitRegistrar lets a Host list its members by guest name instead of
// the automatic CamelCase to snake_case mapping.
type ExplicitRegistrar interface {
	Register() map[string]any
}

// HostRegistry holds host modules. Members are marshaled at registration,
// so an unsupported func signature fails early.
type HostRegistry struct {
	enc     *transcoder.Encoder
	modules map[string]starlark.StringDict
	mu      sync.RWMutex
}

func NewHostRegistry(enc *transcoder.Encoder) *HostRegistry {
	return &HostRegistry{
		enc:     enc,
		modules: make(map[string]starlark.StringDict),
	}
}

func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	if er, ok := h.(ExplicitRegistrar); ok {
		return r.RegisterModule(ns, er.Register())
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()
	members := make(map[string]any, rt.NumMethod())
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}
		members[toSnakeCase(method.Name)] = rv.Method(i).Interface()
	}
	return r.RegisterModule(ns, members)
}

// RegisterModule adds members to the module namespace. Funcs become host
// functions named after their key; other values are marshaled.
func (r *HostRegistry) RegisterModule(namespace string, members map[string]any) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	encoded := make(starlark.StringDict, len(members))
	for name, v := range members {
		if name == "" {
			return errors.InvalidInput(errors.PhaseHost, "member name cannot be empty")
		}
		var (
			gv  starlark.Value
			err error
		)
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Func {
			gv, err = r.enc.NewHostFunc(namespace+"."+name, v)
		} else {
			gv, err = r.enc.Encode(v)
		}
		if err != nil {
			return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Path(namespace, name).
				Cause(err).
				Detail("register member").
				Build()
		}
		encoded[name] = gv
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.modules[namespace]
	if m == nil {
		m = make(starlark.StringDict, len(encoded))
		r.modules[namespace] = m
	}
	for k, v := range encoded {
		m[k] = v
	}
	return nil
}

func (r *HostRegistry) RegisterFunc(namespace, name string, fn any) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			GoType(fmt.Sprintf("%T", fn)).
			Detail("handler must be a function").
			Build()
	}
	return r.RegisterModule(namespace, map[string]any{name: fn})
}

// HostModule implements engine.ModuleSource.
func (r *HostRegistry) HostModule(name string) (starlark.StringDict, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	if !ok {
		return nil, false
	}
	out := make(starlark.StringDict, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, true
}

// Namespaces returns the registered module names, sorted.
func (r *HostRegistry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// toSnakeCase converts CamelCase to snake_case (GetHTTPStatus -> get_http_status).
func toSnakeCase(s string) string {
	var result strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					result.WriteRune('_')
				}
			}
			result.WriteRune(unicode.ToLower(r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
