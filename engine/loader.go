package engine

import (
	"context"
	stderrors "errors"
	"io/fs"
	"strings"

	"go.starlark.net/starlark"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/guest"
)

type loadEntry struct {
	module  *guest.Module
	loading bool
}

// Import loads a module by name and returns it. Repeated imports return
// the same Module.
func (e *Engine) Import(ctx context.Context, name string) (*guest.Module, error) {
	var out *guest.Module
	err := e.Do(ctx, func(_ context.Context, thread *starlark.Thread) error {
		m, err := e.module(thread, name)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// load implements starlark.Thread.Load.
func (e *Engine) load(thread *starlark.Thread, name string) (starlark.StringDict, error) {
	m, err := e.module(thread, name)
	if err != nil {
		return nil, err
	}
	return m.Members(), nil
}

func (e *Engine) module(thread *starlark.Thread, name string) (*guest.Module, error) {
	key := strings.TrimSuffix(name, ".star")
	if key == "" || !fs.ValidPath(key) {
		return nil, errors.InvalidInput(errors.PhaseLoad, "invalid module name "+name)
	}

	if entry, ok := e.cache[key]; ok {
		if entry.loading {
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
				Detail("cycle in load graph at %q", key).
				Build()
		}
		return entry.module, nil
	}

	entry := &loadEntry{loading: true}
	e.cache[key] = entry
	members, err := e.resolve(thread, key)
	if err != nil {
		delete(e.cache, key)
		return nil, err
	}
	entry.module = guest.NewModule(key, members)
	entry.loading = false
	e.log.Debug("module loaded", zap.String("module", key), zap.Int("members", len(members)))
	return entry.module, nil
}

// resolve searches host modules, then <key>.star, then <key>.wasm.
func (e *Engine) resolve(thread *starlark.Thread, key string) (starlark.StringDict, error) {
	if e.cfg.Hosts != nil {
		if host, ok := e.cfg.Hosts.HostModule(key); ok {
			host.Freeze()
			return host, nil
		}
	}

	for _, fsys := range e.cfg.Paths {
		src, err := fs.ReadFile(fsys, key+".star")
		if stderrors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, errors.Load("read "+key+".star", err)
		}
		child := e.newThread(ContextOf(thread))
		globals, err := starlark.ExecFile(child, key+".star", src, e.env(nil))
		if err != nil {
			return nil, errors.FromGuest(errors.PhaseLoad, err)
		}
		return globals, nil
	}

	if e.wasm != nil {
		for _, fsys := range e.cfg.Paths {
			bin, err := fs.ReadFile(fsys, key+".wasm")
			if stderrors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, errors.Load("read "+key+".wasm", err)
			}
			var witText string
			if b, err := fs.ReadFile(fsys, key+".wit"); err == nil {
				witText = string(b)
			}
			return e.wasm.instantiate(ContextOf(thread), key, bin, witText)
		}
	}

	return nil, errors.NotFound(errors.PhaseLoad, "module", key)
}
