package guest

import (
	"fmt"

	"go.starlark.net/starlark"
)

// PullFunc produces the next element. ok=false ends the iteration.
type PullFunc func() (v starlark.Value, ok bool, err error)

// Generator is a guest iterable whose elements come from a host pull
// function. Every iterator shares the same pull function, so a generator
// is consumed once, like its guest-language counterpart.
type Generator struct {
	pull    PullFunc
	onError func(error)
	name    string
}

var _ starlark.Iterable = (*Generator)(nil)

// NewGenerator wraps pull. onError, if set, observes a pull failure that
// ends a guest-side loop.
func NewGenerator(name string, pull PullFunc, onError func(error)) *Generator {
	return &Generator{name: name, pull: pull, onError: onError}
}

func (g *Generator) String() string        { return fmt.Sprintf("<generator %s>", g.name) }
func (g *Generator) Type() string          { return "generator" }
func (g *Generator) Freeze()               {}
func (g *Generator) Truth() starlark.Bool  { return starlark.True }
func (g *Generator) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: generator") }

func (g *Generator) Iterate() starlark.Iterator {
	return &GeneratorIterator{g: g}
}

// GeneratorIterator pulls from its Generator until exhaustion or failure.
type GeneratorIterator struct {
	g    *Generator
	err  error
	done bool
}

func (it *GeneratorIterator) Next(p *starlark.Value) bool {
	if it.done {
		return false
	}
	v, ok, err := it.g.pull()
	if err != nil {
		it.done = true
		it.err = err
		if it.g.onError != nil {
			it.g.onError(err)
		}
		return false
	}
	if !ok {
		it.done = true
		return false
	}
	*p = v
	return true
}

func (it *GeneratorIterator) Done() {}

// Err returns the pull failure that ended the iteration, if any.
func (it *GeneratorIterator) Err() error { return it.err }
