package resource

import (
	"runtime"
	"sync/atomic"

	"github.com/wippyai/starbridge/errors"
)

// Handle is one host-side owner of a table entry.
//
// Release is idempotent. A Handle that becomes unreachable without being
// released is released by the garbage collector.
type Handle struct {
	table    *Table
	cleanup  runtime.Cleanup
	id       ID
	released atomic.Bool
}

type ownerRef struct {
	table *Table
	id    ID
}

func releaseOwner(r ownerRef) {
	r.table.unref(r.id)
}

func newHandle(t *Table, id ID) *Handle {
	h := &Handle{table: t, id: id}
	h.cleanup = runtime.AddCleanup(h, releaseOwner, ownerRef{table: t, id: id})
	return h
}

// ID returns the entry identity token.
func (h *Handle) ID() ID {
	return h.id
}

// IsLive reports whether the handle can still reach its guest value.
func (h *Handle) IsLive() bool {
	if h == nil || h.released.Load() {
		return false
	}
	_, ok := h.table.get(h.id)
	return ok
}

// Value returns the guest value, or a dead_reference error once the
// handle was released or the table closed.
func (h *Handle) Value() (any, error) {
	if h == nil {
		return nil, errors.DeadReference(errors.PhaseHandle, 0)
	}
	if h.released.Load() {
		return nil, errors.DeadReference(errors.PhaseHandle, uint32(h.id))
	}
	v, ok := h.table.get(h.id)
	if !ok {
		return nil, errors.DeadReference(errors.PhaseHandle, uint32(h.id))
	}
	return v, nil
}

// Clone returns an additional owner of the same guest reference.
func (h *Handle) Clone() (*Handle, error) {
	if h == nil || h.released.Load() {
		return nil, errors.DeadReference(errors.PhaseHandle, uint32(h.idOrZero()))
	}
	if err := h.table.retain(h.id); err != nil {
		return nil, err
	}
	return newHandle(h.table, h.id), nil
}

// Release gives up this owner. It returns false when the handle had
// already been released.
func (h *Handle) Release() bool {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return false
	}
	h.cleanup.Stop()
	h.table.unref(h.id)
	return true
}

func (h *Handle) idOrZero() ID {
	if h == nil {
		return 0
	}
	return h.id
}
