package resource

import (
	"sync"

	"github.com/wippyai/starbridge/errors"
)

// Table is an arena of reference-counted guest references.
// Each entry keeps its value reachable until the last owning Handle
// is released.
type Table struct {
	entries   []entry
	freeList  []ID
	observers []Observer
	mu        sync.Mutex
	obsMu     sync.RWMutex
	closed    bool
}

type entry struct {
	value any
	refs  uint32
	valid bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries:  make([]entry, 0, 64),
		freeList: make([]ID, 0, 16),
	}
}

// Acquire stores value and returns the first owning Handle for it.
func (t *Table) Acquire(value any) (*Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.NotInitialized(errors.PhaseHandle, "handle table")
	}

	e := entry{value: value, refs: 1, valid: true}

	var id ID
	if n := len(t.freeList); n > 0 {
		id = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[id-1] = e
	} else {
		t.entries = append(t.entries, e)
		id = ID(len(t.entries))
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventAcquired, ID: id, Refs: 1, Value: value})
	return newHandle(t, id), nil
}

// retain adds an owner to a live entry.
func (t *Table) retain(id ID) error {
	t.mu.Lock()
	e, ok := t.lookup(id)
	if !ok {
		t.mu.Unlock()
		return errors.DeadReference(errors.PhaseHandle, uint32(id))
	}
	e.refs++
	refs, value := e.refs, e.value
	t.mu.Unlock()

	t.notify(Event{Type: EventRetained, ID: id, Refs: refs, Value: value})
	return nil
}

// unref removes an owner and drops the entry when no owners remain.
func (t *Table) unref(id ID) {
	t.mu.Lock()
	e, ok := t.lookup(id)
	if !ok {
		t.mu.Unlock()
		return
	}

	e.refs--
	refs, value := e.refs, e.value
	dropped := refs == 0
	if dropped {
		e.valid = false
		e.value = nil
		t.freeList = append(t.freeList, id)
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventReleased, ID: id, Refs: refs, Value: value})
	if !dropped {
		return
	}
	if d, ok := value.(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{Type: EventDropped, ID: id, Value: value})
}

// get returns the value of a live entry.
func (t *Table) get(id ID) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lookup(id)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// lookup must be called with t.mu held.
func (t *Table) lookup(id ID) (*entry, bool) {
	if t.closed || id == 0 || int(id) > len(t.entries) {
		return nil, false
	}
	e := &t.entries[id-1]
	if !e.valid {
		return nil, false
	}
	return e, true
}

// Refs returns the number of owners of a live entry.
func (t *Table) Refs(id ID) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.lookup(id)
	if !ok {
		return 0, false
	}
	return e.refs, true
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for _, e := range t.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Closed reports whether Close has been called.
func (t *Table) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close drops every live entry and invalidates all handles.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	type dropped struct {
		value any
		id    ID
	}
	var drops []dropped
	for i := range t.entries {
		if t.entries[i].valid {
			drops = append(drops, dropped{id: ID(i + 1), value: t.entries[i].value})
			t.entries[i].valid = false
			t.entries[i].value = nil
		}
	}
	t.entries = nil
	t.freeList = nil
	t.mu.Unlock()

	for _, d := range drops {
		if dr, ok := d.value.(Dropper); ok {
			dr.Drop()
		}
		t.notify(Event{Type: EventDropped, ID: d.id, Value: d.value})
	}
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
