// Package resource manages ownership of guest objects referenced from host code.
//
// A Table is an arena of entries keyed by ID. Each entry holds one guest
// value and a count of host-side owners. Owners are Handles:
//
//	table := resource.NewTable()
//
//	// One acquisition event, one Handle
//	h, err := table.Acquire(guestValue)
//
//	// A second owner of the same guest reference
//	h2, err := h.Clone()
//
//	h.Release()  // entry still alive, h2 owns it
//	h.Release()  // no-op
//	h2.Release() // last owner gone, entry dropped exactly once
//
// # Dead References
//
// Every operation through a released Handle, or through any Handle after
// Table.Close, fails with a dead_reference error instead of reaching the
// guest value.
//
// # Garbage Collection
//
// A Handle that becomes unreachable without an explicit Release gives up
// its ownership through runtime.AddCleanup. Explicit Release cancels the
// cleanup, so there is only ever one release path per Handle.
//
// # Observers
//
// Observers receive Acquired, Retained, Released and Dropped events.
// Values implementing Dropper are notified once when their entry is dropped.
package resource
