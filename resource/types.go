package resource

// ID identifies one entry of a Table.
// ID 0 is reserved and always invalid.
type ID uint32

// Event types for handle lifecycle notifications.
type EventType uint8

const (
	EventAcquired EventType = iota
	EventRetained
	EventReleased
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventAcquired:
		return "acquired"
	case EventRetained:
		return "retained"
	case EventReleased:
		return "released"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event represents a handle lifecycle event.
type Event struct {
	Value any
	ID    ID
	Refs  uint32
	Type  EventType
}

// Observer receives notifications about handle lifecycle events.
// Observers are called outside the table lock and may be called from
// the garbage collector's cleanup goroutine.
type Observer interface {
	OnResourceEvent(Event)
}

// Dropper is optionally implemented by entry values that need cleanup
// when the last owner releases them.
type Dropper interface {
	Drop()
}
