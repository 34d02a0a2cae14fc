package ecs

// EventKind classifies one tick-scoped world event.
type EventKind int

const (
	EventPlayerSpawned EventKind = iota
	EventPlayerDespawned
	EventPlayerMoved
	EventChunkGenerated
)

// Event is one entry in the tick-scoped event queue broadcast systems drain
// in post order . DespawnMeta carries a snapshot of the entity's PlayerMeta for
// EventPlayerDespawned, since by the time the broadcast system drains the
// queue the entity's components have already been removed from the World.
type Event struct {
	Kind        EventKind
	Entity      EntityID
	DespawnMeta *PlayerMeta
}

// EventQueue is a simple FIFO, reset at the start of every tick. It is not
// safe for concurrent use; only the tick thread touches it.
type EventQueue struct {
	events []Event
}

// NewEventQueue returns an empty queue.
func NewEventQueue() *EventQueue { return &EventQueue{} }

// Post appends an event, preserving posting order.
func (q *EventQueue) Post(e Event) { q.events = append(q.events, e) }

// Drain returns every queued event in post order and clears the queue.
func (q *EventQueue) Drain() []Event {
	out := q.events
	q.events = nil
	return out
}
