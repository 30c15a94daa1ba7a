package events

import "nhbmarket/core/types"

// Event represents a structured state change emitted by the node.
type Event interface {
	EventType() string
}

// Payload is an Event that can render itself as a typed log record.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects emitted payloads until the surrounding state transition
// either commits (Drain) or is abandoned (Reset).
type Buffer struct {
	events []*types.Event
}

// Emit implements the Emitter interface. Events that cannot render a record
// are ignored.
func (b *Buffer) Emit(evt Event) {
	payload, ok := evt.(Payload)
	if !ok {
		return
	}
	if rendered := payload.Event(); rendered != nil {
		b.events = append(b.events, rendered)
	}
}

// Drain returns the buffered events and empties the buffer.
func (b *Buffer) Drain() []*types.Event {
	out := b.events
	b.events = nil
	return out
}

// Reset discards the buffered events.
func (b *Buffer) Reset() { b.events = nil }

// Len reports the number of buffered events.
func (b *Buffer) Len() int { return len(b.events) }
