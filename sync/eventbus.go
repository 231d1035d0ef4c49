package sync

import (
	gosync "sync"
)

// StatusEvent is a binding state change or job outcome broadcast to SSE clients.
type StatusEvent struct {
	Type    string       `json:"type"` // "state" | "job"
	Binding string       `json:"binding"`
	State   BindingState `json:"state,omitempty"`
	JobID   string       `json:"jobId,omitempty"`
	Event   JobEvent     `json:"event,omitempty"`
	Target  string       `json:"target,omitempty"`
	Outcome OutcomeKind  `json:"outcome,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// EventBus broadcasts StatusEvents to all connected SSE clients.
type EventBus struct {
	mu      gosync.RWMutex
	clients map[chan StatusEvent]struct{}
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		clients: make(map[chan StatusEvent]struct{}),
	}
}

// Subscribe registers a new client and returns its event channel.
func (b *EventBus) Subscribe() chan StatusEvent {
	ch := make(chan StatusEvent, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *EventBus) Unsubscribe(ch chan StatusEvent) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish sends an event to all connected clients.
// Slow clients are skipped (non-blocking send). A nil bus is a no-op.
func (b *EventBus) Publish(event StatusEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			// slow client, drop event
		}
	}
}
