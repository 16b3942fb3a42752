package events

import "sync"

// Subscriber receives every event published through a Hub. Delivery is
// at-least-once from the consumer's point of view: a subscriber that is
// registered twice will see duplicates, so consumers must apply events
// idempotently.
type Subscriber interface {
	HandleEvent(Event)
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(Event)

// HandleEvent implements the Subscriber interface.
func (f SubscriberFunc) HandleEvent(evt Event) { f(evt) }

// Hub fans events out to registered subscribers synchronously, in registration
// order. It satisfies Emitter so an engine can be wired to it directly.
type Hub struct {
	mu   sync.RWMutex
	subs []Subscriber
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers a subscriber for all future events.
func (h *Hub) Subscribe(sub Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
}

// Emit implements the Emitter interface.
func (h *Hub) Emit(evt Event) {
	if evt == nil {
		return
	}
	h.mu.RLock()
	subs := append([]Subscriber(nil), h.subs...)
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.HandleEvent(evt)
	}
}

// Recorder accumulates emitted events for inspection in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if evt == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a snapshot of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
