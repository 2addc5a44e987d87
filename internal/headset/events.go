package headset

import (
	"sync"

	"github.com/cskr/pubsub/v2"
)

// EventKind is the topic an Event is published on.
type EventKind string

const (
	EventState         EventKind = "state"
	EventData          EventKind = "data"
	EventWrite         EventKind = "write"
	EventChannelOpened EventKind = "channel-opened"
)

var allEventKinds = []EventKind{EventState, EventData, EventWrite, EventChannelOpened}

// Event is something that happened on a channel.
//
// For EventState, State holds the new state and Err the close reason, if any.
// For EventData, Data holds the raw received bytes. For EventWrite, Data
// holds the frame that was written and Err the write error.
type Event struct {
	Kind    EventKind
	Address string
	Channel ChannelID
	State   State
	Data    []byte
	Err     error
}

// EventBus fans channel events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event. After Close, Publish
// and unsubscribing are no-ops.
type EventBus struct {
	ps *pubsub.PubSub[EventKind, Event]

	// mu keeps Shutdown from running while a publish is in flight.
	mu     sync.RWMutex
	closed bool
}

// NewEventBus returns a bus whose subscriptions buffer up to capacity events.
func NewEventBus(capacity int) *EventBus {
	return &EventBus{ps: pubsub.New[EventKind, Event](capacity)}
}

// Publish publishes e on its kind's topic.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.ps.TryPub(e, e.Kind)
}

// Subscribe returns a channel of events of the given kinds, or of every kind
// when none are given, and a func that ends the subscription.
func (b *EventBus) Subscribe(kinds ...EventKind) (<-chan Event, func()) {
	if len(kinds) == 0 {
		kinds = allEventKinds
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := b.ps.Sub(kinds...)
	return ch, func() {
		go b.unsub(ch, kinds)
	}
}

func (b *EventBus) unsub(ch chan Event, kinds []EventKind) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.closed {
		b.ps.Unsub(ch, kinds...)
	}
}

// Close closes every subscription channel. It is safe to call more than once.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}
