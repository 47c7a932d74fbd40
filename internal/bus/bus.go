// Package bus provides an in-process publish/subscribe event bus with
// prefix-based topic filtering. Diagnostic collaborators observe the sync
// core through it instead of polling.
package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus fans events out to subscribers. Delivery is non-blocking: a
// subscriber whose buffer is full misses the event rather than stalling
// the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.prefix) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Emit is shorthand for publishing a kind and payload stamped with now.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, At: time.Now(), Payload: payload})
}

// Subscribe registers a buffered channel receiving events whose kind
// starts with prefix. The returned function unsubscribes; it must be
// called when the observer goes away so no events pile up.
func (b *Bus) Subscribe(prefix string, buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
