// Package bus is the typed in-process event bridge between the poller, the
// alert engine, and the WebSocket hub. Delivery is at-least-once per
// subscriber with no ordering or deduplication guarantee across publishers;
// a subscriber that cannot keep up loses events rather than blocking the
// publisher.
package bus

import (
	"log/slog"
	"sync"
)

// Kind identifies the event type carried on the bus.
type Kind string

const (
	KindMetrics    Kind = "metrics:update"
	KindQueue      Kind = "queue:update"
	KindMessage    Kind = "message:status"
	KindConnection Kind = "connection:status"
	KindAlert      Kind = "alert:new"
)

// Event is one bus message. Data is the event-kind-specific payload
// (kumo.MetricsUpdate for KindMetrics, kumo.QueueUpdate for KindQueue, ...).
type Event struct {
	Kind Kind
	Data any
}

// ConnectionStatus is the payload for KindConnection events.
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	Detail    string `json:"detail,omitempty"`
}

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	kinds map[Kind]struct{} // empty means all kinds
	ch    chan Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a subscriber for the given kinds (all kinds when none
// are named) and returns its receive channel plus an unsubscribe func.
// The channel is closed on unsubscribe. buf is the channel depth; when it is
// full, Publish drops events for this subscriber.
func (b *Bus) Subscribe(buf int, kinds ...Kind) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 1
	}
	sub := &subscriber{
		kinds: make(map[Kind]struct{}, len(kinds)),
		ch:    make(chan Event, buf),
	}
	for _, k := range kinds {
		sub.kinds[k] = struct{}{}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	once := sync.Once{}
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to every matching subscriber without blocking.
// Subscribers with a full buffer miss this event.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if len(sub.kinds) > 0 {
			if _, ok := sub.kinds[ev.Kind]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
			slog.Debug("bus: subscriber buffer full, event dropped", "kind", ev.Kind)
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
