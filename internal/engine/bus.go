package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an ephemeral notification: constructed, delivered synchronously
// to the subscribers of its type, then discarded. Events are never stored.
type Event struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler receives events for a subscribed type
type EventHandler func(Event)

// subscription is one handler registration. Subscribing the same handler
// twice produces two independent subscriptions, each with its own
// unsubscribe closure.
type subscription struct {
	fn      EventHandler
	removed atomic.Bool
}

// Bus is a typed publish/subscribe hub with synchronous, ordered delivery.
//
// Delivery contract:
//   - handlers run in subscription order
//   - the subscriber set is captured at the moment of emission, so
//     handlers added during delivery do not see that same emission
//   - handlers removed during delivery are skipped if not yet reached
//   - a panicking handler is recorded as EVENT_HANDLER_ERROR and never
//     blocks delivery to the remaining handlers
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscription
	errs *ErrorDomain
}

// NewBus creates a bus routing handler failures to errs
func NewBus(errs *ErrorDomain) *Bus {
	return &Bus{
		subs: make(map[string][]*subscription),
		errs: errs,
	}
}

// On registers handler for eventType and returns an unsubscribe closure
// that removes exactly this registration. Unsubscribing twice is a no-op.
func (b *Bus) On(eventType string, handler EventHandler) func() {
	sub := &subscription{fn: handler}

	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], sub)
	b.mu.Unlock()

	return func() {
		if !sub.removed.CompareAndSwap(false, true) {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[eventType]
		for i, s := range list {
			if s == sub {
				b.subs[eventType] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// SubscriberCount returns the current number of subscriptions for a type
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[eventType])
}

// Emit delivers payload to every handler currently subscribed to
// eventType, synchronously and in subscription order.
func (b *Bus) Emit(eventType string, payload any) {
	event := Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	// Capture the subscriber set at emission time. Handlers registered
	// during delivery land on a fresh backing array via append and are
	// not visible through this slice.
	b.mu.Lock()
	current := b.subs[eventType]
	snapshot := make([]*subscription, len(current))
	copy(snapshot, current)
	b.mu.Unlock()

	for _, sub := range snapshot {
		if sub.removed.Load() {
			continue
		}
		b.deliver(sub, event)
	}
}

// deliver invokes one handler behind a recover barrier. One failing
// subscriber must never corrupt delivery to the others.
func (b *Bus) deliver(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errs.New(CodeEventHandlerError, "event handler panicked", map[string]any{
				"eventType": event.Type,
				"panic":     describePanic(r),
			})
		}
	}()
	sub.fn(event)
}
