package events

import (
	"log"
	"sync"
)

// Handler receives a published event. Handlers must not block for long on
// the synchronous publish path.
type Handler func(Event)

type subscription struct {
	id      int64
	handler Handler
}

// Bus dispatches events to wildcard handlers first, then type handlers, then
// device-filtered handlers, each group in subscription order. A panicking
// handler is recovered and logged so one bad subscriber cannot take down the
// others. Publish is re-entrant: handlers may publish further events.
type Bus struct {
	mu       sync.RWMutex
	nextID   int64
	wildcard []subscription
	typed    map[Type][]subscription
	device   map[string]map[Type][]subscription

	asyncCh   chan Event
	closeOnce sync.Once
	done      chan struct{}
}

// NewBus creates a bus and starts its async dispatch goroutine.
func NewBus() *Bus {
	b := &Bus{
		typed:   make(map[Type][]subscription),
		device:  make(map[string]map[Type][]subscription),
		asyncCh: make(chan Event, 256),
		done:    make(chan struct{}),
	}
	go b.asyncLoop()
	return b
}

// Subscribe registers a handler for one event type. The returned id cancels
// the subscription via Unsubscribe.
func (b *Bus) Subscribe(t Type, h Handler) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.typed[t] = append(b.typed[t], subscription{b.nextID, h})
	return b.nextID
}

// SubscribeDevice registers a handler for one event type scoped to a device.
func (b *Bus) SubscribeDevice(deviceID string, t Type, h Handler) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.device[deviceID] == nil {
		b.device[deviceID] = make(map[Type][]subscription)
	}
	b.device[deviceID][t] = append(b.device[deviceID][t], subscription{b.nextID, h})
	return b.nextID
}

// SubscribeAll registers a wildcard handler that sees every event.
func (b *Bus) SubscribeAll(h Handler) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.wildcard = append(b.wildcard, subscription{b.nextID, h})
	return b.nextID
}

// Unsubscribe removes a subscription by id. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = removeSub(b.wildcard, id)
	for t, subs := range b.typed {
		b.typed[t] = removeSub(subs, id)
	}
	for _, byType := range b.device {
		for t, subs := range byType {
			byType[t] = removeSub(subs, id)
		}
	}
}

// UnsubscribeDevice drops every device-scoped handler for deviceID.
func (b *Bus) UnsubscribeDevice(deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.device, deviceID)
}

// Publish dispatches synchronously on the caller's goroutine.
func (b *Bus) Publish(e Event) {
	for _, sub := range b.collect(e) {
		b.call(sub, e)
	}
}

// PublishAsync queues the event for the dispatch goroutine. Queued events
// keep their publish order. When the queue is full the event is dispatched
// synchronously instead of being dropped.
func (b *Bus) PublishAsync(e Event) {
	select {
	case b.asyncCh <- e:
	case <-b.done:
	default:
		log.Printf("BUS: async queue full, dispatching %s inline", e.Type)
		b.Publish(e)
	}
}

// Close stops the async dispatcher. Pending queued events are dropped.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Bus) asyncLoop() {
	for {
		select {
		case e := <-b.asyncCh:
			b.Publish(e)
		case <-b.done:
			return
		}
	}
}

// collect snapshots the matching handlers under the read lock so dispatch
// itself runs unlocked and handlers can subscribe or publish re-entrantly.
func (b *Bus) collect(e Event) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]subscription, 0, len(b.wildcard)+len(b.typed[e.Type])+4)
	out = append(out, b.wildcard...)
	out = append(out, b.typed[e.Type]...)
	if e.DeviceID != "" {
		if byType := b.device[e.DeviceID]; byType != nil {
			out = append(out, byType[e.Type]...)
		}
	}
	return out
}

func (b *Bus) call(sub subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("BUS: handler panic on %s: %v", e.Type, r)
		}
	}()
	sub.handler(e)
}

func removeSub(subs []subscription, id int64) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}
