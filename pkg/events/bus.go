package events

import (
	"log/slog"
	"sync"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 64

// Bus is an in-process publish/subscribe fanout with a single flat topic.
//
// Publish never blocks: each subscriber owns a bounded channel, and a
// subscriber whose buffer is full is dropped after an overflow notice is
// delivered as its last event. Delivery is FIFO per subscriber; no order is
// promised across subscribers.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
	closed bool
}

type subscriber struct {
	id int
	ch chan Event
	// capacity is the usable buffer; the channel is allocated one slot
	// larger so the overflow notice always has room.
	capacity int
}

// Subscription is a live bus subscription. Events arrive on C; Unsubscribe
// releases it and is idempotent.
type Subscription struct {
	C   <-chan Event
	bus *Bus
	id  int
}

// Unsubscribe removes the subscription from the bus. Safe to call more than
// once and after an overflow drop.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id, false)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a new subscriber with the default buffer size.
func (b *Bus) Subscribe() *Subscription {
	return b.SubscribeBuffer(DefaultSubscriberBuffer)
}

// SubscribeBuffer registers a new subscriber with an explicit buffer size.
func (b *Bus) SubscribeBuffer(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{
		id:       b.nextID,
		ch:       make(chan Event, buffer+1),
		capacity: buffer,
	}
	if b.closed {
		close(sub.ch)
	} else {
		b.subs[sub.id] = sub
	}
	return &Subscription{C: sub.ch, bus: b, id: sub.id}
}

// Publish delivers the event to every live subscriber whose buffer has room.
// Subscribers with full buffers receive an overflow notice and are dropped.
// Never blocks and never fails.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	var overflowed []int
	for id, sub := range b.subs {
		if len(sub.ch) >= sub.capacity {
			overflowed = append(overflowed, id)
			continue
		}
		sub.ch <- event
	}
	b.mu.Unlock()

	for _, id := range overflowed {
		b.remove(id, true)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops all subscribers and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// remove detaches a subscriber. When notify is set, the overflow notice is
// written into the reserved channel slot before closing.
func (b *Bus) remove(id int, notify bool) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	if notify {
		slog.Warn("Dropping slow event subscriber", "subscriber_id", id)
		sub.ch <- Event{Type: EventTypeOverflow}
	}
	close(sub.ch)
}
