package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestBusDeliveryOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	bus.Publish(Event{Type: EventTypeJobProgress, Data: map[string]any{"n": 1}})
	bus.Publish(Event{Type: EventTypeJobProgress, Data: map[string]any{"n": 2}})
	bus.Publish(Event{Type: EventTypeJobProgress, Data: map[string]any{"n": 3}})

	got := drain(sub.C)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, i+1, e.Data["n"], "events must arrive in publish order")
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()
	defer a.Unsubscribe()
	defer b.Unsubscribe()

	bus.Publish(Event{Type: EventTypeStatusChanged})

	assert.Len(t, drain(a.C), 1)
	assert.Len(t, drain(b.C), 1)
}

func TestBusOverflowDropsSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.SubscribeBuffer(2)

	// Fill the buffer, then overflow it.
	bus.Publish(Event{Type: EventTypeJobProgress, Data: map[string]any{"n": 1}})
	bus.Publish(Event{Type: EventTypeJobProgress, Data: map[string]any{"n": 2}})
	bus.Publish(Event{Type: EventTypeJobProgress, Data: map[string]any{"n": 3}})

	assert.Equal(t, 0, bus.SubscriberCount(), "overflowed subscriber must be removed")

	var got []Event
	for e := range sub.C {
		got = append(got, e)
	}
	// Buffered events survive; the overflow notice is the last event before
	// the channel closes.
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Data["n"])
	assert.Equal(t, 2, got[1].Data["n"])
	assert.Equal(t, EventTypeOverflow, got[2].Type)
}

func TestBusOverflowOnlyAffectsSlowSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	slow := bus.SubscribeBuffer(1)
	fast := bus.SubscribeBuffer(16)
	defer fast.Unsubscribe()

	bus.Publish(Event{Type: EventTypeJobProgress})
	bus.Publish(Event{Type: EventTypeJobProgress})

	assert.Equal(t, 1, bus.SubscriberCount())

	var slowGot []Event
	for e := range slow.C {
		slowGot = append(slowGot, e)
	}
	require.Len(t, slowGot, 2)
	assert.Equal(t, EventTypeOverflow, slowGot[1].Type)

	assert.Len(t, drain(fast.C), 2, "healthy subscriber keeps receiving")
}

func TestBusUnsubscribeIdempotent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Unsubscribe()
	assert.NotPanics(t, func() { sub.Unsubscribe() })
	assert.Equal(t, 0, bus.SubscriberCount())

	// Publishing after unsubscribe must not panic or block.
	bus.Publish(Event{Type: EventTypeJobProgress})
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_ = bus.SubscribeBuffer(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: EventTypeJobProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()

	bus.Close()

	_, ok := <-sub.C
	assert.False(t, ok, "subscriber channel must be closed")
	assert.Equal(t, 0, bus.SubscriberCount())
}
