package events

import (
	"sync"
	"testing"

	"pdarray-engine/internal/market"

	"github.com/rs/zerolog"
)

func TestPublishIsSynchronousAndOrdered(t *testing.T) {
	bus := NewEventBus(zerolog.Nop())

	var got []string
	bus.Subscribe(EventSwingPointDetected, func(e Event) { got = append(got, "first") })
	bus.SubscribeAll(func(e Event) { got = append(got, "all") })
	bus.Subscribe(EventSwingPointDetected, func(e Event) { got = append(got, "second") })
	bus.Subscribe(EventCisdConfirmed, func(e Event) { got = append(got, "cisd") })

	bus.Publish(Event{Type: EventSwingPointDetected})

	expected := []string{"first", "all", "second"}
	if len(got) != len(expected) {
		t.Fatalf("Expected %d deliveries, got %d (%v)", len(expected), len(got), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Delivery %d: expected %s, got %s", i, expected[i], got[i])
		}
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	bus := NewEventBus(zerolog.Nop())

	delivered := 0
	bus.SubscribeAll(func(e Event) { panic("boom") })
	bus.SubscribeAll(func(e Event) { delivered++ })

	bus.Publish(Event{Type: EventPdArraysRebuilt})

	if delivered != 1 {
		t.Errorf("Expected the healthy subscriber to receive the event, got %d deliveries", delivered)
	}
}

func TestNestedPublishFollowsItsCause(t *testing.T) {
	bus := NewEventBus(zerolog.Nop())

	var order []string
	bus.Subscribe(EventSwingPointDetected, func(e Event) {
		order = append(order, "engine:"+string(e.Type))
		bus.Publish(Event{Type: EventPdArrayDetected})
		bus.Publish(Event{Type: EventCisdConfirmed})
	})
	bus.Subscribe(EventPdArrayDetected, func(e Event) {
		order = append(order, "engine:"+string(e.Type))
		bus.Publish(Event{Type: EventUnicornDetected})
	})
	bus.SubscribeAll(func(e Event) { order = append(order, "sink:"+string(e.Type)) })

	bus.Publish(SwingPointDetected(&market.SwingPoint{Kind: market.KindLow}))
	order = append(order, "DONE")

	expected := []string{
		"engine:SWING_POINT_DETECTED",
		"sink:SWING_POINT_DETECTED",
		"engine:PD_ARRAY_DETECTED",
		"sink:PD_ARRAY_DETECTED",
		"sink:CISD_CONFIRMED",
		"sink:UNICORN_DETECTED",
		"DONE",
	}
	if len(order) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("Delivery %d: expected %s, got %s", i, expected[i], order[i])
		}
	}
}

func TestQueuedEventSurvivesPanickingHandler(t *testing.T) {
	bus := NewEventBus(zerolog.Nop())

	var got []EventType
	bus.Subscribe(EventSwingPointDetected, func(e Event) {
		bus.Publish(Event{Type: EventPdArrayDetected})
		panic("boom")
	})
	bus.SubscribeAll(func(e Event) { got = append(got, e.Type) })

	bus.Publish(Event{Type: EventSwingPointDetected})
	bus.Publish(Event{Type: EventPdArraysRebuilt})

	if len(got) != 3 || got[0] != EventSwingPointDetected || got[1] != EventPdArrayDetected || got[2] != EventPdArraysRebuilt {
		t.Errorf("Expected detection, queued level event, then rebuild, got %v", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus(zerolog.Nop())

	count := 0
	id := bus.SubscribeAll(func(e Event) { count++ })
	bus.Publish(Event{Type: EventCisdConfirmed})

	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe should find the subscription")
	}
	if bus.Unsubscribe(id) {
		t.Error("Second unsubscribe should report false")
	}
	bus.Publish(Event{Type: EventCisdConfirmed})

	if count != 1 {
		t.Errorf("Expected 1 delivery, got %d", count)
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("Expected no subscribers, got %d", bus.SubscriberCount())
	}
}

func TestConcurrentSubscribeUnsubscribe(t *testing.T) {
	bus := NewEventBus(zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := bus.SubscribeAll(func(e Event) {})
			bus.Publish(Event{Type: EventPdArraysRebuilt})
			bus.Unsubscribe(id)
		}()
	}
	wg.Wait()

	if bus.SubscriberCount() != 0 {
		t.Errorf("Expected all subscriptions removed, got %d", bus.SubscriberCount())
	}
}
