package events

import (
	"fmt"
	"sync"
	"time"

	"pdarray-engine/internal/market"

	"github.com/rs/zerolog"
)

// EventType represents the closed set of events the engines publish
type EventType string

const (
	EventSwingPointDetected       EventType = "SWING_POINT_DETECTED"
	EventSwingPointRemoved        EventType = "SWING_POINT_REMOVED"
	EventOrderBlockDetected       EventType = "ORDER_BLOCK_DETECTED"
	EventCisdConfirmed            EventType = "CISD_CONFIRMED"
	EventOrderBlockLiquiditySwept EventType = "ORDER_BLOCK_LIQUIDITY_SWEPT"
	EventCisdLiquiditySwept       EventType = "CISD_LIQUIDITY_SWEPT"
	EventPdArrayDetected          EventType = "PD_ARRAY_DETECTED"
	EventPdArrayRemoved           EventType = "PD_ARRAY_REMOVED"
	EventUnicornDetected          EventType = "UNICORN_DETECTED"
	EventPdArraysRebuilt          EventType = "PD_ARRAYS_REBUILT"
)

// AllEventTypes lists every event type in publication-contract order
var AllEventTypes = []EventType{
	EventSwingPointDetected,
	EventSwingPointRemoved,
	EventOrderBlockDetected,
	EventCisdConfirmed,
	EventOrderBlockLiquiditySwept,
	EventCisdLiquiditySwept,
	EventPdArrayDetected,
	EventPdArrayRemoved,
	EventUnicornDetected,
	EventPdArraysRebuilt,
}

// Event is immutable once published. Consumers may read the referenced
// swing point and level but must not mutate them.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	Period     market.Period
	SwingPoint *market.SwingPoint
	Level      *market.Level
	// Index is the candle index the event refers to (the sweeping candle for sweep events).
	Index int
}

func (e Event) String() string {
	switch {
	case e.SwingPoint != nil && e.Level != nil:
		return fmt.Sprintf("%s level=%s point=%d index=%d", e.Type, e.Level.Type, e.SwingPoint.Number, e.Index)
	case e.SwingPoint != nil:
		return fmt.Sprintf("%s %s #%d @%d price=%g", e.Type, e.SwingPoint.Kind, e.SwingPoint.Number, e.SwingPoint.Index, e.SwingPoint.Price)
	case e.Level != nil:
		return fmt.Sprintf("%s %s %s [%g, %g]", e.Type, e.Level.Type, e.Level.Direction, e.Level.Low, e.Level.High)
	default:
		return string(e.Type)
	}
}

// SwingPointDetected builds a detection event
func SwingPointDetected(p *market.SwingPoint) Event {
	return Event{Type: EventSwingPointDetected, Period: p.Period, SwingPoint: p, Index: p.Index}
}

// SwingPointRemoved builds a removal event for a discarded point
func SwingPointRemoved(p *market.SwingPoint) Event {
	return Event{Type: EventSwingPointRemoved, Period: p.Period, SwingPoint: p, Index: p.Index}
}

// LevelEvent builds an event about a single level
func LevelEvent(t EventType, l *market.Level, index int) Event {
	return Event{Type: t, Level: l, Index: index}
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// SubscriptionID identifies a subscription for Unsubscribe
type SubscriptionID uint64

type subscription struct {
	id        SubscriptionID
	eventType EventType // empty for all events
	fn        Subscriber
}

// EventBus delivers events synchronously, in publication order, to every
// subscriber registered at the time the event is dispatched. An event
// published from inside a handler is queued and dispatched once the event
// being delivered has reached every subscriber, so consequences always follow
// their cause. A panicking subscriber is logged and skipped; the remaining
// subscribers still receive the event.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID SubscriptionID
	logger zerolog.Logger

	qmu         sync.Mutex
	queue       []Event
	dispatching bool
}

// NewEventBus creates a new event bus
func NewEventBus(logger zerolog.Logger) *EventBus {
	return &EventBus{
		logger: logger.With().Str("component", "EventBus").Logger(),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) SubscriptionID {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	eb.subs = append(eb.subs, subscription{id: eb.nextID, eventType: eventType, fn: subscriber})
	return eb.nextID
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) SubscriptionID {
	return eb.Subscribe("", subscriber)
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (eb *EventBus) Unsubscribe(id SubscriptionID) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for i, s := range eb.subs {
		if s.id == id {
			eb.subs = append(eb.subs[:i:i], eb.subs[i+1:]...)
			return true
		}
	}
	return false
}

// SubscriberCount returns the number of registered subscriptions
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}

// Publish queues an event and, unless a dispatch is already running, delivers
// it and everything queued behind it before returning. Handlers may publish;
// their events are delivered after the current one, first in first out.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.qmu.Lock()
	eb.queue = append(eb.queue, event)
	if eb.dispatching {
		eb.qmu.Unlock()
		return
	}
	eb.dispatching = true
	for len(eb.queue) > 0 {
		next := eb.queue[0]
		eb.queue[0] = Event{}
		eb.queue = eb.queue[1:]
		eb.qmu.Unlock()
		eb.dispatch(next)
		eb.qmu.Lock()
	}
	eb.queue = nil
	eb.dispatching = false
	eb.qmu.Unlock()
}

func (eb *EventBus) dispatch(event Event) {
	// Snapshot so handlers can subscribe or unsubscribe without deadlocking.
	eb.mu.RLock()
	subs := make([]subscription, len(eb.subs))
	copy(subs, eb.subs)
	eb.mu.RUnlock()

	for _, s := range subs {
		if s.eventType != "" && s.eventType != event.Type {
			continue
		}
		eb.deliver(s, event)
	}
}

func (eb *EventBus) deliver(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error().
				Str("event", string(event.Type)).
				Uint64("subscription", uint64(s.id)).
				Interface("panic", r).
				Msg("Subscriber failed, continuing with remaining subscribers")
		}
	}()
	s.fn(event)
}
