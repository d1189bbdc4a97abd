// Package events provides an event bus implementation using Go channels.
package events

import (
	"context"
	"sync"

	"github.com/blackms/swarmkit/internal/shared"
)

// Wildcard subscribes to every event type.
const Wildcard shared.EventType = "*"

// Handler is a function that handles events.
type Handler func(event shared.Event)

type subscription struct {
	id int
	ch chan shared.Event
}

// EventBus provides a publish-subscribe event system using Go channels.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[shared.EventType][]subscription
	handlers    map[shared.EventType][]Handler
	bufferSize  int
	nextID      int
	dropped     int
	closed      bool
}

// Option configures the EventBus.
type Option func(*EventBus)

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) Option {
	return func(eb *EventBus) {
		eb.bufferSize = size
	}
}

// New creates a new EventBus.
func New(opts ...Option) *EventBus {
	eb := &EventBus{
		subscribers: make(map[shared.EventType][]subscription),
		handlers:    make(map[shared.EventType][]Handler),
		bufferSize:  100,
	}

	for _, opt := range opts {
		opt(eb)
	}

	return eb
}

// Subscription identifies a channel subscription for Unsubscribe.
type Subscription struct {
	eventType shared.EventType
	id        int
	C         <-chan shared.Event
}

// Subscribe creates a channel to receive events of the given type.
func (eb *EventBus) Subscribe(eventType shared.EventType) Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	ch := make(chan shared.Event, eb.bufferSize)
	if eb.closed {
		close(ch)
	} else {
		eb.subscribers[eventType] = append(eb.subscribers[eventType], subscription{id: eb.nextID, ch: ch})
	}
	return Subscription{eventType: eventType, id: eb.nextID, C: ch}
}

// SubscribeAll creates a channel to receive all events.
func (eb *EventBus) SubscribeAll() Subscription {
	return eb.Subscribe(Wildcard)
}

// Unsubscribe removes a subscription and closes its channel.
func (eb *EventBus) Unsubscribe(sub Subscription) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			eb.subscribers[sub.eventType] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// On registers a handler for events of the given type.
func (eb *EventBus) On(eventType shared.EventType, handler Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Off removes all handlers for the type.
func (eb *EventBus) Off(eventType shared.EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	delete(eb.handlers, eventType)
}

// Emit publishes an event to all subscribers and handlers. Channel delivery
// never blocks; events for a full channel are dropped and counted. Handlers
// run synchronously on the caller's goroutine after the bus lock is released.
func (eb *EventBus) Emit(event shared.Event) {
	if event.Timestamp == 0 {
		event.Timestamp = shared.Now()
	}

	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	for _, subs := range [][]subscription{eb.subscribers[event.Type], eb.subscribers[Wildcard]} {
		for _, s := range subs {
			select {
			case s.ch <- event:
			default:
				eb.dropped++
			}
		}
	}
	handlers := make([]Handler, 0, len(eb.handlers[event.Type])+len(eb.handlers[Wildcard]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers[Wildcard]...)
	eb.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// EmitWithContext publishes an event with context support.
func (eb *EventBus) EmitWithContext(ctx context.Context, event shared.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		eb.Emit(event)
		return nil
	}
}

// Dropped returns how many channel deliveries were skipped because a
// subscriber's buffer was full.
func (eb *EventBus) Dropped() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.dropped
}

// Close closes all subscriber channels and stops the event bus.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, subs := range eb.subscribers {
		for _, s := range subs {
			close(s.ch)
		}
	}

	eb.subscribers = make(map[shared.EventType][]subscription)
	eb.handlers = make(map[shared.EventType][]Handler)
}

// ============================================================================
// Helper Functions
// ============================================================================

func (eb *EventBus) emit(eventType shared.EventType, payload map[string]shared.Value) {
	eb.Emit(shared.Event{Type: eventType, Timestamp: shared.Now(), Payload: payload})
}

// EmitMissionCreated emits a mission created event.
func (eb *EventBus) EmitMissionCreated(swarmID, name string, members int) {
	eb.emit(shared.EventMissionCreated, map[string]shared.Value{
		"swarmId": shared.StringValue(swarmID),
		"name":    shared.StringValue(name),
		"members": shared.NumberValue(float64(members)),
	})
}

// EmitMissionDissolved emits a mission dissolved event.
func (eb *EventBus) EmitMissionDissolved(swarmID string) {
	eb.emit(shared.EventMissionDissolved, map[string]shared.Value{
		"swarmId": shared.StringValue(swarmID),
	})
}

// EmitTaskAssigned emits a task assigned event. method is "auction" or
// "load_balance"; target is the auction id or the agent id respectively.
func (eb *EventBus) EmitTaskAssigned(swarmID, taskID, method, target string) {
	eb.emit(shared.EventTaskAssigned, map[string]shared.Value{
		"swarmId": shared.StringValue(swarmID),
		"taskId":  shared.StringValue(taskID),
		"method":  shared.StringValue(method),
		"target":  shared.StringValue(target),
	})
}

// EmitAuctionOpened emits an auction opened event.
func (eb *EventBus) EmitAuctionOpened(auctionID, taskID string) {
	eb.emit(shared.EventAuctionOpened, map[string]shared.Value{
		"auctionId": shared.StringValue(auctionID),
		"taskId":    shared.StringValue(taskID),
	})
}

// EmitDecisionMade emits a decision event.
func (eb *EventBus) EmitDecisionMade(sessionID, topic, winner string, resolved bool) {
	eb.emit(shared.EventDecisionMade, map[string]shared.Value{
		"sessionId": shared.StringValue(sessionID),
		"topic":     shared.StringValue(topic),
		"winner":    shared.StringValue(winner),
		"resolved":  shared.BoolValue(resolved),
	})
}

// EmitAgentFailed emits an agent failed event.
func (eb *EventBus) EmitAgentFailed(agentID, taskID, action, reassignedTo string) {
	eb.emit(shared.EventAgentFailed, map[string]shared.Value{
		"agentId":      shared.StringValue(agentID),
		"taskId":       shared.StringValue(taskID),
		"action":       shared.StringValue(action),
		"reassignedTo": shared.StringValue(reassignedTo),
	})
}

// EmitAgentHealed emits an agent healed event.
func (eb *EventBus) EmitAgentHealed(agentID string) {
	eb.emit(shared.EventAgentHealed, map[string]shared.Value{
		"agentId": shared.StringValue(agentID),
	})
}

// EmitKnowledgeShared emits a knowledge shared event.
func (eb *EventBus) EmitKnowledgeShared(agentID, key string, confidence float64) {
	eb.emit(shared.EventKnowledgeShared, map[string]shared.Value{
		"agentId":    shared.StringValue(agentID),
		"key":        shared.StringValue(key),
		"confidence": shared.NumberValue(confidence),
	})
}

// EmitOptimized emits a maintenance tick summary.
func (eb *EventBus) EmitOptimized(moves, decayed, patterns, healed int) {
	eb.emit(shared.EventOptimized, map[string]shared.Value{
		"rebalanced":     shared.NumberValue(float64(moves)),
		"decayedMarkers": shared.NumberValue(float64(decayed)),
		"patterns":       shared.NumberValue(float64(patterns)),
		"healed":         shared.NumberValue(float64(healed)),
	})
}
