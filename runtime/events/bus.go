// Package events provides a lightweight pub/sub event bus for conversation observability.
package events

import (
	"sync"

	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

// Listener is a function that handles events.
type Listener func(*Event)

type subscription struct {
	id       uint64
	listener Listener
}

// EventBus manages event distribution to listeners. Publish delivers
// synchronously and in order: type listeners first, then global listeners.
// A panicking listener is logged and does not stop delivery to the others.
type EventBus struct {
	mu              sync.RWMutex
	nextID          uint64
	listeners       map[EventType][]subscription
	globalListeners []subscription
	closed          bool
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		listeners: make(map[EventType][]subscription),
	}
}

// Subscribe registers a listener for a specific event type and returns a
// function that removes it.
func (eb *EventBus) Subscribe(eventType EventType, listener Listener) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.listeners[eventType] = append(eb.listeners[eventType], subscription{id: id, listener: listener})
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.listeners[eventType] = without(eb.listeners[eventType], id)
	}
}

// SubscribeAll registers a listener for all event types and returns a
// function that removes it.
func (eb *EventBus) SubscribeAll(listener Listener) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.globalListeners = append(eb.globalListeners, subscription{id: id, listener: listener})
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.globalListeners = without(eb.globalListeners, id)
	}
}

func without(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish sends an event to all registered listeners. A nil bus or a closed
// bus drops the event.
func (eb *EventBus) Publish(event *Event) {
	if eb == nil || event == nil {
		return
	}
	eb.mu.RLock()
	if eb.closed {
		eb.mu.RUnlock()
		return
	}
	typeListeners := eb.listeners[event.Type]
	specificListeners := make([]subscription, len(typeListeners))
	copy(specificListeners, typeListeners)

	globalListeners := make([]subscription, len(eb.globalListeners))
	copy(globalListeners, eb.globalListeners)
	eb.mu.RUnlock()

	for _, s := range specificListeners {
		safeInvoke(s.listener, event)
	}
	for _, s := range globalListeners {
		safeInvoke(s.listener, event)
	}
}

// Clear removes all listeners (primarily for tests).
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners = make(map[EventType][]subscription)
	eb.globalListeners = nil
}

// Close drops all listeners and ignores further publishes.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.closed = true
	eb.listeners = make(map[EventType][]subscription)
	eb.globalListeners = nil
}

func safeInvoke(listener Listener, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Event listener panicked", "event", string(event.Type), "panic", r)
		}
	}()
	listener(event)
}
