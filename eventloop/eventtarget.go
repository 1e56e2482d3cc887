package eventloop

import (
	"sync"
)

// EventListenerFunc is a callback function for [EventTarget.AddEventListener].
type EventListenerFunc func(event *Event)

// ListenerID uniquely identifies an event listener for removal purposes.
// In Go, functions cannot be reliably compared for equality, so we generate
// a unique ID for each registered listener.
type ListenerID uint64

// listenerEntry pairs a listener with its unique ID for removal.
type listenerEntry struct { //nolint:govet // betteralign:ignore
	id       ListenerID
	listener EventListenerFunc
	once     bool // if true, remove after first dispatch
}

// EventTarget provides DOM-style event dispatching, keyed by event type.
//
// Thread Safety:
// EventTarget is safe for concurrent use from multiple goroutines. Listeners
// are called synchronously, on the goroutine calling DispatchEvent, which is
// always the loop goroutine for the [Process] signals.
type EventTarget struct {
	listeners      map[string][]listenerEntry // eventType -> listeners
	nextListenerID ListenerID
	mu             sync.RWMutex
}

// Event represents an event dispatched by [EventTarget.DispatchEvent].
//
// Event is NOT safe for concurrent access.
type Event struct { //nolint:govet // betteralign:ignore
	// Type is the name of the event, e.g. [EventUncaughtException].
	Type string

	// Target is the EventTarget on which the event was dispatched.
	Target *EventTarget

	// immediatePropagationStopped is true if StopImmediatePropagation() was called.
	immediatePropagationStopped bool

	// detail holds the event payload.
	detail any
}

// NewEventTarget creates a new EventTarget with an empty listener map.
func NewEventTarget() *EventTarget {
	return &EventTarget{
		listeners:      make(map[string][]listenerEntry),
		nextListenerID: 1,
	}
}

// AddEventListener registers a listener for events of the specified type,
// returning an ID that may be used to remove it. A nil listener is ignored,
// and results in a zero ID.
func (et *EventTarget) AddEventListener(eventType string, listener EventListenerFunc) ListenerID {
	return et.addListenerInternal(eventType, listener, false)
}

// AddEventListenerOnce registers a listener that will be removed after the first dispatch.
func (et *EventTarget) AddEventListenerOnce(eventType string, listener EventListenerFunc) ListenerID {
	return et.addListenerInternal(eventType, listener, true)
}

func (et *EventTarget) addListenerInternal(eventType string, listener EventListenerFunc, once bool) ListenerID {
	if listener == nil {
		return 0
	}

	et.mu.Lock()
	defer et.mu.Unlock()

	id := et.nextListenerID
	et.nextListenerID++

	et.listeners[eventType] = append(et.listeners[eventType], listenerEntry{
		id:       id,
		listener: listener,
		once:     once,
	})
	return id
}

// RemoveEventListenerByID removes a listener by its ID, returning true if
// a listener was removed.
func (et *EventTarget) RemoveEventListenerByID(eventType string, id ListenerID) bool {
	et.mu.Lock()
	defer et.mu.Unlock()
	return et.removeLocked(eventType, id)
}

func (et *EventTarget) removeLocked(eventType string, id ListenerID) bool {
	entries := et.listeners[eventType]
	for i, entry := range entries {
		if entry.id == id {
			// copy, as DispatchEvent may be iterating a snapshot
			updated := make([]listenerEntry, 0, len(entries)-1)
			updated = append(updated, entries[:i]...)
			updated = append(updated, entries[i+1:]...)
			if len(updated) == 0 {
				delete(et.listeners, eventType)
			} else {
				et.listeners[eventType] = updated
			}
			return true
		}
	}
	return false
}

// DispatchEvent dispatches an event to all registered listeners, in the
// order they were registered, returning the number of listeners called.
//
// Listeners added or removed during dispatch don't affect the current
// dispatch. Panics propagate to the caller.
func (et *EventTarget) DispatchEvent(event *Event) int {
	if event == nil {
		return 0
	}

	event.Target = et

	et.mu.RLock()
	entries := et.listeners[event.Type]
	et.mu.RUnlock()

	var called int
	for _, entry := range entries {
		if event.immediatePropagationStopped {
			break
		}
		if entry.once && !et.RemoveEventListenerByID(event.Type, entry.id) {
			// raced with another dispatch
			continue
		}
		called++
		entry.listener(event)
	}

	return called
}

// HasEventListeners returns true if there are any listeners for the event type.
func (et *EventTarget) HasEventListeners(eventType string) bool {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return len(et.listeners[eventType]) > 0
}

// ListenerCount returns the number of listeners for the event type.
func (et *EventTarget) ListenerCount(eventType string) int {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return len(et.listeners[eventType])
}

// RemoveAllEventListeners removes all listeners for the specified event type.
// If eventType is empty, removes all listeners for all event types.
func (et *EventTarget) RemoveAllEventListeners(eventType string) {
	et.mu.Lock()
	defer et.mu.Unlock()

	if eventType == "" {
		et.listeners = make(map[string][]listenerEntry)
	} else {
		delete(et.listeners, eventType)
	}
}

// StopImmediatePropagation prevents any further listeners from being called.
func (e *Event) StopImmediatePropagation() {
	e.immediatePropagationStopped = true
}

// IsImmediatePropagationStopped returns true if StopImmediatePropagation was called.
func (e *Event) IsImmediatePropagationStopped() bool {
	return e.immediatePropagationStopped
}

// Detail returns the payload associated with the event.
func (e *Event) Detail() any {
	return e.detail
}

// NewEvent creates a new Event with the specified type and no payload.
func NewEvent(eventType string) *Event {
	return &Event{
		Type: eventType,
	}
}

// NewCustomEvent creates a new Event with the specified type, carrying
// detail, which is accessible via [Event.Detail].
func NewCustomEvent(eventType string, detail any) *Event {
	return &Event{
		Type:   eventType,
		detail: detail,
	}
}
