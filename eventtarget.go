package deferred

import (
	"sort"
	"sync"
)

// EventListenerFunc is a callback function for [EventTarget.AddEventListener].
// The callback receives the dispatched [Event] and can inspect its detail
// payload or stop further dispatch via [Event.StopImmediatePropagation].
type EventListenerFunc func(event *Event)

// ListenerID uniquely identifies an event listener for removal purposes.
// In Go, functions cannot be reliably compared for equality, so a unique ID
// is generated for each registered listener, and all removal verbs
// ([EventTarget.Off], [EventTarget.RemoveListener],
// [EventTarget.RemoveEventListener]) take the ID.
type ListenerID uint64

// listenerEntry pairs a listener with its unique ID for removal.
type listenerEntry struct {
	id       ListenerID
	listener EventListenerFunc
	once     bool // if true, remove after first dispatch
}

// EventTarget provides DOM-style event dispatching with named event kinds.
//
// It is the structured-event half of a [Deferred]'s notification layer, and
// is also usable standalone. Three synonymous verb sets route through the
// same registration table: add via [EventTarget.AddEventListener] /
// [EventTarget.AddListener] / [EventTarget.On], remove via
// [EventTarget.RemoveEventListener] / [EventTarget.RemoveListener] /
// [EventTarget.Off], dispatch via [EventTarget.DispatchEvent] /
// [EventTarget.Fire] / [EventTarget.Emit]. There is no behavioral difference
// between spellings.
//
// The registration table is an explicit, directly-owned mapping (kind →
// ordered listener list), so the attached listeners can be enumerated for
// debugging via [EventTarget.EventNames], [EventTarget.ListenerIDs], and
// [EventTarget.ListenerCount].
//
// Thread Safety:
// EventTarget is safe for concurrent use from multiple goroutines. Listeners
// are invoked synchronously on the dispatching goroutine, in registration
// order; listener panics propagate to the dispatcher.
type EventTarget struct {
	listeners      map[string][]listenerEntry // event kind -> listeners
	nextListenerID ListenerID
	mu             sync.RWMutex
}

// Event represents an event dispatched by [EventTarget.DispatchEvent].
//
// Thread Safety:
// Event is NOT safe for concurrent access. An Event should only be used
// from the goroutine that dispatches it.
type Event struct {
	// Type is the kind of the event (e.g. [EventFulfilled]).
	Type string

	// Target is the EventTarget on which the event was dispatched.
	Target *EventTarget

	// DefaultPrevented is true if PreventDefault() was called.
	DefaultPrevented bool

	// Cancelable indicates whether the event can be canceled.
	// Default is false; the settlement events are not cancelable.
	Cancelable bool

	// immediatePropagationStopped is true if StopImmediatePropagation() was called.
	immediatePropagationStopped bool

	// detail holds the event's payload.
	detail any
}

// NewEvent creates a new Event with the specified kind and detail payload.
// The event is not cancelable; set Cancelable before dispatch to opt in.
func NewEvent(kind string, detail any) *Event {
	return &Event{
		Type:   kind,
		detail: detail,
	}
}

// Detail returns the payload associated with the event. For the settlement
// events this is one of [StateChangeDetail], [FulfilledDetail],
// [RejectedDetail], or [Settlement].
func (e *Event) Detail() any {
	return e.detail
}

// PreventDefault marks the event as having its default action canceled.
// This only has effect if the event's Cancelable property is true.
func (e *Event) PreventDefault() {
	if e.Cancelable {
		e.DefaultPrevented = true
	}
}

// StopImmediatePropagation prevents any further listeners from being called
// for this dispatch.
func (e *Event) StopImmediatePropagation() {
	e.immediatePropagationStopped = true
}

// IsImmediatePropagationStopped returns true if StopImmediatePropagation was called.
func (e *Event) IsImmediatePropagationStopped() bool {
	return e.immediatePropagationStopped
}

// NewEventTarget creates a new EventTarget with an empty listener table.
func NewEventTarget() *EventTarget {
	return &EventTarget{
		listeners:      make(map[string][]listenerEntry),
		nextListenerID: 1,
	}
}

// AddEventListener registers a listener for events of the specified kind.
//
// Returns a [ListenerID] that can be used to remove the listener. A nil
// listener is not registered and yields ID 0.
//
// Thread Safety: Safe to call concurrently.
func (et *EventTarget) AddEventListener(kind string, listener EventListenerFunc) ListenerID {
	return et.addListenerInternal(kind, listener, false)
}

// AddListener registers a listener for events of the specified kind.
// It is an alias of [EventTarget.AddEventListener].
func (et *EventTarget) AddListener(kind string, listener EventListenerFunc) ListenerID {
	return et.addListenerInternal(kind, listener, false)
}

// On registers a listener for events of the specified kind.
// It is an alias of [EventTarget.AddEventListener].
func (et *EventTarget) On(kind string, listener EventListenerFunc) ListenerID {
	return et.addListenerInternal(kind, listener, false)
}

// AddEventListenerOnce registers a listener that is removed after the first
// dispatch of the given kind, equivalent to addEventListener with
// { once: true } in DOM.
//
// Thread Safety: Safe to call concurrently.
func (et *EventTarget) AddEventListenerOnce(kind string, listener EventListenerFunc) ListenerID {
	return et.addListenerInternal(kind, listener, true)
}

// Once registers a one-shot listener.
// It is an alias of [EventTarget.AddEventListenerOnce].
func (et *EventTarget) Once(kind string, listener EventListenerFunc) ListenerID {
	return et.addListenerInternal(kind, listener, true)
}

// addListenerInternal is the single registration point behind all add verbs.
func (et *EventTarget) addListenerInternal(kind string, listener EventListenerFunc, once bool) ListenerID {
	if listener == nil {
		return 0
	}

	et.mu.Lock()
	defer et.mu.Unlock()

	id := et.nextListenerID
	et.nextListenerID++

	et.listeners[kind] = append(et.listeners[kind], listenerEntry{
		id:       id,
		listener: listener,
		once:     once,
	})
	return id
}

// RemoveEventListener removes a listener by its ID.
//
// Go function values cannot be reliably compared for equality, so removal is
// by the [ListenerID] returned at registration rather than by function
// reference. Returns true if a listener was removed.
//
// Thread Safety: Safe to call concurrently.
func (et *EventTarget) RemoveEventListener(kind string, id ListenerID) bool {
	return et.removeListenerInternal(kind, id)
}

// RemoveListener removes a listener by its ID.
// It is an alias of [EventTarget.RemoveEventListener].
func (et *EventTarget) RemoveListener(kind string, id ListenerID) bool {
	return et.removeListenerInternal(kind, id)
}

// Off removes a listener by its ID.
// It is an alias of [EventTarget.RemoveEventListener].
func (et *EventTarget) Off(kind string, id ListenerID) bool {
	return et.removeListenerInternal(kind, id)
}

// removeListenerInternal is the single removal point behind all remove verbs.
func (et *EventTarget) removeListenerInternal(kind string, id ListenerID) bool {
	et.mu.Lock()
	defer et.mu.Unlock()

	entries, ok := et.listeners[kind]
	if !ok {
		return false
	}

	for i, entry := range entries {
		if entry.id == id {
			et.listeners[kind] = append(entries[:i], entries[i+1:]...)
			return true
		}
	}

	return false
}

// DispatchEvent dispatches an event to all registered listeners for its kind.
//
// The event's Target is set to this EventTarget before listeners are called.
// Listeners are called synchronously, in the order they were registered;
// one-shot listeners are removed after the dispatch. A listener panic
// propagates to the caller: remaining listeners are not called, but every
// one-shot registration already invoked (the panicking listener included) is
// still removed before the panic unwinds.
//
// Returns true if the event was not canceled, i.e. the event is not
// cancelable or no listener called PreventDefault. A nil event is ignored
// and reported as not canceled.
//
// Thread Safety: Safe to call concurrently.
func (et *EventTarget) DispatchEvent(event *Event) bool {
	if event == nil {
		return true
	}

	event.Target = et

	// Snapshot the listeners so the lock is not held during dispatch.
	et.mu.RLock()
	entries := make([]listenerEntry, len(et.listeners[event.Type]))
	copy(entries, et.listeners[event.Type])
	et.mu.RUnlock()

	// Deferred so consumed one-shot registrations are removed even when a
	// listener panics out of the loop.
	var removeIDs []ListenerID
	defer func() {
		if len(removeIDs) == 0 {
			return
		}
		et.mu.Lock()
		defer et.mu.Unlock()
		for _, id := range removeIDs {
			entries := et.listeners[event.Type]
			for i, entry := range entries {
				if entry.id == id {
					et.listeners[event.Type] = append(entries[:i], entries[i+1:]...)
					break
				}
			}
		}
	}()

	for _, entry := range entries {
		if event.immediatePropagationStopped {
			break
		}

		if entry.once {
			removeIDs = append(removeIDs, entry.id)
		}

		entry.listener(event)
	}

	return !event.Cancelable || !event.DefaultPrevented
}

// Fire dispatches an event.
// It is an alias of [EventTarget.DispatchEvent].
func (et *EventTarget) Fire(event *Event) bool {
	return et.DispatchEvent(event)
}

// Emit dispatches an event.
// It is an alias of [EventTarget.DispatchEvent].
func (et *EventTarget) Emit(event *Event) bool {
	return et.DispatchEvent(event)
}

// HasEventListeners returns true if there are any listeners for the kind.
//
// Thread Safety: Safe to call concurrently.
func (et *EventTarget) HasEventListeners(kind string) bool {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return len(et.listeners[kind]) > 0
}

// ListenerCount returns the number of listeners for the kind.
//
// Thread Safety: Safe to call concurrently.
func (et *EventTarget) ListenerCount(kind string) int {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return len(et.listeners[kind])
}

// EventNames returns the kinds that currently have at least one listener,
// sorted lexicographically.
//
// Thread Safety: Safe to call concurrently.
func (et *EventTarget) EventNames() []string {
	et.mu.RLock()
	defer et.mu.RUnlock()

	names := make([]string, 0, len(et.listeners))
	for kind, entries := range et.listeners {
		if len(entries) > 0 {
			names = append(names, kind)
		}
	}
	sort.Strings(names)
	return names
}

// totalListeners returns the listener count across all kinds.
func (et *EventTarget) totalListeners() int {
	et.mu.RLock()
	defer et.mu.RUnlock()

	var n int
	for _, entries := range et.listeners {
		n += len(entries)
	}
	return n
}

// ListenerIDs returns the IDs of the listeners registered for the kind, in
// registration order. The returned slice is a snapshot.
//
// Thread Safety: Safe to call concurrently.
func (et *EventTarget) ListenerIDs(kind string) []ListenerID {
	et.mu.RLock()
	defer et.mu.RUnlock()

	entries := et.listeners[kind]
	if len(entries) == 0 {
		return nil
	}
	ids := make([]ListenerID, len(entries))
	for i, entry := range entries {
		ids[i] = entry.id
	}
	return ids
}

// RemoveAllEventListeners removes all listeners for the specified kind.
// If kind is empty, removes all listeners for all kinds.
//
// Thread Safety: Safe to call concurrently.
func (et *EventTarget) RemoveAllEventListeners(kind string) {
	et.mu.Lock()
	defer et.mu.Unlock()

	if kind == "" {
		et.listeners = make(map[string][]listenerEntry)
	} else {
		delete(et.listeners, kind)
	}
}

// clone returns a new EventTarget with the same registrations: every listener
// is copied by reference, listener IDs are preserved, and the ID counter
// continues from the source's. Used by [Deferred.Reset].
func (et *EventTarget) clone() *EventTarget {
	et.mu.RLock()
	defer et.mu.RUnlock()

	next := &EventTarget{
		listeners:      make(map[string][]listenerEntry, len(et.listeners)),
		nextListenerID: et.nextListenerID,
	}
	for kind, entries := range et.listeners {
		copied := make([]listenerEntry, len(entries))
		copy(copied, entries)
		next.listeners[kind] = copied
	}
	return next
}
