package deferred

// Event kinds dispatched by a [Deferred] when it settles. All four are
// dispatched exactly once per settlement, interleaved with the handler slots
// in the order documented on [Deferred].
const (
	// EventStateChange fires first, for both outcomes. Detail is a
	// [StateChangeDetail].
	EventStateChange = "statechange"

	// EventFulfilled fires after EventStateChange when the Deferred is
	// resolved. Detail is a [FulfilledDetail].
	EventFulfilled = "fulfilled"

	// EventRejected fires after EventStateChange when the Deferred is
	// rejected. Detail is a [RejectedDetail].
	EventRejected = "rejected"

	// EventSettled fires last, for both outcomes. Detail is a [Settlement].
	EventSettled = "settled"
)

// StateChangeDetail is the payload of an [EventStateChange] event.
type StateChangeDetail struct {
	// Old is the state before the transition, always [Pending].
	Old State
	// New is the state after the transition.
	New State
}

// FulfilledDetail is the payload of an [EventFulfilled] event.
type FulfilledDetail struct {
	// Value is the fulfillment value.
	Value Result
	// Status is always [Fulfilled].
	Status State
}

// RejectedDetail is the payload of an [EventRejected] event.
type RejectedDetail struct {
	// Reason is the rejection reason.
	Reason error
	// Status is always [Rejected].
	Status State
}

func newStateChangeEvent(old, new State) *Event {
	return NewEvent(EventStateChange, StateChangeDetail{Old: old, New: new})
}

func newFulfilledEvent(value Result) *Event {
	return NewEvent(EventFulfilled, FulfilledDetail{Value: value, Status: Fulfilled})
}

func newRejectedEvent(reason error) *Event {
	return NewEvent(EventRejected, RejectedDetail{Reason: reason, Status: Rejected})
}

func newSettledEvent(s Settlement) *Event {
	return NewEvent(EventSettled, s)
}
