package deferred

import (
	"fmt"
)

// State represents the lifecycle state of a [Deferred] or [Promise].
// An instance starts in [Pending] state and transitions to either
// [Fulfilled] or [Rejected].
//
// State Machine:
//
//	Pending (0) → Fulfilled (1)   [Resolve()]
//	Pending (0) → Rejected (2)    [Reject()]
//	Fulfilled (1) → (terminal)
//	Rejected (2) → (terminal)
//
// Both settled states are terminal; there is no transition out of them.
// Attempting one via [Deferred.Resolve] or [Deferred.Reject] fails with
// [ErrAlreadySettled].
type State int32

const (
	// Pending indicates the instance has not yet been resolved or rejected.
	Pending State = iota

	// Fulfilled indicates the instance completed successfully with a value.
	Fulfilled

	// Rejected indicates the instance failed with a reason.
	Rejected
)

// String returns the JavaScript-compatible lowercase name of the state:
// "pending", "fulfilled", or "rejected".
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Settled reports whether the state is terminal (Fulfilled or Rejected).
func (s State) Settled() bool {
	return s == Fulfilled || s == Rejected
}

// Settlement describes the outcome of a settled instance as a tagged union
// keyed on Status. Exactly one of Value and Reason is meaningful:
// Value when Status is [Fulfilled], Reason when Status is [Rejected].
//
// Settlement is the detail payload of the "settled" event, the argument of
// the onsettled handler slot, and the element type of [AllSettled] results.
type Settlement struct {
	// Value is the fulfillment value. Nil unless Status is Fulfilled
	// (a fulfilled instance can legitimately carry a nil value).
	Value Result

	// Reason is the rejection reason. Nil unless Status is Rejected.
	Reason error

	// Status is either Fulfilled or Rejected.
	Status State
}

// Fulfilled reports whether the settlement carries a fulfillment value.
func (s Settlement) Fulfilled() bool { return s.Status == Fulfilled }

// Rejected reports whether the settlement carries a rejection reason.
func (s Settlement) Rejected() bool { return s.Status == Rejected }

// String returns a human-readable rendering, e.g. "fulfilled: 42".
func (s Settlement) String() string {
	switch s.Status {
	case Fulfilled:
		return fmt.Sprintf("fulfilled: %v", s.Value)
	case Rejected:
		return fmt.Sprintf("rejected: %v", s.Reason)
	default:
		return s.Status.String()
	}
}
