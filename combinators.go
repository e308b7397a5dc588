package deferred

import (
	"sync"
	"sync/atomic"
)

// toPromise normalizes a combinator input: a *Promise is used as-is, a
// *Deferred contributes its inner promise, and any other value is treated as
// already fulfilled.
func toPromise(value any) *Promise {
	switch v := value.(type) {
	case *Promise:
		if v != nil {
			return v
		}
	case *Deferred:
		if v != nil {
			return v.promise
		}
	}
	return fulfilledPromise(value)
}

// The combinators observe their inputs via Promise.watch rather than Then:
// watch notifies synchronously on the goroutine that settles each input, so
// "first" below always means settlement order, never the scheduling order of
// the per-promise dispatch goroutines.

// All returns a Deferred that resolves when all inputs resolve.
//
// Inputs may be *Deferred, *Promise, or plain values (treated as already
// fulfilled).
//
// Behavior:
//   - If values is empty, resolves immediately with an empty slice.
//   - Resolves with a []Result holding the values in input order.
//   - Rejects as soon as any input rejects, with the reason of the first
//     rejection.
//
// Example:
//
//	a, _ := deferred.New()
//	b, _ := deferred.New()
//	all := deferred.All(a, b, "already done")
//	// after a.Resolve(1) and b.Resolve(2):
//	// all fulfills with []Result{1, 2, "already done"}
func All(values ...any) *Deferred {
	d := newDeferred()

	// Empty input resolves immediately with an empty slice.
	if len(values) == 0 {
		_ = d.Resolve(make([]Result, 0))
		return d
	}

	var mu sync.Mutex
	var completed int
	var rejected bool
	results := make([]Result, len(values))

	for i, v := range values {
		idx := i // Capture index
		toPromise(v).watch(func(status State, value Result, reason error) {
			if status == Rejected {
				mu.Lock()
				first := !rejected
				rejected = true
				mu.Unlock()
				if first {
					_ = d.Reject(reason)
				}
				return
			}

			// Store value in its input position.
			mu.Lock()
			results[idx] = value
			completed++
			done := completed == len(values) && !rejected
			mu.Unlock()
			if done {
				_ = d.Resolve(results)
			}
		})
	}

	return d
}

// AllSettled returns a Deferred that resolves when all inputs have settled.
//
// Unlike [All], this never rejects: it waits for every input to complete and
// fulfills with a []Settlement describing each outcome, in input order.
//
// Behavior:
//   - If values is empty, resolves immediately with an empty slice.
//   - Always resolves (never rejects).
func AllSettled(values ...any) *Deferred {
	d := newDeferred()

	if len(values) == 0 {
		_ = d.Resolve(make([]Settlement, 0))
		return d
	}

	var mu sync.Mutex
	var completed int
	outcomes := make([]Settlement, len(values))

	for i, v := range values {
		idx := i // Capture index
		toPromise(v).watch(func(status State, value Result, reason error) {
			s := Settlement{Status: status, Value: value, Reason: reason}

			mu.Lock()
			outcomes[idx] = s
			completed++
			done := completed == len(values)
			mu.Unlock()
			if done {
				_ = d.Resolve(outcomes)
			}
		})
	}

	return d
}

// Race returns a Deferred that settles as soon as any input settles.
//
// Behavior:
//   - If values is empty, the returned Deferred never settles.
//   - Settles with the value or reason of the first input to settle.
//   - Ignores subsequent settlements from the other inputs.
//
// Use Race for timeout patterns:
//
//	winner := deferred.Race(work, timeout)
func Race(values ...any) *Deferred {
	d := newDeferred()

	if len(values) == 0 {
		return d
	}

	var settled atomic.Bool

	// First input to settle wins.
	for _, v := range values {
		toPromise(v).watch(func(status State, value Result, reason error) {
			if !settled.CompareAndSwap(false, true) {
				return
			}
			if status == Rejected {
				_ = d.Reject(reason)
			} else {
				_ = d.Resolve(value)
			}
		})
	}

	return d
}

// Any returns a Deferred that resolves when any input resolves.
//
// Behavior:
//   - If values is empty, rejects immediately with an [AggregateError]
//     wrapping [ErrNoneProvided].
//   - Resolves with the value of the first input to resolve.
//   - Rejects with an [AggregateError] only if ALL inputs reject; the
//     aggregated reasons preserve input order.
//
// Use Any when at least one success suffices:
//
//	first := deferred.Any(source1, source2, source3)
func Any(values ...any) *Deferred {
	d := newDeferred()

	if len(values) == 0 {
		_ = d.Reject(&AggregateError{
			Errors: []error{ErrNoneProvided},
		})
		return d
	}

	var mu sync.Mutex
	var rejectedCount int
	var resolved atomic.Bool
	reasons := make([]error, len(values))

	for i, v := range values {
		idx := i // Capture index
		toPromise(v).watch(func(status State, value Result, reason error) {
			if status == Fulfilled {
				if resolved.CompareAndSwap(false, true) {
					_ = d.Resolve(value)
				}
				return
			}

			mu.Lock()
			reasons[idx] = reason
			rejectedCount++
			done := rejectedCount == len(values)
			mu.Unlock()

			// Aggregate only when every input has rejected.
			if done && !resolved.Load() {
				_ = d.Reject(&AggregateError{Errors: reasons})
			}
		})
	}

	return d
}
