package deferred

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Result represents the value of a fulfilled promise.
// It can be any type, similar to JavaScript's dynamic typing.
// Rejection reasons are error values and are carried separately.
type Result = any

// lastInstanceID issues identifiers for Deferred and Promise instances.
// The IDs appear in chain-cycle errors and structured log output.
var lastInstanceID atomic.Uint64

func nextInstanceID() uint64 { return lastInstanceID.Add(1) }

// Promise is the future half of a [Deferred]: a read-only view of an
// eventual result, with [Promise.Then], [Promise.Catch], and
// [Promise.Finally] chaining.
//
// Promises are obtained from a Deferred ([Deferred.Promise]) or derived from
// another Promise by chaining; there is no standalone constructor. The owning
// Deferred settles the promise via [Deferred.Resolve] and [Deferred.Reject].
//
// Chaining:
//
//	d.Promise().
//	    Then(func(v Result) Result {
//	        return transform(v)
//	    }, nil).
//	    Catch(func(err error) Result {
//	        return fallback // recover from error
//	    }).
//	    Finally(func() {
//	        cleanup()
//	    })
//
// Execution Model:
//
// Continuations do not run on the goroutine that settles the promise. Each
// promise owns a FIFO dispatch queue drained by a single goroutine, started
// on demand and exiting when the queue empties. Handlers attached to the
// same promise therefore run one at a time, in attach order. When the
// settlement originates from a Deferred, the queue is released only after
// the Deferred's synchronous notification sequence has returned, so event
// listeners and handler slots always observe the settlement before any
// chained continuation does.
//
// Thread Safety:
//
// Promise is safe for concurrent use. Settlement, attachment, and await
// operations may be invoked from any goroutine.
type Promise struct {
	value  Result
	reason error
	rep    *reporter

	// h0 is the first handler (embedded to avoid slice allocation).
	// Most promises have only one handler.
	h0       handler
	handlers []handler

	// channels stores channels from ToChannel() calls made before release.
	channels []chan Result

	// watchers are settlement observers that run synchronously on the
	// releasing goroutine, ahead of continuation dispatch. See watch.
	watchers []func(status State, value Result, reason error)

	// queue is the continuation dispatch queue, drained by one goroutine.
	queue    []func()
	draining bool

	state atomic.Int32

	// released reports whether settlement-time continuations have been
	// scheduled. It transitions to true exactly once, strictly after state
	// leaves Pending.
	released atomic.Bool

	// observed reports whether the rejection outcome has a consumer
	// (Then/Catch with a rejection handler, Finally, Await, ToChannel).
	observed atomic.Bool

	h0Used bool
	id     uint64

	mu sync.Mutex
}

// handler represents a reaction to promise settlement.
type handler struct {
	onFulfilled func(Result) Result
	onRejected  func(error) Result
	target      *Promise
}

func newPromise(rep *reporter) *Promise {
	p := &Promise{
		id:  nextInstanceID(),
		rep: rep,
	}
	p.state.Store(int32(Pending))
	return p
}

// fulfilledPromise returns a promise that is already fulfilled with value,
// used by the combinators to normalize plain-value inputs.
func fulfilledPromise(value Result) *Promise {
	p := newPromise(nil)
	p.value = value
	p.state.Store(int32(Fulfilled))
	p.released.Store(true)
	return p
}

// State returns the current [State] of this promise.
// Thread-safe and can be called from any goroutine.
func (p *Promise) State() State {
	return State(p.state.Load())
}

// Value returns the fulfillment value if the promise is fulfilled.
// Returns nil if the promise is pending or rejected.
// Note: a fulfilled promise can legitimately have a nil value.
func (p *Promise) Value() Result {
	if State(p.state.Load()) == Fulfilled {
		return p.value
	}
	return nil
}

// Reason returns the rejection reason if the promise is rejected.
// Returns nil if the promise is pending or fulfilled.
func (p *Promise) Reason() error {
	if State(p.state.Load()) == Rejected {
		return p.reason
	}
	return nil
}

// String implements [fmt.Stringer], e.g. "Promise(fulfilled: 42)".
func (p *Promise) String() string {
	switch State(p.state.Load()) {
	case Fulfilled:
		return fmt.Sprintf("Promise(fulfilled: %v)", p.value)
	case Rejected:
		return fmt.Sprintf("Promise(rejected: %v)", p.reason)
	default:
		return "Promise(pending)"
	}
}

// addHandler attaches a handler to the promise. Handlers attached before the
// settlement is released are stored and dispatched with the settlement-time
// batch; later attachments are enqueued immediately, behind that batch.
//
// The released flag gives an optimistic lock-free path for the common case
// of attaching to a long-settled promise.
func (p *Promise) addHandler(h handler) {
	if p.released.Load() {
		p.enqueueSettledHandler(h)
		return
	}

	p.mu.Lock()
	// Re-check under lock to avoid racing release().
	if p.released.Load() {
		p.mu.Unlock()
		p.enqueueSettledHandler(h)
		return
	}

	if !p.h0Used {
		p.h0 = h
		p.h0Used = true
	} else {
		p.handlers = append(p.handlers, h)
	}
	p.mu.Unlock()
}

// enqueueSettledHandler schedules a handler against the final settlement.
// Only valid once released is true: state, value, and reason are immutable
// from that point.
func (p *Promise) enqueueSettledHandler(h handler) {
	status := State(p.state.Load())
	value, reason := p.value, p.reason
	p.enqueue(func() {
		p.executeHandler(h, status, value, reason)
	})
}

// watch registers a settlement observer that runs synchronously on the
// goroutine that releases the settlement, before the continuation queue is
// handed to a drain goroutine. Observers across different promises therefore
// fire in the order the promises actually settled, which the combinators
// depend on for first-settlement-wins semantics; Then continuations carry no
// such cross-promise ordering, since each promise drains on its own
// goroutine. If the settlement was already released, fn runs immediately on
// the calling goroutine. Watching marks the rejection outcome as observed.
func (p *Promise) watch(fn func(status State, value Result, reason error)) {
	p.observed.Store(true)

	if p.released.Load() {
		fn(State(p.state.Load()), p.value, p.reason)
		return
	}

	p.mu.Lock()
	if p.released.Load() {
		p.mu.Unlock()
		fn(State(p.state.Load()), p.value, p.reason)
		return
	}
	p.watchers = append(p.watchers, fn)
	p.mu.Unlock()
}

// enqueue appends fn to the dispatch queue, starting the drain goroutine if
// none is running.
func (p *Promise) enqueue(fn func()) {
	p.mu.Lock()
	p.queue = append(p.queue, fn)
	spawn := !p.draining
	if spawn {
		p.draining = true
	}
	p.mu.Unlock()
	if spawn {
		go p.drain()
	}
}

// drain executes queued continuations in FIFO order until the queue empties.
// The lock is not held while a continuation runs, so continuations may
// re-enter enqueue (e.g. a Then callback chaining another Then).
func (p *Promise) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.draining = false
			p.mu.Unlock()
			return
		}
		fn := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()
		fn()
	}
}

// executeHandler runs a single handler with the given settlement.
// Handles nil handlers (pass-through), panic recovery, and result
// propagation to the handler's target promise.
func (p *Promise) executeHandler(h handler, status State, value Result, reason error) {
	if status == Fulfilled {
		if h.onFulfilled == nil {
			if h.target != nil {
				h.target.resolve(value)
			}
			return
		}
	} else {
		if h.onRejected == nil {
			if h.target != nil {
				h.target.reject(reason)
			}
			return
		}
	}

	// Run the handler with panic protection.
	defer func() {
		if r := recover(); r != nil {
			if h.target != nil {
				h.target.reject(PanicError{Value: r})
			}
		}
	}()

	var res Result
	if status == Fulfilled {
		res = h.onFulfilled(value)
	} else {
		res = h.onRejected(reason)
	}
	if h.target != nil {
		h.target.resolve(res)
	}
}

// settleHeld records the settlement without releasing continuation dispatch.
// The returned release function schedules the stored handlers, channel
// sends, and (for rejections) the unhandled-rejection check; it is
// idempotent and must be called at least once. ok is false, and release a
// no-op, when the promise was already settled.
func (p *Promise) settleHeld(status State, value Result, reason error) (release func(), ok bool) {
	p.mu.Lock()
	if State(p.state.Load()) != Pending {
		p.mu.Unlock()
		return func() {}, false
	}
	p.value = value
	p.reason = reason
	p.state.Store(int32(status))
	p.mu.Unlock()
	return p.release, true
}

// release schedules the settlement-time continuation batch. Scheduling
// happens while holding the lock so that concurrent addHandler calls order
// strictly behind the handlers attached before settlement.
func (p *Promise) release() {
	p.mu.Lock()
	if p.released.Load() {
		p.mu.Unlock()
		return
	}

	h0, useH0 := p.h0, p.h0Used
	handlers := p.handlers
	channels := p.channels
	watchers := p.watchers
	p.h0 = handler{}
	p.h0Used = false
	p.handlers = nil
	p.channels = nil
	p.watchers = nil
	p.released.Store(true)

	status := State(p.state.Load())
	value, reason := p.value, p.reason

	if useH0 {
		p.queue = append(p.queue, func() {
			p.executeHandler(h0, status, value, reason)
		})
	}
	for _, h := range handlers {
		h := h
		p.queue = append(p.queue, func() {
			p.executeHandler(h, status, value, reason)
		})
	}
	if status == Rejected && p.rep != nil {
		// Runs after every handler attached before this point, so a
		// consumer registered before the rejection always suppresses the
		// report.
		p.queue = append(p.queue, func() {
			p.checkUnhandled(reason)
		})
	}

	var result Result = value
	if status == Rejected {
		result = reason
	}
	for _, ch := range channels {
		ch <- result
		close(ch)
	}

	spawn := !p.draining && len(p.queue) > 0
	if spawn {
		p.draining = true
	}
	p.mu.Unlock()

	// Watchers run here, on the releasing goroutine, so that sequential
	// settlements of different promises notify in settlement order.
	for _, fn := range watchers {
		fn(status, value, reason)
	}

	if spawn {
		go p.drain()
	}
}

// unwrapThenable returns the inner promise when value is itself a *Promise
// or a *Deferred, else nil.
func unwrapThenable(value Result) *Promise {
	switch v := value.(type) {
	case *Promise:
		return v
	case *Deferred:
		if v != nil {
			return v.promise
		}
	}
	return nil
}

// resolveHeld fulfills the promise with value, withholding continuation
// dispatch until the returned release function runs. If value is a *Promise
// or *Deferred, the promise adopts its settlement instead: adopted
// continuations are driven by the source promise's own dispatch, and release
// is a no-op. Resolving a promise with itself rejects it with a *TypeError.
func (p *Promise) resolveHeld(value Result) (release func()) {
	if source := unwrapThenable(value); source != nil {
		if source == p {
			release, _ := p.settleHeld(Rejected, nil, &TypeError{
				Message: fmt.Sprintf("chaining cycle detected for promise #%d", p.id),
			})
			return release
		}
		source.addHandler(handler{target: p})
		return func() {}
	}

	release, _ = p.settleHeld(Fulfilled, value, nil)
	return release
}

// rejectHeld is the rejection counterpart of resolveHeld.
func (p *Promise) rejectHeld(reason error) (release func()) {
	release, _ = p.settleHeld(Rejected, nil, reason)
	return release
}

// resolve fulfills the promise (or adopts a thenable value) and releases
// continuation dispatch immediately. Settling an already-settled promise has
// no effect.
func (p *Promise) resolve(value Result) {
	p.resolveHeld(value)()
}

// reject rejects the promise and releases continuation dispatch immediately.
func (p *Promise) reject(reason error) {
	p.rejectHeld(reason)()
}

// Then adds handlers to be called when the promise settles.
// Returns a new [Promise] that settles with the result of the handler.
//
// Parameters:
//   - onFulfilled: Handler called with the fulfillment value. Can be nil.
//   - onRejected: Handler called with the rejection reason. Can be nil.
//
// Handler Return Values:
//   - If a handler returns a value, the returned promise fulfills with it
//     (returning a *Promise or *Deferred makes the returned promise adopt
//     that settlement instead).
//   - If a handler panics, the returned promise rejects with a [PanicError].
//   - If a handler is nil, the settlement passes through to the returned
//     promise unchanged.
//
// Attaching a non-nil onRejected marks the rejection as observed for
// unhandled-rejection reporting purposes.
func (p *Promise) Then(onFulfilled func(Result) Result, onRejected func(error) Result) *Promise {
	child := newPromise(p.rep)
	if onRejected != nil {
		p.observed.Store(true)
	}
	p.addHandler(handler{
		onFulfilled: onFulfilled,
		onRejected:  onRejected,
		target:      child,
	})
	return child
}

// Catch adds a rejection handler to the promise.
// Returns a new [Promise] that fulfills with the result of the handler.
//
// This is equivalent to calling Then(nil, onRejected).
//
// Use Catch to recover from errors or transform rejection reasons:
//
//	promise.Catch(func(err error) Result {
//	    return defaultValue // recover
//	})
func (p *Promise) Catch(onRejected func(error) Result) *Promise {
	return p.Then(nil, onRejected)
}

// Finally adds a handler that runs regardless of how the promise settles.
// Returns a new [Promise] that preserves the original settlement.
//
// Unlike Then/Catch, the onFinally callback receives no arguments and its
// return value is ignored. The promise returned by Finally settles with the
// same value or reason as the original promise.
//
// Go-specific behavior: if onFinally panics, the panic value is discarded
// and the original settlement is still propagated to the returned promise.
// This differs from JavaScript's Promise.prototype.finally, where a throw
// inside finally rejects the returned promise with the thrown value. The Go
// convention is that cleanup panics should not silently swallow the original
// result.
//
// Finally marks the rejection outcome as observed.
func (p *Promise) Finally(onFinally func()) *Promise {
	child := newPromise(p.rep)
	p.observed.Store(true)

	if onFinally == nil {
		onFinally = func() {}
	}

	// Run onFinally, then propagate the original settlement. The child is
	// settled manually here; executeHandler's follow-up resolve of the
	// (ignored) return value is a no-op on the already-settled child.
	runFinally := func(value Result, reason error, rejected bool) {
		settle := func() {
			if rejected {
				child.reject(reason)
			} else {
				child.resolve(value)
			}
		}
		defer func() {
			if r := recover(); r != nil {
				settle()
			}
		}()
		onFinally()
		settle()
	}

	p.addHandler(handler{
		onFulfilled: func(v Result) Result {
			runFinally(v, nil, false)
			return nil
		},
		onRejected: func(err error) Result {
			runFinally(nil, err, true)
			return nil
		},
		target: child,
	})

	return child
}

// Await blocks until the promise settles or ctx is done.
//
// Returns (value, nil) on fulfillment, (nil, reason) on rejection, and
// (nil, ctx.Err()) when the context ends first. The promise itself is
// unaffected by context cancellation; Await merely stops waiting.
//
// Await observes the settlement through the dispatch queue, so it unblocks
// strictly after the owning Deferred's notification sequence (and any
// continuations attached earlier) have run. Awaiting marks the rejection
// outcome as observed.
func (p *Promise) Await(ctx context.Context) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.observed.Store(true)

	done := make(chan Settlement, 1)
	p.addHandler(handler{
		onFulfilled: func(v Result) Result {
			done <- Settlement{Status: Fulfilled, Value: v}
			return nil
		},
		onRejected: func(err error) Result {
			done <- Settlement{Status: Rejected, Reason: err}
			return nil
		},
	})

	select {
	case s := <-done:
		if s.Status == Rejected {
			return nil, s.Reason
		}
		return s.Value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ToChannel returns a channel that will receive the result when the promise
// settles. The channel is buffered (capacity 1) and is closed after sending.
// If the promise is already settled, returns a pre-filled channel.
//
// For fulfilled promises the channel carries the value; for rejected
// promises it carries the reason. ToChannel marks the rejection outcome as
// observed.
func (p *Promise) ToChannel() <-chan Result {
	p.observed.Store(true)

	ch := make(chan Result, 1)

	fill := func() {
		if State(p.state.Load()) == Rejected {
			ch <- p.reason
		} else {
			ch <- p.value
		}
		close(ch)
	}

	if p.released.Load() {
		fill()
		return ch
	}

	p.mu.Lock()
	if p.released.Load() {
		p.mu.Unlock()
		fill()
		return ch
	}
	p.channels = append(p.channels, ch)
	p.mu.Unlock()

	return ch
}

// checkUnhandled runs as the final settlement-time queue item of a rejected
// promise, reporting the rejection unless a consumer was attached first.
func (p *Promise) checkUnhandled(reason error) {
	if p.observed.Load() {
		return
	}
	p.rep.reportUnhandled(p.id, reason)
}
