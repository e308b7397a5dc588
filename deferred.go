package deferred

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
)

// Executor is the construction-time callback of a [Deferred]. It runs
// synchronously during [New] (and again on each [Deferred.Reset], against
// the new instance) and receives the instance's resolve and reject
// functions. An executor panic rejects the Deferred with a [PanicError].
type Executor func(resolve func(Result), reject func(error))

// Handler slot signatures. Slots receive the Deferred itself as their first
// argument; their return values, if any, are not part of the contract, so
// slots return nothing.
type (
	// StateChangeHandler is the onstatechange slot: called for both
	// outcomes, immediately after the statechange event dispatch.
	StateChangeHandler func(d *Deferred, newState, oldState State)

	// FulfilledHandler is the onfulfilled slot (and the onresolved slot,
	// which is its fulfillment-only companion).
	FulfilledHandler func(d *Deferred, value Result)

	// RejectedHandler is the onrejected slot.
	RejectedHandler func(d *Deferred, reason error)

	// SettledHandler is the onsettled slot: called last, for both outcomes.
	SettledHandler func(d *Deferred, outcome Settlement)
)

// Handlers is a construction-time handler-slot set for [WithHandlers].
// Nil fields leave the corresponding slot empty.
type Handlers struct {
	OnStateChange StateChangeHandler
	OnFulfilled   FulfilledHandler
	OnRejected    RejectedHandler
	OnResolved    FulfilledHandler
	OnSettled     SettledHandler
}

// Handler slot names accepted by [Deferred.SetHandler], matching the
// JavaScript property spellings.
const (
	SlotStateChange = "onstatechange"
	SlotFulfilled   = "onfulfilled"
	SlotRejected    = "onrejected"
	SlotResolved    = "onresolved"
	SlotSettled     = "onsettled"
)

// Deferred is a settle-once state controller over a [Promise]: the promise
// is exposed for chaining while Resolve and Reject stay callable from
// outside, and every settlement additionally fans out through a structured
// notification layer.
//
// A Deferred starts Pending and transitions exactly once to Fulfilled (via
// [Deferred.Resolve]) or Rejected (via [Deferred.Reject]). The losing call
// of a race, and every later call, returns [ErrAlreadySettled] and fires
// nothing.
//
// Notification Order:
//
// A successful settlement runs the following sequence synchronously on the
// settling goroutine, interleaving the structured events (dispatched through
// the embedded [EventTarget]) with the single-callback handler slots:
//
//	1. statechange event        (StateChangeDetail)
//	2. onstatechange slot
//	3. fulfilled | rejected event
//	4. onfulfilled | onrejected slot
//	5. onresolved slot          (fulfillment only)
//	6. settled event            (Settlement)
//	7. onsettled slot
//
// Exactly one statechange, one outcome event, and one settled event are
// dispatched per settlement. Slot values are re-read immediately before each
// invocation, so a handler that reassigns a later slot mid-sequence is
// observed. A listener or slot panic propagates to the Resolve/Reject caller
// and aborts the remainder of the sequence; the Deferred and its Promise
// remain settled, and chained continuations still run.
//
// Continuations attached to the inner Promise (Then/Catch/Finally/Await) are
// released only after the notification sequence returns, so both observation
// mechanisms agree on ordering.
//
// Usage:
//
//	d, _ := deferred.New()
//	d.On(deferred.EventSettled, func(e *deferred.Event) {
//	    fmt.Println("settled:", e.Detail())
//	})
//	go func() {
//	    value, err := doWork()
//	    if err != nil {
//	        d.Reject(err)
//	    } else {
//	        d.Resolve(value)
//	    }
//	}()
//	result, err := d.Await(ctx)
//
// Thread Safety:
//
// Deferred is safe for concurrent use. Settlement is serialized by a
// per-instance mutex; exactly one settling call wins.
type Deferred struct {
	*EventTarget

	promise *Promise

	executor Executor
	// initial is the construction-time handler set, reused by Reset.
	initial Handlers

	logger  *logiface.Logger[logiface.Event]
	metrics *Metrics
	rep     *reporter

	// Handler slots, guarded by slotMu. The settlement sequence re-reads
	// each slot right before invoking it, without holding slotMu during the
	// call.
	onStateChange StateChangeHandler
	onFulfilled   FulfilledHandler
	onRejected    RejectedHandler
	onResolved    FulfilledHandler
	onSettled     SettledHandler

	// Settlement record, guarded by mu.
	state  State
	value  Result
	reason error

	createdAt time.Time
	id        uint64

	mu     sync.Mutex
	slotMu sync.RWMutex
}

// New creates a pending Deferred.
//
// The zero-option call is valid and common. [WithExecutor] supplies a
// construction callback, [WithHandlers] pre-populates the handler slots
// (when given more than once, the last one wins), and [WithLogger],
// [WithMetrics], and [WithUnhandledRejection] attach observability. The
// executor runs synchronously before New returns, after the handler slots
// are populated, so an executor that settles immediately still fires the
// configured slots.
func New(opts ...Option) (*Deferred, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return fromOptions(cfg), nil
}

// newDeferred is the internal zero-config constructor used by the
// combinators and Promisify; it cannot fail.
func newDeferred() *Deferred {
	return fromOptions(&options{})
}

func fromOptions(cfg *options) *Deferred {
	d := &Deferred{
		EventTarget: NewEventTarget(),
		executor:    cfg.executor,
		initial:     cfg.handlers,
		logger:      cfg.logger,
		metrics:     cfg.metrics,
		rep:         newReporter(cfg.onUnhandled, cfg.logger, cfg.metrics),
		id:          nextInstanceID(),
		createdAt:   time.Now(),
	}
	d.applyHandlers(cfg.handlers)
	d.promise = newPromise(d.rep)
	d.metrics.addCreated()
	d.runExecutor()
	return d
}

// runExecutor invokes the stored executor against this instance. A panic
// rejects the Deferred; if the executor already settled it, the panic is
// discarded (matching the JavaScript constructor, where a throw after
// settlement is ignored).
func (d *Deferred) runExecutor() {
	if d.executor == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			_ = d.Reject(PanicError{Value: r})
		}
	}()
	d.executor(
		func(value Result) { _ = d.Resolve(value) },
		func(reason error) { _ = d.Reject(reason) },
	)
}

// Resolve transitions the Deferred from Pending to Fulfilled, records value,
// and fires the notification sequence.
//
// Returns [ErrAlreadySettled] without any side effect when the Deferred has
// already settled. Resolving with a *Promise or *Deferred records that
// thenable as the value and fires the fulfillment notifications immediately;
// the inner Promise adopts the thenable's eventual settlement for chaining
// purposes.
//
// Can be called from any goroutine. A panicking event listener or handler
// slot propagates to the caller; the settlement itself is not undone.
func (d *Deferred) Resolve(value Result) error {
	return d.settle(Fulfilled, value, nil)
}

// Reject transitions the Deferred from Pending to Rejected, records reason,
// and fires the notification sequence.
//
// Returns [ErrAlreadySettled] without any side effect when the Deferred has
// already settled. A nil reason is recorded as-is.
//
// Can be called from any goroutine.
func (d *Deferred) Reject(reason error) error {
	return d.settle(Rejected, nil, reason)
}

// settle is the single settlement path behind Resolve and Reject.
func (d *Deferred) settle(status State, value Result, reason error) error {
	d.mu.Lock()
	if d.state != Pending {
		d.mu.Unlock()
		return ErrAlreadySettled
	}
	d.state = status
	d.value = value
	d.reason = reason
	d.mu.Unlock()

	// Propagate to the inner future. Continuation dispatch is withheld
	// until the notification sequence returns; deferring the release also
	// covers listener panics, so the Promise settles regardless.
	var release func()
	if status == Fulfilled {
		release = d.promise.resolveHeld(value)
	} else {
		release = d.promise.rejectHeld(reason)
	}
	defer release()

	d.recordSettled(status, value, reason)
	d.fireSettlement(status, value, reason)
	return nil
}

// recordSettled updates metrics and emits the settlement debug log. It runs
// before the notification sequence so the record survives listener panics.
func (d *Deferred) recordSettled(status State, value Result, reason error) {
	if status == Fulfilled {
		d.metrics.addFulfilled()
	} else {
		d.metrics.addRejected()
	}
	d.metrics.recordSettleLatency(time.Since(d.createdAt))
	d.logSettled(status, value, reason)
}

// fireSettlement is the single fire-occurrence routine: every settlement,
// fulfilled or rejected, flows through here exactly once. The outcome
// payload is computed once and feeds both notification mechanisms.
func (d *Deferred) fireSettlement(status State, value Result, reason error) {
	outcome := Settlement{Status: status, Value: value, Reason: reason}

	d.dispatchSettlementEvent(newStateChangeEvent(Pending, status))
	if fn := d.stateChangeSlot(); fn != nil {
		d.metrics.addSlotInvoked()
		fn(d, status, Pending)
	}

	if status == Fulfilled {
		d.dispatchSettlementEvent(newFulfilledEvent(value))
		if fn := d.fulfilledSlot(); fn != nil {
			d.metrics.addSlotInvoked()
			fn(d, value)
		}
		if fn := d.resolvedSlot(); fn != nil {
			d.metrics.addSlotInvoked()
			fn(d, value)
		}
	} else {
		d.dispatchSettlementEvent(newRejectedEvent(reason))
		if fn := d.rejectedSlot(); fn != nil {
			d.metrics.addSlotInvoked()
			fn(d, reason)
		}
	}

	d.dispatchSettlementEvent(newSettledEvent(outcome))
	if fn := d.settledSlot(); fn != nil {
		d.metrics.addSlotInvoked()
		fn(d, outcome)
	}
}

func (d *Deferred) dispatchSettlementEvent(event *Event) {
	d.metrics.addEventDispatched()
	d.DispatchEvent(event)
}

// State returns the current [State].
func (d *Deferred) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Value returns the fulfillment value if the Deferred is fulfilled.
// Returns nil if it is pending or rejected.
func (d *Deferred) Value() Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Fulfilled {
		return d.value
	}
	return nil
}

// Reason returns the rejection reason if the Deferred is rejected.
// Returns nil if it is pending or fulfilled.
func (d *Deferred) Reason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Rejected {
		return d.reason
	}
	return nil
}

// Promise returns the inner promise for chaining and handoff. The promise
// has no public settle operations; only this Deferred settles it.
func (d *Deferred) Promise() *Promise {
	return d.promise
}

// Then forwards to the inner promise's [Promise.Then].
func (d *Deferred) Then(onFulfilled func(Result) Result, onRejected func(error) Result) *Promise {
	return d.promise.Then(onFulfilled, onRejected)
}

// Catch forwards to the inner promise's [Promise.Catch].
func (d *Deferred) Catch(onRejected func(error) Result) *Promise {
	return d.promise.Catch(onRejected)
}

// Finally forwards to the inner promise's [Promise.Finally].
func (d *Deferred) Finally(onFinally func()) *Promise {
	return d.promise.Finally(onFinally)
}

// Await forwards to the inner promise's [Promise.Await].
func (d *Deferred) Await(ctx context.Context) (Result, error) {
	return d.promise.Await(ctx)
}

// ToChannel forwards to the inner promise's [Promise.ToChannel].
func (d *Deferred) ToChannel() <-chan Result {
	return d.promise.ToChannel()
}

// Reset returns a new pending Deferred wired like this one: the executor and
// the construction-time handler set carry over, and every currently
// registered event listener is copied by reference (listener IDs are
// preserved). The receiver is not mutated; its state, value, and listeners
// remain intact. The executor, if any, runs against the new instance before
// Reset returns.
func (d *Deferred) Reset() *Deferred {
	next := &Deferred{
		EventTarget: d.EventTarget.clone(),
		executor:    d.executor,
		initial:     d.initial,
		logger:      d.logger,
		metrics:     d.metrics,
		rep:         d.rep,
		id:          nextInstanceID(),
		createdAt:   time.Now(),
	}
	next.applyHandlers(d.initial)
	next.promise = newPromise(next.rep)
	next.metrics.addCreated()
	next.metrics.addReset()
	d.logReset(next)
	next.runExecutor()
	return next
}

// applyHandlers populates the handler slots from h.
func (d *Deferred) applyHandlers(h Handlers) {
	d.slotMu.Lock()
	d.onStateChange = h.OnStateChange
	d.onFulfilled = h.OnFulfilled
	d.onRejected = h.OnRejected
	d.onResolved = h.OnResolved
	d.onSettled = h.OnSettled
	d.slotMu.Unlock()
}

// Handlers returns a snapshot of the current handler slots.
func (d *Deferred) Handlers() Handlers {
	d.slotMu.RLock()
	defer d.slotMu.RUnlock()
	return Handlers{
		OnStateChange: d.onStateChange,
		OnFulfilled:   d.onFulfilled,
		OnRejected:    d.onRejected,
		OnResolved:    d.onResolved,
		OnSettled:     d.onSettled,
	}
}

// SetOnStateChange sets the onstatechange slot. Setting replaces any
// previous value; nil clears.
func (d *Deferred) SetOnStateChange(fn StateChangeHandler) {
	d.slotMu.Lock()
	d.onStateChange = fn
	d.slotMu.Unlock()
}

// SetOnFulfilled sets the onfulfilled slot.
func (d *Deferred) SetOnFulfilled(fn FulfilledHandler) {
	d.slotMu.Lock()
	d.onFulfilled = fn
	d.slotMu.Unlock()
}

// SetOnRejected sets the onrejected slot.
func (d *Deferred) SetOnRejected(fn RejectedHandler) {
	d.slotMu.Lock()
	d.onRejected = fn
	d.slotMu.Unlock()
}

// SetOnResolved sets the onresolved slot, the fulfillment-only companion of
// onfulfilled: it fires after onfulfilled, only when the Deferred resolves.
func (d *Deferred) SetOnResolved(fn FulfilledHandler) {
	d.slotMu.Lock()
	d.onResolved = fn
	d.slotMu.Unlock()
}

// SetOnSettled sets the onsettled slot.
func (d *Deferred) SetOnSettled(fn SettledHandler) {
	d.slotMu.Lock()
	d.onSettled = fn
	d.slotMu.Unlock()
}

func (d *Deferred) stateChangeSlot() StateChangeHandler {
	d.slotMu.RLock()
	defer d.slotMu.RUnlock()
	return d.onStateChange
}

func (d *Deferred) fulfilledSlot() FulfilledHandler {
	d.slotMu.RLock()
	defer d.slotMu.RUnlock()
	return d.onFulfilled
}

func (d *Deferred) rejectedSlot() RejectedHandler {
	d.slotMu.RLock()
	defer d.slotMu.RUnlock()
	return d.onRejected
}

func (d *Deferred) resolvedSlot() FulfilledHandler {
	d.slotMu.RLock()
	defer d.slotMu.RUnlock()
	return d.onResolved
}

func (d *Deferred) settledSlot() SettledHandler {
	d.slotMu.RLock()
	defer d.slotMu.RUnlock()
	return d.onSettled
}

// SetHandler assigns a handler slot by its JavaScript property name
// ("onstatechange", "onfulfilled", "onrejected", "onresolved", "onsettled").
//
// fn may be nil (clears the slot), the slot's named handler type, or a plain
// function with the matching signature. Anything else, and any unknown slot
// name, returns a *TypeError synchronously; the slot is left unchanged.
func (d *Deferred) SetHandler(slot string, fn any) error {
	switch slot {
	case SlotStateChange:
		switch f := fn.(type) {
		case nil:
			d.SetOnStateChange(nil)
		case StateChangeHandler:
			d.SetOnStateChange(f)
		case func(*Deferred, State, State):
			d.SetOnStateChange(f)
		default:
			return slotTypeError(slot, "func(*Deferred, State, State)", fn)
		}
	case SlotFulfilled:
		switch f := fn.(type) {
		case nil:
			d.SetOnFulfilled(nil)
		case FulfilledHandler:
			d.SetOnFulfilled(f)
		case func(*Deferred, Result):
			d.SetOnFulfilled(f)
		default:
			return slotTypeError(slot, "func(*Deferred, Result)", fn)
		}
	case SlotRejected:
		switch f := fn.(type) {
		case nil:
			d.SetOnRejected(nil)
		case RejectedHandler:
			d.SetOnRejected(f)
		case func(*Deferred, error):
			d.SetOnRejected(f)
		default:
			return slotTypeError(slot, "func(*Deferred, error)", fn)
		}
	case SlotResolved:
		switch f := fn.(type) {
		case nil:
			d.SetOnResolved(nil)
		case FulfilledHandler:
			d.SetOnResolved(f)
		case func(*Deferred, Result):
			d.SetOnResolved(f)
		default:
			return slotTypeError(slot, "func(*Deferred, Result)", fn)
		}
	case SlotSettled:
		switch f := fn.(type) {
		case nil:
			d.SetOnSettled(nil)
		case SettledHandler:
			d.SetOnSettled(f)
		case func(*Deferred, Settlement):
			d.SetOnSettled(f)
		default:
			return slotTypeError(slot, "func(*Deferred, Settlement)", fn)
		}
	default:
		return &TypeError{Message: fmt.Sprintf("deferred: unknown handler slot %q", slot)}
	}
	return nil
}

func slotTypeError(slot, want string, got any) error {
	return &TypeError{Message: fmt.Sprintf("deferred: handler for %s must be %s, got %T", slot, want, got)}
}

// Settler is the settling capability of a [Deferred].
type Settler interface {
	Resolve(value Result) error
	Reject(reason error) error
}

// Awaitable is the consuming capability of a [Deferred].
type Awaitable interface {
	Await(ctx context.Context) (Result, error)
}

// Is reports whether v presents the Deferred capability set: externally
// callable Resolve/Reject plus an awaitable future. This is a structural
// check, not a type identity check, so third-party implementations satisfy
// it too.
func Is(v any) bool {
	_, settler := v.(Settler)
	_, awaitable := v.(Awaitable)
	return settler && awaitable
}

// String implements [fmt.Stringer], e.g. "Deferred(fulfilled: 42)".
func (d *Deferred) String() string {
	d.mu.Lock()
	state, value, reason := d.state, d.value, d.reason
	d.mu.Unlock()

	switch state {
	case Fulfilled:
		return fmt.Sprintf("Deferred(fulfilled: %v)", value)
	case Rejected:
		return fmt.Sprintf("Deferred(rejected: %v)", reason)
	default:
		return "Deferred(pending)"
	}
}
