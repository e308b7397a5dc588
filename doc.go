// Package deferred provides a JavaScript-style deferred: a promise paired
// with externally callable resolve and reject, with structured settlement
// events, per-event handler slots, combinators, and reuse via reset.
//
// # Architecture
//
// The package is built around three cooperating types. [Deferred] is the
// controller: it owns the settle-once gate, the handler slots, and an
// embedded [EventTarget] through which structured settlement events are
// dispatched. [Promise] is the consumer surface: [Promise.Then],
// [Promise.Catch], [Promise.Finally], [Promise.Await], and
// [Promise.ToChannel] observe the outcome, with full chaining and thenable
// adoption. [EventTarget] is a standalone listener registry with aliased
// verb pairs (AddEventListener/AddListener/On and friends) that is also
// usable on its own.
//
// Settlement is composed, not inherited: a Deferred delegates value storage
// and continuation dispatch to its Promise, and event fan-out to its
// EventTarget.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use:
//   - [Deferred.Resolve] and [Deferred.Reject] may race; exactly one wins
//     and the rest report [ErrAlreadySettled]
//   - Listener registration and removal are safe during dispatch (dispatch
//     iterates a snapshot)
//   - Promise continuations attached after settlement still run, in
//     attachment order, on the promise's dispatch goroutine
//
// # Notification Order
//
// A settlement fires notifications synchronously on the settling goroutine,
// in a fixed order: the statechange event, then the onstatechange slot, then
// the outcome event (fulfilled or rejected) and its slot, then onresolved
// (fulfillment only), then the settled event and the onsettled slot. Promise
// continuations run strictly after all seven steps.
//
// # Usage
//
//	d, err := deferred.New(
//	    deferred.WithHandlers(deferred.Handlers{
//	        OnSettled: func(d *deferred.Deferred, outcome deferred.Settlement) {
//	            fmt.Println("settled:", outcome)
//	        },
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	d.On(deferred.EventFulfilled, func(e *deferred.Event) {
//	    fmt.Println("fulfilled:", e.Detail())
//	})
//
//	go func() {
//	    _ = d.Resolve("done")
//	}()
//
//	value, err := d.Await(context.Background())
//
// # Error Types
//
// The package provides JavaScript-compatible error types:
//   - [TypeError]: for handler-slot and argument validation
//   - [AggregateError]: for [Any] rejections (multi-error, Go 1.20+ compatible)
//   - [PanicError]: wraps recovered panics from executors, handlers, and [Promisify]
//   - [ErrAlreadySettled]: reported by late settle attempts
//   - [ErrGoexit]: rejection reason when a promisified goroutine exits via runtime.Goexit
//
// All error types implement the standard [error] interface, [errors.Unwrap]
// where wrapping applies, and type-based matching via Is().
package deferred
