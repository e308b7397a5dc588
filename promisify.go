package deferred

import (
	"context"
)

// Promisify executes the given function in a new goroutine and returns a
// Deferred representing its result. A nil fn is rejected up front with a
// *TypeError; opts are applied exactly as in [New].
//
// It ensures:
//   - Goexit Handler: Even if runtime.Goexit() is called, the deferred is rejected rather than hanging indefinitely.
//   - Context Propagation: The context is passed to the user function, which can use ctx.Done() to detect cancellation.
//   - Pre-cancelled contexts reject with ctx.Err() without calling fn.
//   - Panic Recovery: A panic in fn rejects with PanicError wrapping the recovered value.
//   - First settlement wins: if the caller settles the returned Deferred externally, the goroutine's outcome is discarded.
func Promisify(ctx context.Context, fn func(ctx context.Context) (Result, error), opts ...Option) (*Deferred, error) {
	if fn == nil {
		return nil, &TypeError{Message: "deferred: promisify requires a non-nil function"}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d, err := New(opts...)
	if err != nil {
		return nil, err
	}

	go func() {
		// Completion flag to distinguish normal return from Goexit
		completed := false

		// Respect context cancellation
		select {
		case <-ctx.Done():
			completed = true
			_ = d.Reject(ctx.Err())
			return
		default:
		}

		defer func() {
			if r := recover(); r != nil {
				_ = d.Reject(PanicError{Value: r})
			} else if !completed {
				// Function ended but not via normal return -> Goexit (or panic(nil))
				_ = d.Reject(ErrGoexit)
			}
		}()

		res, err := fn(ctx)
		if err != nil {
			_ = d.Reject(err)
		} else {
			_ = d.Resolve(res)
		}
		completed = true
	}()

	return d, nil
}
