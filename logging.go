package deferred

import (
	"fmt"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// unhandledRejectionRates bounds how often unhandled rejections are logged,
// per reason category, so a rejection storm cannot flood the log.
var unhandledRejectionRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 30,
}

// reporter delivers unhandled-rejection reports for a Deferred and every
// Promise derived from it. A nil reporter disables tracking entirely;
// methods are nil-safe.
type reporter struct {
	handler RejectionHandler
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
	metrics *Metrics
}

// newReporter returns nil when no reporting sink is configured. The log
// limiter exists only on the default (logging) path; a configured handler
// receives every report unthrottled.
func newReporter(handler RejectionHandler, logger *logiface.Logger[logiface.Event], metrics *Metrics) *reporter {
	if handler == nil && logger == nil && metrics == nil {
		return nil
	}
	r := &reporter{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
	if handler == nil && logger != nil {
		r.limiter = catrate.NewLimiter(unhandledRejectionRates)
	}
	return r
}

// reportUnhandled delivers a single unhandled-rejection report. Rejections
// are categorized by reason type for rate limiting, so one noisy error type
// cannot drown out reports of a different type.
func (r *reporter) reportUnhandled(promiseID uint64, reason error) {
	if r == nil {
		return
	}
	r.metrics.addUnhandledRejection()

	if r.handler != nil {
		r.handler(reason)
		return
	}

	if _, ok := r.limiter.Allow(rejectionCategory(reason)); !ok {
		return
	}
	r.logger.Err().
		Uint64("promise", promiseID).
		Err(reason).
		Log("unhandled rejection")
}

// rejectionCategory derives the rate-limit category for a rejection reason.
// The dynamic type is a better storm signature than the message, which often
// varies per occurrence.
func rejectionCategory(reason error) string {
	if reason == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", reason)
}

// logSettled emits the settlement debug log. Safe with no logger configured.
func (d *Deferred) logSettled(status State, value Result, reason error) {
	b := d.logger.Debug().
		Uint64("deferred", d.id).
		Stringer("state", status)
	if status == Fulfilled {
		b = b.Interface("value", value)
	} else {
		b = b.Err(reason)
	}
	b.Log("deferred settled")
}

// logReset emits the reset debug log, linking the old and new instances.
func (d *Deferred) logReset(next *Deferred) {
	d.logger.Debug().
		Uint64("deferred", d.id).
		Uint64("next", next.id).
		Int("listeners", next.totalListeners()).
		Log("deferred reset")
}
