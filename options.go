// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package deferred

import "github.com/joeycumines/logiface"

// RejectionHandler is a callback invoked when a rejected promise still has
// no consumer once its settlement dispatch has drained. The reason parameter
// is the rejection reason. This follows the JavaScript unhandledrejection
// event pattern.
type RejectionHandler func(reason error)

// options holds configuration for Deferred creation.
type options struct {
	executor    Executor
	handlers    Handlers
	logger      *logiface.Logger[logiface.Event]
	metrics     *Metrics
	onUnhandled RejectionHandler
}

// Option configures a [Deferred] instance.
// Options are applied in order during [New] construction.
type Option interface {
	apply(*options) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyFunc func(*options) error
}

func (o *optionImpl) apply(opts *options) error {
	return o.applyFunc(opts)
}

// WithExecutor supplies the construction-time callback. The executor runs
// synchronously during [New], after any [WithHandlers] slots are populated,
// and again against each new instance produced by [Deferred.Reset]. A nil
// executor is the default no-op.
func WithExecutor(executor Executor) Option {
	return &optionImpl{func(opts *options) error {
		opts.executor = executor
		return nil
	}}
}

// WithHandlers pre-populates the handler slots. When given more than once,
// the last set wins in its entirety (it replaces, not merges). The set is
// remembered as the instance's initial handlers and reapplied by
// [Deferred.Reset].
func WithHandlers(handlers Handlers) Option {
	return &optionImpl{func(opts *options) error {
		opts.handlers = handlers
		return nil
	}}
}

// WithLogger attaches a structured logger. Settlements and resets are logged
// at debug level, unhandled rejections at error level. A nil logger (the
// default) disables logging; logiface treats nil loggers as no-ops, so no
// guard is required at call sites.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics attaches a [Metrics] aggregate. The same aggregate may be
// shared by any number of instances; instances produced by [Deferred.Reset]
// inherit it. A nil value disables collection.
func WithMetrics(metrics *Metrics) Option {
	return &optionImpl{func(opts *options) error {
		opts.metrics = metrics
		return nil
	}}
}

// WithUnhandledRejection configures a handler that is invoked when a
// rejected promise has no consumer attached after its settlement dispatch
// drains. Configuring a handler replaces the default behavior of logging the
// rejection (rate limited) through the [WithLogger] logger.
func WithUnhandledRejection(handler RejectionHandler) Option {
	return &optionImpl{func(opts *options) error {
		opts.onUnhandled = handler
		return nil
	}}
}

// resolveOptions applies Option instances to options.
func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
