package executor

import (
	"context"
	"time"

	"github.com/luno/jettison"

	"github.com/neuromancer/neuromancer/custody"
	"github.com/neuromancer/neuromancer/guard"
	"github.com/neuromancer/neuromancer/ring"
)

type Logger interface {
	Debug(ctx context.Context, s string, ol ...jettison.Option)
	Info(ctx context.Context, s string, ol ...jettison.Option)
	Error(ctx context.Context, err error, ol ...jettison.Option)
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...jettison.Option) {}
func (noopLogger) Info(context.Context, string, ...jettison.Option)  {}
func (noopLogger) Error(context.Context, error, ...jettison.Option)  {}

type options struct {
	Log Logger

	RingOptions []ring.Option

	GuardPolicy guard.Policy

	Transferer     custody.Transferer
	CustodyOptions custody.Options

	// RetryInterval is how often unacknowledged moves are resubmitted.
	RetryInterval time.Duration
}

type Option func(*options)

// WithLogger sets a logger to be used for logging in the Executor.
// It is also used for the custody dispatcher if not specified in
// CustodyOptions.
func WithLogger(l Logger) Option {
	return func(o *options) {
		o.Log = l
	}
}

// WithRingOptions passes through options to the membership ring.
func WithRingOptions(opts ...ring.Option) Option {
	return func(o *options) {
		o.RingOptions = append(o.RingOptions, opts...)
	}
}

// WithGuardPolicy bounds how long operations wait for the executor's state.
func WithGuardPolicy(p guard.Policy) Option {
	return func(o *options) {
		o.GuardPolicy = p
	}
}

// WithTransferer sets how new owners are asked to take custody of
// rebalanced identifiers. By default every transfer is acknowledged locally.
func WithTransferer(t custody.Transferer) Option {
	return func(o *options) {
		o.Transferer = t
	}
}

// WithCustodyOptions passes through options to the custody dispatcher.
// See custody.Options for more details.
func WithCustodyOptions(co custody.Options) Option {
	return func(o *options) {
		o.CustodyOptions = co
	}
}

// WithRetryInterval sets how often unacknowledged moves are resubmitted
// while the executor is running.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		o.RetryInterval = d
	}
}

func buildOptions(opts []Option) options {
	o := options{
		GuardPolicy:   guard.DefaultPolicy(),
		Transferer:    custody.LocalTransferer{},
		RetryInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Log == nil {
		o.Log = noopLogger{}
	}
	if o.CustodyOptions.Log == nil {
		o.CustodyOptions.Log = o.Log
	}
	return o
}
