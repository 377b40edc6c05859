// Package custody drives the transfer of identifier custody between
// librarians after a rebalance.
//
// A transfer is a two-party exchange: the new owner is asked to take custody
// and, once it acknowledges, the provisional ownership is committed. Failed
// transfers are retried under a bounded backoff; transfers that still fail
// stay provisional.
package custody

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/luno/jettison"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
	"golang.org/x/sync/errgroup"

	"github.com/neuromancer/neuromancer/ident"
)

var (
	// ErrRejected marks a transfer the new owner refused. It is not retried.
	ErrRejected = errors.New("custody transfer rejected", j.C("ERR_71f3c8a05e2b94d6"))

	// ErrStale is returned by a CommitFunc when the transfer no longer
	// reflects the current owner of the identifier.
	ErrStale = errors.New("custody transfer is stale", j.C("ERR_c4a9e6208b1f53d7"))
)

// Transfer moves custody of ID from the librarian at From to the librarian
// at To.
type Transfer struct {
	ID   ident.ID
	From string
	To   string
}

// Transferer asks the new owner to accept custody. A nil error is an
// acknowledgement.
type Transferer interface {
	Transfer(ctx context.Context, t Transfer) error
}

// CommitFunc records an acknowledged transfer.
type CommitFunc func(ctx context.Context, t Transfer) error

// LocalTransferer acknowledges every transfer without contacting anyone.
type LocalTransferer struct{}

func (LocalTransferer) Transfer(context.Context, Transfer) error { return nil }

type Options struct {
	// Workers is the number of concurrent transfer workers.
	Workers int

	// QueueSize is the buffer of each worker's queue.
	QueueSize int

	// MaxAttempts bounds the number of times a transfer is tried.
	MaxAttempts uint64

	InitialInterval time.Duration
	MaxInterval     time.Duration

	Log log.Interface
}

func validateOptions(o *Options) {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 128
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.InitialInterval == 0 {
		o.InitialInterval = 50 * time.Millisecond
	}
	if o.MaxInterval == 0 {
		o.MaxInterval = 2 * time.Second
	}
	if o.Log == nil {
		o.Log = noopLogger{}
	}
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...jettison.Option) {}
func (noopLogger) Info(context.Context, string, ...jettison.Option)  {}
func (noopLogger) Error(context.Context, error, ...jettison.Option)  {}

// Dispatcher queues transfers and runs them on a fixed set of workers.
type Dispatcher struct {
	transferer Transferer
	commit     CommitFunc
	opts       Options
	queues     []chan Transfer

	mu sync.Mutex
	// inflight holds the latest queued or running transfer per identifier.
	inflight map[ident.ID]Transfer
}

func NewDispatcher(t Transferer, commit CommitFunc, o Options) *Dispatcher {
	validateOptions(&o)
	queues := make([]chan Transfer, o.Workers)
	for i := range queues {
		queues[i] = make(chan Transfer, o.QueueSize)
	}
	return &Dispatcher{
		transferer: t,
		commit:     commit,
		opts:       o,
		queues:     queues,
		inflight:   make(map[ident.ID]Transfer),
	}
}

// Submit queues transfers without blocking and returns how many were queued.
// A transfer identical to one already queued or running is skipped. A
// transfer whose worker queue is full is dropped and left to the caller to
// submit again.
func (d *Dispatcher) Submit(ts ...Transfer) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var n int
	for _, t := range ts {
		if cur, ok := d.inflight[t.ID]; ok && cur == t {
			continue
		}
		select {
		case d.queues[shardFor(t.ID, len(d.queues))] <- t:
			d.inflight[t.ID] = t
			queuedGauge.Inc()
			n++
		default:
			transferCounter.WithLabelValues("deferred").Inc()
		}
	}
	return n
}

// Inflight returns the number of identifiers with a queued or running
// transfer.
func (d *Dispatcher) Inflight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

func (d *Dispatcher) done(t Transfer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.inflight[t.ID]; ok && cur == t {
		delete(d.inflight, t.ID)
	}
}

// Run runs the workers until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.opts.Log.Debug(ctx, "running custody dispatcher", j.KV("workers", len(d.queues)))
	defer d.opts.Log.Debug(ctx, "stopped custody dispatcher")

	eg, ctx := errgroup.WithContext(ctx)
	for _, q := range d.queues {
		q := q
		eg.Go(func() error {
			return d.work(ctx, q)
		})
	}
	return eg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, q <-chan Transfer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-q:
			queuedGauge.Dec()
			d.process(ctx, t)
			d.done(t)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, t Transfer) {
	kvs := j.MKV{"id": t.ID.String(), "from": t.From, "to": t.To}

	err := d.transfer(ctx, t)
	if errors.Is(err, ErrRejected) {
		transferCounter.WithLabelValues("rejected").Inc()
		d.opts.Log.Error(ctx, errors.Wrap(err, "custody transfer", kvs))
		return
	} else if err != nil {
		// NoReturnErr: The move stays provisional and is submitted again later.
		transferCounter.WithLabelValues("failed").Inc()
		d.opts.Log.Error(ctx, errors.Wrap(err, "custody transfer", kvs))
		return
	}

	err = d.commit(ctx, t)
	if errors.Is(err, ErrStale) {
		transferCounter.WithLabelValues("stale").Inc()
		d.opts.Log.Debug(ctx, "custody transfer superseded", kvs)
		return
	} else if err != nil {
		transferCounter.WithLabelValues("failed").Inc()
		d.opts.Log.Error(ctx, errors.Wrap(err, "commit custody transfer", kvs))
		return
	}

	transferCounter.WithLabelValues("committed").Inc()
	d.opts.Log.Debug(ctx, "custody transferred", kvs)
}

func (d *Dispatcher) transfer(ctx context.Context, t Transfer) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = d.opts.InitialInterval
	expo.MaxInterval = d.opts.MaxInterval
	expo.MaxElapsedTime = 0
	expo.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(expo, d.opts.MaxAttempts-1), ctx)

	return backoff.RetryNotify(func() error {
		err := d.transferer.Transfer(ctx, t)
		if errors.Is(err, ErrRejected) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(error, time.Duration) {
		retryCounter.Inc()
	})
}
