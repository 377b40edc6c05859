// Package guard provides a multi-reader/single-writer guard around shared
// state that survives panics.
//
// A write that panics leaves the guard poisoned. Instead of wedging every later
// caller, the next acquirer repairs the value (if a repair function was
// provided) and clears the flag, so poisoning degrades to transient contention.
// Acquisition never blocks indefinitely: a busy lock is retried under a bounded
// exponential backoff policy and ErrContended is returned once it is exhausted.
// Waiting writers take precedence over new readers.
package guard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	ErrContended = errors.New("guard acquisition retries exhausted", j.C("ERR_0c6b2e94f1a7d385"))
	ErrPoisoned  = errors.New("guarded write panicked", j.C("ERR_e81f5a2c0d9b4736"))
	ErrPanicked  = errors.New("guarded read panicked", j.C("ERR_9a3d7c15e2f08b64"))

	errBusy = errors.New("lock busy")
)

// Policy bounds how long an acquisition may retry a busy or poisoned lock.
type Policy struct {
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries uint64

	// MaxElapsed is an optional deadline for all retries. Zero disables it.
	MaxElapsed time.Duration

	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy allows roughly a second of retries.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      200,
		MaxElapsed:      time.Second,
		InitialInterval: 10 * time.Microsecond,
		MaxInterval:     10 * time.Millisecond,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsed
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

type Option[T any] func(*RW[T])

// WithPolicy overrides DefaultPolicy.
func WithPolicy[T any](p Policy) Option[T] {
	return func(g *RW[T]) {
		g.policy = p
	}
}

// WithRepair sets the function used to restore the invariants of a value
// left behind by a panicking write.
func WithRepair[T any](fn func(*T)) Option[T] {
	return func(g *RW[T]) {
		g.repair = fn
	}
}

// RW guards a value of type T. Callers only reach the value through Read and
// Write, never by reference.
type RW[T any] struct {
	name   string
	policy Policy
	repair func(*T)

	mu       sync.RWMutex
	poisoned atomic.Bool
	// writers counts writers waiting to acquire. New readers back off while
	// it is non-zero so a steady stream of reads cannot starve a write.
	writers atomic.Int32
	value   T
}

// New returns a guard named name (used for metrics) around v.
func New[T any](name string, v T, opts ...Option[T]) *RW[T] {
	g := &RW[T]{
		name:   name,
		policy: DefaultPolicy(),
		value:  v,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Poisoned returns true if a write panicked and no acquirer has repaired the
// value since.
func (g *RW[T]) Poisoned() bool {
	return g.poisoned.Load()
}

// Read calls fn with the value under a shared lock.
func (g *RW[T]) Read(ctx context.Context, fn func(T) error) (err error) {
	if err := g.acquire(ctx, g.tryRLock, g.mu.RUnlock); err != nil {
		return err
	}
	defer g.mu.RUnlock()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(ErrPanicked, "", j.MKV{"guard": g.name, "panic": fmt.Sprint(r)})
		}
	}()

	return fn(g.value)
}

// Write calls fn with a pointer to the value under an exclusive lock.
// If fn panics the guard is poisoned and ErrPoisoned is returned.
func (g *RW[T]) Write(ctx context.Context, fn func(*T) error) (err error) {
	g.writers.Add(1)
	err = g.acquire(ctx, g.mu.TryLock, g.mu.Unlock)
	g.writers.Add(-1)
	if err != nil {
		return err
	}
	defer g.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			// Flag before unlocking so the next holder repairs first.
			g.poisoned.Store(true)
			poisonCounter.WithLabelValues(g.name).Inc()
			err = errors.Wrap(ErrPoisoned, "", j.MKV{"guard": g.name, "panic": fmt.Sprint(r)})
		}
	}()

	return fn(&g.value)
}

func (g *RW[T]) tryRLock() bool {
	if g.writers.Load() > 0 {
		return false
	}
	return g.mu.TryRLock()
}

// acquire takes the lock with try, retrying under the policy while it is busy
// or poisoned.
func (g *RW[T]) acquire(ctx context.Context, try func() bool, release func()) error {
	attempt := func() error {
		if g.poisoned.Load() {
			g.tryRepair()
			return ErrPoisoned
		}
		if !try() {
			return errBusy
		}
		if g.poisoned.Load() {
			// Lost a race to a poisoning writer.
			release()
			return ErrPoisoned
		}
		return nil
	}

	if attempt() == nil {
		return nil
	}

	err := backoff.RetryNotify(attempt, g.policy.backOff(ctx), func(error, time.Duration) {
		retryCounter.WithLabelValues(g.name).Inc()
	})
	if err == nil {
		return nil
	} else if ctx.Err() != nil {
		return ctx.Err()
	}

	contendedCounter.WithLabelValues(g.name).Inc()
	return errors.Wrap(ErrContended, "", j.MKV{"guard": g.name, "last": err.Error()})
}

// tryRepair repairs a poisoned value if the exclusive lock is free.
func (g *RW[T]) tryRepair() {
	if !g.mu.TryLock() {
		return
	}
	defer g.mu.Unlock()
	if !g.poisoned.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			// NoReturnErr: Stay poisoned, the next acquirer tries again.
			return
		}
		g.poisoned.Store(false)
		repairCounter.WithLabelValues(g.name).Inc()
	}()

	if g.repair != nil {
		g.repair(&g.value)
	}
}
