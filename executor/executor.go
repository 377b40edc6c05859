// Package executor implements the routing node that tracks the librarian
// cluster on a consistent-hash ring and keeps identifier ownership balanced
// as the cluster changes.
package executor

import (
	"context"
	"strings"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"golang.org/x/sync/errgroup"

	"github.com/neuromancer/neuromancer/checksum"
	"github.com/neuromancer/neuromancer/custody"
	"github.com/neuromancer/neuromancer/guard"
	"github.com/neuromancer/neuromancer/ident"
	"github.com/neuromancer/neuromancer/ownership"
	"github.com/neuromancer/neuromancer/ring"
	"github.com/neuromancer/neuromancer/wire"
)

var (
	ErrInvalidAddress = errors.New("invalid librarian address", j.C("ERR_5c2d8e01f7a4b369"))
	ErrNoLibrarians   = errors.New("no librarians available", j.C("ERR_a06f4b93d2e87c15"))
)

// Librarian is the address of a librarian, the executor's ring node.
type Librarian string

func (l Librarian) Name() string { return string(l) }

type state struct {
	members *ring.Membership[Librarian]
	table   *ownership.Table[Librarian]
}

func (s *state) repair() {
	s.members.Rebuild()
	s.table.Repair()
}

// Executor owns the membership ring and the ownership table. Both live in a
// single guarded state so a membership change and the rebalance it causes
// happen in one critical section.
type Executor struct {
	engine  *checksum.Engine
	options options

	state   *guard.RW[state]
	changed *Signal
	custody *custody.Dispatcher
}

// New returns an executor that verifies payloads with engine.
// Call Run to start transferring custody of rebalanced identifiers.
func New(engine *checksum.Engine, opts ...Option) *Executor {
	o := buildOptions(opts)
	e := &Executor{
		engine:  engine,
		options: o,
		changed: NewSignal(),
	}
	e.state = guard.New("executor", state{
		members: ring.NewMembership[Librarian](o.RingOptions...),
		table:   ownership.NewTable[Librarian](),
	}, guard.WithPolicy[state](o.GuardPolicy), guard.WithRepair(func(s *state) {
		s.repair()
	}))
	e.custody = custody.NewDispatcher(o.Transferer, e.commit, o.CustodyOptions)
	return e
}

// Engine returns the checksum engine the executor verifies payloads with.
func (e *Executor) Engine() *checksum.Engine {
	return e.engine
}

// Run transfers custody of rebalanced identifiers until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	e.options.Log.Debug(ctx, "running executor")
	defer e.options.Log.Debug(ctx, "stopped executor")

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return e.custody.Run(ctx)
	})
	eg.Go(func() error {
		return e.retryPending(ctx)
	})
	return eg.Wait()
}

// ChangeMembership replaces the librarian membership with the one in req.
//
// The checksum is validated before anything is touched: a token of the wrong
// length fails with checksum.ErrTokenLength, a wrong token with
// checksum.ErrMismatch and a payload that cannot be encoded with
// checksum.ErrEncoding. The membership is then applied and the identifiers of
// removed librarians are rebalanced under the same write. Custody transfers
// for the moved identifiers are queued once the write completes, without
// waiting for queue space.
func (e *Executor) ChangeMembership(ctx context.Context, req *wire.MembershipChange) error {
	err := e.changeMembership(ctx, req)
	changeCounter.WithLabelValues(resultLabel(err)).Inc()
	return err
}

func (e *Executor) changeMembership(ctx context.Context, req *wire.MembershipChange) error {
	if err := wire.Verify(e.engine, req); err != nil {
		return err
	}

	members := make([]Librarian, 0, len(req.Librarians))
	for i, addr := range req.Librarians {
		if strings.TrimSpace(addr) == "" {
			return errors.Wrap(ErrInvalidAddress, "empty address", j.KV("index", i))
		}
		members = append(members, Librarian(addr))
	}

	var (
		removed, added, pruned []Librarian
		moves                  []ownership.Move[Librarian]
		changed                bool
	)
	err := e.state.Write(ctx, func(s *state) error {
		before := s.members.Version()
		removed = s.members.Apply(members)
		added, _ = s.members.LastChange()

		// Owners that were already gone but could not be rebalanced (the
		// ring was empty) are retried along with the newly removed ones.
		orphaned := append([]Librarian(nil), removed...)
		for _, n := range s.table.Stranded(s.members.Contains) {
			if !containsLibrarian(removed, n) {
				orphaned = append(orphaned, n)
			}
		}

		moves = ownership.Rebalance(s.table, orphaned, s.members.Lookup)
		pruned = s.table.Prune(s.members.Contains)
		changed = s.members.Version() != before
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "apply membership")
	}

	if changed {
		e.changed.Broadcast()
		e.options.Log.Info(ctx, "librarian membership changed",
			j.MKV{"added": len(added), "removed": len(removed),
				"moved": len(moves), "pruned": len(pruned)})
	}

	if n := e.custody.Submit(transfers(moves)...); n < len(moves) {
		// Moves that did not fit stay pending and are resubmitted by Run.
		e.options.Log.Info(ctx, "custody transfers deferred",
			j.MKV{"queued": n, "deferred": len(moves) - n})
	}
	return nil
}

// Track assigns id to the librarian the ring designates for it and returns
// that librarian.
func (e *Executor) Track(ctx context.Context, id ident.ID) (Librarian, error) {
	var owner Librarian
	err := e.state.Write(ctx, func(s *state) error {
		if cur, ok := s.table.Owner(id); ok && s.members.Contains(cur) {
			owner = cur
			return nil
		}
		n, ok := s.members.Lookup(ident.Key(id))
		if !ok {
			return ErrNoLibrarians
		}
		s.table.Assign(n, id)
		owner = n
		return nil
	})
	if err != nil {
		return "", err
	}
	return owner, nil
}

// Owner returns the librarian currently holding id.
func (e *Executor) Owner(ctx context.Context, id ident.ID) (Librarian, bool, error) {
	var (
		owner Librarian
		ok    bool
	)
	err := e.state.Read(ctx, func(s state) error {
		owner, ok = s.table.Owner(id)
		return nil
	})
	return owner, ok, err
}

// Route returns the librarian the ring designates for id, whether or not id
// is tracked.
func (e *Executor) Route(ctx context.Context, id ident.ID) (Librarian, error) {
	var owner Librarian
	err := e.state.Read(ctx, func(s state) error {
		n, ok := s.members.Lookup(ident.Key(id))
		if !ok {
			return ErrNoLibrarians
		}
		owner = n
		return nil
	})
	return owner, err
}

// Members returns the current librarians sorted by address.
func (e *Executor) Members(ctx context.Context) ([]Librarian, error) {
	var ret []Librarian
	err := e.state.Read(ctx, func(s state) error {
		ret = s.members.Members()
		return nil
	})
	return ret, err
}

// Snapshot is a consistent view of the executor's state.
type Snapshot struct {
	Version uint64
	Members []Librarian
	Owned   map[Librarian][]ident.ID
	Pending []ownership.Move[Librarian]
}

func (e *Executor) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := e.state.Read(ctx, func(s state) error {
		snap = Snapshot{
			Version: s.members.Version(),
			Members: s.members.Members(),
			Owned:   make(map[Librarian][]ident.ID),
			Pending: s.table.Pending(),
		}
		for _, n := range s.table.Owners() {
			if ids := s.table.Current(n); len(ids) > 0 {
				snap.Owned[n] = ids
			}
		}
		return nil
	})
	return snap, err
}

// Changed returns a channel that is closed on the next membership change.
func (e *Executor) Changed() <-chan struct{} {
	return e.changed.Wait()
}

// commit records an acknowledged custody transfer.
func (e *Executor) commit(ctx context.Context, t custody.Transfer) error {
	return e.state.Write(ctx, func(s *state) error {
		if !s.table.Commit(Librarian(t.To), t.ID) {
			return custody.ErrStale
		}
		return nil
	})
}

// retryPending periodically resubmits moves whose custody was never
// acknowledged.
func (e *Executor) retryPending(ctx context.Context) error {
	t := time.NewTicker(e.options.RetryInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		var pending []ownership.Move[Librarian]
		err := e.state.Read(ctx, func(s state) error {
			pending = s.table.Pending()
			return nil
		})
		if err != nil {
			// NoReturnErr: Try again next tick.
			e.options.Log.Error(ctx, errors.Wrap(err, "read pending moves"))
			continue
		}
		if len(pending) == 0 {
			continue
		}

		n := e.custody.Submit(transfers(pending)...)
		e.options.Log.Debug(ctx, "resubmitted pending custody transfers",
			j.MKV{"pending": len(pending), "queued": n})
	}
}

func transfers(moves []ownership.Move[Librarian]) []custody.Transfer {
	ret := make([]custody.Transfer, 0, len(moves))
	for _, m := range moves {
		ret = append(ret, custody.Transfer{
			ID:   m.ID,
			From: m.From.Name(),
			To:   m.To.Name(),
		})
	}
	return ret
}

func containsLibrarian(ls []Librarian, l Librarian) bool {
	for _, v := range ls {
		if v == l {
			return true
		}
	}
	return false
}
