package discovery

import (
	"context"
	"sort"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/neuromancer/neuromancer/checksum"
	"github.com/neuromancer/neuromancer/wire"
)

// Changer applies a full membership list.
type Changer interface {
	ChangeMembership(ctx context.Context, req *wire.MembershipChange) error
}

// Watcher feeds the registered librarians into a Changer.
type Watcher struct {
	cli     *clientv3.Client
	engine  *checksum.Engine
	changer Changer
	opts    Options

	last []string
}

func NewWatcher(cli *clientv3.Client, engine *checksum.Engine, c Changer, o Options) *Watcher {
	validateOptions(&o)
	return &Watcher{cli: cli, engine: engine, changer: c, opts: o}
}

// Run watches the membership until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	return retryLoop(ctx, w.opts, "membership watch", w.watch)
}

func (w *Watcher) watch(ctx context.Context) error {
	watchChan := w.cli.Watch(ctx, w.opts.memberKeyPrefix, clientv3.WithPrefix())
	refresh := time.NewTimer(0)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-watchChan:
			if !ok {
				return errors.New("watch closed")
			}
			if resp.Err() != nil {
				return resp.Err()
			}
			if !anyCreateOrDelete(resp.Events) {
				continue
			}
			w.opts.Log.Debug(ctx, "received librarian member changes")
		case <-refresh.C:
			refresh.Reset(w.opts.Refresh)
		}

		if err := w.sync(ctx); err != nil {
			return err
		}
	}
}

// sync lists the registered librarians with live leases and applies them if
// they differ from the last applied list.
func (w *Watcher) sync(ctx context.Context) error {
	mem, err := listMembers(ctx, w.cli, w.opts.memberKeyPrefix)
	if err != nil {
		return err
	}
	live, err := liveLeases(ctx, w.cli, mem)
	if err != nil {
		return err
	}
	mem, expired := dropExpired(mem, live)
	for _, addr := range expired {
		expiredKeyCounter.Inc()
		w.opts.Log.Info(ctx, "ignoring member key with an expired lease", j.KV("member", addr))
	}
	members := sortedMembers(mem)
	if w.last != nil && equal(members, w.last) {
		return nil
	}

	req := &wire.MembershipChange{Librarians: members}
	if err := wire.Sign(w.engine, req); err != nil {
		return errors.Wrap(err, "sign membership")
	}
	if err := w.changer.ChangeMembership(ctx, req); err != nil {
		// NoReturnErr: Keep watching, the next refresh applies it again.
		w.opts.Log.Error(ctx, errors.Wrap(err, "change membership", j.KV("members", len(members))))
		return nil
	}

	w.last = members
	w.opts.Log.Info(ctx, "applied librarian membership", j.KV("members", len(members)))
	return nil
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// liveLeases returns which of the leases bound to members are still granted.
func liveLeases(ctx context.Context, cli *clientv3.Client, members map[string]member) (map[clientv3.LeaseID]bool, error) {
	ret := make(map[clientv3.LeaseID]bool)
	for _, m := range members {
		if m.Lease == 0 {
			continue
		}
		if _, ok := ret[m.Lease]; ok {
			continue
		}
		resp, err := cli.Lease.TimeToLive(ctx, m.Lease)
		if err != nil {
			return nil, errors.Wrap(err, "lease time to live", j.KV("lease_id", int64(m.Lease)))
		}
		// An expired or revoked lease reports a TTL of -1.
		ret[m.Lease] = resp.TTL > 0
	}
	return ret, nil
}

// dropExpired removes members whose key is bound to a lease that is no
// longer live. Such keys should have been deleted with their lease. Keys put
// without a lease are kept.
func dropExpired(members map[string]member, live map[clientv3.LeaseID]bool) (map[string]member, []string) {
	kept := make(map[string]member, len(members))
	var expired []string
	for addr, m := range members {
		if m.Lease != 0 && !live[m.Lease] {
			expired = append(expired, addr)
			continue
		}
		kept[addr] = m
	}
	sort.Strings(expired)
	return kept, expired
}
