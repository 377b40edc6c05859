package discovery

import (
	"context"
	"path"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// Registrar keeps a librarian's address registered while it runs.
type Registrar struct {
	cli  *clientv3.Client
	addr string
	opts Options
}

func NewRegistrar(cli *clientv3.Client, addr string, o Options) *Registrar {
	validateOptions(&o)
	return &Registrar{cli: cli, addr: addr, opts: o}
}

// Key returns the etcd key the address is registered under.
func (r *Registrar) Key() string {
	return path.Join(r.opts.memberKeyPrefix, r.addr)
}

// Run registers the address and re-registers it whenever the session is
// lost, until ctx is cancelled. The key is removed on return.
func (r *Registrar) Run(ctx context.Context) error {
	return retryLoop(ctx, r.opts, "librarian registration", r.runOnce)
}

func (r *Registrar) runOnce(ctx context.Context) error {
	sess, err := concurrency.NewSession(r.cli, concurrency.WithTTL(r.opts.TTL))
	if err != nil {
		return errors.Wrap(err, "new etcd session")
	}
	defer func() {
		if err := sess.Close(); err != nil {
			// NoReturnErr: The lease expires on its own.
			r.opts.Log.Error(ctx, errors.Wrap(err, "close session"))
		}
	}()

	if err := putMemberKey(ctx, sess, r.Key()); err != nil {
		return err
	}
	r.opts.Log.Info(ctx, "registered librarian", j.MKV{"key": r.Key(), "etcd_lease": sess.Lease()})

	return watchSession(ctx, sess)
}
