// Package discovery keeps an executor's librarian membership in step with the
// librarians registered in etcd.
//
// Each librarian holds a key under <prefix>/members/ bound to its session
// lease, so the key disappears when the librarian dies. Executors watch the
// prefix and feed the full member list into their membership change handler,
// making etcd the single authoritative membership stream.
package discovery

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/luno/jettison"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

var ErrMemberAlreadyExists = errors.New("member key already exists", j.C("ERR_b93e2f60a17c4d85"))

type Options struct {
	// Prefix namespaces the keys of one fleet.
	Prefix string

	// Refresh is how often the member list is re-read without a watch event.
	Refresh time.Duration

	// Retry is how long to wait before re-establishing a failed session or
	// watch.
	Retry time.Duration

	// TTL is the session lease TTL in seconds.
	TTL int

	Log log.Interface

	memberKeyPrefix string
}

func validateOptions(o *Options) {
	if o.Prefix == "" {
		o.Prefix = "neuromancer"
	}
	if o.Refresh == 0 {
		o.Refresh = time.Minute
	}
	if o.Retry == 0 {
		o.Retry = 10 * time.Second
	}
	if o.TTL == 0 {
		o.TTL = 10
	}
	if o.Log == nil {
		o.Log = noopLogger{}
	}
	o.memberKeyPrefix = path.Join(o.Prefix, "members") + "/"
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...jettison.Option) {}
func (noopLogger) Info(context.Context, string, ...jettison.Option)  {}
func (noopLogger) Error(context.Context, error, ...jettison.Option)  {}

// NewClient connects to etcd.
func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:            endpoints,
		DialTimeout:          dialTimeout,
		DialKeepAliveTime:    10 * time.Second,
		DialKeepAliveTimeout: dialTimeout,
		Logger:               zap.NewNop(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "new etcd client", j.KV("endpoints", strings.Join(endpoints, ",")))
	}
	return cli, nil
}

// retryLoop calls fn until ctx is cancelled, waiting o.Retry between failed
// attempts.
func retryLoop(ctx context.Context, o Options, name string, fn func(context.Context) error) error {
	o.Log.Debug(ctx, "running "+name)
	defer o.Log.Debug(ctx, "stopped "+name)

	for ctx.Err() == nil {
		err := fn(ctx)
		if err != nil && !errors.IsAny(err, context.Canceled) {
			o.Log.Error(ctx, errors.Wrap(err, "running "+name))
		}
		select {
		case <-ctx.Done():
		case <-time.After(o.Retry):
		}
	}
	return ctx.Err()
}

func putMemberKey(ctx context.Context, sess *concurrency.Session, key string) error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	cmp := clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
	// If the key doesn't exist, we'll put it with our lease
	put := clientv3.OpPut(key, ts, clientv3.WithLease(sess.Lease()))
	// If it does exist, let's get it, so we can see who owns it
	get := clientv3.OpGet(key)
	resp, err := sess.Client().Txn(ctx).If(cmp).Then(put).Else(get).Commit()
	if err != nil {
		return errors.Wrap(err, "put member key")
	}
	if !resp.Succeeded {
		owner := resp.Responses[0].GetResponseRange().Kvs[0].Lease
		return errors.Wrap(ErrMemberAlreadyExists, "", j.MKV{
			"owner_lease": owner,
			"member_key":  key,
			"my_lease":    sess.Lease(),
		})
	}
	return nil
}

// member is a registered librarian key.
type member struct {
	Joined time.Time
	Lease  clientv3.LeaseID
}

// listMembers returns the registered addresses with when they joined and the
// lease their key is bound to.
func listMembers(ctx context.Context, client *clientv3.Client, prefix string) (map[string]member, error) {
	resp, err := client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "etcd get members")
	}

	ret := make(map[string]member, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ts, err := strconv.ParseInt(string(kv.Value), 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid member value", j.MKV{
				"key":   string(kv.Key),
				"value": string(kv.Value),
			})
		}
		mem := strings.TrimPrefix(string(kv.Key), prefix)
		ret[mem] = member{Joined: time.UnixMilli(ts), Lease: clientv3.LeaseID(kv.Lease)}
	}
	return ret, nil
}

func sortedMembers(m map[string]member) []string {
	ret := make([]string, 0, len(m))
	for addr := range m {
		ret = append(ret, addr)
	}
	sort.Strings(ret)
	return ret
}

func anyCreateOrDelete(events []*clientv3.Event) bool {
	for _, ev := range events {
		if !ev.IsModify() {
			return true
		}
	}
	return false
}

func watchSession(ctx context.Context, sess *concurrency.Session) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sess.Done():
		return errors.New("etcd lease expired")
	}
}
