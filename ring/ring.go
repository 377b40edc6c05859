// Package ring implements the membership ring: a consistent-hash ring over
// named nodes and the membership set it is kept in step with.
package ring

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gobwas/avl"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/spaolacci/murmur3"
)

var ErrUnknownHash = errors.New("unknown ring hash", j.C("ERR_6b2f90d4c1e8a573"))

// Node is a ring member. Equality and ordering are defined by Name alone, so
// two values with the same name must compare equal.
type Node interface {
	comparable
	Name() string
}

// HashByName returns the digest constructor for one of "xxhash", "murmur3" or
// "fnv". An empty name selects xxhash.
func HashByName(name string) (func() hash.Hash64, error) {
	switch name {
	case "", "xxhash":
		return func() hash.Hash64 { return xxhash.New() }, nil
	case "murmur3":
		return murmur3.New64, nil
	case "fnv":
		return fnv.New64a, nil
	default:
		return nil, errors.Wrap(ErrUnknownHash, "", j.KV("hash", name))
	}
}

type options struct {
	replicas int
	hash     func() hash.Hash64
}

type Option func(*options)

// WithReplicas sets the number of virtual points per node. Values below one
// are ignored.
func WithReplicas(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.replicas = n
		}
	}
}

// WithHash sets the digest used for points and lookup keys.
func WithHash(fn func() hash.Hash64) Option {
	return func(o *options) {
		if fn != nil {
			o.hash = fn
		}
	}
}

func defaultOptions() options {
	return options{
		replicas: 1,
		hash:     func() hash.Hash64 { return xxhash.New() },
	}
}

// Ring is a consistent-hash ring. Points are held in an immutable AVL tree;
// writers build a new tree and swap the root.
//
// Ring is not safe for concurrent mutation; callers serialize writes.
type Ring[N Node] struct {
	opts options

	// hashPool is a pool of reusable digests.
	hashPool *sync.Pool

	nodes map[N][]*point[N]
	root  avl.Tree // tree<*point>
}

// New returns an empty ring.
func New[N Node](opts ...Option) *Ring[N] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Ring[N]{
		opts:     o,
		hashPool: &sync.Pool{New: func() any { return o.hash() }},
		nodes:    make(map[N][]*point[N]),
	}
}

// Replicas returns the number of points per node.
func (r *Ring[N]) Replicas() int {
	return r.opts.replicas
}

// Add puts n on the ring. It returns false if n is already present.
func (r *Ring[N]) Add(n N) bool {
	if _, ok := r.nodes[n]; ok {
		return false
	}

	name := n.Name()
	root := r.root
	points := make([]*point[N], 0, r.opts.replicas)
	for i := 0; i < r.opts.replicas; i++ {
		p := &point[N]{
			value:   r.digest([]byte(name), suffix(i)),
			name:    name,
			replica: i,
			node:    n,
		}
		root, _ = root.Insert(p)
		points = append(points, p)
	}

	r.nodes[n] = points
	r.root = root
	return true
}

// Remove takes n off the ring. It returns false if n was not present.
func (r *Ring[N]) Remove(n N) bool {
	points, ok := r.nodes[n]
	if !ok {
		return false
	}

	root := r.root
	for _, p := range points {
		root, _ = root.Delete(p)
	}

	delete(r.nodes, n)
	r.root = root
	return true
}

// Get returns the node owning key: the first point clockwise from the key's
// digest. It returns false only when the ring is empty.
func (r *Ring[N]) Get(key []byte) (N, bool) {
	root := r.root
	item := root.Successor(search[N](r.digest(key, nil)))
	if item == nil {
		item = root.Min()
	}
	if item == nil {
		var zero N
		return zero, false
	}
	return item.(*point[N]).node, true
}

// Has returns true if n is on the ring.
func (r *Ring[N]) Has(n N) bool {
	_, ok := r.nodes[n]
	return ok
}

// Len returns the number of nodes on the ring.
func (r *Ring[N]) Len() int {
	return len(r.nodes)
}

// Points returns the number of points on the ring.
func (r *Ring[N]) Points() int {
	return r.root.Size()
}

// Nodes returns the nodes on the ring sorted by name.
func (r *Ring[N]) Nodes() []N {
	ret := make([]N, 0, len(r.nodes))
	for n := range r.nodes {
		ret = append(ret, n)
	}
	sortNodes(ret)
	return ret
}

// Clone returns a copy of the ring that shares the immutable point tree.
func (r *Ring[N]) Clone() *Ring[N] {
	nodes := make(map[N][]*point[N], len(r.nodes))
	for n, points := range r.nodes {
		nodes[n] = points
	}
	return &Ring[N]{
		opts:     r.opts,
		hashPool: r.hashPool,
		nodes:    nodes,
		root:     r.root,
	}
}

func (r *Ring[N]) digest(b, suffix []byte) uint64 {
	h := r.hashPool.Get().(hash.Hash64)
	defer func() {
		h.Reset()
		r.hashPool.Put(h)
	}()

	_, _ = h.Write(b)
	_, _ = h.Write(suffix)
	return h.Sum64()
}

func suffix(replica int) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(replica))
	return b[:]
}

func sortNodes[N Node](nodes []N) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Name() < nodes[j].Name()
	})
}

// point is a virtual replica of a node on the ring. Points with equal digests
// are ordered by node name then replica, so collisions resolve the same way
// on every ring holding the same nodes.
type point[N Node] struct {
	value   uint64
	name    string
	replica int
	node    N
}

func (p *point[N]) Compare(x avl.Item) int {
	q := x.(*point[N])
	if c := compare(p.value, q.value); c != 0 {
		return c
	}
	if c := strings.Compare(p.name, q.name); c != 0 {
		return c
	}
	return p.replica - q.replica
}

// search never compares equal, so the successor of a search is the first
// point with a value at or after it.
type search[N Node] uint64

func (s search[N]) Compare(x avl.Item) int {
	if uint64(s) <= x.(*point[N]).value {
		return -1
	}
	return 1
}

func compare(x0, x1 uint64) int {
	if x0 < x1 {
		return -1
	}
	if x0 > x1 {
		return 1
	}
	return 0
}
