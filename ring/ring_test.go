package ring

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node string

func (n node) Name() string { return string(n) }

func nodes(names ...string) []node {
	var ret []node
	for _, n := range names {
		ret = append(ret, node(n))
	}
	return ret
}

func keys(n int) [][]byte {
	ret := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		ret = append(ret, []byte(fmt.Sprintf("key-%d", i)))
	}
	return ret
}

func owners(t *testing.T, r *Ring[node], keys [][]byte) map[string]node {
	t.Helper()
	ret := make(map[string]node, len(keys))
	for _, k := range keys {
		n, ok := r.Get(k)
		require.True(t, ok)
		ret[string(k)] = n
	}
	return ret
}

func TestEmptyRing(t *testing.T) {
	r := New[node]()
	_, ok := r.Get([]byte("anything"))
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Nodes())
}

func TestAddRemove(t *testing.T) {
	r := New[node]()
	assert.True(t, r.Add("a"))
	assert.False(t, r.Add("a"))
	assert.True(t, r.Add("b"))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, r.Points())
	assert.Equal(t, nodes("a", "b"), r.Nodes())

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.False(t, r.Has("a"))
	assert.True(t, r.Has("b"))

	for _, k := range keys(100) {
		n, ok := r.Get(k)
		require.True(t, ok)
		assert.Equal(t, node("b"), n)
	}
}

func TestReplicas(t *testing.T) {
	r := New[node](WithReplicas(16))
	r.Add("a")
	r.Add("b")
	assert.Equal(t, 16, r.Replicas())
	assert.Equal(t, 32, r.Points())

	r.Remove("a")
	assert.Equal(t, 16, r.Points())

	ignored := New[node](WithReplicas(0))
	assert.Equal(t, 1, ignored.Replicas())
}

func TestGetDeterministic(t *testing.T) {
	for _, name := range []string{"xxhash", "murmur3", "fnv"} {
		t.Run(name, func(t *testing.T) {
			h, err := HashByName(name)
			jtest.RequireNil(t, err)

			r1 := New[node](WithHash(h), WithReplicas(4))
			r2 := New[node](WithHash(h), WithReplicas(4))
			for _, n := range nodes("a", "b", "c", "d") {
				r1.Add(n)
			}
			// Insertion order must not matter.
			for _, n := range nodes("d", "c", "b", "a") {
				r2.Add(n)
			}

			ks := keys(1000)
			assert.Equal(t, owners(t, r1, ks), owners(t, r2, ks))
		})
	}
}

func TestHashByNameUnknown(t *testing.T) {
	_, err := HashByName("md5")
	jtest.Assert(t, ErrUnknownHash, err)
}

func TestMinimalDisruption(t *testing.T) {
	r := New[node](WithReplicas(8))
	for _, n := range nodes("a", "b", "c", "d", "e") {
		r.Add(n)
	}
	ks := keys(5000)
	before := owners(t, r, ks)

	r.Remove("c")
	after := owners(t, r, ks)
	for k, prev := range before {
		if prev == "c" {
			assert.NotEqual(t, node("c"), after[k])
			continue
		}
		assert.Equal(t, prev, after[k], "key %s moved off a live node", k)
	}

	r.Add("f")
	added := owners(t, r, ks)
	for k, prev := range after {
		if added[k] != prev {
			assert.Equal(t, node("f"), added[k], "key %s moved to an old node", k)
		}
	}
}

func TestDistribution(t *testing.T) {
	r := New[node](WithReplicas(100))
	var all []node
	for i := 0; i < 10; i++ {
		n := node(fmt.Sprintf("10.0.0.%d:7000", i))
		all = append(all, n)
		r.Add(n)
	}

	counts := make(map[node]int)
	ks := keys(20_000)
	for _, n := range owners(t, r, ks) {
		counts[n]++
	}
	for _, n := range all {
		assert.Greater(t, counts[n], len(ks)/50, "node %s is starved", n)
	}
}

func TestClone(t *testing.T) {
	r := New[node]()
	r.Add("a")
	c := r.Clone()
	r.Add("b")
	r.Remove("a")

	assert.Equal(t, nodes("a"), c.Nodes())
	assert.Equal(t, nodes("b"), r.Nodes())
	n, ok := c.Get([]byte("x"))
	require.True(t, ok)
	assert.Equal(t, node("a"), n)
}

func TestPointCollisionOrder(t *testing.T) {
	a := &point[node]{value: 7, name: "a", node: "a"}
	b := &point[node]{value: 7, name: "b", node: "b"}
	b1 := &point[node]{value: 7, name: "b", replica: 1, node: "b"}

	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Negative(t, b.Compare(b1))
	assert.Zero(t, a.Compare(a))

	assert.Negative(t, search[node](7).Compare(a))
	assert.Positive(t, search[node](8).Compare(a))
}

func TestRandomMembershipConsistency(t *testing.T) {
	rnd := rand.New(rand.NewSource(0))
	pool := nodes("a", "b", "c", "d", "e", "f", "g", "h")
	m := NewMembership[node](WithReplicas(3))
	ks := keys(200)

	for i := 0; i < 500; i++ {
		var next []node
		for _, n := range pool {
			if rnd.Intn(2) == 0 {
				next = append(next, n)
			}
		}
		m.Apply(next)

		live := make(map[node]bool)
		for _, n := range m.Members() {
			live[n] = true
		}
		require.Len(t, live, len(uniq(next)))

		reached := make(map[node]bool)
		for _, k := range ks {
			n, ok := m.Lookup(k)
			if len(live) == 0 {
				require.False(t, ok)
				continue
			}
			require.True(t, ok)
			require.True(t, live[n], "lookup resolved to %s which is not a member", n)
			reached[n] = true
		}
		assert.Equal(t, m.Members(), m.Ring().Nodes())
		for n := range reached {
			require.True(t, m.Contains(n))
		}
	}
}

func uniq(ns []node) map[node]bool {
	ret := make(map[node]bool)
	for _, n := range ns {
		ret[n] = true
	}
	return ret
}
