package ring

// Membership is the set of known nodes together with the ring built over
// them. The set always equals the nodes on the ring.
//
// Membership is not safe for concurrent use; it is meant to live behind a
// guard.
type Membership[N Node] struct {
	opts []Option
	set  map[N]struct{}
	ring *Ring[N]

	version uint64
	added   []N
	removed []N
}

// NewMembership returns an empty membership whose ring is built with opts.
func NewMembership[N Node](opts ...Option) *Membership[N] {
	return &Membership[N]{
		opts: opts,
		set:  make(map[N]struct{}),
		ring: New[N](opts...),
	}
}

// Apply replaces the membership with members, the full desired list, and
// returns the nodes that were removed sorted by name. Duplicates in members
// collapse to one node. An empty list drains the ring.
//
// Apply never rebalances; the caller owns what happens to the removed nodes.
func (m *Membership[N]) Apply(members []N) []N {
	next := make(map[N]struct{}, len(members))
	for _, n := range members {
		next[n] = struct{}{}
	}

	var added, removed []N
	if IsSuperset(next, m.set) {
		added = Difference(next, m.set)
	} else {
		for _, n := range SymmetricDifference(next, m.set) {
			if _, ok := m.set[n]; ok {
				removed = append(removed, n)
			} else {
				added = append(added, n)
			}
		}
	}
	sortNodes(added)
	sortNodes(removed)

	for _, n := range removed {
		m.ring.Remove(n)
		delete(m.set, n)
	}
	for _, n := range added {
		m.ring.Add(n)
		m.set[n] = struct{}{}
	}

	m.added, m.removed = added, removed
	if len(added) > 0 || len(removed) > 0 {
		m.version++
	}

	membersGauge.Set(float64(len(m.set)))
	applyCounter.WithLabelValues(applyResult(added, removed)).Inc()

	return removed
}

// LastChange returns the nodes added and removed by the latest Apply.
func (m *Membership[N]) LastChange() (added, removed []N) {
	return m.added, m.removed
}

// Version is incremented by every Apply that changes the membership.
func (m *Membership[N]) Version() uint64 {
	return m.version
}

// Lookup returns the live node owning key.
func (m *Membership[N]) Lookup(key []byte) (N, bool) {
	return m.ring.Get(key)
}

// Members returns the current members sorted by name.
func (m *Membership[N]) Members() []N {
	ret := make([]N, 0, len(m.set))
	for n := range m.set {
		ret = append(ret, n)
	}
	sortNodes(ret)
	return ret
}

func (m *Membership[N]) Contains(n N) bool {
	_, ok := m.set[n]
	return ok
}

func (m *Membership[N]) Len() int {
	return len(m.set)
}

// Ring returns a copy of the current ring.
func (m *Membership[N]) Ring() *Ring[N] {
	return m.ring.Clone()
}

// Rebuild restores the ring from the membership set. It is used to repair a
// membership left behind by an interrupted Apply.
func (m *Membership[N]) Rebuild() {
	m.ring = New[N](m.opts...)
	for n := range m.set {
		m.ring.Add(n)
	}
	membersGauge.Set(float64(len(m.set)))
}

func applyResult[N Node](added, removed []N) string {
	if len(added) == 0 && len(removed) == 0 {
		return "unchanged"
	}
	return "changed"
}
