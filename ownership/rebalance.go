package ownership

import (
	"github.com/neuromancer/neuromancer/ident"
	"github.com/neuromancer/neuromancer/ring"
)

// Lookup resolves a key to its live ring owner.
type Lookup[N ring.Node] func(key []byte) (N, bool)

// Rebalance moves every identifier currently owned by a removed node to the
// owner lookup designates for it. The moves are provisional until committed.
// The removed owners' entries are left in place for Prune.
//
// Identifiers are left with their old owner when lookup resolves nothing,
// which only happens while the ring is empty.
func Rebalance[N ring.Node](t *Table[N], removed []N, lookup Lookup[N]) []Move[N] {
	var ids []ident.ID
	from := make(map[ident.ID]N)
	for _, n := range removed {
		for _, id := range t.Current(n) {
			if _, ok := from[id]; ok {
				continue
			}
			from[id] = n
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var moves []Move[N]
	for _, id := range ids {
		to, ok := lookup(ident.Key(id))
		if !ok {
			unplacedCounter.Inc()
			continue
		}
		t.reassign(from[id], to, id)
		moves = append(moves, Move[N]{ID: id, From: from[id], To: to})
	}

	rebalancedCounter.Add(float64(len(moves)))
	return moves
}
