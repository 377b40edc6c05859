// Package ownership tracks which node owns which identifiers and moves the
// identifiers of departed nodes to their new ring owners.
package ownership

import (
	"bytes"
	"sort"

	"github.com/neuromancer/neuromancer/ident"
	"github.com/neuromancer/neuromancer/ring"
)

// Move records the reassignment of an identifier between owners.
type Move[N ring.Node] struct {
	ID   ident.ID
	From N
	To   N
}

type entry[N ring.Node] struct {
	ids []ident.ID
	set map[ident.ID]struct{}

	// pending holds ids whose custody the owner has not acknowledged yet,
	// mapped to the owner they were moved from.
	pending map[ident.ID]N
}

func newEntry[N ring.Node]() *entry[N] {
	return &entry[N]{
		set:     make(map[ident.ID]struct{}),
		pending: make(map[ident.ID]N),
	}
}

func (e *entry[N]) add(id ident.ID) {
	if _, ok := e.set[id]; ok {
		return
	}
	e.set[id] = struct{}{}
	e.ids = append(e.ids, id)
}

func (e *entry[N]) remove(id ident.ID) {
	if _, ok := e.set[id]; !ok {
		return
	}
	delete(e.set, id)
	delete(e.pending, id)
	for i, v := range e.ids {
		if v == id {
			e.ids = append(e.ids[:i], e.ids[i+1:]...)
			break
		}
	}
}

// Table maps owners to the identifiers they hold.
//
// Each identifier has exactly one current owner, recorded in an index. The
// entry of an owner that was removed from the ring keeps its identifiers
// after they are rebalanced elsewhere until Prune drops it.
//
// Table is not safe for concurrent use; it is meant to live behind a guard.
type Table[N ring.Node] struct {
	entries map[N]*entry[N]
	index   map[ident.ID]N
}

func NewTable[N ring.Node]() *Table[N] {
	return &Table[N]{
		entries: make(map[N]*entry[N]),
		index:   make(map[ident.ID]N),
	}
}

// Assign makes owner the committed owner of id. It returns the previous
// owner if id was held elsewhere.
func (t *Table[N]) Assign(owner N, id ident.ID) (prev N, moved bool) {
	prev, ok := t.index[id]
	if ok && prev == owner {
		delete(t.entries[owner].pending, id)
		return prev, false
	}
	if ok {
		t.entries[prev].remove(id)
	}

	t.entry(owner).add(id)
	t.index[id] = owner
	return prev, ok
}

// reassign moves id to owner provisionally, leaving the previous owner's
// entry untouched.
func (t *Table[N]) reassign(from, to N, id ident.ID) {
	e := t.entry(to)
	e.add(id)
	e.pending[id] = from
	t.index[id] = to
}

func (t *Table[N]) entry(owner N) *entry[N] {
	e, ok := t.entries[owner]
	if !ok {
		e = newEntry[N]()
		t.entries[owner] = e
	}
	return e
}

// Owner returns the current owner of id.
func (t *Table[N]) Owner(id ident.ID) (N, bool) {
	n, ok := t.index[id]
	return n, ok
}

// Owned returns the identifiers listed under owner in the order they were
// added. For an owner that has been rebalanced away this includes ids that
// now belong to someone else.
func (t *Table[N]) Owned(owner N) []ident.ID {
	e, ok := t.entries[owner]
	if !ok {
		return nil
	}
	return append([]ident.ID(nil), e.ids...)
}

// Current returns the identifiers whose current owner is owner.
func (t *Table[N]) Current(owner N) []ident.ID {
	e, ok := t.entries[owner]
	if !ok {
		return nil
	}
	var ret []ident.ID
	for _, id := range e.ids {
		if t.index[id] == owner {
			ret = append(ret, id)
		}
	}
	return ret
}

// Commit marks the custody of id by owner as acknowledged. It returns false
// if owner is no longer the current owner of id or if id was not pending.
func (t *Table[N]) Commit(owner N, id ident.ID) bool {
	if cur, ok := t.index[id]; !ok || cur != owner {
		return false
	}
	e := t.entries[owner]
	if _, ok := e.pending[id]; !ok {
		return false
	}
	delete(e.pending, id)
	return true
}

// IsPending returns true if the custody of id has not been acknowledged by
// its current owner.
func (t *Table[N]) IsPending(id ident.ID) bool {
	owner, ok := t.index[id]
	if !ok {
		return false
	}
	_, ok = t.entries[owner].pending[id]
	return ok
}

// Pending returns the unacknowledged moves ordered by destination then id.
func (t *Table[N]) Pending() []Move[N] {
	var ret []Move[N]
	for owner, e := range t.entries {
		for id, from := range e.pending {
			if t.index[id] != owner {
				continue
			}
			ret = append(ret, Move[N]{ID: id, From: from, To: owner})
		}
	}
	sortMoves(ret)
	return ret
}

// Stranded returns the owners that are not live but are still the current
// owner of at least one identifier, sorted by name.
func (t *Table[N]) Stranded(live func(N) bool) []N {
	seen := make(map[N]struct{})
	for _, owner := range t.index {
		if live(owner) {
			continue
		}
		seen[owner] = struct{}{}
	}
	ret := make([]N, 0, len(seen))
	for n := range seen {
		ret = append(ret, n)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Name() < ret[j].Name()
	})
	return ret
}

// Prune drops the entries of owners that are not live and no longer the
// current owner of any identifier. It returns the dropped owners.
func (t *Table[N]) Prune(live func(N) bool) []N {
	var ret []N
	for owner, e := range t.entries {
		if live(owner) {
			continue
		}
		if t.holds(owner, e) {
			continue
		}
		delete(t.entries, owner)
		ret = append(ret, owner)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Name() < ret[j].Name()
	})
	return ret
}

func (t *Table[N]) holds(owner N, e *entry[N]) bool {
	for _, id := range e.ids {
		if t.index[id] == owner {
			return true
		}
	}
	return false
}

// Owners returns the owners that have an entry, sorted by name.
func (t *Table[N]) Owners() []N {
	ret := make([]N, 0, len(t.entries))
	for n := range t.entries {
		ret = append(ret, n)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Name() < ret[j].Name()
	})
	return ret
}

// Len returns the number of identifiers in the table.
func (t *Table[N]) Len() int {
	return len(t.index)
}

// Repair restores the table's invariants after an interrupted write: every
// indexed identifier is listed under its owner and pending marks only cover
// identifiers their entry currently owns.
func (t *Table[N]) Repair() {
	for _, e := range t.entries {
		e.set = make(map[ident.ID]struct{}, len(e.ids))
		ids := e.ids[:0]
		for _, id := range e.ids {
			if _, ok := e.set[id]; ok {
				continue
			}
			e.set[id] = struct{}{}
			ids = append(ids, id)
		}
		e.ids = ids
	}
	for id, owner := range t.index {
		t.entry(owner).add(id)
	}
	for owner, e := range t.entries {
		for id := range e.pending {
			if t.index[id] != owner {
				delete(e.pending, id)
			}
		}
	}
}

func sortMoves[N ring.Node](moves []Move[N]) {
	sort.Slice(moves, func(i, j int) bool {
		if a, b := moves[i].To.Name(), moves[j].To.Name(); a != b {
			return a < b
		}
		return bytes.Compare(moves[i].ID[:], moves[j].ID[:]) < 0
	})
}
