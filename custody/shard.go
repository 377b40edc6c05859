package custody

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/dgryski/go-jump"

	"github.com/neuromancer/neuromancer/ident"
)

// shardFor allocates identifiers to workers (somewhat) evenly. All transfers
// of one identifier land on the same worker so they are applied in order.
func shardFor(id ident.ID, workers int) int {
	if workers <= 0 {
		return -1
	}

	// Convert the identifier to a uint64 hash key
	h := fnv.New64a()
	_, _ = h.Write(id[:])
	b := h.Sum(nil)
	key := binary.BigEndian.Uint64(b[len(b)-8:])

	// Hash the key to a worker
	return int(jump.Hash(key, workers))
}
