// Package tree implements the canonical, content-defined persistent tree
// that backs both collection types: IndexedList treats it as a plain
// sequence of value CIDs (Keys == nil throughout), OrderedMap treats it as
// a key-ordered sequence of (key, value CID) pairs. Every construction and
// mutation funnels through Build so the output DAG depends only on logical
// contents, never on the history of operations that produced it.
package tree

import (
	"errors"

	"github.com/ipfs/go-cid"

	"canon/block"
)

// ErrOutOfBounds is returned when a rank index is negative or past size.
var ErrOutOfBounds = errors.New("tree: index out of bounds")

// Engine bundles the collaborators the tree needs: a block store plus the
// hasher/codec pair new nodes are serialized with.
type Engine struct {
	Store  block.Store
	Hasher block.Hasher
	Codec  block.Codec
}

// Entry is one (key, value) pair of a map collection.
type Entry struct {
	Key   string
	Value cid.Cid
}

func sumCounts(counts []uint32) uint32 {
	var total uint32
	for _, c := range counts {
		total += c
	}
	return total
}

// findPred returns the largest index i such that keys[i] <= key, or -1 if
// every key is greater than key. keys must be sorted ascending.
func findPred(keys []string, key string) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}
