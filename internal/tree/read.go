package tree

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"

	"canon/internal/treenode"
)

// Size returns the total element count reachable from root. It reads only
// the root node.
func (e Engine) Size(ctx context.Context, root cid.Cid) (uint64, error) {
	f, err := treenode.Decode(ctx, e.Store, e.Codec, root)
	if err != nil {
		return 0, err
	}
	return uint64(sumCounts(f.Counts)), nil
}

// At returns the item CID at rank i of a list tree.
func (e Engine) At(ctx context.Context, root cid.Cid, rank uint64) (cid.Cid, error) {
	f, err := treenode.Decode(ctx, e.Store, e.Codec, root)
	if err != nil {
		return cid.Undef, err
	}
	for {
		i, residual, err := locateRank(f.Counts, rank)
		if err != nil {
			return cid.Undef, err
		}
		if f.Leaf {
			return f.Children[i], nil
		}
		rank = residual
		f, err = treenode.Decode(ctx, e.Store, e.Codec, f.Children[i])
		if err != nil {
			return cid.Undef, err
		}
	}
}

// AtKV returns the (key, value) pair at rank i of a map tree.
func (e Engine) AtKV(ctx context.Context, root cid.Cid, rank uint64) (Entry, error) {
	f, err := treenode.Decode(ctx, e.Store, e.Codec, root)
	if err != nil {
		return Entry{}, err
	}
	for {
		i, residual, err := locateRank(f.Counts, rank)
		if err != nil {
			return Entry{}, err
		}
		if f.Leaf {
			return Entry{Key: f.Keys[i], Value: f.Children[i]}, nil
		}
		rank = residual
		f, err = treenode.Decode(ctx, e.Store, e.Codec, f.Children[i])
		if err != nil {
			return Entry{}, err
		}
	}
}

// locateRank walks counts, accumulating until one entry covers the
// remaining rank, and returns its index plus the residual rank within it.
func locateRank(counts []uint32, rank uint64) (int, uint64, error) {
	var acc uint64
	for i, c := range counts {
		next := acc + uint64(c)
		if rank < next {
			return i, rank - acc, nil
		}
		acc = next
	}
	return 0, 0, fmt.Errorf("%w: rank %d >= size %d", ErrOutOfBounds, rank, acc)
}

// Eq looks up the value for an exact key match in a map tree, returning
// (cid.Undef, false, nil) if the key is absent.
func (e Engine) Eq(ctx context.Context, root cid.Cid, key string) (cid.Cid, bool, error) {
	f, err := treenode.Decode(ctx, e.Store, e.Codec, root)
	if err != nil {
		return cid.Undef, false, err
	}
	for {
		i := findPred(f.Keys, key)
		if i < 0 {
			return cid.Undef, false, nil
		}
		if f.Leaf {
			if f.Keys[i] == key {
				return f.Children[i], true, nil
			}
			return cid.Undef, false, nil
		}
		f, err = treenode.Decode(ctx, e.Store, e.Codec, f.Children[i])
		if err != nil {
			return cid.Undef, false, err
		}
	}
}
