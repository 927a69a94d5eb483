package tree

import (
	"context"

	"github.com/ipfs/go-cid"

	"canon/internal/cdc"
	"canon/internal/treenode"
)

// Build constructs a canonical list tree bottom-up from an ordered sequence
// of item CIDs, per the node-sized-run chunking rule. It is the single path
// every list-producing operation funnels through, which is what makes two
// lists with equal logical contents produce identical root CIDs regardless
// of how each was assembled.
func (e Engine) Build(ctx context.Context, items []cid.Cid) (cid.Cid, error) {
	return e.build(ctx, ones(len(items)), nil, items)
}

// BuildMap constructs a canonical map tree bottom-up from entries already
// sorted ascending by key, with no duplicate keys.
func (e Engine) BuildMap(ctx context.Context, entries []Entry) (cid.Cid, error) {
	keys := make([]string, len(entries))
	children := make([]cid.Cid, len(entries))
	for i, en := range entries {
		keys[i] = en.Key
		children[i] = en.Value
	}
	return e.build(ctx, ones(len(entries)), keys, children)
}

func ones(n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// build runs the repeat-until-singleton bottom-up pass described in the
// design: each pass groups the previous level's entries into chunker-sized
// runs and serializes one node per run, until a single root remains.
func (e Engine) build(ctx context.Context, counts []uint32, keys []string, children []cid.Cid) (cid.Cid, error) {
	isMap := keys != nil

	if len(children) == 0 {
		var emptyKeys []string
		if isMap {
			emptyKeys = []string{}
		}
		return treenode.Encode(ctx, e.Store, e.Hasher, e.Codec, treenode.Fields{
			Leaf:     true,
			Counts:   []uint32{},
			Keys:     emptyKeys,
			Children: []cid.Cid{},
		})
	}

	leaf := true
	for {
		var newCounts []uint32
		var newKeys []string
		var newChildren []cid.Cid
		if isMap {
			newKeys = make([]string, 0, len(children))
		}

		from := 0
		for from < len(children) {
			hi := cdc.NextBoundary(children, from)

			chunkCounts := append([]uint32{}, counts[from:hi]...)
			var chunkKeys []string
			if isMap {
				chunkKeys = append([]string{}, keys[from:hi]...)
			}
			chunkChildren := append([]cid.Cid{}, children[from:hi]...)

			c, err := treenode.Encode(ctx, e.Store, e.Hasher, e.Codec, treenode.Fields{
				Leaf:     leaf,
				Counts:   chunkCounts,
				Keys:     chunkKeys,
				Children: chunkChildren,
			})
			if err != nil {
				return cid.Undef, err
			}

			newCounts = append(newCounts, sumCounts(chunkCounts))
			if isMap {
				newKeys = append(newKeys, keys[from])
			}
			newChildren = append(newChildren, c)

			from = hi
		}

		counts, keys, children = newCounts, newKeys, newChildren
		leaf = false

		if len(children) == 1 {
			return children[0], nil
		}
	}
}
