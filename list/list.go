// Package list implements IndexedList: an ordered sequence of opaque
// content-addressed item handles, addressed by rank, persisted as a
// canonical content-defined-chunked DAG over a block store. Every mutation
// returns a new root; old roots remain valid and nodes are never deleted.
package list

import (
	"context"
	"iter"

	"github.com/ipfs/go-cid"

	"canon/block"
	"canon/internal/tree"
)

// List is a handle to one root of an IndexedList, bound to the store/hasher
// /codec context it was built in. The zero value is not usable; construct
// one with New.
type List struct {
	engine tree.Engine
	root   cid.Cid
}

// New binds a List handle to an existing root CID.
func New(store block.Store, hasher block.Hasher, codec block.Codec, root cid.Cid) *List {
	return &List{engine: tree.Engine{Store: store, Hasher: hasher, Codec: codec}, root: root}
}

// Create builds a new canonical list containing items in order and returns
// a handle to it.
func Create(ctx context.Context, store block.Store, hasher block.Hasher, codec block.Codec, items []cid.Cid) (*List, error) {
	engine := tree.Engine{Store: store, Hasher: hasher, Codec: codec}
	root, err := engine.Build(ctx, items)
	if err != nil {
		return nil, err
	}
	return &List{engine: engine, root: root}, nil
}

// Root returns the current root CID of this handle.
func (l *List) Root() cid.Cid { return l.root }

// Size returns the number of items in the list.
func (l *List) Size(ctx context.Context) (uint64, error) {
	return l.engine.Size(ctx, l.root)
}

// At returns the item CID at rank i.
func (l *List) At(ctx context.Context, i uint64) (cid.Cid, error) {
	return l.engine.At(ctx, l.root, i)
}

// ScanOptions bounds a range scan by rank.
type ScanOptions struct {
	Lo, Hi *uint64
	Limit  *uint64
}

// Scan lazily yields item CIDs in ascending rank order over [lo, hi),
// honoring opts.Limit if set. opts is never nil-dereferenced by callers:
// the zero value means "scan everything".
func (l *List) Scan(ctx context.Context, opts ScanOptions) iter.Seq2[cid.Cid, error] {
	return func(yield func(cid.Cid, error) bool) {
		for entry, err := range l.engine.Scan(ctx, l.root, tree.ScanOptions{Lo: opts.Lo, Hi: opts.Hi, Limit: opts.Limit}) {
			if err != nil {
				yield(cid.Undef, err)
				return
			}
			if !yield(entry.Value, nil) {
				return
			}
		}
	}
}

// Splice removes deleteCount items starting at rank start and inserts items
// in their place, returning a handle to the new root. The original List
// handle (and its root) remains valid and unmodified.
func (l *List) Splice(ctx context.Context, start, deleteCount uint64, items []cid.Cid) (*List, error) {
	root, err := l.engine.Splice(ctx, l.root, start, deleteCount, items)
	if err != nil {
		return nil, err
	}
	return &List{engine: l.engine, root: root}, nil
}
