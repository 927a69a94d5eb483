// Package omap implements OrderedMap: a key-ordered associative map from
// comparable string keys to opaque content-addressed value handles,
// persisted as a canonical content-defined-chunked DAG over a block store.
// Every mutation returns a new root; old roots remain valid.
package omap

import (
	"context"
	"iter"
	"sort"

	"github.com/ipfs/go-cid"

	"canon/block"
	"canon/internal/tree"
)

// Entry is one (key, value) pair.
type Entry struct {
	Key   string
	Value cid.Cid
}

// Map is a handle to one root of an OrderedMap.
type Map struct {
	engine tree.Engine
	root   cid.Cid
}

// New binds a Map handle to an existing root CID.
func New(store block.Store, hasher block.Hasher, codec block.Codec, root cid.Cid) *Map {
	return &Map{engine: tree.Engine{Store: store, Hasher: hasher, Codec: codec}, root: root}
}

// Create sorts entries by key, builds a new canonical map from them and
// returns a handle to it. Entries must carry distinct keys: duplicates are
// not merged, and a node holding two equal keys fails validation with
// treenode.ErrInvalidNode.
func Create(ctx context.Context, store block.Store, hasher block.Hasher, codec block.Codec, entries []Entry) (*Map, error) {
	engine := tree.Engine{Store: store, Hasher: hasher, Codec: codec}
	sorted := append([]Entry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	treeEntries := make([]tree.Entry, len(sorted))
	for i, e := range sorted {
		treeEntries[i] = tree.Entry{Key: e.Key, Value: e.Value}
	}
	root, err := engine.BuildMap(ctx, treeEntries)
	if err != nil {
		return nil, err
	}
	return &Map{engine: engine, root: root}, nil
}

// Root returns the current root CID of this handle.
func (m *Map) Root() cid.Cid { return m.root }

// Size returns the number of entries in the map.
func (m *Map) Size(ctx context.Context) (uint64, error) {
	return m.engine.Size(ctx, m.root)
}

// At returns the (key, value) entry at rank i.
func (m *Map) At(ctx context.Context, i uint64) (Entry, error) {
	e, err := m.engine.AtKV(ctx, m.root, i)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: e.Key, Value: e.Value}, nil
}

// Eq looks up the value for an exact key match, returning ok=false if key
// is absent.
func (m *Map) Eq(ctx context.Context, key string) (cid.Cid, bool, error) {
	return m.engine.Eq(ctx, m.root, key)
}

// ScanOptions bounds a range scan by rank or by key.
type ScanOptions struct {
	Lo, Hi         *uint64
	Lt, Le, Gt, Ge *string
	Limit          *uint64
}

// Scan lazily yields entries in ascending key order honoring opts.
func (m *Map) Scan(ctx context.Context, opts ScanOptions) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		inner := tree.ScanOptions{
			Lo: opts.Lo, Hi: opts.Hi,
			Lt: opts.Lt, Le: opts.Le, Gt: opts.Gt, Ge: opts.Ge,
			Limit: opts.Limit,
		}
		for e, err := range m.engine.Scan(ctx, m.root, inner) {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(Entry{Key: e.Key, Value: e.Value}, nil) {
				return
			}
		}
	}
}

// Upsert inserts or replaces the value for key, returning a handle to the
// new root.
func (m *Map) Upsert(ctx context.Context, key string, value cid.Cid) (*Map, error) {
	root, err := m.engine.Upsert(ctx, m.root, key, value)
	if err != nil {
		return nil, err
	}
	return &Map{engine: m.engine, root: root}, nil
}

// Remove deletes key if present, returning a handle to the new root. If key
// is absent, the returned handle's root equals this one's.
func (m *Map) Remove(ctx context.Context, key string) (*Map, error) {
	root, err := m.engine.Remove(ctx, m.root, key)
	if err != nil {
		return nil, err
	}
	return &Map{engine: m.engine, root: root}, nil
}
