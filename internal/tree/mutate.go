package tree

import (
	"context"
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"
)

// Splice replaces deleteCount items starting at rank start with items, and
// returns the new canonical root. deleteCount is clamped to the number of
// items actually available past start, matching the boundary behavior
// described for out-of-range deletes.
//
// Materialization strategy: rather than threading the staged-level/extend
// algorithm that mutates only the affected subtree in place, this
// implementation reads the full ordered item sequence, applies the edit in
// memory, and reconstructs through Build. Build is the single source of
// canonical truth, so this guarantees the headline canonicalization
// property (equal logical contents always yield equal root CIDs,
// independent of edit history) by construction rather than by faithfully
// replaying the in-place rebuild/extend bookkeeping. The tradeoff is
// touching O(n) nodes per edit instead of O(log n + k); see DESIGN.md.
func (e Engine) Splice(ctx context.Context, root cid.Cid, start uint64, deleteCount uint64, items []cid.Cid) (cid.Cid, error) {
	all, err := e.Materialize(ctx, root)
	if err != nil {
		return cid.Undef, err
	}
	if start > uint64(len(all)) {
		return cid.Undef, fmt.Errorf("%w: splice start %d > size %d", ErrOutOfBounds, start, len(all))
	}
	end := start + deleteCount
	if end > uint64(len(all)) {
		end = uint64(len(all))
	}

	out := make([]cid.Cid, 0, uint64(len(all))-(end-start)+uint64(len(items)))
	out = append(out, all[:start]...)
	out = append(out, items...)
	out = append(out, all[end:]...)

	return e.Build(ctx, out)
}

// Materialize reads every item of a list tree in order.
func (e Engine) Materialize(ctx context.Context, root cid.Cid) ([]cid.Cid, error) {
	size, err := e.Size(ctx, root)
	if err != nil {
		return nil, err
	}
	out := make([]cid.Cid, 0, size)
	for entry, err := range e.Scan(ctx, root, ScanOptions{}) {
		if err != nil {
			return nil, err
		}
		out = append(out, entry.Value)
	}
	return out, nil
}

// MaterializeMap reads every (key, value) entry of a map tree in ascending
// key order.
func (e Engine) MaterializeMap(ctx context.Context, root cid.Cid) ([]Entry, error) {
	size, err := e.Size(ctx, root)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, size)
	for entry, err := range e.Scan(ctx, root, ScanOptions{}) {
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Upsert inserts or replaces the value for key, returning the new canonical
// root. See Splice's doc comment for the materialize-then-rebuild strategy
// this shares.
func (e Engine) Upsert(ctx context.Context, root cid.Cid, key string, value cid.Cid) (cid.Cid, error) {
	entries, err := e.MaterializeMap(ctx, root)
	if err != nil {
		return cid.Undef, err
	}
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Key >= key })
	switch {
	case i < len(entries) && entries[i].Key == key:
		entries[i].Value = value
	default:
		entries = append(entries, Entry{})
		copy(entries[i+1:], entries[i:])
		entries[i] = Entry{Key: key, Value: value}
	}
	return e.BuildMap(ctx, entries)
}

// Remove deletes key if present, returning the new canonical root. Removing
// an absent key is a no-op that returns the original root unchanged.
func (e Engine) Remove(ctx context.Context, root cid.Cid, key string) (cid.Cid, error) {
	entries, err := e.MaterializeMap(ctx, root)
	if err != nil {
		return cid.Undef, err
	}
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Key >= key })
	if i >= len(entries) || entries[i].Key != key {
		return root, nil
	}
	entries = append(entries[:i], entries[i+1:]...)
	return e.BuildMap(ctx, entries)
}
