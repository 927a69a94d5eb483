package tree

import (
	"context"
	"iter"

	"github.com/ipfs/go-cid"

	"canon/internal/treenode"
)

// ScanOptions bounds a range scan. Rank bounds (Lo/Hi) apply to both
// collections; key bounds (Lt/Le/Gt/Ge) apply only to map scans. A nil
// field means "unbounded" in that direction.
type ScanOptions struct {
	Lo, Hi         *uint64
	Lt, Le, Gt, Ge *string
	Limit          *uint64
}

type frame struct {
	fields treenode.Fields
	idx    int
}

// Scan yields (Entry, error) pairs in ascending rank order honoring opts.
// Value-only collections (lists) leave Entry.Key empty; callers unwrap
// accordingly. The returned sequence stops early on the first error.
func (e Engine) Scan(ctx context.Context, root cid.Cid, opts ScanOptions) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var stack []frame
		var err error

		switch {
		case opts.Lt != nil:
			stack, err = e.pathToKey(ctx, root, *opts.Lt, true)
		case opts.Le != nil:
			stack, err = e.pathToKey(ctx, root, *opts.Le, false)
		default:
			var lo uint64
			if opts.Lo != nil {
				lo = *opts.Lo
			}
			stack, err = e.pathToRank(ctx, root, lo)
		}
		if err != nil {
			yield(Entry{}, err)
			return
		}

		stack, ok, err := e.seek(ctx, stack)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		if !ok {
			return
		}

		size, err := e.Size(ctx, root)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		remaining := size
		if opts.Lo != nil && *opts.Lo < size {
			remaining = size - *opts.Lo
		} else if opts.Lo != nil {
			remaining = 0
		}
		if opts.Hi != nil {
			var lo uint64
			if opts.Lo != nil {
				lo = *opts.Lo
			}
			if *opts.Hi > lo {
				if bounded := *opts.Hi - lo; bounded < remaining {
					remaining = bounded
				}
			} else {
				remaining = 0
			}
		}
		if opts.Limit != nil && *opts.Limit < remaining {
			remaining = *opts.Limit
		}

		for remaining > 0 && ok {
			top := stack[len(stack)-1]
			entry := Entry{Value: top.fields.Children[top.idx]}
			if top.fields.IsMap() {
				entry.Key = top.fields.Keys[top.idx]
			}

			if opts.Gt != nil && entry.Key >= *opts.Gt {
				return
			}
			if opts.Ge != nil && entry.Key > *opts.Ge {
				return
			}

			if !yield(entry, nil) {
				return
			}
			remaining--
			if remaining == 0 {
				return
			}

			stack, ok, err = e.advance(ctx, stack)
			if err != nil {
				yield(Entry{}, err)
				return
			}
		}
	}
}

// pathToRank descends to the leaf frame containing logical rank `rank`,
// recording the chosen child index at every level visited.
func (e Engine) pathToRank(ctx context.Context, root cid.Cid, rank uint64) ([]frame, error) {
	f, err := treenode.Decode(ctx, e.Store, e.Codec, root)
	if err != nil {
		return nil, err
	}
	var stack []frame
	for {
		i, residual, err := locateRank(f.Counts, rank)
		if err != nil {
			// Past the end: position one-past-the-last entry so seek()
			// reports the scan as exhausted rather than erroring.
			stack = append(stack, frame{fields: f, idx: len(f.Children)})
			return stack, nil
		}
		stack = append(stack, frame{fields: f, idx: i})
		if f.Leaf {
			return stack, nil
		}
		rank = residual
		f, err = treenode.Decode(ctx, e.Store, e.Codec, f.Children[i])
		if err != nil {
			return nil, err
		}
	}
}

// pathToKey descends to the leaf frame positioned at the first entry that
// is at-or-after startKey (le semantics) or strictly after it (lt
// semantics, when strictlyAfter is true).
func (e Engine) pathToKey(ctx context.Context, root cid.Cid, startKey string, strictlyAfter bool) ([]frame, error) {
	f, err := treenode.Decode(ctx, e.Store, e.Codec, root)
	if err != nil {
		return nil, err
	}
	var stack []frame
	for {
		i := findPred(f.Keys, startKey)
		if i < 0 {
			i = 0
		}
		if f.Leaf {
			idx := startIdxFor(f.Keys, startKey, strictlyAfter)
			stack = append(stack, frame{fields: f, idx: idx})
			return stack, nil
		}
		stack = append(stack, frame{fields: f, idx: i})
		f, err = treenode.Decode(ctx, e.Store, e.Codec, f.Children[i])
		if err != nil {
			return nil, err
		}
	}
}

// startIdxFor returns the index of the first leaf key at-or-after startKey
// (or strictly after, when strictlyAfter is true).
func startIdxFor(keys []string, startKey string, strictlyAfter bool) int {
	i := findPred(keys, startKey)
	if i >= 0 && keys[i] == startKey {
		if strictlyAfter {
			return i + 1
		}
		return i
	}
	return i + 1
}

// seek ensures the top frame of stack points at a valid entry, popping and
// descending right as needed. ok is false when the scan is exhausted.
func (e Engine) seek(ctx context.Context, stack []frame) ([]frame, bool, error) {
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.idx < len(top.fields.Children) {
			return stack, true, nil
		}
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return stack, false, nil
		}
		stack[len(stack)-1].idx++
		parent := stack[len(stack)-1]
		if parent.idx >= len(parent.fields.Children) {
			continue
		}
		f, err := treenode.Decode(ctx, e.Store, e.Codec, parent.fields.Children[parent.idx])
		if err != nil {
			return nil, false, err
		}
		stack = append(stack, frame{fields: f, idx: 0})
		for !f.Leaf {
			f, err = treenode.Decode(ctx, e.Store, e.Codec, f.Children[0])
			if err != nil {
				return nil, false, err
			}
			stack = append(stack, frame{fields: f, idx: 0})
		}
		return stack, true, nil
	}
	return stack, false, nil
}

func (e Engine) advance(ctx context.Context, stack []frame) ([]frame, bool, error) {
	stack[len(stack)-1].idx++
	return e.seek(ctx, stack)
}
