package tree

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"canon/block"
)

type memStore struct {
	mu     sync.Mutex
	blocks map[cid.Cid][]byte
}

func newMemStore() *memStore { return &memStore{blocks: map[cid.Cid][]byte{}} }

func (m *memStore) Put(_ context.Context, b block.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.Cid] = b.Bytes
	return nil
}

func (m *memStore) Get(_ context.Context, c cid.Cid) (block.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blocks[c]
	if !ok {
		return block.Block{}, block.ErrStoreMiss
	}
	return block.Block{Cid: c, Bytes: data}, nil
}

func newEngine() Engine {
	return Engine{Store: newMemStore(), Hasher: block.Blake3{}, Codec: block.DagCBOR{}}
}

// itemCID derives a distinct opaque value handle per n. Items are just
// content-addressed leaves as far as the tree is concerned, so tests mint
// them directly rather than going through the node encoder.
func itemCID(t *testing.T, e Engine, n int) cid.Cid {
	t.Helper()
	digest := e.Hasher.Sum([]byte(fmt.Sprintf("item-%d", n)))
	mh, err := multihash.Encode(digest, e.Hasher.Code())
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func TestBuildEmptyIsCanonical(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	r1, err := e.Build(ctx, nil)
	require.NoError(t, err)
	r2, err := e.Build(ctx, []cid.Cid{})
	require.NoError(t, err)
	require.Equal(t, r1, r2)

	size, err := e.Size(ctx, r1)
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestBuildAtRoundTrip(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	items := make([]cid.Cid, 5000)
	for i := range items {
		items[i] = itemCID(t, e, i)
	}
	root, err := e.Build(ctx, items)
	require.NoError(t, err)

	size, err := e.Size(ctx, root)
	require.NoError(t, err)
	require.Equal(t, uint64(len(items)), size)

	for _, i := range []int{0, 1, 2499, 2500, 4999} {
		got, err := e.At(ctx, root, uint64(i))
		require.NoError(t, err)
		require.Equal(t, items[i], got)
	}

	_, err = e.At(ctx, root, uint64(len(items)))
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestScanMatchesInput(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	items := make([]cid.Cid, 2000)
	for i := range items {
		items[i] = itemCID(t, e, i)
	}
	root, err := e.Build(ctx, items)
	require.NoError(t, err)

	got, err := e.Materialize(ctx, root)
	require.NoError(t, err)
	require.Equal(t, items, got)
}

func TestSpliceNoOpEqualsOriginal(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	items := make([]cid.Cid, 100)
	for i := range items {
		items[i] = itemCID(t, e, i)
	}
	root, err := e.Build(ctx, items)
	require.NoError(t, err)

	r2, err := e.Splice(ctx, root, 10, 0, nil)
	require.NoError(t, err)
	require.Equal(t, root, r2)
}

func TestSpliceDeleteAllIsCanonicalEmpty(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	items := make([]cid.Cid, 3000)
	for i := range items {
		items[i] = itemCID(t, e, i)
	}
	root, err := e.Build(ctx, items)
	require.NoError(t, err)

	emptied, err := e.Splice(ctx, root, 0, uint64(len(items)), nil)
	require.NoError(t, err)

	empty, err := e.Build(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, empty, emptied)
}

func TestSpliceEquivalentToBuildOfResultingSequence(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	xs := make([]cid.Cid, 3000)
	for i := range xs {
		xs[i] = itemCID(t, e, i)
	}
	ys := make([]cid.Cid, 300)
	for i := range ys {
		ys[i] = itemCID(t, e, 100000+i)
	}

	root, err := e.Build(ctx, xs)
	require.NoError(t, err)

	spliced, err := e.Splice(ctx, root, 1000, 50, ys[:200])
	require.NoError(t, err)

	want := append(append(append([]cid.Cid{}, xs[:1000]...), ys[:200]...), xs[1050:]...)
	wantRoot, err := e.Build(ctx, want)
	require.NoError(t, err)

	require.Equal(t, wantRoot, spliced)
}

func TestMapBuildAndEq(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	var entries []Entry
	for i := 0; i < 500; i++ {
		entries = append(entries, Entry{Key: fmt.Sprintf("key:%04d", i), Value: itemCID(t, e, i)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	root, err := e.BuildMap(ctx, entries)
	require.NoError(t, err)

	for _, i := range []int{0, 1, 249, 250, 499} {
		v, ok, err := e.Eq(ctx, root, entries[i].Key)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, entries[i].Value, v)
	}

	_, ok, err := e.Eq(ctx, root, "zzz-absent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMapUpsertSequenceMatchesBuild(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	empty, err := e.BuildMap(ctx, nil)
	require.NoError(t, err)

	root := empty
	var entries []Entry
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("k%03d", (i*37)%100)
		val := itemCID(t, e, i)
		root, err = e.Upsert(ctx, root, key, val)
		require.NoError(t, err)

		entries = upsertEntry(entries, Entry{Key: key, Value: val})
		want, err := e.BuildMap(ctx, entries)
		require.NoError(t, err)
		require.Equal(t, want, root, "mismatch at step %d", i)
	}
}

func upsertEntry(entries []Entry, e Entry) []Entry {
	for i, existing := range entries {
		if existing.Key == e.Key {
			entries[i] = e
			return entries
		}
	}
	entries = append(entries, e)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

func TestMapRemoveAbsentIsNoOp(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	root, err := e.Upsert(ctx, mustEmptyMap(t, e), "a", itemCID(t, e, 0))
	require.NoError(t, err)

	r2, err := e.Remove(ctx, root, "never-present")
	require.NoError(t, err)
	require.Equal(t, root, r2)
}

func mustEmptyMap(t *testing.T, e Engine) cid.Cid {
	t.Helper()
	root, err := e.BuildMap(context.Background(), nil)
	require.NoError(t, err)
	return root
}

func TestMapScanKeyBounds(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	var entries []Entry
	for i := 0; i < 10000; i++ {
		entries = append(entries, Entry{Key: fmt.Sprintf("ppp%04d", i), Value: itemCID(t, e, i)})
	}
	root, err := e.BuildMap(ctx, entries)
	require.NoError(t, err)

	le := "ppp0500"
	gt := "ppp0600"
	var got []string
	for entry, err := range e.Scan(ctx, root, ScanOptions{Le: &le, Gt: &gt}) {
		require.NoError(t, err)
		got = append(got, entry.Key)
	}

	var want []string
	for i := 500; i < 600; i++ {
		want = append(want, fmt.Sprintf("ppp%04d", i))
	}
	require.Equal(t, want, got)
}
