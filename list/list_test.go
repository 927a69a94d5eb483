package list

import (
	"context"
	"fmt"
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

func itemCID(t *testing.T, n int) cid.Cid {
	t.Helper()
	h := block.Blake3{}
	digest := h.Sum([]byte(fmt.Sprintf("list-item-%d", n)))
	mh, err := multihash.Encode(digest, h.Code())
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func TestCreateAtSizeScan(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	items := make([]cid.Cid, 250)
	for i := range items {
		items[i] = itemCID(t, i)
	}

	l, err := Create(ctx, store, block.Blake3{}, block.DagCBOR{}, items)
	require.NoError(t, err)

	size, err := l.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(250), size)

	got, err := l.At(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, items[100], got)

	var scanned []cid.Cid
	for c, err := range l.Scan(ctx, ScanOptions{}) {
		require.NoError(t, err)
		scanned = append(scanned, c)
	}
	require.Equal(t, items, scanned)
}

func TestSpliceReturnsNewHandleLeavesOldValid(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	items := make([]cid.Cid, 10)
	for i := range items {
		items[i] = itemCID(t, i)
	}
	l, err := Create(ctx, store, block.Blake3{}, block.DagCBOR{}, items)
	require.NoError(t, err)
	oldRoot := l.Root()

	l2, err := l.Splice(ctx, 5, 2, []cid.Cid{itemCID(t, 999)})
	require.NoError(t, err)

	require.Equal(t, oldRoot, l.Root())
	require.NotEqual(t, oldRoot, l2.Root())

	size, err := l.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), size)

	size2, err := l2.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(9), size2)
}
