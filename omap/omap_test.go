package omap

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

func valueCID(t *testing.T, n int) cid.Cid {
	t.Helper()
	h := block.Blake3{}
	digest := h.Sum([]byte(fmt.Sprintf("omap-value-%d", n)))
	mh, err := multihash.Encode(digest, h.Code())
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func TestCreateEqAt(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	var entries []Entry
	for i := 0; i < 300; i++ {
		entries = append(entries, Entry{Key: fmt.Sprintf("key:%04d", i), Value: valueCID(t, i)})
	}

	m, err := Create(ctx, store, block.Blake3{}, block.DagCBOR{}, entries)
	require.NoError(t, err)

	v, ok, err := m.Eq(ctx, "key:0150")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, valueCID(t, 150), v)

	_, ok, err = m.Eq(ctx, "absent")
	require.NoError(t, err)
	require.False(t, ok)

	entry, err := m.At(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "key:0000", entry.Key)
}

func TestUpsertRemove(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	m, err := Create(ctx, store, block.Blake3{}, block.DagCBOR{}, nil)
	require.NoError(t, err)

	m2, err := m.Upsert(ctx, "a", valueCID(t, 1))
	require.NoError(t, err)
	m3, err := m2.Upsert(ctx, "b", valueCID(t, 2))
	require.NoError(t, err)

	size, err := m3.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), size)

	m4, err := m3.Remove(ctx, "a")
	require.NoError(t, err)
	size, err = m4.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), size)

	_, ok, err := m4.Eq(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}
