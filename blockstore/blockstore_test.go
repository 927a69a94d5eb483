package blockstore

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"canon/block"
)

func fakeBlock(t *testing.T, seed byte, payload string) block.Block {
	t.Helper()
	mh, err := multihash.Sum([]byte{seed}, multihash.SHA2_256, -1)
	require.NoError(t, err)
	return block.Block{Cid: cid.NewCidV1(cid.Raw, mh), Bytes: []byte(payload)}
}

func TestPutGetRoundTrip(t *testing.T) {
	bs, err := New(ds.NewMapDatastore(), Options{})
	require.NoError(t, err)
	ctx := context.Background()

	b := fakeBlock(t, 1, "hello")
	require.NoError(t, bs.Put(ctx, b))

	got, err := bs.Get(ctx, b.Cid)
	require.NoError(t, err)
	require.Equal(t, b.Bytes, got.Bytes)
}

func TestGetMissingReturnsStoreMiss(t *testing.T) {
	bs, err := New(ds.NewMapDatastore(), Options{})
	require.NoError(t, err)
	ctx := context.Background()

	missing := fakeBlock(t, 99, "never-stored").Cid
	_, err = bs.Get(ctx, missing)
	require.ErrorIs(t, err, block.ErrStoreMiss)
}

func TestHasReflectsPresence(t *testing.T) {
	bs, err := New(ds.NewMapDatastore(), Options{})
	require.NoError(t, err)
	ctx := context.Background()

	b := fakeBlock(t, 2, "present")
	has, err := bs.Has(ctx, b.Cid)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, bs.Put(ctx, b))
	has, err = bs.Has(ctx, b.Cid)
	require.NoError(t, err)
	require.True(t, has)
}

func TestPrefetchWarmsCache(t *testing.T) {
	bs, err := New(ds.NewMapDatastore(), Options{PrefetchRPS: 1000})
	require.NoError(t, err)
	ctx := context.Background()

	var cids []cid.Cid
	for i := byte(0); i < 10; i++ {
		b := fakeBlock(t, i, "payload")
		require.NoError(t, bs.Put(ctx, b))
		cids = append(cids, b.Cid)
	}

	// Put already cached every block; empty the cache so Prefetch has to
	// read each one from the underlying datastore.
	bs.cache.Purge()
	require.NoError(t, bs.Prefetch(ctx, cids))

	for _, c := range cids {
		_, ok := bs.cache.Get(c.KeyString())
		require.True(t, ok)
	}
}
