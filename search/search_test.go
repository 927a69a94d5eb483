package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeCID(t *testing.T, s string) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte(s), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndexAndQuery(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	v1 := fakeCID(t, "v1")
	v2 := fakeCID(t, "v2")

	now := time.Unix(1000, 0).UTC()
	require.NoError(t, idx.Index(ctx, v1, Entry{
		Collection: "posts", Key: "a", Kind: "post",
		Data:       map[string]any{"title": "hello world"},
		SearchText: "hello world",
		CreatedAt:  now, UpdatedAt: now,
	}))
	require.NoError(t, idx.Index(ctx, v2, Entry{
		Collection: "posts", Key: "b", Kind: "post",
		Data:       map[string]any{"title": "goodbye"},
		SearchText: "goodbye",
		CreatedAt:  now, UpdatedAt: now,
	}))

	results, err := idx.Query(ctx, Query{Collection: "posts"})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = idx.Query(ctx, Query{FullText: "hello"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, v1, results[0].Value)

	results, err = idx.Query(ctx, Query{Filters: map[string]any{"title": "goodbye"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, v2, results[0].Value)

	count, kinds, err := idx.CollectionStats(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, kinds)

	require.NoError(t, idx.Delete(ctx, v1))
	results, err = idx.Query(ctx, Query{Collection: "posts"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestQueryUnknownCollection(t *testing.T) {
	idx := openTestIndex(t)
	results, err := idx.Query(context.Background(), Query{Collection: "nope"})
	require.NoError(t, err)
	assert.Empty(t, results)
}
