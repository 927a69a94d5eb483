package datastore

import (
	"context"
	"testing"

	ds "github.com/ipfs/go-datastore"
	badger4 "github.com/ipfs/go-ds-badger4"
	"github.com/stretchr/testify/require"
)

func TestNewDatastorage(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		store, err := NewDatastorage(t.TempDir(), nil)
		require.NoError(t, err)
		require.NotNil(t, store)
		defer store.Close()
	})

	t.Run("explicit options", func(t *testing.T) {
		store, err := NewDatastorage(t.TempDir(), &badger4.DefaultOptions)
		require.NoError(t, err)
		require.NotNil(t, store)
		defer store.Close()
	})
}

func TestPutGetDelete(t *testing.T) {
	store, err := NewDatastorage(t.TempDir(), nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	key := ds.NewKey("/a/b")

	require.NoError(t, store.Put(ctx, key, []byte("v1")))

	v, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	has, err := store.Has(ctx, key)
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	require.ErrorIs(t, err, ds.ErrNotFound)
}

func TestIteratorAndKeys(t *testing.T) {
	store, err := NewDatastorage(t.TempDir(), nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	prefix := ds.NewKey("/block")
	want := map[string]string{
		"/block/1": "one",
		"/block/2": "two",
		"/block/3": "three",
	}
	for k, v := range want {
		require.NoError(t, store.Put(ctx, ds.NewKey(k), []byte(v)))
	}
	require.NoError(t, store.Put(ctx, ds.NewKey("/other/1"), []byte("skip-me")))

	got := map[string]string{}
	for kv, err := range store.Iterator(ctx, prefix, false) {
		require.NoError(t, err)
		got[kv.Key.String()] = string(kv.Value)
	}
	require.Equal(t, want, got)

	count := 0
	for _, err := range store.Keys(ctx, prefix) {
		require.NoError(t, err)
		count++
	}
	require.Equal(t, len(want), count)
}

func TestMergeAndClear(t *testing.T) {
	ctx := context.Background()

	src, err := NewDatastorage(t.TempDir(), nil)
	require.NoError(t, err)
	defer src.Close()
	dst, err := NewDatastorage(t.TempDir(), nil)
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, src.Put(ctx, ds.NewKey("/x"), []byte("1")))
	require.NoError(t, src.Put(ctx, ds.NewKey("/y"), []byte("2")))

	require.NoError(t, dst.Merge(ctx, src))

	v, err := dst.Get(ctx, ds.NewKey("/x"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, dst.Clear(ctx))
	has, err := dst.Has(ctx, ds.NewKey("/x"))
	require.NoError(t, err)
	require.False(t, has)
}
