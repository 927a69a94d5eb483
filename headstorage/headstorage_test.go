package headstorage

import (
	"context"
	"sync"
	"testing"

	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func fakeCID(t *testing.T, seed byte) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte{seed}, multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func TestLoadHeadDefaultsWhenAbsent(t *testing.T) {
	store := dssync.MutexWrap(ds.NewMapDatastore())
	hs := NewHeadStorage(store)

	state, err := hs.LoadHead(context.Background(), "lists/todo")
	require.NoError(t, err)
	require.Equal(t, cid.Undef, state.Root)
	require.Equal(t, "lists/todo", state.Name)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	store := dssync.MutexWrap(ds.NewMapDatastore())
	hs := NewHeadStorage(store)
	ctx := context.Background()

	want := CollectionHead{Root: fakeCID(t, 1), Version: 1, Name: "maps/users"}
	require.NoError(t, hs.SaveHead(ctx, "maps/users", want))

	got, err := hs.LoadHead(ctx, "maps/users")
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestAdvanceChainsVersionAndPrev(t *testing.T) {
	store := dssync.MutexWrap(ds.NewMapDatastore())
	hs := NewHeadStorage(store)
	ctx := context.Background()

	r1 := fakeCID(t, 1)
	first, err := hs.Advance(ctx, "lists/todo", r1)
	require.NoError(t, err)
	require.Equal(t, r1, first.Root)
	require.Equal(t, cid.Undef, first.Prev)
	require.Equal(t, 1, first.Version)

	r2 := fakeCID(t, 2)
	second, err := hs.Advance(ctx, "lists/todo", r2)
	require.NoError(t, err)
	require.Equal(t, r2, second.Root)
	require.Equal(t, r1, second.Prev)
	require.Equal(t, 2, second.Version)

	got, err := hs.LoadHead(ctx, "lists/todo")
	require.NoError(t, err)
	require.Equal(t, second, got)
}

func TestAdvanceConcurrentCallersSerialize(t *testing.T) {
	store := dssync.MutexWrap(ds.NewMapDatastore())
	hs := NewHeadStorage(store)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()
			_, err := hs.Advance(ctx, "maps/counter", fakeCID(t, seed))
			require.NoError(t, err)
		}(byte(i))
	}
	wg.Wait()

	got, err := hs.LoadHead(ctx, "maps/counter")
	require.NoError(t, err)
	require.Equal(t, n, got.Version)
}

func TestListNames(t *testing.T) {
	store := dssync.MutexWrap(ds.NewMapDatastore())
	hs := NewHeadStorage(store)
	ctx := context.Background()

	_, err := hs.Advance(ctx, "lists/todo", fakeCID(t, 1))
	require.NoError(t, err)
	_, err = hs.Advance(ctx, "maps/users", fakeCID(t, 2))
	require.NoError(t, err)

	names, err := hs.ListNames(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"lists/todo", "maps/users"}, names)
}

func TestWatchHeadReceivesSave(t *testing.T) {
	store := dssync.MutexWrap(ds.NewMapDatastore())
	hs := NewHeadStorage(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := hs.WatchHead(ctx, "lists/todo")
	require.NoError(t, err)

	state := CollectionHead{Root: fakeCID(t, 2), Version: 1, Name: "lists/todo"}
	require.NoError(t, hs.SaveHead(ctx, "lists/todo", state))

	got := <-ch
	require.Equal(t, state, got)
}
