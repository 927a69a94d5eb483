// Package blockstore implements block.Store over a persistent
// datastore.Datastore, fronted by an in-memory LRU cache and instrumented
// with Prometheus counters. It also offers a rate-limited Prefetch that
// warms the cache for a batch of CIDs before a caller starts a scan or
// export, the same shape the teacher blockstore used for its own
// performance-sensitive read paths.
package blockstore

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"canon/block"
)

// Blockstore is a block.Store backed by a persistent datastore.
type Blockstore struct {
	ds    ds.Datastore
	cache *lru.Cache[string, []byte]

	limiter *rate.Limiter

	puts      prometheus.Counter
	gets      prometheus.Counter
	cacheHits prometheus.Counter
	misses    prometheus.Counter
}

var _ block.Store = (*Blockstore)(nil)

// Options configures New. The zero value is valid and picks sane defaults.
type Options struct {
	// CacheSize is the number of blocks kept in the LRU cache. Zero uses a
	// default of 1024.
	CacheSize int
	// PrefetchRPS caps how many blocks Prefetch fetches per second. Zero
	// uses a default of 256.
	PrefetchRPS float64
	// Registerer receives this store's Prometheus collectors. Nil skips
	// metrics registration (useful for tests that construct many stores).
	Registerer prometheus.Registerer
}

// New wraps store with an LRU cache and metrics.
func New(store ds.Datastore, opts Options) (*Blockstore, error) {
	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("blockstore: creating cache: %w", err)
	}

	rps := opts.PrefetchRPS
	if rps <= 0 {
		rps = 256
	}

	bs := &Blockstore{
		ds:      store,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canon", Subsystem: "blockstore", Name: "puts_total",
			Help: "Number of blocks written.",
		}),
		gets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canon", Subsystem: "blockstore", Name: "gets_total",
			Help: "Number of block reads requested.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canon", Subsystem: "blockstore", Name: "cache_hits_total",
			Help: "Number of block reads served from the in-memory cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "canon", Subsystem: "blockstore", Name: "cache_misses_total",
			Help: "Number of block reads that missed the in-memory cache.",
		}),
	}

	if opts.Registerer != nil {
		for _, c := range []prometheus.Collector{bs.puts, bs.gets, bs.cacheHits, bs.misses} {
			if err := opts.Registerer.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					return nil, err
				}
			}
		}
	}

	return bs, nil
}

func blockKey(c cid.Cid) ds.Key {
	return ds.NewKey("/blocks").ChildString(c.String())
}

// Put stores b. A second Put of the same CID is a cheap no-op from the
// caller's perspective since content-addressed bytes never change.
func (bs *Blockstore) Put(ctx context.Context, b block.Block) error {
	bs.puts.Inc()
	if err := bs.ds.Put(ctx, blockKey(b.Cid), b.Bytes); err != nil {
		return fmt.Errorf("blockstore: put %s: %w", b.Cid, err)
	}
	bs.cache.Add(b.Cid.KeyString(), b.Bytes)
	return nil
}

// Get fetches the block for c, consulting the cache first.
func (bs *Blockstore) Get(ctx context.Context, c cid.Cid) (block.Block, error) {
	bs.gets.Inc()
	if data, ok := bs.cache.Get(c.KeyString()); ok {
		bs.cacheHits.Inc()
		return block.Block{Cid: c, Bytes: data}, nil
	}
	bs.misses.Inc()

	data, err := bs.ds.Get(ctx, blockKey(c))
	if err != nil {
		if err == ds.ErrNotFound {
			return block.Block{}, fmt.Errorf("%w: %s", block.ErrStoreMiss, c)
		}
		return block.Block{}, fmt.Errorf("blockstore: get %s: %w", c, err)
	}
	bs.cache.Add(c.KeyString(), data)
	return block.Block{Cid: c, Bytes: data}, nil
}

// Has reports whether a block is present without copying its bytes.
func (bs *Blockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	if _, ok := bs.cache.Get(c.KeyString()); ok {
		return true, nil
	}
	return bs.ds.Has(ctx, blockKey(c))
}

// Prefetch warms the cache for every CID in cids, fetching concurrently but
// rate-limited so a large prefetch (e.g. before an export or a wide scan)
// doesn't starve concurrent foreground reads.
func (bs *Blockstore) Prefetch(ctx context.Context, cids []cid.Cid) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(cids))

	for _, c := range cids {
		if _, ok := bs.cache.Get(c.KeyString()); ok {
			continue
		}
		if err := bs.limiter.Wait(ctx); err != nil {
			return err
		}
		wg.Add(1)
		go func(c cid.Cid) {
			defer wg.Done()
			if _, err := bs.Get(ctx, c); err != nil {
				errs <- err
			}
		}(c)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying datastore.
func (bs *Blockstore) Close() error {
	return bs.ds.Close()
}
