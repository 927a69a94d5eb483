// Package datastore wraps a badger4-backed github.com/ipfs/go-datastore
// instance and adds a handful of bulk operations on top of the plain
// key/value contract: prefix iteration, merging one store into another, and
// a full clear.
package datastore

import (
	"context"
	"iter"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	badger4 "github.com/ipfs/go-ds-badger4"
)

// Datastore is the persistence contract used by blockstore and headstorage.
// It embeds the standard go-datastore feature interfaces so callers can also
// batch writes or run transactions directly against it.
type Datastore interface {
	ds.Datastore
	ds.BatchingFeature
	ds.TxnFeature
	ds.GCFeature
	ds.PersistentFeature

	// Iterator lazily yields every key/value pair under prefix in ascending
	// key order. keysOnly skips reading values when the caller only needs
	// key enumeration. Breaking out of the range loop early stops the
	// underlying query; the sequence stops after the first error.
	Iterator(ctx context.Context, prefix ds.Key, keysOnly bool) iter.Seq2[KeyValue, error]
	// Keys lazily yields every key under prefix without reading values.
	Keys(ctx context.Context, prefix ds.Key) iter.Seq2[ds.Key, error]
	// Merge copies every key/value pair from other into this store in one batch.
	Merge(ctx context.Context, other Datastore) error
	// Clear deletes every key in the store.
	Clear(ctx context.Context) error
	Close() error
}

// KeyValue is one entry yielded by Iterator.
type KeyValue struct {
	Key   ds.Key
	Value []byte
}

type datastorage struct {
	*badger4.Datastore
}

var (
	_ Datastore              = (*datastorage)(nil)
	_ ds.Datastore           = (*datastorage)(nil)
	_ ds.PersistentDatastore = (*datastorage)(nil)
	_ ds.TxnDatastore        = (*datastorage)(nil)
	_ ds.GCDatastore         = (*datastorage)(nil)
	_ ds.Batching            = (*datastorage)(nil)
)

// NewDatastorage opens (or creates) a badger4 store rooted at path. opts may
// be nil, in which case badger4.DefaultOptions is used.
func NewDatastorage(path string, opts *badger4.Options) (Datastore, error) {
	if opts == nil {
		def := badger4.DefaultOptions
		opts = &def
	}
	badgerDS, err := badger4.NewDatastore(path, opts)
	if err != nil {
		return nil, err
	}
	return &datastorage{Datastore: badgerDS}, nil
}

// query2 runs q against the store and adapts its channel-based Results into
// a pull-based iter.Seq2: range-over-func drives one result at a time
// instead of a background goroutine racing a select loop against ctx.Done,
// and a `break` from the caller's range simply stops pulling (result.Close
// runs via defer either way).
func query2[T any](ctx context.Context, store ds.Datastore, q query.Query, convert func(query.Result) T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		result, err := store.Query(ctx, q)
		if err != nil {
			yield(zero, err)
			return
		}
		defer result.Close()
		for {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}
			res, ok := <-result.Next()
			if !ok {
				return
			}
			if res.Error != nil {
				yield(zero, res.Error)
				return
			}
			if !yield(convert(res), nil) {
				return
			}
		}
	}
}

func (s *datastorage) Iterator(ctx context.Context, prefix ds.Key, keysOnly bool) iter.Seq2[KeyValue, error] {
	q := query.Query{Prefix: prefix.String(), KeysOnly: keysOnly}
	return query2(ctx, s.Datastore, q, func(res query.Result) KeyValue {
		return KeyValue{Key: ds.NewKey(res.Key), Value: res.Value}
	})
}

func (s *datastorage) Keys(ctx context.Context, prefix ds.Key) iter.Seq2[ds.Key, error] {
	q := query.Query{Prefix: prefix.String(), KeysOnly: true}
	return query2(ctx, s.Datastore, q, func(res query.Result) ds.Key {
		return ds.NewKey(res.Key)
	})
}

func (s *datastorage) Merge(ctx context.Context, other Datastore) error {
	batch, err := s.Batch(ctx)
	if err != nil {
		return err
	}
	for kv, err := range other.Iterator(ctx, ds.NewKey("/"), false) {
		if err != nil {
			return err
		}
		if err := batch.Put(ctx, kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return batch.Commit(ctx)
}

func (s *datastorage) Clear(ctx context.Context) error {
	b, err := s.Batch(ctx)
	if err != nil {
		return err
	}
	for key, err := range s.Keys(ctx, ds.NewKey("/")) {
		if err != nil {
			return err
		}
		if err := b.Delete(ctx, key); err != nil {
			return err
		}
	}
	return b.Commit(ctx)
}

func (s *datastorage) Close() error {
	return s.Datastore.Close()
}
