// Package headstorage tracks the current root CID of each named collection
// (list or map) in a small persistent keyspace, separate from the node
// blocks themselves. It is the thing that turns a bag of immutable,
// content-addressed nodes into something with mutable, nameable state:
// "the current value of collection X" is just whatever root this package
// last recorded for X.
package headstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
)

// ErrHeadConflict is returned by Advance when the persisted head for name
// changed between this call's load and its save. The per-name mutex rules
// this out for two Advance calls on the same in-process HeadStorage, but
// two separate HeadStorage instances wrapping the same underlying
// datastore (two process instances pointed at one badger4 directory, for
// example) carry no such guarantee, so Advance re-checks before writing.
var ErrHeadConflict = errors.New("headstorage: head changed concurrently")

// HeadStorage persists and watches the current root of named collections.
type HeadStorage interface {
	LoadHead(ctx context.Context, name string) (CollectionHead, error)
	SaveHead(ctx context.Context, name string, state CollectionHead) error
	// Advance atomically loads the current head for name, chains root onto
	// it (bumping Version, setting Prev to the prior Root), and persists
	// the result. Two Advance calls racing on the same name never
	// interleave: the second observes the first's write and bumps from
	// there, so the version counter cannot go backwards or skip under
	// concurrent commits the way a caller-side load-then-save would allow.
	Advance(ctx context.Context, name string, root cid.Cid) (CollectionHead, error)
	WatchHead(ctx context.Context, name string) (<-chan CollectionHead, error)
	// ListNames returns every collection name with a recorded head, in no
	// particular order.
	ListNames(ctx context.Context) ([]string, error)
	Close() error
}

// CollectionHead is the persisted pointer for one named collection: its
// current root, the root it replaced, and a monotonically increasing
// version counter.
type CollectionHead struct {
	Root    cid.Cid `json:"root"`
	Prev    cid.Cid `json:"prev"`
	Version int     `json:"version"`
	Name    string  `json:"name"`
}

const headNamespace = "collection"

type datastoreHeadStorage struct {
	ds ds.Datastore

	// nameLocks serializes Advance calls per collection name without
	// blocking Advance on an unrelated name: mu only ever guards the
	// locks/watchers maps themselves, never the datastore round trip.
	mu        sync.Mutex
	nameLocks map[string]*sync.Mutex
	watchers  map[string][]chan CollectionHead
}

// NewHeadStorage wraps a go-datastore Datastore as a HeadStorage, keying
// each collection's head under /collection/<name>/head.
func NewHeadStorage(store ds.Datastore) HeadStorage {
	return &datastoreHeadStorage{
		ds:        store,
		nameLocks: make(map[string]*sync.Mutex),
		watchers:  make(map[string][]chan CollectionHead),
	}
}

func headKey(name string) ds.Key {
	return ds.NewKey(headNamespace).ChildString(name).ChildString("head")
}

func (h *datastoreHeadStorage) lockFor(name string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.nameLocks[name]
	if !ok {
		l = &sync.Mutex{}
		h.nameLocks[name] = l
	}
	return l
}

func (h *datastoreHeadStorage) LoadHead(ctx context.Context, name string) (CollectionHead, error) {
	return h.loadHead(ctx, name)
}

func (h *datastoreHeadStorage) loadHead(ctx context.Context, name string) (CollectionHead, error) {
	data, err := h.ds.Get(ctx, headKey(name))
	if err != nil {
		if errors.Is(err, ds.ErrNotFound) {
			return CollectionHead{Root: cid.Undef, Prev: cid.Undef, Version: 0, Name: name}, nil
		}
		return CollectionHead{}, fmt.Errorf("headstorage: load head for %q: %w", name, err)
	}
	var state CollectionHead
	if err := json.Unmarshal(data, &state); err != nil {
		return CollectionHead{}, fmt.Errorf("headstorage: decode head for %q: %w", name, err)
	}
	return state, nil
}

func (h *datastoreHeadStorage) SaveHead(ctx context.Context, name string, state CollectionHead) error {
	if err := h.persist(ctx, name, state); err != nil {
		return err
	}
	h.notifyWatchers(name, state)
	return nil
}

func (h *datastoreHeadStorage) persist(ctx context.Context, name string, state CollectionHead) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("headstorage: encode head for %q: %w", name, err)
	}
	if err := h.ds.Put(ctx, headKey(name), data); err != nil {
		return fmt.Errorf("headstorage: persist head for %q: %w", name, err)
	}
	return nil
}

func (h *datastoreHeadStorage) Advance(ctx context.Context, name string, root cid.Cid) (CollectionHead, error) {
	lock := h.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	prev, err := h.loadHead(ctx, name)
	if err != nil {
		return CollectionHead{}, err
	}
	next := CollectionHead{
		Root:    root,
		Prev:    prev.Root,
		Version: prev.Version + 1,
		Name:    name,
	}
	if err := h.persistIfUnchanged(ctx, name, prev, next); err != nil {
		return CollectionHead{}, err
	}
	h.notifyWatchers(name, next)
	return next, nil
}

// persistIfUnchanged re-reads the current head and writes next only if it
// still matches expected, guarding against a write from another
// HeadStorage instance landing between Advance's load and save.
func (h *datastoreHeadStorage) persistIfUnchanged(ctx context.Context, name string, expected, next CollectionHead) error {
	current, err := h.loadHead(ctx, name)
	if err != nil {
		return err
	}
	if current.Version != expected.Version || current.Root != expected.Root {
		return fmt.Errorf("%w: %q is at version %d, wanted %d", ErrHeadConflict, name, current.Version, expected.Version)
	}
	return h.persist(ctx, name, next)
}

func (h *datastoreHeadStorage) ListNames(ctx context.Context) ([]string, error) {
	prefix := ds.NewKey(headNamespace).String()
	results, err := h.ds.Query(ctx, query.Query{Prefix: prefix, KeysOnly: true})
	if err != nil {
		return nil, fmt.Errorf("headstorage: list names: %w", err)
	}
	defer results.Close()

	var names []string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case result, ok := <-results.Next():
			if !ok {
				return names, nil
			}
			if result.Error != nil {
				return nil, fmt.Errorf("headstorage: list names: %w", result.Error)
			}
			rest := strings.TrimPrefix(result.Key, prefix+"/")
			name := strings.TrimSuffix(rest, "/head")
			if name == "" || name == rest {
				continue
			}
			names = append(names, name)
		}
	}
}

func (h *datastoreHeadStorage) WatchHead(ctx context.Context, name string) (<-chan CollectionHead, error) {
	ch := make(chan CollectionHead, 10)
	h.mu.Lock()
	h.watchers[name] = append(h.watchers[name], ch)
	h.mu.Unlock()
	go func() {
		<-ctx.Done()
		h.removeWatcher(name, ch)
		close(ch)
	}()
	return ch, nil
}

func (h *datastoreHeadStorage) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, watchers := range h.watchers {
		for _, ch := range watchers {
			close(ch)
		}
	}
	h.watchers = make(map[string][]chan CollectionHead)
	h.nameLocks = make(map[string]*sync.Mutex)
	return nil
}

func (h *datastoreHeadStorage) notifyWatchers(name string, state CollectionHead) {
	h.mu.Lock()
	watchers := append([]chan CollectionHead{}, h.watchers[name]...)
	h.mu.Unlock()
	for _, ch := range watchers {
		select {
		case ch <- state:
		default:
		}
	}
}

func (h *datastoreHeadStorage) removeWatcher(name string, target chan CollectionHead) {
	h.mu.Lock()
	defer h.mu.Unlock()
	watchers := h.watchers[name]
	for i, ch := range watchers {
		if ch == target {
			h.watchers[name] = append(watchers[:i], watchers[i+1:]...)
			break
		}
	}
}
