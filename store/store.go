// Package store wires together a blockstore, a headstorage, a directory and
// the optional schema and search side-indexes into one facade: the thing an
// application actually opens. It plays the role the teacher's repository
// package played for its single MST-backed collection, generalized to the
// directory's two collection kinds and widened with CAR export/import and
// schema validation on map upserts.
package store

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"sort"
	"strings"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	badger4 "github.com/ipfs/go-ds-badger4"
	carv2 "github.com/ipld/go-car/v2"
	carblockstore "github.com/ipld/go-car/v2/blockstore"
	"github.com/ipld/go-ipld-prime/datamodel"

	"canon/block"
	"canon/blockstore"
	"canon/datastore"
	"canon/directory"
	"canon/headstorage"
	"canon/internal/treenode"
	"canon/ipldconv"
	"canon/list"
	"canon/omap"
	"canon/schema"
	"canon/search"
)

// Options configures Open. SQLitePath and SchemaDir are optional; a zero
// value skips the corresponding side-index.
type Options struct {
	// Name identifies this store's head entry in headstorage. Defaults to
	// "default" when empty, so a single-repo application can ignore it.
	Name string
	// SQLitePath, when set, opens a search.Index at this path and keeps it
	// in sync with every Upsert/Remove against a map collection.
	SQLitePath string
	// SchemaDir, when set, loads a schema.Registry from this directory and
	// validates every Upsert against the schema named after the collection,
	// when one is loaded and active.
	SchemaDir string
	Blockstore blockstore.Options
}

// Store is the top-level facade over a canon repository: a directory of
// named list/map collections, persisted through one blockstore, with its
// current root tracked in headstorage and optionally mirrored into a
// search.Index and validated against a schema.Registry.
type Store struct {
	name string

	bs     *blockstore.Blockstore
	ds     datastore.Datastore
	heads  headstorage.HeadStorage
	dir    *directory.Directory
	schema *schema.Registry
	search *search.Index

	hasher block.Hasher
	codec  block.Codec

	mu sync.RWMutex
}

// Open opens (creating if absent) a badger4-backed repository at dataPath
// and loads or initializes its directory from headstorage.
func Open(ctx context.Context, dataPath string, opts Options) (*Store, error) {
	name := opts.Name
	if name == "" {
		name = "default"
	}

	ds, err := datastore.NewDatastorage(dataPath, &badger4.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("store: open datastore: %w", err)
	}
	bs, err := blockstore.New(ds, opts.Blockstore)
	if err != nil {
		return nil, fmt.Errorf("store: open blockstore: %w", err)
	}
	heads := headstorage.NewHeadStorage(ds)

	head, err := heads.LoadHead(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("store: load head: %w", err)
	}

	s := &Store{
		name:   name,
		bs:     bs,
		ds:     ds,
		heads:  heads,
		hasher: block.Blake3{},
		codec:  block.DagCBOR{},
	}

	if head.Root.Defined() {
		s.dir, err = directory.Load(ctx, bs, s.hasher, s.codec, head.Root)
	} else {
		s.dir, err = directory.New(bs, s.hasher, s.codec)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load directory: %w", err)
	}

	if opts.SchemaDir != "" {
		reg := schema.NewRegistry(opts.SchemaDir)
		if err := reg.LoadSchemas(ctx); err != nil {
			return nil, fmt.Errorf("store: load schemas: %w", err)
		}
		s.schema = reg
	}

	if opts.SQLitePath != "" {
		idx, err := search.Open(opts.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("store: open search index: %w", err)
		}
		s.search = idx
	}

	return s, nil
}

// Root returns the current directory root CID.
func (s *Store) Root() cid.Cid {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir.Root()
}

// Commit persists the directory's current root as this store's new head,
// recording the previous root and bumping the version counter. Every
// mutating method below calls this itself after updating the directory.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.RLock()
	root := s.dir.Root()
	s.mu.RUnlock()

	_, err := s.heads.Advance(ctx, s.name, root)
	return err
}

// CreateList reserves name as an empty IndexedList.
func (s *Store) CreateList(ctx context.Context, name string) (cid.Cid, error) {
	s.mu.Lock()
	root, err := s.dir.CreateList(ctx, name)
	s.mu.Unlock()
	if err != nil {
		return cid.Undef, err
	}
	return root, s.Commit(ctx)
}

// CreateMap reserves name as an empty OrderedMap.
func (s *Store) CreateMap(ctx context.Context, name string) (cid.Cid, error) {
	s.mu.Lock()
	root, err := s.dir.CreateMap(ctx, name)
	s.mu.Unlock()
	if err != nil {
		return cid.Undef, err
	}
	return root, s.Commit(ctx)
}

// DeleteCollection drops name from the directory.
func (s *Store) DeleteCollection(ctx context.Context, name string) (cid.Cid, error) {
	s.mu.Lock()
	root, err := s.dir.DeleteCollection(ctx, name)
	s.mu.Unlock()
	if err != nil {
		return cid.Undef, err
	}
	return root, s.Commit(ctx)
}

// Collections lists every cataloged name.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir.Collections()
}

// HasCollection reports whether name is cataloged.
func (s *Store) HasCollection(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir.HasCollection(name)
}

func (s *Store) listHandle(name string) (*list.List, error) {
	root, kind, ok := s.dir.CollectionRoot(name)
	if !ok {
		return nil, fmt.Errorf("store: %w: %s", directory.ErrNotFound, name)
	}
	if kind != directory.KindList {
		return nil, fmt.Errorf("store: %s is a %s, not a list", name, kind)
	}
	return list.New(s.bs, s.hasher, s.codec, root), nil
}

func (s *Store) mapHandle(name string) (*omap.Map, error) {
	root, kind, ok := s.dir.CollectionRoot(name)
	if !ok {
		return nil, fmt.Errorf("store: %w: %s", directory.ErrNotFound, name)
	}
	if kind != directory.KindMap {
		return nil, fmt.Errorf("store: %s is a %s, not a map", name, kind)
	}
	return omap.New(s.bs, s.hasher, s.codec, root), nil
}

// PutNode encodes n and stores it, returning its content-addressed CID. It
// is the building block every list/map item value in this store is built
// from: collections hold CIDs, not inline values.
func (s *Store) PutNode(ctx context.Context, n datamodel.Node) (cid.Cid, error) {
	data, err := s.codec.Encode(n)
	if err != nil {
		return cid.Undef, fmt.Errorf("store: encode node: %w", err)
	}
	c, err := s.encodeBlock(ctx, data)
	if err != nil {
		return cid.Undef, err
	}
	return c, nil
}

// GetNode fetches and decodes the node stored under c.
func (s *Store) GetNode(ctx context.Context, c cid.Cid) (datamodel.Node, error) {
	b, err := s.bs.Get(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", c, err)
	}
	return s.codec.Decode(b.Bytes)
}

func (s *Store) encodeBlock(ctx context.Context, data []byte) (cid.Cid, error) {
	c, err := block.DeriveCid(s.hasher, s.codec, data)
	if err != nil {
		return cid.Undef, err
	}
	if err := s.bs.Put(ctx, block.Block{Cid: c, Bytes: data}); err != nil {
		return cid.Undef, fmt.Errorf("store: put block: %w", err)
	}
	return c, nil
}

// ListAppend encodes each of values in order, appends their CIDs to the end
// of collection, and commits the new directory root.
func (s *Store) ListAppend(ctx context.Context, collection string, values ...datamodel.Node) (cid.Cid, error) {
	l, err := s.listHandle(collection)
	if err != nil {
		return cid.Undef, err
	}
	items := make([]cid.Cid, len(values))
	for i, v := range values {
		c, err := s.PutNode(ctx, v)
		if err != nil {
			return cid.Undef, err
		}
		items[i] = c
	}
	size, err := l.Size(ctx)
	if err != nil {
		return cid.Undef, err
	}
	return s.listSplice(ctx, collection, l, size, 0, items)
}

// ListSplice removes deleteCount values starting at rank start from
// collection and inserts values in their place.
func (s *Store) ListSplice(ctx context.Context, collection string, start, deleteCount uint64, values []datamodel.Node) (cid.Cid, error) {
	l, err := s.listHandle(collection)
	if err != nil {
		return cid.Undef, err
	}
	items := make([]cid.Cid, len(values))
	for i, v := range values {
		c, err := s.PutNode(ctx, v)
		if err != nil {
			return cid.Undef, err
		}
		items[i] = c
	}
	return s.listSplice(ctx, collection, l, start, deleteCount, items)
}

func (s *Store) listSplice(ctx context.Context, collection string, l *list.List, start, deleteCount uint64, items []cid.Cid) (cid.Cid, error) {
	next, err := l.Splice(ctx, start, deleteCount, items)
	if err != nil {
		return cid.Undef, fmt.Errorf("store: splice %s: %w", collection, err)
	}
	s.mu.Lock()
	root, err := s.dir.SetCollectionRoot(ctx, collection, next.Root())
	s.mu.Unlock()
	if err != nil {
		return cid.Undef, err
	}
	return root, s.Commit(ctx)
}

// ListAt returns the decoded item at rank i of collection.
func (s *Store) ListAt(ctx context.Context, collection string, i uint64) (datamodel.Node, error) {
	l, err := s.listHandle(collection)
	if err != nil {
		return nil, err
	}
	c, err := l.At(ctx, i)
	if err != nil {
		return nil, err
	}
	return s.GetNode(ctx, c)
}

// ListSize returns the number of items in collection.
func (s *Store) ListSize(ctx context.Context, collection string) (uint64, error) {
	l, err := s.listHandle(collection)
	if err != nil {
		return 0, err
	}
	return l.Size(ctx)
}

// ListScan lazily yields decoded items of collection in rank order.
func (s *Store) ListScan(ctx context.Context, collection string, opts list.ScanOptions) iter.Seq2[datamodel.Node, error] {
	return func(yield func(datamodel.Node, error) bool) {
		l, err := s.listHandle(collection)
		if err != nil {
			yield(nil, err)
			return
		}
		for c, err := range l.Scan(ctx, opts) {
			if err != nil {
				yield(nil, err)
				return
			}
			n, err := s.GetNode(ctx, c)
			if !yield(n, err) || err != nil {
				return
			}
		}
	}
}

// Upsert validates value against collection's schema (if a schema.Registry
// is configured and a schema with that collection's name is loaded and
// active), stores it, inserts or replaces it under key in collection, mirrors
// it into the search index if configured, and commits.
func (s *Store) Upsert(ctx context.Context, collection, key string, value datamodel.Node) (cid.Cid, error) {
	if s.schema != nil && s.schema.IsActive(collection) {
		if err := s.schema.ValidateNode(collection, value); err != nil {
			return cid.Undef, fmt.Errorf("store: validate %s/%s: %w", collection, key, err)
		}
	}
	m, err := s.mapHandle(collection)
	if err != nil {
		return cid.Undef, err
	}
	valueCID, err := s.PutNode(ctx, value)
	if err != nil {
		return cid.Undef, err
	}
	next, err := m.Upsert(ctx, key, valueCID)
	if err != nil {
		return cid.Undef, fmt.Errorf("store: upsert %s/%s: %w", collection, key, err)
	}

	s.mu.Lock()
	root, err := s.dir.SetCollectionRoot(ctx, collection, next.Root())
	s.mu.Unlock()
	if err != nil {
		return cid.Undef, err
	}

	if s.search != nil {
		if err := s.indexEntry(ctx, collection, key, valueCID, value); err != nil {
			return cid.Undef, fmt.Errorf("store: index %s/%s: %w", collection, key, err)
		}
	}

	return root, s.Commit(ctx)
}

// Remove deletes key from collection if present and commits.
func (s *Store) Remove(ctx context.Context, collection, key string) (cid.Cid, error) {
	m, err := s.mapHandle(collection)
	if err != nil {
		return cid.Undef, err
	}

	var valueCID cid.Cid
	var hadValue bool
	if s.search != nil {
		valueCID, hadValue, err = m.Eq(ctx, key)
		if err != nil {
			return cid.Undef, fmt.Errorf("store: lookup %s/%s: %w", collection, key, err)
		}
	}

	next, err := m.Remove(ctx, key)
	if err != nil {
		return cid.Undef, fmt.Errorf("store: remove %s/%s: %w", collection, key, err)
	}

	s.mu.Lock()
	root, err := s.dir.SetCollectionRoot(ctx, collection, next.Root())
	s.mu.Unlock()
	if err != nil {
		return cid.Undef, err
	}

	if s.search != nil && hadValue {
		if err := s.search.Delete(ctx, valueCID); err != nil {
			return cid.Undef, fmt.Errorf("store: unindex %s/%s: %w", collection, key, err)
		}
	}

	return root, s.Commit(ctx)
}

func (s *Store) indexEntry(ctx context.Context, collection, key string, valueCID cid.Cid, value datamodel.Node) error {
	data, err := ipldconv.ToMap(value)
	if err != nil {
		return fmt.Errorf("convert value: %w", err)
	}
	return s.search.Index(ctx, valueCID, search.Entry{
		Collection: collection,
		Key:        key,
		Kind:       inferKind(collection, data),
		Data:       data,
		SearchText: searchText(data),
	})
}

func inferKind(collection string, data map[string]any) string {
	if t, ok := data["$type"]; ok {
		if s, ok := t.(string); ok {
			return s
		}
	}
	return collection
}

func searchText(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, k)
		switch v := data[k].(type) {
		case string:
			parts = append(parts, v)
		case []any:
			for _, item := range v {
				if str, ok := item.(string); ok {
					parts = append(parts, str)
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

// Get looks up key in collection and decodes its value.
func (s *Store) Get(ctx context.Context, collection, key string) (datamodel.Node, bool, error) {
	m, err := s.mapHandle(collection)
	if err != nil {
		return nil, false, err
	}
	c, ok, err := m.Eq(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	n, err := s.GetNode(ctx, c)
	return n, true, err
}

// MapScan lazily yields decoded (key, value) entries of collection in key
// order.
func (s *Store) MapScan(ctx context.Context, collection string, opts omap.ScanOptions) iter.Seq2[omap.Entry, error] {
	return func(yield func(omap.Entry, error) bool) {
		m, err := s.mapHandle(collection)
		if err != nil {
			yield(omap.Entry{}, err)
			return
		}
		for e, err := range m.Scan(ctx, opts) {
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// Search runs q against the configured search.Index.
func (s *Store) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	if s.search == nil {
		return nil, fmt.Errorf("store: search index not configured")
	}
	return s.search.Query(ctx, q)
}

// reachable walks the canonical tree rooted at root, decoding each internal
// node through treenode.Decode, and returns every block CID it touches:
// internal nodes, leaf nodes, and the item/value CIDs a leaf's children
// point at. Tree node children are plain CID strings rather than typed IPLD
// links (see internal/treenode), so this walk (not a selector-driven
// traversal.LinkSystem) is what discovers a collection's full subgraph.
func (s *Store) reachable(ctx context.Context, root cid.Cid) ([]cid.Cid, error) {
	var out []cid.Cid
	seen := make(map[cid.Cid]bool)

	var walk func(c cid.Cid) error
	walk = func(c cid.Cid) error {
		if !c.Defined() || seen[c] {
			return nil
		}
		seen[c] = true
		out = append(out, c)

		fields, err := treenode.Decode(ctx, s.bs, s.codec, c)
		if err != nil {
			// Not a tree node (e.g. an opaque item/value block); nothing
			// further to recurse into.
			return nil
		}
		if fields.Leaf {
			for _, child := range fields.Children {
				if !child.Defined() || seen[child] {
					continue
				}
				seen[child] = true
				out = append(out, child)
			}
			return nil
		}
		for _, child := range fields.Children {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportCAR writes a CAR v2 archive of every block reachable from
// collection's current root to w.
func (s *Store) ExportCAR(ctx context.Context, collection string, w io.Writer) error {
	root, _, ok := s.dir.CollectionRoot(collection)
	if !ok {
		return fmt.Errorf("store: %w: %s", directory.ErrNotFound, collection)
	}
	if !root.Defined() {
		return fmt.Errorf("store: collection is empty: %s", collection)
	}

	cids, err := s.reachable(ctx, root)
	if err != nil {
		return fmt.Errorf("store: walk %s: %w", collection, err)
	}

	tmp, err := os.CreateTemp("", "canon-export-*.car")
	if err != nil {
		return fmt.Errorf("store: create car temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	rw, err := carblockstore.OpenReadWrite(tmpPath, []cid.Cid{root})
	if err != nil {
		return fmt.Errorf("store: open car writer: %w", err)
	}
	for _, c := range cids {
		b, err := s.bs.Get(ctx, c)
		if err != nil {
			return fmt.Errorf("store: read block %s: %w", c, err)
		}
		blk, err := blocks.NewBlockWithCid(b.Bytes, c)
		if err != nil {
			return fmt.Errorf("store: wrap block %s: %w", c, err)
		}
		if err := rw.Put(ctx, blk); err != nil {
			return fmt.Errorf("store: write block %s to car: %w", c, err)
		}
	}
	if err := rw.Finalize(); err != nil {
		return fmt.Errorf("store: finalize car: %w", err)
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("store: reopen car: %w", err)
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// ImportCAR reads every block from a CAR archive into this store's
// blockstore and returns the archive's declared root CIDs. It does not
// register any collection name for the imported roots; callers typically
// follow up with SetCollectionRoot-equivalent bookkeeping of their own, or
// simply use the returned roots with GetNode/list.New/omap.New directly.
func (s *Store) ImportCAR(ctx context.Context, r io.Reader, opts ...carv2.ReadOption) ([]cid.Cid, error) {
	br, err := carv2.NewBlockReader(r, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: open car: %w", err)
	}
	for {
		blk, err := br.Next()
		if err == io.EOF {
			return br.Roots, nil
		}
		if err != nil {
			return nil, fmt.Errorf("store: read car block: %w", err)
		}
		if err := s.bs.Put(ctx, block.Block{Cid: blk.Cid(), Bytes: blk.RawData()}); err != nil {
			return nil, fmt.Errorf("store: put imported block: %w", err)
		}
	}
}

// Close releases the search index (if any) and the underlying blockstore.
func (s *Store) Close() error {
	var firstErr error
	if s.search != nil {
		if err := s.search.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("store: close search index: %w", err)
		}
		s.search = nil
	}
	if err := s.heads.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("store: close headstorage: %w", err)
	}
	if err := s.bs.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("store: close blockstore: %w", err)
	}
	return firstErr
}
