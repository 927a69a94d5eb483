// Package directory catalogs named collections — each either an
// IndexedList or an OrderedMap — as entries of a single IPLD map node kept
// in the same block store the collections themselves live in. It plays the
// role the teacher's indexer.Index played for its single MST-backed
// collection type, generalized to two collection kinds: CreateList/
// CreateMap reserve a name and pick which collection type backs it, and
// the name's recorded Kind (read back through CollectionRoot) tells a
// caller such as store.Store whether to open it as a list or a map.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/datamodel"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"

	"canon/block"
	"canon/internal/tree"
)

// Kind distinguishes which collection type a named entry is backed by.
type Kind string

const (
	KindList Kind = "list"
	KindMap  Kind = "map"
)

// ErrNotFound is returned when a named collection does not exist.
var ErrNotFound = errors.New("directory: collection not found")

// ErrExists is returned when CreateList/CreateMap names a collection that
// already exists.
var ErrExists = errors.New("directory: collection already exists")

type slot struct {
	kind Kind
	root cid.Cid // cid.Undef means reserved but not yet materialized
}

// Directory is a catalog of named collections, itself a canonical node
// persisted through the same block.Store as the collections it names.
type Directory struct {
	engine tree.Engine
	mu     sync.RWMutex
	root   cid.Cid
	slots  map[string]slot
}

// New creates an empty Directory bound to store/hasher/codec.
func New(store block.Store, hasher block.Hasher, codec block.Codec) (*Directory, error) {
	d := &Directory{
		engine: tree.Engine{Store: store, Hasher: hasher, Codec: codec},
		slots:  make(map[string]slot),
	}
	root, err := d.materialize(context.Background())
	if err != nil {
		return nil, err
	}
	d.root = root
	return d, nil
}

// Load returns a Directory whose catalog is read from the directory node at
// root.
func Load(ctx context.Context, store block.Store, hasher block.Hasher, codec block.Codec, root cid.Cid) (*Directory, error) {
	d := &Directory{
		engine: tree.Engine{Store: store, Hasher: hasher, Codec: codec},
	}
	if err := d.load(ctx, root); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Directory) load(ctx context.Context, root cid.Cid) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slots = make(map[string]slot)
	d.root = root
	if !root.Defined() {
		return nil
	}
	n, err := d.decodeDirNode(ctx, root)
	if err != nil {
		return err
	}
	it := n.MapIterator()
	for !it.Done() {
		k, v, err := it.Next()
		if err != nil {
			return fmt.Errorf("directory: iterate: %w", err)
		}
		name, err := k.AsString()
		if err != nil {
			return fmt.Errorf("directory: key: %w", err)
		}
		s, err := parseSlotNode(v)
		if err != nil {
			return fmt.Errorf("directory: entry %s: %w", name, err)
		}
		d.slots[name] = s
	}
	return nil
}

// Root returns the current directory node's CID.
func (d *Directory) Root() cid.Cid {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.root
}

// CreateList reserves name as an empty IndexedList and returns the new
// directory root.
func (d *Directory) CreateList(ctx context.Context, name string) (cid.Cid, error) {
	return d.create(ctx, name, KindList)
}

// CreateMap reserves name as an empty OrderedMap and returns the new
// directory root.
func (d *Directory) CreateMap(ctx context.Context, name string) (cid.Cid, error) {
	return d.create(ctx, name, KindMap)
}

func (d *Directory) create(ctx context.Context, name string, kind Kind) (cid.Cid, error) {
	d.mu.Lock()
	if _, exists := d.slots[name]; exists {
		d.mu.Unlock()
		return d.root, fmt.Errorf("%w: %s", ErrExists, name)
	}
	var empty cid.Cid
	var err error
	switch kind {
	case KindList:
		empty, err = d.engine.Build(ctx, nil)
	case KindMap:
		empty, err = d.engine.BuildMap(ctx, nil)
	}
	if err != nil {
		d.mu.Unlock()
		return cid.Undef, err
	}
	d.slots[name] = slot{kind: kind, root: empty}
	d.mu.Unlock()
	return d.materializeAndStore(ctx)
}

// DeleteCollection drops name from the catalog (the nodes it referenced are
// left untouched; they are simply no longer reachable from this root).
func (d *Directory) DeleteCollection(ctx context.Context, name string) (cid.Cid, error) {
	d.mu.Lock()
	if _, exists := d.slots[name]; !exists {
		d.mu.Unlock()
		return d.root, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(d.slots, name)
	d.mu.Unlock()
	return d.materializeAndStore(ctx)
}

// HasCollection reports whether name is cataloged.
func (d *Directory) HasCollection(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.slots[name]
	return ok
}

// Collections returns every cataloged name, sorted.
func (d *Directory) Collections() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.slots))
	for name := range d.slots {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CollectionRoot returns name's current root CID and kind.
func (d *Directory) CollectionRoot(name string) (cid.Cid, Kind, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.slots[name]
	return s.root, s.kind, ok
}

// SetCollectionRoot records a new root CID for an already-cataloged name
// (the caller has performed a Splice/Upsert/Remove on the collection's
// engine directly and is committing the result).
func (d *Directory) SetCollectionRoot(ctx context.Context, name string, root cid.Cid) (cid.Cid, error) {
	d.mu.Lock()
	s, ok := d.slots[name]
	if !ok {
		d.mu.Unlock()
		return d.root, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s.root = root
	d.slots[name] = s
	d.mu.Unlock()
	return d.materializeAndStore(ctx)
}

func (d *Directory) materializeAndStore(ctx context.Context) (cid.Cid, error) {
	root, err := d.materialize(ctx)
	if err != nil {
		return cid.Undef, err
	}
	d.mu.Lock()
	d.root = root
	d.mu.Unlock()
	return root, nil
}

func (d *Directory) materialize(ctx context.Context) (cid.Cid, error) {
	d.mu.RLock()
	names := make([]string, 0, len(d.slots))
	for name := range d.slots {
		names = append(names, name)
	}
	sort.Strings(names)

	b := basicnode.Prototype.Map.NewBuilder()
	ma, err := b.BeginMap(int64(len(names)))
	if err != nil {
		d.mu.RUnlock()
		return cid.Undef, err
	}
	for _, name := range names {
		s := d.slots[name]
		ea, err := ma.AssembleEntry(name)
		if err != nil {
			d.mu.RUnlock()
			return cid.Undef, err
		}
		if err := assignSlot(ea, s); err != nil {
			d.mu.RUnlock()
			return cid.Undef, err
		}
	}
	d.mu.RUnlock()
	if err := ma.Finish(); err != nil {
		return cid.Undef, err
	}

	data, err := d.engine.Codec.Encode(b.Build())
	if err != nil {
		return cid.Undef, err
	}
	c, err := encodeBlock(ctx, d.engine, data)
	if err != nil {
		return cid.Undef, err
	}
	return c, nil
}

func assignSlot(ea datamodel.NodeAssembler, s slot) error {
	ma, err := ea.BeginMap(2)
	if err != nil {
		return err
	}
	if err := ma.AssembleKey().AssignString("kind"); err != nil {
		return err
	}
	if err := ma.AssembleValue().AssignString(string(s.kind)); err != nil {
		return err
	}
	if err := ma.AssembleKey().AssignString("root"); err != nil {
		return err
	}
	if s.root.Defined() {
		if err := ma.AssembleValue().AssignLink(cidlink.Link{Cid: s.root}); err != nil {
			return err
		}
	} else {
		if err := ma.AssembleValue().AssignNull(); err != nil {
			return err
		}
	}
	return ma.Finish()
}

func parseSlotNode(n datamodel.Node) (slot, error) {
	kindNode, err := n.LookupByString("kind")
	if err != nil {
		return slot{}, fmt.Errorf("missing kind: %w", err)
	}
	kindStr, err := kindNode.AsString()
	if err != nil {
		return slot{}, fmt.Errorf("kind not string: %w", err)
	}
	rootNode, err := n.LookupByString("root")
	if err != nil {
		return slot{}, fmt.Errorf("missing root: %w", err)
	}
	var root cid.Cid
	if !rootNode.IsNull() {
		lnk, err := rootNode.AsLink()
		if err != nil {
			return slot{}, fmt.Errorf("root not link: %w", err)
		}
		cl, ok := lnk.(cidlink.Link)
		if !ok {
			return slot{}, errors.New("unexpected link type")
		}
		root = cl.Cid
	}
	return slot{kind: Kind(kindStr), root: root}, nil
}

func (d *Directory) decodeDirNode(ctx context.Context, root cid.Cid) (datamodel.Node, error) {
	b, err := d.engine.Store.Get(ctx, root)
	if err != nil {
		return nil, err
	}
	return d.engine.Codec.Decode(b.Bytes)
}

func encodeBlock(ctx context.Context, e tree.Engine, data []byte) (cid.Cid, error) {
	c, err := block.DeriveCid(e.Hasher, e.Codec, data)
	if err != nil {
		return cid.Undef, err
	}
	if err := e.Store.Put(ctx, block.Block{Cid: c, Bytes: data}); err != nil {
		return cid.Undef, err
	}
	return c, nil
}
