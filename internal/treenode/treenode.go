// Package treenode encodes and decodes the node payloads the tree engine
// builds: a leaf flag, per-child subtree element counts, an optional
// per-child minimum-key column (present for map collections, absent for
// list collections), and the child CID column itself. Encoding builds an
// ipld-prime data-model node so the on-block byte layout is stable and
// portable; canon wires DAG-CBOR and BLAKE3 by default, the same pairing the
// teacher blockstore used.
package treenode

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/multiformats/go-multihash"

	"canon/block"
)

// ErrInvalidNode is returned when a parsed block violates the node shape
// invariants (mismatched array lengths, wrong field types, absent fields).
var ErrInvalidNode = errors.New("treenode: invalid node")

// Fields is the in-memory representation of one node's payload. Keys is nil
// for a list node and non-nil (length == len(Children)) for a map node.
type Fields struct {
	Leaf     bool
	Counts   []uint32
	Keys     []string
	Children []cid.Cid
}

// IsMap reports whether these fields carry a key column.
func (f Fields) IsMap() bool { return f.Keys != nil }

func (f Fields) validate() error {
	if len(f.Counts) != len(f.Children) {
		return fmt.Errorf("%w: counts length %d != children length %d", ErrInvalidNode, len(f.Counts), len(f.Children))
	}
	if f.Keys != nil && len(f.Keys) != len(f.Children) {
		return fmt.Errorf("%w: keys length %d != children length %d", ErrInvalidNode, len(f.Keys), len(f.Children))
	}
	for i := 1; i < len(f.Keys); i++ {
		if f.Keys[i-1] >= f.Keys[i] {
			return fmt.Errorf("%w: keys not strictly ascending at %d", ErrInvalidNode, i)
		}
	}
	if f.Leaf {
		for i, c := range f.Counts {
			if c != 1 {
				return fmt.Errorf("%w: leaf count at %d is %d, want 1", ErrInvalidNode, i, c)
			}
		}
	}
	return nil
}

// Encode serializes f, stores the resulting block via store, and returns its
// CID. The CID is derived from (hasher, codec, bytes) exactly as block.Block
// documents.
func Encode(ctx context.Context, store block.Store, hasher block.Hasher, codec block.Codec, f Fields) (cid.Cid, error) {
	if err := f.validate(); err != nil {
		return cid.Undef, err
	}
	node, err := toNode(f)
	if err != nil {
		return cid.Undef, err
	}
	data, err := codec.Encode(node)
	if err != nil {
		return cid.Undef, err
	}
	digest := hasher.Sum(data)
	mh, err := multihash.Encode(digest, hasher.Code())
	if err != nil {
		return cid.Undef, err
	}
	c := cid.NewCidV1(codec.Code(), mh)
	if err := store.Put(ctx, block.Block{Cid: c, Bytes: data}); err != nil {
		return cid.Undef, err
	}
	return c, nil
}

// Decode loads the block for c via store and parses it into Fields.
func Decode(ctx context.Context, store block.Store, codec block.Codec, c cid.Cid) (Fields, error) {
	b, err := store.Get(ctx, c)
	if err != nil {
		return Fields{}, err
	}
	node, err := codec.Decode(b.Bytes)
	if err != nil {
		return Fields{}, err
	}
	f, err := fromNode(node)
	if err != nil {
		return Fields{}, err
	}
	if err := f.validate(); err != nil {
		return Fields{}, err
	}
	return f, nil
}

func toNode(f Fields) (datamodel.Node, error) {
	nb := basicnode.Prototype.Any.NewBuilder()

	size := int64(3)
	if f.IsMap() {
		size = 4
	}
	ma, err := nb.BeginMap(size)
	if err != nil {
		return nil, err
	}
	if err := assignBool(ma, "leaf", f.Leaf); err != nil {
		return nil, err
	}
	if err := assignCounts(ma, f.Counts); err != nil {
		return nil, err
	}
	if f.IsMap() {
		if err := assignKeys(ma, f.Keys); err != nil {
			return nil, err
		}
	}
	if err := assignChildren(ma, f.Children); err != nil {
		return nil, err
	}
	if err := ma.Finish(); err != nil {
		return nil, err
	}
	return nb.Build(), nil
}

func assignBool(ma datamodel.MapAssembler, key string, v bool) error {
	if err := ma.AssembleKey().AssignString(key); err != nil {
		return err
	}
	return ma.AssembleValue().AssignBool(v)
}

func assignCounts(ma datamodel.MapAssembler, counts []uint32) error {
	if err := ma.AssembleKey().AssignString("counts"); err != nil {
		return err
	}
	la, err := ma.AssembleValue().BeginList(int64(len(counts)))
	if err != nil {
		return err
	}
	for _, c := range counts {
		if err := la.AssembleValue().AssignInt(int64(c)); err != nil {
			return err
		}
	}
	return la.Finish()
}

func assignKeys(ma datamodel.MapAssembler, keys []string) error {
	if err := ma.AssembleKey().AssignString("keys"); err != nil {
		return err
	}
	la, err := ma.AssembleValue().BeginList(int64(len(keys)))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := la.AssembleValue().AssignString(k); err != nil {
			return err
		}
	}
	return la.Finish()
}

func assignChildren(ma datamodel.MapAssembler, children []cid.Cid) error {
	if err := ma.AssembleKey().AssignString("children"); err != nil {
		return err
	}
	la, err := ma.AssembleValue().BeginList(int64(len(children)))
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := la.AssembleValue().AssignString(c.String()); err != nil {
			return err
		}
	}
	return la.Finish()
}

func fromNode(n datamodel.Node) (Fields, error) {
	var f Fields

	leafNode, err := n.LookupByString("leaf")
	if err != nil {
		return f, fmt.Errorf("%w: missing leaf field: %v", ErrInvalidNode, err)
	}
	leaf, err := leafNode.AsBool()
	if err != nil {
		return f, fmt.Errorf("%w: leaf field not bool: %v", ErrInvalidNode, err)
	}
	f.Leaf = leaf

	countsNode, err := n.LookupByString("counts")
	if err != nil {
		return f, fmt.Errorf("%w: missing counts field: %v", ErrInvalidNode, err)
	}
	counts, err := readUintList(countsNode)
	if err != nil {
		return f, err
	}
	f.Counts = counts

	if keysNode, err := n.LookupByString("keys"); err == nil {
		keys, err := readStringList(keysNode)
		if err != nil {
			return f, err
		}
		f.Keys = keys
	}

	childrenNode, err := n.LookupByString("children")
	if err != nil {
		return f, fmt.Errorf("%w: missing children field: %v", ErrInvalidNode, err)
	}
	children, err := readCidList(childrenNode)
	if err != nil {
		return f, err
	}
	f.Children = children

	return f, nil
}

func readUintList(n datamodel.Node) ([]uint32, error) {
	if n.Kind() != datamodel.Kind_List {
		return nil, fmt.Errorf("%w: counts is not a list", ErrInvalidNode)
	}
	out := make([]uint32, 0, n.Length())
	it := n.ListIterator()
	for !it.Done() {
		_, v, err := it.Next()
		if err != nil {
			return nil, err
		}
		i, err := v.AsInt()
		if err != nil {
			return nil, fmt.Errorf("%w: count element not int: %v", ErrInvalidNode, err)
		}
		if i < 0 {
			return nil, fmt.Errorf("%w: negative count", ErrInvalidNode)
		}
		out = append(out, uint32(i))
	}
	return out, nil
}

func readStringList(n datamodel.Node) ([]string, error) {
	if n.Kind() != datamodel.Kind_List {
		return nil, fmt.Errorf("%w: keys is not a list", ErrInvalidNode)
	}
	out := make([]string, 0, n.Length())
	it := n.ListIterator()
	for !it.Done() {
		_, v, err := it.Next()
		if err != nil {
			return nil, err
		}
		s, err := v.AsString()
		if err != nil {
			return nil, fmt.Errorf("%w: key element not string: %v", ErrInvalidNode, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func readCidList(n datamodel.Node) ([]cid.Cid, error) {
	if n.Kind() != datamodel.Kind_List {
		return nil, fmt.Errorf("%w: children is not a list", ErrInvalidNode)
	}
	out := make([]cid.Cid, 0, n.Length())
	it := n.ListIterator()
	for !it.Done() {
		_, v, err := it.Next()
		if err != nil {
			return nil, err
		}
		s, err := v.AsString()
		if err != nil {
			return nil, fmt.Errorf("%w: child element not string: %v", ErrInvalidNode, err)
		}
		c, err := cid.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: child element not a CID: %v", ErrInvalidNode, err)
		}
		out = append(out, c)
	}
	return out, nil
}
