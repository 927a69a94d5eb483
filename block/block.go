// Package block defines the collaborator interfaces the tree engine relies
// on but does not implement itself: a content-addressed store, a hash
// function, and a codec. canon ships a concrete blockstore (see package
// blockstore) that satisfies Store over badger4 plus an LRU cache, but the
// tree/list/omap packages only ever depend on the interfaces here.
package block

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/multiformats/go-multihash"
)

// ErrStoreMiss is returned by Store.Get when no block exists for a CID.
var ErrStoreMiss = errors.New("block: not found")

// Block is an immutable content-addressed payload. Cid is derived
// deterministically from (Hasher, Codec, Bytes); nothing in this library
// mutates a Block once constructed.
type Block struct {
	Cid   cid.Cid
	Bytes []byte
}

// Store is the minimal persistence contract the tree engine needs. Put must
// be idempotent: storing the same bytes under the same CID twice is a no-op
// from the caller's perspective. Get must fail with ErrStoreMiss (wrapped or
// bare) when the block is absent.
type Store interface {
	Put(ctx context.Context, b Block) error
	Get(ctx context.Context, c cid.Cid) (Block, error)
}

// Hasher names a digest function and computes it. Code is the multihash
// function code registered for this hasher (e.g. multihash.BLAKE3).
type Hasher interface {
	Name() string
	Code() uint64
	Sum(data []byte) []byte
}

// Codec names a serialization format and converts an IPLD data-model node to
// and from bytes. Code is the multicodec code registered for this codec
// (e.g. cid.DagCBOR).
type Codec interface {
	Name() string
	Code() uint64
	Encode(n datamodel.Node) ([]byte, error)
	Decode(data []byte) (datamodel.Node, error)
}

// DeriveCid computes the CID that hasher/codec assign to data, without
// storing anything. Every caller that writes a block (tree nodes, directory
// nodes, and any value a collection points at) derives its CID this way.
func DeriveCid(hasher Hasher, codec Codec, data []byte) (cid.Cid, error) {
	digest := hasher.Sum(data)
	mh, err := multihash.Encode(digest, hasher.Code())
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(codec.Code(), mh), nil
}
