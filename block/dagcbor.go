package block

import (
	"bytes"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"
)

// DagCBOR is the default Codec, matching the teacher blockstore's choice of
// DAG-CBOR (the same codec go-car/v2 and the rest of the IPFS stack expect).
type DagCBOR struct{}

func (DagCBOR) Name() string { return "dag-cbor" }
func (DagCBOR) Code() uint64 { return cid.DagCBOR }

func (DagCBOR) Encode(n datamodel.Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := dagcbor.Encode(n, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (DagCBOR) Decode(data []byte) (datamodel.Node, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := dagcbor.Decode(nb, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return nb.Build(), nil
}
