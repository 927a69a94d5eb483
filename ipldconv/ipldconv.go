// Package ipldconv converts between plain Go values (the shapes callers
// naturally have on hand: maps, slices, strings, numbers) and IPLD
// datamodel.Node, the representation schema validation and node encoding
// operate on. It has no dependency on the tree engine; list/omap items are
// opaque CIDs to that engine, and ipldconv is what lets higher layers
// (schema, store, cmd/canon) work with the node bodies those CIDs point at.
package ipldconv

import (
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/datamodel"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
)

// ToNode converts an arbitrary Go value into an ipld.Node. A value that is
// already a datamodel.Node is returned unchanged.
func ToNode(v any) (ipld.Node, error) {
	if n, ok := v.(ipld.Node); ok {
		return n, nil
	}
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := AssignValue(nb, v); err != nil {
		return nil, fmt.Errorf("ipldconv: convert value to node: %w", err)
	}
	return nb.Build(), nil
}

// AssignValue assembles v into na. Supported shapes are the JSON-ish subset
// schema validation and CLI rendering need: strings, bools, int64/float64,
// nil, cid.Cid (assigned as a link), []byte, []any, map[string]any and
// map[string]string. Anything else falls back to a JSON-encoded byte blob
// so round-tripping never panics on an unexpected Go type.
func AssignValue(na datamodel.NodeAssembler, v any) error {
	var err error
	switch val := v.(type) {
	case string:
		err = na.AssignString(val)
	case int64:
		err = na.AssignInt(val)
	case int:
		err = na.AssignInt(int64(val))
	case float64:
		err = na.AssignFloat(val)
	case bool:
		err = na.AssignBool(val)
	case nil:
		err = na.AssignNull()
	case cid.Cid:
		err = na.AssignLink(cidlink.Link{Cid: val})
	case map[string]any:
		return assignMapAny(na, val)
	case map[string]string:
		return assignMapString(na, val)
	case []byte:
		err = na.AssignBytes(val)
	case []any:
		return assignList(na, val)
	default:
		data, merr := json.Marshal(val)
		if merr != nil {
			return fmt.Errorf("ipldconv: marshal unsupported value %T: %w", val, merr)
		}
		err = na.AssignBytes(data)
	}
	if err != nil {
		return fmt.Errorf("ipldconv: assign value: %w", err)
	}
	return nil
}

func assignMapAny(na datamodel.NodeAssembler, m map[string]any) error {
	ma, err := na.BeginMap(int64(len(m)))
	if err != nil {
		return err
	}
	for k, v := range m {
		if err := ma.AssembleKey().AssignString(k); err != nil {
			return err
		}
		if err := AssignValue(ma.AssembleValue(), v); err != nil {
			return err
		}
	}
	return ma.Finish()
}

func assignMapString(na datamodel.NodeAssembler, m map[string]string) error {
	ma, err := na.BeginMap(int64(len(m)))
	if err != nil {
		return err
	}
	for k, v := range m {
		if err := ma.AssembleKey().AssignString(k); err != nil {
			return err
		}
		if err := ma.AssembleValue().AssignString(v); err != nil {
			return err
		}
	}
	return ma.Finish()
}

func assignList(na datamodel.NodeAssembler, items []any) error {
	la, err := na.BeginList(int64(len(items)))
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := AssignValue(la.AssembleValue(), item); err != nil {
			return err
		}
	}
	return la.Finish()
}

// ToInterface converts an ipld.Node back into plain Go values: maps become
// map[string]any, lists become []any, scalars become their native Go type.
func ToInterface(n datamodel.Node) (any, error) {
	switch n.Kind() {
	case datamodel.Kind_String:
		return n.AsString()
	case datamodel.Kind_Int:
		return n.AsInt()
	case datamodel.Kind_Float:
		return n.AsFloat()
	case datamodel.Kind_Bool:
		return n.AsBool()
	case datamodel.Kind_Bytes:
		return n.AsBytes()
	case datamodel.Kind_Null:
		return nil, nil
	case datamodel.Kind_Map:
		return ToMap(n)
	case datamodel.Kind_List:
		it := n.ListIterator()
		out := make([]any, 0, n.Length())
		for !it.Done() {
			_, item, err := it.Next()
			if err != nil {
				return nil, err
			}
			v, err := ToInterface(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return fmt.Sprintf("%v", n), nil
	}
}

// ToMap converts a map-kind node into map[string]any. It errors on any
// other node kind.
func ToMap(n datamodel.Node) (map[string]any, error) {
	if n.Kind() != datamodel.Kind_Map {
		return nil, fmt.Errorf("ipldconv: expected map node, got %s", n.Kind())
	}
	out := make(map[string]any, n.Length())
	it := n.MapIterator()
	for !it.Done() {
		k, v, err := it.Next()
		if err != nil {
			return nil, err
		}
		key, err := k.AsString()
		if err != nil {
			return nil, err
		}
		val, err := ToInterface(v)
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}
