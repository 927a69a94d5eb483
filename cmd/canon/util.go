package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ipld/go-ipld-prime/datamodel"

	"canon/ipldconv"
)

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return v, nil
}

// jsonNodes decodes each raw arg as a JSON value and converts it to a node
// ready for PutNode/ListAppend/ListSplice/Upsert.
func jsonNodes(raw []string) ([]datamodel.Node, error) {
	nodes := make([]datamodel.Node, 0, len(raw))
	for _, r := range raw {
		var v any
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			return nil, fmt.Errorf("invalid JSON value %q: %w", r, err)
		}
		n, err := ipldconv.ToNode(v)
		if err != nil {
			return nil, fmt.Errorf("encode value %q: %w", r, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func printNodeJSON(n datamodel.Node) error {
	v, err := ipldconv.ToInterface(n)
	if err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
