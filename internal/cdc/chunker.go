// Package cdc implements the content-defined chunking rule that segments a
// sequence of child CIDs into node-sized runs. Because the boundary test
// depends only on a rolling fingerprint of the last handful of children, two
// subsequences with identical content always chunk identically regardless of
// what precedes or follows them, which is the property the tree engine's
// canonicalization guarantee rests on.
package cdc

import (
	"encoding/binary"

	"github.com/ipfs/go-cid"
)

const (
	// Min is the fewest children a non-final chunk may contain. The
	// fingerprint is warmed up over exactly this many children before any
	// boundary test runs.
	Min = 64
	// Max is the most children a chunk may contain before a hard cut.
	Max = 1024

	hiMask uint32 = 0x88000000
	loMask uint32 = 0x03000000
)

// NextBoundary returns the index hi in (from, len(children)] marking the end
// of the next chunk starting at from. It is pure and depends only on the
// trailing bytes of children[from:].
func NextBoundary(children []cid.Cid, from int) int {
	n := len(children)
	available := n - from
	if available > Max {
		available = Max
	}
	if available < Min {
		return n
	}

	var fhi, flo uint32
	for i := from; i < from+Min; i++ {
		fhi, flo = roll(fhi, flo, gear(children[i]))
	}

	for i := from + Min; i < from+available; i++ {
		fhi, flo = roll(fhi, flo, gear(children[i]))
		if fhi&hiMask == 0 && flo&loMask == 0 {
			return i + 1
		}
	}
	return from + available
}

// gear extracts the trailing 4 bytes of a CID, treating a content-addressed
// hash as an already-uniform source of entropy.
func gear(c cid.Cid) uint32 {
	b := c.Bytes()
	if len(b) < 4 {
		var padded [4]byte
		copy(padded[4-len(b):], b)
		return binary.LittleEndian.Uint32(padded[:])
	}
	return binary.LittleEndian.Uint32(b[len(b)-4:])
}

func roll(fhi, flo, g uint32) (uint32, uint32) {
	wide := uint64(flo)<<1 + uint64(g)
	carry := uint32(wide >> 32)
	newFlo := uint32(wide)
	newFhi := (fhi << 1) + carry
	return newFhi, newFlo
}
