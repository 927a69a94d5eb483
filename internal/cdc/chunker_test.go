package cdc

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func fakeCID(t *testing.T, n int) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}, multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func chain(t *testing.T, n int) []cid.Cid {
	t.Helper()
	out := make([]cid.Cid, n)
	for i := range out {
		out[i] = fakeCID(t, i)
	}
	return out
}

func TestNextBoundaryShortTail(t *testing.T) {
	children := chain(t, 10)
	require.Equal(t, 10, NextBoundary(children, 0))
}

func TestNextBoundaryHardCut(t *testing.T) {
	children := chain(t, Max*3)
	hi := NextBoundary(children, 0)
	require.LessOrEqual(t, hi, Max)
	require.GreaterOrEqual(t, hi, Min)
}

func TestNextBoundaryDeterministicOnSharedSubsequence(t *testing.T) {
	shared := chain(t, 5000)

	prefixA := chain(t, 17)
	a := append(append([]cid.Cid{}, prefixA...), shared...)

	prefixB := chain(t, 113)
	b := append(append([]cid.Cid{}, prefixB...), shared...)

	// Walk both sequences chunking the shared tail; once alignment reaches
	// the shared region the emitted boundary offsets (relative to the start
	// of `shared`) must match regardless of what preceded it.
	boundariesRelativeTo := func(full []cid.Cid, sharedStart int) []int {
		var bounds []int
		from := sharedStart
		for from < len(full) {
			hi := NextBoundary(full, from)
			bounds = append(bounds, hi-sharedStart)
			from = hi
		}
		return bounds
	}

	require.Equal(t, boundariesRelativeTo(a, len(prefixA)), boundariesRelativeTo(b, len(prefixB)))
}

func TestNextBoundaryCoversWholeSequence(t *testing.T) {
	children := chain(t, 10000)
	from := 0
	for from < len(children) {
		hi := NextBoundary(children, from)
		require.Greater(t, hi, from)
		require.LessOrEqual(t, hi, len(children))
		from = hi
	}
}
