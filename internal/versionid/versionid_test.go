// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package versionid

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOrdering(t *testing.T) {
	gen := NewGenerator("TESTS")

	var ids []string
	for i := 0; i < 1000; i++ {
		ids = append(ids, gen.Generate())
	}

	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i], ids[i-1], "newer ids must sort first")
	}
	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] > ids[j] }))
}

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator("TESTS")

	seen := make(map[string]struct{})
	for i := 0; i < 10000; i++ {
		id := gen.Generate()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %q", id)
		seen[id] = struct{}{}
	}
}

func TestInfSortsLast(t *testing.T) {
	gen := NewGenerator("TESTS")
	inf := Inf("TESTS")

	for i := 0; i < 100; i++ {
		assert.Less(t, gen.Generate(), inf)
	}
}

func TestEncodeDecode(t *testing.T) {
	gen := NewGenerator("PARIS")
	id := gen.Generate()

	decoded, err := Decode(Encode(id))
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}

func TestDecodeNullSentinel(t *testing.T) {
	decoded, err := Decode(Null)
	require.NoError(t, err)
	assert.Equal(t, Null, decoded)
}

func TestDecodeInvalid(t *testing.T) {
	for _, encoded := range []string{"", "%%%", "dG9vc2hvcnQ"} {
		_, err := Decode(encoded)
		assert.True(t, Error.Has(err), "expected versionid error for %q", encoded)
	}
}
