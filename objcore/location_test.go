// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package objcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cask-io/cask/blob"
	"github.com/cask-io/cask/bucket"
	"github.com/cask-io/cask/meta"
)

func TestResolveLocationsEmpty(t *testing.T) {
	record := &meta.Record{}
	require.Empty(t, resolveLocations(record))
}

func TestResolveLocationsLegacy(t *testing.T) {
	record := &meta.Record{
		ContentLength: 42,
		Location:      meta.LegacyKey("legacy-blob-key"),
	}

	refs := resolveLocations(record)
	require.Len(t, refs, 1)
	assert.Equal(t, "legacy-blob-key", refs[0].Key)
	assert.EqualValues(t, 42, refs[0].Size)
	assert.True(t, refs[0].NoRange)
}

func TestResolveLocationsEquivalence(t *testing.T) {
	// A legacy bare-string location and the equivalent single-element part
	// list must concatenate to the same bytes.
	legacy := resolveLocations(&meta.Record{
		ContentLength: 10,
		Location:      meta.LegacyKey("k"),
	})
	modern := resolveLocations(&meta.Record{
		ContentLength: 10,
		Location:      meta.Parts([]blob.Ref{{Key: "k", Start: 0, Size: 10}}),
	})

	require.Len(t, legacy, 1)
	require.Len(t, modern, 1)
	assert.Equal(t, legacy[0].Key, modern[0].Key)
	assert.Equal(t, legacy[0].Size, modern[0].Size)

	// But byte-range addressing only works on the modern form.
	_, _, err := sliceLocations(legacy, blob.Range{Offset: 2, Length: 3}, 10)
	require.True(t, ErrInvalidArgument.Has(err))

	refs, ranges, err := sliceLocations(modern, blob.Range{Offset: 2, Length: 3}, 10)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, blob.Range{Offset: 2, Length: 3}, ranges[0])
}

func TestResolveLocationsSSE(t *testing.T) {
	record := &meta.Record{
		Location: meta.Parts([]blob.Ref{{Key: "a"}, {Key: "b"}}),
		SSE:      &meta.SSE{Algorithm: "AES256", MasterKeyID: "key-1"},
	}

	refs := resolveLocations(record)
	require.Len(t, refs, 2)
	for _, ref := range refs {
		assert.Equal(t, "AES256", ref.Algorithm)
		assert.Equal(t, "key-1", ref.MasterKeyID)
	}

	// The record's own location field stays untouched.
	assert.Empty(t, record.Location.Parts()[0].Algorithm)
}

func TestSliceLocationsAcrossParts(t *testing.T) {
	refs := []blob.Ref{
		{Key: "p1", Start: 0, Size: 100},
		{Key: "p2", Start: 100, Size: 100},
		{Key: "p3", Start: 200, Size: 100},
	}

	// A range spanning the tail of p1 and the head of p2.
	sliced, ranges, err := sliceLocations(refs, blob.Range{Offset: 90, Length: 30}, 300)
	require.NoError(t, err)
	require.Len(t, sliced, 2)
	assert.Equal(t, "p1", sliced[0].Key)
	assert.Equal(t, blob.Range{Offset: 90, Length: 10}, ranges[0])
	assert.Equal(t, "p2", sliced[1].Key)
	assert.Equal(t, blob.Range{Offset: 0, Length: 20}, ranges[1])

	// A range inside a single middle part.
	sliced, ranges, err = sliceLocations(refs, blob.Range{Offset: 150, Length: 10}, 300)
	require.NoError(t, err)
	require.Len(t, sliced, 1)
	assert.Equal(t, "p2", sliced[0].Key)
	assert.Equal(t, blob.Range{Offset: 50, Length: 10}, ranges[0])

	// Out of bounds.
	_, _, err = sliceLocations(refs, blob.Range{Offset: 250, Length: 100}, 300)
	require.True(t, ErrInvalidArgument.Has(err))
}

func TestDecideDelete(t *testing.T) {
	// Unversioned buckets delete physically no matter what.
	decision := decideDelete(bucket.VersioningNone, &meta.Record{VersionID: "some-id"}, "some-id")
	assert.True(t, decision.deleteData)
	assert.Empty(t, decision.versionID)

	// Versioned bucket without a version id produces a marker.
	decision = decideDelete(bucket.VersioningEnabled, nil, "")
	assert.False(t, decision.deleteData)

	// Versioned bucket with a version id removes that version.
	decision = decideDelete(bucket.VersioningEnabled, &meta.Record{VersionID: "some-id"}, "some-id")
	assert.True(t, decision.deleteData)
	assert.Equal(t, "some-id", decision.versionID)
}
