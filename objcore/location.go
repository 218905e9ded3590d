// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package objcore

import (
	"context"
	"io"

	"github.com/cask-io/cask/blob"
	"github.com/cask-io/cask/meta"
)

// resolveLocations normalizes a record's location field into the canonical
// ordered ref list. Absent location means a zero-byte object. The historical
// bare-string form becomes a single ref without offset information, flagged
// so readers know byte-range addressing is unsupported for it. Refs inherit
// the record's server-side-encryption attributes.
func resolveLocations(record *meta.Record) []blob.Ref {
	var refs []blob.Ref
	switch {
	case record.Location.IsEmpty():
		return nil
	case record.Location.IsLegacy():
		refs = []blob.Ref{{
			Key:     record.Location.Legacy(),
			Size:    record.ContentLength,
			NoRange: true,
		}}
	default:
		refs = append([]blob.Ref(nil), record.Location.Parts()...)
	}

	if record.SSE != nil {
		for i := range refs {
			refs[i].MasterKeyID = record.SSE.MasterKeyID
			refs[i].Algorithm = record.SSE.Algorithm
		}
	}
	return refs
}

// sliceLocations restricts an ordered ref list to the refs overlapping the
// requested byte range, adjusting each overlapping ref's relative sub-range.
// Refs carry their offset within the object in Start; the list's order is
// the concatenation order.
func sliceLocations(refs []blob.Ref, rng blob.Range, totalSize int64) ([]blob.Ref, []blob.Range, error) {
	if rng.Offset < 0 || rng.Length < 0 || rng.Offset+rng.Length > totalSize {
		return nil, nil, ErrInvalidArgument.New("range %d+%d outside object of %d bytes", rng.Offset, rng.Length, totalSize)
	}

	var (
		sliced []blob.Ref
		ranges []blob.Range
	)
	end := rng.Offset + rng.Length
	for _, ref := range refs {
		if ref.NoRange {
			return nil, nil, ErrInvalidArgument.New("byte-range addressing unsupported for this object")
		}
		refEnd := ref.Start + ref.Size
		if refEnd <= rng.Offset || ref.Start >= end {
			continue
		}
		from := int64(0)
		if rng.Offset > ref.Start {
			from = rng.Offset - ref.Start
		}
		to := ref.Size
		if end < refEnd {
			to = end - ref.Start
		}
		sliced = append(sliced, ref)
		ranges = append(ranges, blob.Range{Offset: from, Length: to - from})
	}
	return sliced, ranges, nil
}

// openLocations returns a reader over the (possibly ranged) concatenation of
// the given refs. Part readers are opened lazily as the previous one drains.
func (layer *Layer) openLocations(ctx context.Context, refs []blob.Ref, totalSize int64, rng *blob.Range) (io.ReadCloser, error) {
	if rng == nil {
		ranges := make([]*blob.Range, len(refs))
		return &locationReader{ctx: ctx, blob: layer.blob, refs: refs, ranges: ranges}, nil
	}

	sliced, subRanges, err := sliceLocations(refs, *rng, totalSize)
	if err != nil {
		return nil, err
	}
	ranges := make([]*blob.Range, len(subRanges))
	for i := range subRanges {
		ranges[i] = &subRanges[i]
	}
	return &locationReader{ctx: ctx, blob: layer.blob, refs: sliced, ranges: ranges}, nil
}

type locationReader struct {
	ctx    context.Context
	blob   *blob.Service
	refs   []blob.Ref
	ranges []*blob.Range

	next    int
	current io.ReadCloser
}

func (r *locationReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if r.next >= len(r.refs) {
				return 0, io.EOF
			}
			reader, err := r.blob.Get(r.ctx, r.refs[r.next], r.ranges[r.next])
			if err != nil {
				return 0, err
			}
			r.current = reader
			r.next++
		}

		n, err := r.current.Read(p)
		if err == io.EOF {
			closeErr := r.current.Close()
			r.current = nil
			if closeErr != nil {
				return n, Error.Wrap(closeErr)
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *locationReader) Close() error {
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return Error.Wrap(err)
}
