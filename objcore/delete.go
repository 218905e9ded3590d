// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package objcore

import (
	"context"

	"github.com/cask-io/cask/bucket"
	"github.com/cask-io/cask/internal/versionid"
	"github.com/cask-io/cask/meta"
)

// deleteDecision says whether a delete physically removes a record and its
// data. The zero value means "write a delete marker instead".
type deleteDecision struct {
	deleteData bool
	// versionID is the raw id of the version record to remove, empty for
	// the bare master.
	versionID string
}

// decideDelete computes the delete decision. record is the record resolved
// for the requested version (the null sentinel already resolved to the
// actual record); it is nil on the delete-marker path, which needs none.
func decideDelete(state bucket.VersioningState, record *meta.Record, requestedVersionID string) deleteDecision {
	// Unversioned buckets always delete physically, whatever version the
	// request names.
	if state == bucket.VersioningNone {
		return deleteDecision{deleteData: true}
	}
	// No version named on a versioned bucket: never remove data, append a
	// delete marker.
	if requestedVersionID == "" {
		return deleteDecision{}
	}
	return deleteDecision{deleteData: true, versionID: record.VersionID}
}

// DeleteObjectResult reports a delete.
type DeleteObjectResult struct {
	// DeleteMarker is set when the request produced a delete marker rather
	// than removing anything.
	DeleteMarker bool
	// VersionID is the client-facing id of the removed version or the
	// created delete marker.
	VersionID string
}

// DeleteObject removes an object version or appends a delete marker,
// depending on the bucket's versioning state and whether the request names a
// version.
func (layer *Layer) DeleteObject(ctx context.Context, bucketName, key, clientVersionID string) (_ DeleteObjectResult, err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := layer.bucketInfo(ctx, bucketName)
	if err != nil {
		return DeleteObjectResult{}, err
	}

	requested := ""
	if clientVersionID != "" {
		requested, err = versionid.Decode(clientVersionID)
		if err != nil {
			return DeleteObjectResult{}, ErrInvalidArgument.Wrap(err)
		}
	}

	if info.Versioning != bucket.VersioningNone && requested == "" {
		result, err := layer.writeDeleteMarker(ctx, bucketName, key, info.Versioning)
		if err != nil {
			return DeleteObjectResult{}, err
		}
		return DeleteObjectResult{DeleteMarker: true, VersionID: result.VersionID}, nil
	}

	// On an unversioned bucket the request's version id is ignored; the
	// master is all there is.
	lookupVersionID := clientVersionID
	if info.Versioning == bucket.VersioningNone {
		lookupVersionID = ""
		requested = ""
	}

	record, err := layer.getRecord(ctx, bucketName, key, lookupVersionID)
	if err != nil {
		return DeleteObjectResult{}, err
	}

	decision := decideDelete(info.Versioning, record, requested)

	opts := meta.ObjectOptions{VersionID: decision.versionID}
	if err := layer.meta.DeleteObject(ctx, bucketName, key, opts); err != nil {
		if meta.ErrNoSuchKey.Has(err) {
			// A concurrent delete got there first; the outcome the
			// caller asked for holds either way.
			return DeleteObjectResult{VersionID: clientVersionID}, nil
		}
		return DeleteObjectResult{}, Error.Wrap(err)
	}

	if decision.deleteData && !record.IsDeleteMarker {
		if locations := resolveLocations(record); len(locations) > 0 {
			go layer.blob.BatchDelete(context.WithoutCancel(ctx), locations)
		}
	}

	removedID := ""
	if requested != "" {
		removedID = clientVersionID
	}
	return DeleteObjectResult{VersionID: removedID}, nil
}
