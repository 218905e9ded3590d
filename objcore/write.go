// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package objcore

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cask-io/cask/blob"
	"github.com/cask-io/cask/bucket"
	"github.com/cask-io/cask/meta"
)

// PutObjectParams carries one object write.
type PutObjectParams struct {
	Bucket string
	Key    string

	Body io.Reader
	Size int64

	// ContentMD5 is the client-supplied hex digest, empty when the client
	// sent none.
	ContentMD5  string
	ContentType string

	// StorageClass overrides the bucket's backend selection.
	StorageClass            string
	UserMetadata            map[string]string
	Tags                    map[string]string
	WebsiteRedirectLocation string
	SSE                     *meta.SSE

	// VersionID is the raw version id of a version-specific write. Only
	// the internal replication surface sets it.
	VersionID string

	// RequestMethod is consulted when deciding whether superseded external
	// locations are safe to delete. Defaults to PUT.
	RequestMethod string
}

// PutObjectResult reports a committed write.
type PutObjectResult struct {
	// VersionID is the client-facing version id, empty on unversioned
	// buckets.
	VersionID string
	ETag      string
}

// PutObject streams a new object version into the data store and commits its
// metadata under the versioning decision for the destination bucket. The
// metadata commit is the durability boundary: data superseded by the commit
// is deleted afterwards best-effort, and data written by a failed request is
// left for garbage collection, never rolled back inline.
func (layer *Layer) PutObject(ctx context.Context, params PutObjectParams) (_ PutObjectResult, err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := layer.bucketInfo(ctx, params.Bucket)
	if err != nil {
		return PutObjectResult{}, err
	}
	if err := validateWebsiteRedirect(params.WebsiteRedirectLocation); err != nil {
		return PutObjectResult{}, err
	}

	target := layer.targetBackend(info, params.StorageClass)

	record := &meta.Record{
		LastModified:            time.Now().UTC(),
		ContentLength:           params.Size,
		ContentType:             params.ContentType,
		StorageClass:            params.StorageClass,
		UserMetadata:            params.UserMetadata,
		Tags:                    params.Tags,
		WebsiteRedirectLocation: params.WebsiteRedirectLocation,
		SSE:                     params.SSE,
	}

	// Zero-length writes never touch the data store.
	var written []blob.Ref
	if params.Size == 0 {
		record.ContentMD5 = emptyFileMD5
	} else {
		keyCtx := blob.KeyContext{BucketName: params.Bucket, ObjectKey: params.Key}
		ref, digest, err := layer.blob.Put(ctx, params.Body, params.Size, keyCtx, target)
		if err != nil {
			return PutObjectResult{}, Error.Wrap(err)
		}
		ref.Start = 0
		ref.Size = params.Size

		// A mismatched digest must never reach metadata; the data just
		// written is deleted synchronously so no corrupt object is ever
		// visible.
		if params.ContentMD5 != "" && params.ContentMD5 != digest {
			if delErr := layer.blob.Delete(ctx, ref); delErr != nil && !blob.ErrNotFound.Has(delErr) {
				layer.log.Error("orphaned data: cleanup after digest mismatch failed",
					zap.String("bucket", params.Bucket),
					zap.String("key", params.Key),
					zap.Error(delErr))
			}
			return PutObjectResult{}, ErrBadDigest.New("expected %s, computed %s", params.ContentMD5, digest)
		}

		record.ContentMD5 = digest
		written = []blob.Ref{ref}
		record.Location = meta.Parts(written)
	}

	return layer.commitWrite(ctx, params.Bucket, params.Key, record, info.Versioning, params.VersionID, written, params.RequestMethod)
}

// commitWrite runs the versioning decision, persists the record and cleans
// up superseded data. It is shared by PutObject, CopyObject, multipart
// completion and the delete-marker write.
func (layer *Layer) commitWrite(ctx context.Context, bucketName, key string, record *meta.Record, state bucket.VersioningState, requestedVersionID string, written []blob.Ref, requestMethod string) (PutObjectResult, error) {
	decision, err := layer.decideVersioning(ctx, bucketName, key, state, requestedVersionID)
	if err != nil {
		layer.abandonWrite(ctx, bucketName, key, written, err)
		return PutObjectResult{}, err
	}

	record.IsNull = decision.isNull
	record.NullVersionID = decision.nullVersionID

	committedVersionID, err := layer.meta.PutObject(ctx, bucketName, key, record, decision.options)
	if err != nil {
		layer.abandonWrite(ctx, bucketName, key, written, err)
		return PutObjectResult{}, Error.Wrap(err)
	}
	record.VersionID = committedVersionID
	if decision.options.VersionID != nil && *decision.options.VersionID != "" {
		record.VersionID = *decision.options.VersionID
	}

	// Post-commit cleanup is best-effort and detached from the request:
	// metadata already says the new record is the truth.
	if toDelete := pruneLiveRefs(decision.dataToDelete, resolveLocations(record)); len(toDelete) > 0 {
		method := requestMethod
		if method == "" {
			method = http.MethodPut
		}
		newDataStoreName := ""
		if len(written) > 0 {
			newDataStoreName = written[0].DataStoreName
		}
		if !blob.ShouldSkipDelete(toDelete, method, newDataStoreName) {
			go layer.blob.BatchDelete(context.WithoutCancel(ctx), toDelete)
		}
	}

	return PutObjectResult{
		VersionID: clientVersionID(record),
		ETag:      record.ContentMD5,
	}, nil
}

// pruneLiveRefs drops superseded refs the committed record still points at.
// A replayed replication push supersedes a version with itself; deleting the
// "old" locations there would destroy the data the new record references.
func pruneLiveRefs(dataToDelete, live []blob.Ref) []blob.Ref {
	if len(dataToDelete) == 0 || len(live) == 0 {
		return dataToDelete
	}
	type refKey struct{ dataStore, key string }
	inUse := make(map[refKey]bool, len(live))
	for _, ref := range live {
		inUse[refKey{ref.DataStoreName, ref.Key}] = true
	}
	kept := dataToDelete[:0]
	for _, ref := range dataToDelete {
		if !inUse[refKey{ref.DataStoreName, ref.Key}] {
			kept = append(kept, ref)
		}
	}
	return kept
}

// PutObjectMetadata commits a fully-formed metadata record through the
// versioning decision, optionally addressing an explicit raw version id. The
// replication surface uses it to land records produced by another site: the
// record already carries its data locations, so nothing is streamed here.
func (layer *Layer) PutObjectMetadata(ctx context.Context, bucketName, key string, record *meta.Record, rawVersionID string) (_ PutObjectResult, err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := layer.bucketInfo(ctx, bucketName)
	if err != nil {
		return PutObjectResult{}, err
	}
	return layer.commitWrite(ctx, bucketName, key, record, info.Versioning, rawVersionID, nil, http.MethodPut)
}

// abandonWrite logs data stranded by a failed metadata phase. The blobs stay
// behind for out-of-band garbage collection.
func (layer *Layer) abandonWrite(ctx context.Context, bucketName, key string, written []blob.Ref, cause error) {
	if len(written) == 0 {
		return
	}
	layer.log.Error("orphaned data: metadata phase failed after data write",
		zap.String("bucket", bucketName),
		zap.String("key", key),
		zap.Int("locations", len(written)),
		zap.Error(cause))
}

// targetBackend resolves the data backend for a write.
func (layer *Layer) targetBackend(info bucket.Info, storageClass string) string {
	if storageClass != "" {
		return storageClass
	}
	if info.LocationConstraint != "" {
		return info.LocationConstraint
	}
	return layer.config.DefaultLocation
}

// writeDeleteMarker appends a delete-marker version for key.
func (layer *Layer) writeDeleteMarker(ctx context.Context, bucketName, key string, state bucket.VersioningState) (PutObjectResult, error) {
	record := &meta.Record{
		LastModified:   time.Now().UTC(),
		ContentMD5:     emptyFileMD5,
		IsDeleteMarker: true,
	}
	return layer.commitWrite(ctx, bucketName, key, record, state, "", nil, http.MethodDelete)
}
