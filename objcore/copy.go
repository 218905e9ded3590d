// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package objcore

import (
	"context"
	"net/http"
	"time"

	"github.com/cask-io/cask/blob"
	"github.com/cask-io/cask/bucket"
	"github.com/cask-io/cask/meta"
)

// CopyObjectParams carries one server-side copy.
type CopyObjectParams struct {
	SrcBucket    string
	SrcKey       string
	SrcVersionID string

	DstBucket string
	DstKey    string

	// ReplaceMetadata switches from copying the source's attributes to the
	// replacement values below.
	ReplaceMetadata         bool
	ContentType             string
	UserMetadata            map[string]string
	Tags                    map[string]string
	WebsiteRedirectLocation string

	// StorageClass and SSE apply to the destination regardless of the
	// metadata directive.
	StorageClass string
	SSE          *meta.SSE
}

// CopyObject duplicates an object, re-uploading its data when source and
// destination differ and reusing it in place for a same-object metadata
// rewrite. The destination commit runs the same versioning decision as a
// regular write.
func (layer *Layer) CopyObject(ctx context.Context, params CopyObjectParams) (_ PutObjectResult, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := layer.bucketInfo(ctx, params.SrcBucket); err != nil {
		return PutObjectResult{}, err
	}
	dstInfo, err := layer.bucketInfo(ctx, params.DstBucket)
	if err != nil {
		return PutObjectResult{}, err
	}
	if err := validateWebsiteRedirect(params.WebsiteRedirectLocation); err != nil {
		return PutObjectResult{}, err
	}

	sameObject := params.SrcBucket == params.DstBucket && params.SrcKey == params.DstKey

	// A copy onto itself that changes nothing would be a no-op write; S3
	// rejects it rather than burning a version id on it.
	if sameObject && !params.ReplaceMetadata &&
		params.StorageClass == "" && params.SSE == nil && params.WebsiteRedirectLocation == "" {
		return PutObjectResult{}, ErrInvalidArgument.New("copy to self requires changed metadata, storage class or encryption")
	}

	source, err := layer.getRecord(ctx, params.SrcBucket, params.SrcKey, params.SrcVersionID)
	if err != nil {
		return PutObjectResult{}, err
	}
	if source.IsDeleteMarker {
		return PutObjectResult{}, ErrObjectNotFound.New("%s/%s", params.SrcBucket, params.SrcKey)
	}

	record := &meta.Record{
		LastModified:            time.Now().UTC(),
		ContentLength:           source.ContentLength,
		ContentMD5:              source.ContentMD5,
		ContentType:             source.ContentType,
		StorageClass:            params.StorageClass,
		UserMetadata:            source.UserMetadata,
		Tags:                    source.Tags,
		WebsiteRedirectLocation: source.WebsiteRedirectLocation,
		SSE:                     params.SSE,
	}
	if params.ReplaceMetadata {
		record.ContentType = params.ContentType
		record.UserMetadata = params.UserMetadata
		record.Tags = params.Tags
		record.WebsiteRedirectLocation = params.WebsiteRedirectLocation
	}
	if record.SSE == nil {
		record.SSE = source.SSE
	}

	if sameObject {
		return layer.copyInPlace(ctx, params, dstInfo.Versioning, source, record)
	}

	copied, err := layer.reuploadLocations(ctx, params, resolveLocations(source))
	if err != nil {
		return PutObjectResult{}, err
	}
	if len(copied) > 0 {
		record.Location = meta.Parts(copied)
	}

	return layer.commitWrite(ctx, params.DstBucket, params.DstKey, record, dstInfo.Versioning, "", copied, http.MethodPut)
}

// copyInPlace commits a metadata-only copy: the destination record reuses
// the source's data locations, so the versioning decision's stale-data list
// must not be acted on.
func (layer *Layer) copyInPlace(ctx context.Context, params CopyObjectParams, state bucket.VersioningState, source *meta.Record, record *meta.Record) (PutObjectResult, error) {
	record.Location = source.Location
	record.ContentLength = source.ContentLength

	decision, err := layer.decideVersioning(ctx, params.DstBucket, params.DstKey, state, "")
	if err != nil {
		return PutObjectResult{}, err
	}

	record.IsNull = decision.isNull
	record.NullVersionID = decision.nullVersionID

	committedVersionID, err := layer.meta.PutObject(ctx, params.DstBucket, params.DstKey, record, decision.options)
	if err != nil {
		return PutObjectResult{}, Error.Wrap(err)
	}
	record.VersionID = committedVersionID

	return PutObjectResult{
		VersionID: clientVersionID(record),
		ETag:      record.ContentMD5,
	}, nil
}

// reuploadLocations streams each source part into the destination bucket's
// backend, one part at a time, preserving offsets and sizes.
func (layer *Layer) reuploadLocations(ctx context.Context, params CopyObjectParams, sources []blob.Ref) ([]blob.Ref, error) {
	if len(sources) == 0 {
		return nil, nil
	}

	dstInfo, err := layer.bucketInfo(ctx, params.DstBucket)
	if err != nil {
		return nil, err
	}
	target := layer.targetBackend(dstInfo, params.StorageClass)
	keyCtx := blob.KeyContext{BucketName: params.DstBucket, ObjectKey: params.DstKey}

	copied := make([]blob.Ref, 0, len(sources))
	for _, src := range sources {
		reader, err := layer.blob.Get(ctx, src, nil)
		if err != nil {
			layer.abandonWrite(ctx, params.DstBucket, params.DstKey, copied, err)
			return nil, Error.Wrap(err)
		}

		ref, _, err := layer.blob.Put(ctx, reader, src.Size, keyCtx, target)
		closeErr := reader.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			layer.abandonWrite(ctx, params.DstBucket, params.DstKey, copied, err)
			return nil, Error.Wrap(err)
		}

		ref.Start = src.Start
		ref.Size = src.Size
		copied = append(copied, ref)
	}
	return copied, nil
}
