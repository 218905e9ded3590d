// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package objcore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cask-io/cask/blob"
	"github.com/cask-io/cask/bucket"
	"github.com/cask-io/cask/meta"
)

const (
	// mpuBucketPrefix prefixes the shadow bucket holding an upload's part
	// and overview records.
	mpuBucketPrefix = "mpuShadowBucket"

	// splitter joins the components of shadow-bucket keys. oldSplitter is
	// the convention of buckets created before model version 2 and must
	// keep working for uploads initiated back then.
	splitter    = "..|.."
	oldSplitter = "splitterfornow"

	// minPartSize is the smallest a non-terminal part may be at
	// completion time.
	minPartSize = 5 * humanize.MiByte

	maxPartNumber = 10000
)

func shadowBucket(bucketName string) string {
	return mpuBucketPrefix + bucketName
}

// keySplitter selects the shadow-key convention for a bucket.
func keySplitter(info bucket.Info) string {
	if info.ModelVersion < 2 {
		return oldSplitter
	}
	return splitter
}

func overviewKey(split, objectKey, uploadID string) string {
	return "overview" + split + objectKey + split + uploadID
}

func partKey(split, uploadID string, partNumber int) string {
	return fmt.Sprintf("%s%s%05d", uploadID, split, partNumber)
}

// Part is one uploaded part as reported by a parts listing.
type Part struct {
	PartNumber   int
	ETag         string
	Size         int64
	LastModified time.Time
}

// CompletedPart is one entry of a completion request.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// MultipartUploadParams carries the eventual object's attributes, fixed at
// initiation.
type MultipartUploadParams struct {
	Bucket string
	Key    string

	ContentType             string
	StorageClass            string
	UserMetadata            map[string]string
	Tags                    map[string]string
	WebsiteRedirectLocation string
	SSE                     *meta.SSE
}

// NewMultipartUpload initiates a multipart upload: the shadow-bucket
// overview record pins the upload's backend and the final object's
// attributes before any part may land.
func (layer *Layer) NewMultipartUpload(ctx context.Context, params MultipartUploadParams) (uploadID string, err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := layer.bucketInfo(ctx, params.Bucket)
	if err != nil {
		return "", err
	}
	if err := validateWebsiteRedirect(params.WebsiteRedirectLocation); err != nil {
		return "", err
	}

	uploadID = strings.ReplaceAll(uuid.NewString(), "-", "")

	overview := &meta.Record{
		Initiated:               time.Now().UTC(),
		UploadID:                uploadID,
		ControllingLocation:     layer.targetBackend(info, params.StorageClass),
		ContentType:             params.ContentType,
		StorageClass:            params.StorageClass,
		UserMetadata:            params.UserMetadata,
		Tags:                    params.Tags,
		WebsiteRedirectLocation: params.WebsiteRedirectLocation,
		SSE:                     params.SSE,
	}

	key := overviewKey(keySplitter(info), params.Key, uploadID)
	if _, err := layer.meta.PutObject(ctx, shadowBucket(params.Bucket), key, overview, meta.PutOptions{}); err != nil {
		return "", Error.Wrap(err)
	}
	return uploadID, nil
}

// getOverview fetches an upload's overview record, mapping absence to
// upload-not-found.
func (layer *Layer) getOverview(ctx context.Context, info bucket.Info, objectKey, uploadID string) (*meta.Record, error) {
	key := overviewKey(keySplitter(info), objectKey, uploadID)
	overview, err := layer.meta.GetObject(ctx, shadowBucket(info.Name), key, meta.ObjectOptions{})
	if err != nil {
		if meta.ErrNoSuchKey.Has(err) {
			return nil, ErrUploadNotFound.New("%s", uploadID)
		}
		return nil, Error.Wrap(err)
	}
	return overview, nil
}

// PutObjectPart streams one part into the upload's fixed backend and records
// its location under the upload's shadow key. Re-uploading a part number
// replaces the previous part; the superseded data is deleted after the
// record commits.
func (layer *Layer) PutObjectPart(ctx context.Context, bucketName, objectKey, uploadID string, partNumber int, body io.Reader, size int64, contentMD5 string) (etag string, err error) {
	defer mon.Task()(&ctx)(&err)

	if partNumber < 1 || partNumber > maxPartNumber {
		return "", ErrInvalidArgument.New("part number must be between 1 and %d", maxPartNumber)
	}

	info, err := layer.bucketInfo(ctx, bucketName)
	if err != nil {
		return "", err
	}
	overview, err := layer.getOverview(ctx, info, objectKey, uploadID)
	if err != nil {
		return "", err
	}

	record := &meta.Record{
		LastModified:  time.Now().UTC(),
		ContentLength: size,
	}

	var written []blob.Ref
	if size == 0 {
		record.ContentMD5 = emptyFileMD5
	} else {
		keyCtx := blob.KeyContext{BucketName: bucketName, ObjectKey: objectKey}
		ref, digest, err := layer.blob.Put(ctx, body, size, keyCtx, overview.ControllingLocation)
		if err != nil {
			return "", Error.Wrap(err)
		}
		ref.Size = size

		if contentMD5 != "" && contentMD5 != digest {
			if delErr := layer.blob.Delete(ctx, ref); delErr != nil && !blob.ErrNotFound.Has(delErr) {
				layer.log.Error("orphaned data: cleanup after digest mismatch failed",
					zap.String("bucket", bucketName),
					zap.String("key", objectKey),
					zap.Error(delErr))
			}
			return "", ErrBadDigest.New("expected %s, computed %s", contentMD5, digest)
		}

		record.ContentMD5 = digest
		written = []blob.Ref{ref}
		record.Location = meta.Parts(written)
	}

	split := keySplitter(info)
	shadow := shadowBucket(bucketName)
	key := partKey(split, uploadID, partNumber)

	previous, err := layer.meta.GetObject(ctx, shadow, key, meta.ObjectOptions{})
	if err != nil && !meta.ErrNoSuchKey.Has(err) {
		return "", Error.Wrap(err)
	}

	if _, err := layer.meta.PutObject(ctx, shadow, key, record, meta.PutOptions{}); err != nil {
		layer.abandonWrite(ctx, bucketName, objectKey, written, err)
		return "", Error.Wrap(err)
	}

	if previous != nil {
		if locations := resolveLocations(previous); len(locations) > 0 {
			go layer.blob.BatchDelete(context.WithoutCancel(ctx), locations)
		}
	}
	return record.ContentMD5, nil
}

// ListObjectParts lists an upload's parts in part-number order starting
// after partNumberMarker.
func (layer *Layer) ListObjectParts(ctx context.Context, bucketName, objectKey, uploadID string, partNumberMarker, maxParts int) (_ []Part, err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := layer.bucketInfo(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	if _, err := layer.getOverview(ctx, info, objectKey, uploadID); err != nil {
		return nil, err
	}

	split := keySplitter(info)
	entries, err := layer.meta.ListObjects(ctx, shadowBucket(bucketName), meta.ListOptions{
		Prefix: uploadID + split,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	parts := make([]Part, 0, len(entries))
	for _, entry := range entries {
		number, err := strconv.Atoi(strings.TrimPrefix(entry.Key, uploadID+split))
		if err != nil {
			return nil, Error.New("malformed part key %q", entry.Key)
		}
		if number <= partNumberMarker {
			continue
		}
		parts = append(parts, Part{
			PartNumber:   number,
			ETag:         entry.Record.ContentMD5,
			Size:         entry.Record.ContentLength,
			LastModified: entry.Record.LastModified,
		})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	if maxParts > 0 && len(parts) > maxParts {
		parts = parts[:maxParts]
	}
	return parts, nil
}

// CompleteMultipartUpload assembles the uploaded parts into the final object
// version: it validates the completion list, builds the aggregate location
// and etag, runs the same versioning commit as a regular write and then
// clears the upload's shadow records.
func (layer *Layer) CompleteMultipartUpload(ctx context.Context, bucketName, objectKey, uploadID string, completed []CompletedPart) (_ PutObjectResult, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(completed) == 0 {
		return PutObjectResult{}, ErrInvalidArgument.New("completion requires at least one part")
	}

	// Only one completion may assemble a given upload at a time; a loser
	// of this race observes upload-not-found once the winner finishes.
	if !layer.completing.tryAdd(bucketName, objectKey, uploadID) {
		return PutObjectResult{}, ErrUploadNotFound.New("%s", uploadID)
	}
	defer layer.completing.remove(bucketName, objectKey, uploadID)

	info, err := layer.bucketInfo(ctx, bucketName)
	if err != nil {
		return PutObjectResult{}, err
	}
	overview, err := layer.getOverview(ctx, info, objectKey, uploadID)
	if err != nil {
		return PutObjectResult{}, err
	}

	// Part numbers must arrive strictly ascending with no duplicates.
	for i := 1; i < len(completed); i++ {
		if completed[i].PartNumber <= completed[i-1].PartNumber {
			return PutObjectResult{}, ErrInvalidPartOrder.New("part %d after part %d", completed[i].PartNumber, completed[i-1].PartNumber)
		}
	}

	split := keySplitter(info)
	shadow := shadowBucket(bucketName)

	uploaded, err := layer.meta.ListObjects(ctx, shadow, meta.ListOptions{Prefix: uploadID + split})
	if err != nil {
		return PutObjectResult{}, Error.Wrap(err)
	}
	byKey := make(map[string]*meta.Record, len(uploaded))
	for _, entry := range uploaded {
		byKey[entry.Key] = entry.Record
	}

	var (
		locations []blob.Ref
		extra     []blob.Ref
		offset    int64
		etagSum   = md5.New()
	)
	used := make(map[string]bool, len(completed))

	for i, part := range completed {
		key := partKey(split, uploadID, part.PartNumber)
		record, ok := byKey[key]
		if !ok {
			return PutObjectResult{}, ErrInvalidPart.New("part %d was never uploaded", part.PartNumber)
		}
		if etag := strings.Trim(part.ETag, `"`); etag != record.ContentMD5 {
			return PutObjectResult{}, ErrInvalidPart.New("part %d etag mismatch", part.PartNumber)
		}
		if i < len(completed)-1 && record.ContentLength < minPartSize {
			return PutObjectResult{}, ErrEntityTooSmall.New("part %d is %d bytes", part.PartNumber, record.ContentLength)
		}
		used[key] = true

		raw, err := hex.DecodeString(record.ContentMD5)
		if err != nil {
			return PutObjectResult{}, Error.New("malformed stored etag for part %d", part.PartNumber)
		}
		_, _ = etagSum.Write(raw)

		for _, ref := range resolveLocations(record) {
			ref.Start = offset
			locations = append(locations, ref)
			offset += ref.Size
		}
	}

	// Parts uploaded but left out of the completion list become garbage
	// the moment the object commits.
	var staleKeys []string
	for key, record := range byKey {
		if !used[key] {
			extra = append(extra, resolveLocations(record)...)
			staleKeys = append(staleKeys, key)
		}
	}

	aggregateETag := hex.EncodeToString(etagSum.Sum(nil)) + "-" + strconv.Itoa(len(completed))

	record := &meta.Record{
		LastModified:            time.Now().UTC(),
		ContentLength:           offset,
		ContentMD5:              aggregateETag,
		ContentType:             overview.ContentType,
		StorageClass:            overview.StorageClass,
		UserMetadata:            overview.UserMetadata,
		Tags:                    overview.Tags,
		WebsiteRedirectLocation: overview.WebsiteRedirectLocation,
		SSE:                     overview.SSE,
		Location:                meta.Parts(locations),
	}

	result, err := layer.commitWrite(ctx, bucketName, objectKey, record, info.Versioning, "", locations, http.MethodPost)
	if err != nil {
		return PutObjectResult{}, err
	}

	// Shadow cleanup after commit: all part keys plus the overview go in
	// one batch, and data of unused parts is deleted best-effort.
	staleKeys = append(staleKeys, overviewKey(split, objectKey, uploadID))
	for key := range used {
		staleKeys = append(staleKeys, key)
	}
	if err := layer.meta.BatchDeleteObjects(ctx, shadow, staleKeys); err != nil {
		layer.log.Error("stale multipart records: shadow cleanup failed",
			zap.String("bucket", bucketName),
			zap.String("uploadId", uploadID),
			zap.Error(err))
	}
	if len(extra) > 0 {
		go layer.blob.BatchDelete(context.WithoutCancel(ctx), extra)
	}

	return result, nil
}

// AbortMultipartUpload removes all trace of an in-progress upload: part
// data, part records and the overview record.
func (layer *Layer) AbortMultipartUpload(ctx context.Context, bucketName, objectKey, uploadID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := layer.bucketInfo(ctx, bucketName)
	if err != nil {
		return err
	}
	overview, err := layer.getOverview(ctx, info, objectKey, uploadID)
	if err != nil {
		return err
	}

	// Uploads initiated before the controlling location was stored need it
	// re-derived from the destination bucket.
	controlling := overview.ControllingLocation
	if controlling == "" {
		controlling = layer.targetBackend(info, overview.StorageClass)
	}

	split := keySplitter(info)
	shadow := shadowBucket(bucketName)

	entries, err := layer.meta.ListObjects(ctx, shadow, meta.ListOptions{Prefix: uploadID + split})
	if err != nil {
		return Error.Wrap(err)
	}

	var locations []blob.Ref
	keys := make([]string, 0, len(entries)+1)
	for _, entry := range entries {
		for _, ref := range resolveLocations(entry.Record) {
			if ref.DataStoreName == "" {
				ref.DataStoreName = controlling
			}
			locations = append(locations, ref)
		}
		keys = append(keys, entry.Key)
	}
	keys = append(keys, overviewKey(split, objectKey, uploadID))

	// Part data first: once the metadata is gone nothing points at the
	// blobs anymore.
	layer.blob.BatchDelete(ctx, locations)

	if err := layer.meta.BatchDeleteObjects(ctx, shadow, keys); err != nil {
		return Error.Wrap(err)
	}
	return nil
}
