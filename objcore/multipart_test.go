// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package objcore_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cask-io/cask/blob"
	"github.com/cask-io/cask/bucket"
	"github.com/cask-io/cask/meta"
	"github.com/cask-io/cask/objcore"
)

const partSize = 5 * 1024 * 1024

func (env *testEnv) uploadPart(t *testing.T, bucketName, key, uploadID string, partNumber int, content string) objcore.CompletedPart {
	etag, err := env.layer.PutObjectPart(context.Background(), bucketName, key, uploadID, partNumber,
		strings.NewReader(content), int64(len(content)), "")
	require.NoError(t, err)
	return objcore.CompletedPart{PartNumber: partNumber, ETag: etag}
}

func TestMultipartLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	uploadID, err := env.layer.NewMultipartUpload(context.Background(), objcore.MultipartUploadParams{
		Bucket:      "bucket",
		Key:         "key",
		ContentType: "application/octet-stream",
	})
	require.NoError(t, err)
	require.NotEmpty(t, uploadID)

	first := env.uploadPart(t, "bucket", "key", uploadID, 1, strings.Repeat("a", partSize))
	second := env.uploadPart(t, "bucket", "key", uploadID, 2, "tail")

	parts, err := env.layer.ListObjectParts(context.Background(), "bucket", "key", uploadID, 0, 0)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	require.Equal(t, 1, parts[0].PartNumber)
	require.Equal(t, 2, parts[1].PartNumber)

	result, err := env.layer.CompleteMultipartUpload(context.Background(), "bucket", "key", uploadID,
		[]objcore.CompletedPart{first, second})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(result.ETag, "-2"))

	content := env.get(t, "bucket", "key", "")
	require.Len(t, content, partSize+4)
	require.Equal(t, "tail", content[partSize:])

	// All shadow records are gone.
	entries, err := env.meta.ListObjects(context.Background(), "mpuShadowBucketbucket", meta.ListOptions{})
	require.NoError(t, err)
	require.Empty(t, entries)

	// The upload is terminal.
	_, err = env.layer.ListObjectParts(context.Background(), "bucket", "key", uploadID, 0, 0)
	require.True(t, objcore.ErrUploadNotFound.Has(err))
}

func TestMultipartPartOrdering(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	uploadID, err := env.layer.NewMultipartUpload(context.Background(), objcore.MultipartUploadParams{
		Bucket: "bucket", Key: "key",
	})
	require.NoError(t, err)

	p3 := env.uploadPart(t, "bucket", "key", uploadID, 3, strings.Repeat("a", partSize))
	p8 := env.uploadPart(t, "bucket", "key", uploadID, 8, strings.Repeat("b", partSize))
	p1000 := env.uploadPart(t, "bucket", "key", uploadID, 1000, "tail")

	// Out of order.
	_, err = env.layer.CompleteMultipartUpload(context.Background(), "bucket", "key", uploadID,
		[]objcore.CompletedPart{p8, p3, p1000})
	require.True(t, objcore.ErrInvalidPartOrder.Has(err))

	// Duplicates.
	_, err = env.layer.CompleteMultipartUpload(context.Background(), "bucket", "key", uploadID,
		[]objcore.CompletedPart{p3, p3, p1000})
	require.True(t, objcore.ErrInvalidPartOrder.Has(err))

	// The upload stays abortable after rejections.
	require.NoError(t, env.layer.AbortMultipartUpload(context.Background(), "bucket", "key", uploadID))

	// Ascending sparse part numbers are fine on a fresh upload.
	uploadID, err = env.layer.NewMultipartUpload(context.Background(), objcore.MultipartUploadParams{
		Bucket: "bucket", Key: "key",
	})
	require.NoError(t, err)
	p3 = env.uploadPart(t, "bucket", "key", uploadID, 3, strings.Repeat("a", partSize))
	p8 = env.uploadPart(t, "bucket", "key", uploadID, 8, strings.Repeat("b", partSize))
	p1000 = env.uploadPart(t, "bucket", "key", uploadID, 1000, "tail")

	_, err = env.layer.CompleteMultipartUpload(context.Background(), "bucket", "key", uploadID,
		[]objcore.CompletedPart{p3, p8, p1000})
	require.NoError(t, err)
}

func TestMultipartAbortCleanup(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	uploadID, err := env.layer.NewMultipartUpload(context.Background(), objcore.MultipartUploadParams{
		Bucket: "bucket", Key: "key",
	})
	require.NoError(t, err)

	env.uploadPart(t, "bucket", "key", uploadID, 1, "one")
	env.uploadPart(t, "bucket", "key", uploadID, 2, "two")
	require.Equal(t, 2, env.blob.Count())

	require.NoError(t, env.layer.AbortMultipartUpload(context.Background(), "bucket", "key", uploadID))

	// No part data, no part records, no overview record remain.
	require.Equal(t, 0, env.blob.Count())
	entries, err := env.meta.ListObjects(context.Background(), "mpuShadowBucketbucket", meta.ListOptions{})
	require.NoError(t, err)
	require.Empty(t, entries)

	require.True(t, objcore.ErrUploadNotFound.Has(
		env.layer.AbortMultipartUpload(context.Background(), "bucket", "key", uploadID)))
}

func TestMultipartInvalidPart(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	uploadID, err := env.layer.NewMultipartUpload(context.Background(), objcore.MultipartUploadParams{
		Bucket: "bucket", Key: "key",
	})
	require.NoError(t, err)

	uploaded := env.uploadPart(t, "bucket", "key", uploadID, 1, "content")

	_, err = env.layer.CompleteMultipartUpload(context.Background(), "bucket", "key", uploadID,
		[]objcore.CompletedPart{{PartNumber: 2, ETag: uploaded.ETag}})
	require.True(t, objcore.ErrInvalidPart.Has(err))

	_, err = env.layer.CompleteMultipartUpload(context.Background(), "bucket", "key", uploadID,
		[]objcore.CompletedPart{{PartNumber: 1, ETag: "deadbeefdeadbeefdeadbeefdeadbeef"}})
	require.True(t, objcore.ErrInvalidPart.Has(err))
}

func TestMultipartSmallNonTerminalPart(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	uploadID, err := env.layer.NewMultipartUpload(context.Background(), objcore.MultipartUploadParams{
		Bucket: "bucket", Key: "key",
	})
	require.NoError(t, err)

	small := env.uploadPart(t, "bucket", "key", uploadID, 1, "tiny")
	tail := env.uploadPart(t, "bucket", "key", uploadID, 2, "tail")

	_, err = env.layer.CompleteMultipartUpload(context.Background(), "bucket", "key", uploadID,
		[]objcore.CompletedPart{small, tail})
	require.True(t, objcore.ErrEntityTooSmall.Has(err))
}

func TestMultipartExtraPartsCleanedUp(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	uploadID, err := env.layer.NewMultipartUpload(context.Background(), objcore.MultipartUploadParams{
		Bucket: "bucket", Key: "key",
	})
	require.NoError(t, err)

	used := env.uploadPart(t, "bucket", "key", uploadID, 1, "kept-part")
	env.uploadPart(t, "bucket", "key", uploadID, 2, "left-out")

	_, err = env.layer.CompleteMultipartUpload(context.Background(), "bucket", "key", uploadID,
		[]objcore.CompletedPart{used})
	require.NoError(t, err)

	// The unused part's data is garbage-collected with the shadow records.
	waitForBlobCount(t, env.blob, 1)
	require.Equal(t, "kept-part", env.get(t, "bucket", "key", ""))
}

func TestMultipartReplacePart(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	uploadID, err := env.layer.NewMultipartUpload(context.Background(), objcore.MultipartUploadParams{
		Bucket: "bucket", Key: "key",
	})
	require.NoError(t, err)

	env.uploadPart(t, "bucket", "key", uploadID, 1, "first attempt")
	replacement := env.uploadPart(t, "bucket", "key", uploadID, 1, "second attempt")

	// The superseded part's data goes away once the new record commits.
	waitForBlobCount(t, env.blob, 1)

	_, err = env.layer.CompleteMultipartUpload(context.Background(), "bucket", "key", uploadID,
		[]objcore.CompletedPart{replacement})
	require.NoError(t, err)
	require.Equal(t, "second attempt", env.get(t, "bucket", "key", ""))
}

func TestMultipartLegacySplitterLifecycle(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.buckets.Create(context.Background(), bucket.Info{Name: "bucket", ModelVersion: 1}))

	uploadID, err := env.layer.NewMultipartUpload(context.Background(), objcore.MultipartUploadParams{
		Bucket: "bucket", Key: "key",
	})
	require.NoError(t, err)

	// Buckets below model version 2 keep the original key separator.
	entries, err := env.meta.ListObjects(context.Background(), "mpuShadowBucketbucket", meta.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Key, "splitterfornow")

	first := env.uploadPart(t, "bucket", "key", uploadID, 1, strings.Repeat("a", partSize))
	second := env.uploadPart(t, "bucket", "key", uploadID, 2, "tail")

	parts, err := env.layer.ListObjectParts(context.Background(), "bucket", "key", uploadID, 0, 0)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	_, err = env.layer.CompleteMultipartUpload(context.Background(), "bucket", "key", uploadID,
		[]objcore.CompletedPart{first, second})
	require.NoError(t, err)
	require.Len(t, env.get(t, "bucket", "key", ""), partSize+4)

	entries, err = env.meta.ListObjects(context.Background(), "mpuShadowBucketbucket", meta.ListOptions{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMultipartLegacyAbort(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.buckets.Create(context.Background(), bucket.Info{Name: "bucket", ModelVersion: 1}))

	uploadID, err := env.layer.NewMultipartUpload(context.Background(), objcore.MultipartUploadParams{
		Bucket: "bucket", Key: "key",
	})
	require.NoError(t, err)

	env.uploadPart(t, "bucket", "key", uploadID, 1, "one")
	env.uploadPart(t, "bucket", "key", uploadID, 2, "two")

	require.NoError(t, env.layer.AbortMultipartUpload(context.Background(), "bucket", "key", uploadID))

	require.Equal(t, 0, env.blob.Count())
	entries, err := env.meta.ListObjects(context.Background(), "mpuShadowBucketbucket", meta.ListOptions{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMultipartAbortRederivesLocation(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)
	ctx := context.Background()

	// Seed shadow records the way an old upload left them: neither the
	// overview nor the part refs name a data store.
	service := blob.NewService(zaptest.NewLogger(t), env.blob)
	ref, _, err := service.Put(ctx, strings.NewReader("legacy part"), 11,
		blob.KeyContext{BucketName: "bucket", ObjectKey: "key"}, "mem")
	require.NoError(t, err)

	uploadID := "legacyupload00000000000000000000"
	overview := &meta.Record{UploadID: uploadID, Initiated: time.Now()}
	_, err = env.meta.PutObject(ctx, "mpuShadowBucketbucket", "overview..|..key..|.."+uploadID, overview, meta.PutOptions{})
	require.NoError(t, err)

	part := &meta.Record{
		ContentLength: 11,
		Location:      meta.Parts([]blob.Ref{{Key: ref.Key, Size: 11}}),
	}
	_, err = env.meta.PutObject(ctx, "mpuShadowBucketbucket", uploadID+"..|..00001", part, meta.PutOptions{})
	require.NoError(t, err)

	require.NoError(t, env.layer.AbortMultipartUpload(ctx, "bucket", "key", uploadID))

	// The controlling location was re-derived from the bucket, so the part
	// data found its backend and is gone.
	require.Equal(t, 0, env.blob.Count())
	entries, err := env.meta.ListObjects(ctx, "mpuShadowBucketbucket", meta.ListOptions{})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMultipartVersionedComplete(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningEnabled)

	env.put(t, "bucket", "key", "plain object")

	uploadID, err := env.layer.NewMultipartUpload(context.Background(), objcore.MultipartUploadParams{
		Bucket: "bucket", Key: "key",
	})
	require.NoError(t, err)
	part := env.uploadPart(t, "bucket", "key", uploadID, 1, "assembled")

	result, err := env.layer.CompleteMultipartUpload(context.Background(), "bucket", "key", uploadID,
		[]objcore.CompletedPart{part})
	require.NoError(t, err)
	require.NotEmpty(t, result.VersionID)

	// Completion appended a new version; the plain object survived.
	require.Equal(t, "assembled", env.get(t, "bucket", "key", ""))
	versions, err := env.layer.ListObjectVersions(context.Background(), "bucket", "key", 0)
	require.NoError(t, err)
	require.Len(t, versions, 2)
}
