// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package objcore_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cask-io/cask/blob"
	"github.com/cask-io/cask/bucket"
	"github.com/cask-io/cask/internal/versionid"
	"github.com/cask-io/cask/meta"
	"github.com/cask-io/cask/objcore"
)

type testEnv struct {
	layer   *objcore.Layer
	meta    *meta.Memory
	blob    *blob.Memory
	buckets *bucket.Memory
}

func newTestEnv(t *testing.T) *testEnv {
	log := zaptest.NewLogger(t)
	backend := blob.NewMemory("mem")
	blobService := blob.NewService(log, backend)
	metaStore := meta.NewMemory(versionid.NewGenerator("test0"))
	buckets := bucket.NewMemory()

	layer := objcore.NewLayer(log, metaStore, blobService, buckets, objcore.Config{
		Site:            "test0",
		DefaultLocation: "mem",
	})
	return &testEnv{layer: layer, meta: metaStore, blob: backend, buckets: buckets}
}

func (env *testEnv) createBucket(t *testing.T, name string, versioning bucket.VersioningState) {
	require.NoError(t, env.buckets.Create(context.Background(), bucket.Info{Name: name}))
	if versioning != bucket.VersioningNone {
		require.NoError(t, env.buckets.SetVersioning(context.Background(), name, versioning))
	}
}

func (env *testEnv) put(t *testing.T, bucketName, key, content string) objcore.PutObjectResult {
	result, err := env.layer.PutObject(context.Background(), objcore.PutObjectParams{
		Bucket: bucketName,
		Key:    key,
		Body:   strings.NewReader(content),
		Size:   int64(len(content)),
	})
	require.NoError(t, err)
	return result
}

func (env *testEnv) get(t *testing.T, bucketName, key, versionID string) string {
	_, reader, err := env.layer.GetObject(context.Background(), bucketName, key, objcore.GetOptions{VersionID: versionID})
	require.NoError(t, err)
	defer func() { require.NoError(t, reader.Close()) }()
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	return string(content)
}

// waitForBlobCount waits out the asynchronous post-commit cleanup.
func waitForBlobCount(t *testing.T, backend *blob.Memory, want int) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if backend.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, want, backend.Count())
}

func TestUnversionedOverwrite(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	first := env.put(t, "bucket", "key", "AAA")
	require.Empty(t, first.VersionID)

	second := env.put(t, "bucket", "key", "BBB")
	require.Empty(t, second.VersionID)

	// Exactly one metadata record remains and it points at the new data.
	entries, err := env.meta.ListObjects(context.Background(), "bucket", meta.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.Equal(t, "BBB", env.get(t, "bucket", "key", ""))

	// The superseded blob is garbage-collected.
	waitForBlobCount(t, env.blob, 1)
}

func TestVersioningMonotonicity(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningEnabled)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		result := env.put(t, "bucket", "key", strings.Repeat("x", i+1))
		require.NotEmpty(t, result.VersionID)
		require.False(t, seen[result.VersionID], "version id repeated")
		seen[result.VersionID] = true
	}

	// Nothing is ever deleted: all five versions keep their data.
	require.Equal(t, 5, env.blob.Count())

	versions, err := env.layer.ListObjectVersions(context.Background(), "bucket", "key", 0)
	require.NoError(t, err)
	require.Len(t, versions, 5)
	assert.True(t, versions[0].IsLatest)
	for _, v := range versions[1:] {
		assert.False(t, v.IsLatest)
	}
}

func TestSuspendThenOverwrite(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningSuspended)

	env.put(t, "bucket", "key", "AAA")
	result := env.put(t, "bucket", "key", "BBB")
	require.Equal(t, "null", result.VersionID)

	// The null slot was overwritten in place: one record, one blob.
	entries, err := env.meta.ListObjects(context.Background(), "bucket", meta.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Record.IsNull)

	require.Equal(t, "BBB", env.get(t, "bucket", "key", ""))
	require.Equal(t, "BBB", env.get(t, "bucket", "key", "null"))
	waitForBlobCount(t, env.blob, 1)
}

func TestEnableArchivesNullVersion(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	env.put(t, "bucket", "key", "pre-versioning")

	require.NoError(t, env.buckets.SetVersioning(context.Background(), "bucket", bucket.VersioningEnabled))
	result := env.put(t, "bucket", "key", "versioned")
	require.NotEmpty(t, result.VersionID)

	// The pre-versioning master was archived, not destroyed.
	require.Equal(t, "versioned", env.get(t, "bucket", "key", ""))
	require.Equal(t, "pre-versioning", env.get(t, "bucket", "key", "null"))
	require.Equal(t, 2, env.blob.Count())

	// The archived null version sorts after every real version.
	versions, err := env.layer.ListObjectVersions(context.Background(), "bucket", "key", 0)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, result.VersionID, versions[0].VersionID)
	require.Equal(t, "null", versions[1].VersionID)
}

func TestSuspendedOverwriteDropsTrackedNullVersion(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	// Null version, then a real version referencing it, then suspend.
	env.put(t, "bucket", "key", "null-data")
	require.NoError(t, env.buckets.SetVersioning(context.Background(), "bucket", bucket.VersioningEnabled))
	env.put(t, "bucket", "key", "v1-data")
	require.NoError(t, env.buckets.SetVersioning(context.Background(), "bucket", bucket.VersioningSuspended))

	env.put(t, "bucket", "key", "new-null")

	// The archived null version's record and data are gone; the real
	// version survives untouched.
	require.Equal(t, "new-null", env.get(t, "bucket", "key", ""))
	waitForBlobCount(t, env.blob, 2)

	versions, err := env.layer.ListObjectVersions(context.Background(), "bucket", "key", 0)
	require.NoError(t, err)
	require.Len(t, versions, 1)
}

func TestIdempotentNullVersionDelete(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	env.put(t, "bucket", "key", "null-data")
	require.NoError(t, env.buckets.SetVersioning(context.Background(), "bucket", bucket.VersioningEnabled))
	env.put(t, "bucket", "key", "v1-data")
	require.NoError(t, env.buckets.SetVersioning(context.Background(), "bucket", bucket.VersioningSuspended))

	// A concurrent delete already removed the tracked null version.
	_, err := env.layer.DeleteObject(context.Background(), "bucket", "key", "null")
	require.NoError(t, err)

	// The write still succeeds despite the null lookup coming back empty.
	result := env.put(t, "bucket", "key", "new-null")
	require.Equal(t, "null", result.VersionID)
	require.Equal(t, "new-null", env.get(t, "bucket", "key", ""))
}

func TestVersionedReadBack(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningEnabled)

	v1 := env.put(t, "bucket", "key", "one")
	v2 := env.put(t, "bucket", "key", "two")

	require.Equal(t, "two", env.get(t, "bucket", "key", ""))
	require.Equal(t, "one", env.get(t, "bucket", "key", v1.VersionID))
	require.Equal(t, "two", env.get(t, "bucket", "key", v2.VersionID))
}

func TestRangeGet(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	env.put(t, "bucket", "key", "hello world")

	_, reader, err := env.layer.GetObject(context.Background(), "bucket", "key", objcore.GetOptions{
		Range: &blob.Range{Offset: 6, Length: 5},
	})
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	var buf bytes.Buffer
	_, err = io.Copy(&buf, reader)
	require.NoError(t, err)
	require.Equal(t, "world", buf.String())
}

func TestBadDigestRejectsWrite(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	env.put(t, "bucket", "key", "original")

	_, err := env.layer.PutObject(context.Background(), objcore.PutObjectParams{
		Bucket:     "bucket",
		Key:        "key",
		Body:       strings.NewReader("corrupted"),
		Size:       9,
		ContentMD5: "00000000000000000000000000000000",
	})
	require.True(t, objcore.ErrBadDigest.Has(err))

	// The object is unchanged and the rejected bytes are gone.
	require.Equal(t, "original", env.get(t, "bucket", "key", ""))
	require.Equal(t, 1, env.blob.Count())
}

func TestVersionSpecificPutUnversionedMaster(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	env.put(t, "bucket", "key", "plain")
	require.NoError(t, env.buckets.SetVersioning(context.Background(), "bucket", bucket.VersioningEnabled))

	// A concrete id cannot address a key that was never versioned.
	_, err := env.layer.PutObject(context.Background(), objcore.PutObjectParams{
		Bucket:    "bucket",
		Key:       "key",
		Body:      strings.NewReader(""),
		Size:      0,
		VersionID: versionid.NewGenerator("sitea").Generate(),
	})
	require.True(t, objcore.ErrInvalidArgument.Has(err))

	// The null sentinel lands in the master slot and supersedes its data.
	result, err := env.layer.PutObject(context.Background(), objcore.PutObjectParams{
		Bucket:    "bucket",
		Key:       "key",
		Body:      strings.NewReader("update"),
		Size:      6,
		VersionID: versionid.Null,
	})
	require.NoError(t, err)
	require.Equal(t, "null", result.VersionID)

	require.Equal(t, "update", env.get(t, "bucket", "key", ""))
	waitForBlobCount(t, env.blob, 1)
}

func TestVersionSpecificPutTrackedNullVersion(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	env.put(t, "bucket", "key", "null-data")
	require.NoError(t, env.buckets.SetVersioning(context.Background(), "bucket", bucket.VersioningEnabled))
	env.put(t, "bucket", "key", "v1-data")

	// The sentinel resolves to the archived null version and overwrites it
	// under its own id.
	result, err := env.layer.PutObject(context.Background(), objcore.PutObjectParams{
		Bucket:    "bucket",
		Key:       "key",
		Body:      strings.NewReader("new-null"),
		Size:      8,
		VersionID: versionid.Null,
	})
	require.NoError(t, err)
	require.Equal(t, "null", result.VersionID)

	// The real version stays the current one; only the null version's data
	// was superseded.
	require.Equal(t, "v1-data", env.get(t, "bucket", "key", ""))
	require.Equal(t, "new-null", env.get(t, "bucket", "key", "null"))
	waitForBlobCount(t, env.blob, 2)

	// Without a tracked null version the sentinel addresses nothing.
	_, err = env.layer.PutObject(context.Background(), objcore.PutObjectParams{
		Bucket:    "bucket",
		Key:       "other",
		Body:      strings.NewReader(""),
		Size:      0,
		VersionID: versionid.Null,
	})
	require.True(t, objcore.ErrVersionNotFound.Has(err))
}

func TestVersionSpecificPutConcreteVersion(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningEnabled)

	v1 := env.put(t, "bucket", "key", "one")
	env.put(t, "bucket", "key", "two")

	raw, err := versionid.Decode(v1.VersionID)
	require.NoError(t, err)

	result, err := env.layer.PutObject(context.Background(), objcore.PutObjectParams{
		Bucket:    "bucket",
		Key:       "key",
		Body:      strings.NewReader("one-rewritten"),
		Size:      13,
		VersionID: raw,
	})
	require.NoError(t, err)
	require.Equal(t, v1.VersionID, result.VersionID)

	// The rewritten version is addressable, the newer version stays current
	// and the superseded copy is garbage-collected.
	require.Equal(t, "one-rewritten", env.get(t, "bucket", "key", v1.VersionID))
	require.Equal(t, "two", env.get(t, "bucket", "key", ""))
	waitForBlobCount(t, env.blob, 2)

	// Overwriting a version deleted in the meantime is not an error: there
	// is simply nothing left to supersede.
	_, err = env.layer.DeleteObject(context.Background(), "bucket", "key", v1.VersionID)
	require.NoError(t, err)
	_, err = env.layer.PutObject(context.Background(), objcore.PutObjectParams{
		Bucket:    "bucket",
		Key:       "key",
		Body:      strings.NewReader("recreated"),
		Size:      9,
		VersionID: raw,
	})
	require.NoError(t, err)
	require.Equal(t, "recreated", env.get(t, "bucket", "key", v1.VersionID))
	require.Equal(t, "two", env.get(t, "bucket", "key", ""))
}

func TestZeroByteWrite(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "bucket", bucket.VersioningNone)

	result := env.put(t, "bucket", "key", "")
	require.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", result.ETag)
	require.Equal(t, 0, env.blob.Count())

	require.Equal(t, "", env.get(t, "bucket", "key", ""))
}
