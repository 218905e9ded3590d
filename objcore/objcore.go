// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

// Package objcore is the object-storage request-orchestration layer: it
// turns validated object operations into coordinated calls against the
// metadata store and the data store, owning the versioning and multipart
// consistency decisions in between.
package objcore

import (
	"context"
	"io"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/cask-io/cask/blob"
	"github.com/cask-io/cask/bucket"
	"github.com/cask-io/cask/internal/versionid"
	"github.com/cask-io/cask/meta"
)

var mon = monkit.Package()

// emptyFileMD5 is the well-known digest of zero bytes, recorded for
// zero-length writes that never touch the data store.
const emptyFileMD5 = "d41d8cd98f00b204e9800998ecf8427e"

// Config carries the orchestration layer's construction-time settings.
type Config struct {
	// Site is the identifier baked into generated version ids.
	Site string
	// DefaultLocation names the data backend used when neither the bucket
	// nor the request picks one.
	DefaultLocation string
}

// Layer coordinates object operations across the metadata store, the data
// store and the bucket attribute store.
type Layer struct {
	log        *zap.Logger
	meta       meta.Store
	blob       *blob.Service
	buckets    bucket.Store
	versions   *versionid.Generator
	completing *activeCompletions
	config     Config
}

var _ ObjectLayer = (*Layer)(nil)

// NewLayer constructs a Layer.
func NewLayer(log *zap.Logger, metaStore meta.Store, blobService *blob.Service, buckets bucket.Store, config Config) *Layer {
	return &Layer{
		log:        log,
		meta:       metaStore,
		blob:       blobService,
		buckets:    buckets,
		versions:   versionid.NewGenerator(config.Site),
		completing: newActiveCompletions(),
		config:     config,
	}
}

// ObjectInfo is the caller-facing summary of one object version.
type ObjectInfo struct {
	Bucket         string
	Key            string
	VersionID      string
	IsDeleteMarker bool
	Size           int64
	ETag           string
	ContentType    string
	StorageClass   string
	LastModified   time.Time
	UserMetadata   map[string]string
	Tags           map[string]string
}

// GetOptions restricts a read to a specific version and byte range.
type GetOptions struct {
	VersionID string
	Range     *blob.Range
}

func (layer *Layer) bucketInfo(ctx context.Context, name string) (bucket.Info, error) {
	if err := ValidateBucketName(name); err != nil {
		return bucket.Info{}, err
	}
	info, err := layer.buckets.Get(ctx, name)
	if err != nil {
		if bucket.ErrNotFound.Has(err) {
			return bucket.Info{}, ErrBucketNotFound.New("%s", name)
		}
		return bucket.Info{}, Error.Wrap(err)
	}
	return info, nil
}

// getRecord fetches the record addressed by a client-facing version id,
// translating the null sentinel and the encoded form to storage addressing.
func (layer *Layer) getRecord(ctx context.Context, bucketName, key, clientVersionID string) (*meta.Record, error) {
	if clientVersionID == "" {
		record, err := layer.meta.GetObject(ctx, bucketName, key, meta.ObjectOptions{})
		if err != nil {
			if meta.ErrNoSuchKey.Has(err) {
				return nil, ErrObjectNotFound.New("%s/%s", bucketName, key)
			}
			return nil, Error.Wrap(err)
		}
		return record, nil
	}

	raw, err := versionid.Decode(clientVersionID)
	if err != nil {
		return nil, ErrInvalidArgument.Wrap(err)
	}

	if raw == versionid.Null {
		return layer.getNullRecord(ctx, bucketName, key)
	}

	record, err := layer.meta.GetObject(ctx, bucketName, key, meta.ObjectOptions{VersionID: raw})
	if err != nil {
		if meta.ErrNoSuchKey.Has(err) {
			return nil, ErrVersionNotFound.New("%s/%s?versionId=%s", bucketName, key, clientVersionID)
		}
		return nil, Error.Wrap(err)
	}
	return record, nil
}

// getNullRecord resolves the null-version sentinel: either the master is
// itself the null version, or it tracks where the null version was archived.
func (layer *Layer) getNullRecord(ctx context.Context, bucketName, key string) (*meta.Record, error) {
	master, err := layer.meta.GetObject(ctx, bucketName, key, meta.ObjectOptions{})
	if err != nil {
		if meta.ErrNoSuchKey.Has(err) {
			return nil, ErrObjectNotFound.New("%s/%s", bucketName, key)
		}
		return nil, Error.Wrap(err)
	}
	if master.IsNull || master.VersionID == "" {
		return master, nil
	}
	if master.NullVersionID == "" {
		return nil, ErrVersionNotFound.New("%s/%s?versionId=null", bucketName, key)
	}
	record, err := layer.meta.GetObject(ctx, bucketName, key, meta.ObjectOptions{VersionID: master.NullVersionID})
	if err != nil {
		if meta.ErrNoSuchKey.Has(err) {
			return nil, ErrVersionNotFound.New("%s/%s?versionId=null", bucketName, key)
		}
		return nil, Error.Wrap(err)
	}
	return record, nil
}

func (layer *Layer) objectInfo(bucketName, key string, record *meta.Record) ObjectInfo {
	return ObjectInfo{
		Bucket:         bucketName,
		Key:            key,
		VersionID:      clientVersionID(record),
		IsDeleteMarker: record.IsDeleteMarker,
		Size:           record.ContentLength,
		ETag:           record.ContentMD5,
		ContentType:    record.ContentType,
		StorageClass:   record.StorageClass,
		LastModified:   record.LastModified,
		UserMetadata:   record.UserMetadata,
		Tags:           record.Tags,
	}
}

// clientVersionID derives the version id shown to clients: null versions are
// addressed by the sentinel, unversioned records have none at all.
func clientVersionID(record *meta.Record) string {
	if record.IsNull {
		return versionid.Null
	}
	if record.VersionID == "" {
		return ""
	}
	return versionid.Encode(record.VersionID)
}

// GetObjectInfo returns the metadata summary of an object or version.
func (layer *Layer) GetObjectInfo(ctx context.Context, bucketName, key, versionID string) (_ ObjectInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := layer.bucketInfo(ctx, bucketName); err != nil {
		return ObjectInfo{}, err
	}

	record, err := layer.getRecord(ctx, bucketName, key, versionID)
	if err != nil {
		return ObjectInfo{}, err
	}
	if record.IsDeleteMarker && versionID == "" {
		return ObjectInfo{}, ErrObjectNotFound.Wrap(ErrDeleteMarker.New("%s/%s", bucketName, key))
	}
	return layer.objectInfo(bucketName, key, record), nil
}

// GetObject opens a reader over an object's content. The caller owns the
// returned reader and must close it.
func (layer *Layer) GetObject(ctx context.Context, bucketName, key string, opts GetOptions) (_ ObjectInfo, _ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := layer.bucketInfo(ctx, bucketName); err != nil {
		return ObjectInfo{}, nil, err
	}

	record, err := layer.getRecord(ctx, bucketName, key, opts.VersionID)
	if err != nil {
		return ObjectInfo{}, nil, err
	}
	if record.IsDeleteMarker {
		return ObjectInfo{}, nil, ErrObjectNotFound.Wrap(ErrDeleteMarker.New("%s/%s", bucketName, key))
	}

	info := layer.objectInfo(bucketName, key, record)

	locations := resolveLocations(record)
	reader, err := layer.openLocations(ctx, locations, record.ContentLength, opts.Range)
	if err != nil {
		return ObjectInfo{}, nil, err
	}
	if opts.Range != nil {
		info.Size = opts.Range.Length
	}
	return info, reader, nil
}

// ListedVersion is one entry of a version listing.
type ListedVersion struct {
	ObjectInfo
	IsLatest bool
}

// ListObjectVersions lists version records under a prefix, newest first per
// key, marking each key's current version.
func (layer *Layer) ListObjectVersions(ctx context.Context, bucketName, prefix string, maxKeys int) (_ []ListedVersion, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := layer.bucketInfo(ctx, bucketName); err != nil {
		return nil, err
	}

	entries, err := layer.meta.ListObjects(ctx, bucketName, meta.ListOptions{
		Prefix:   prefix,
		MaxKeys:  maxKeys,
		Versions: true,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	listed := make([]ListedVersion, 0, len(entries))
	prevKey := ""
	for _, entry := range entries {
		key := entry.Key
		if i := indexOfSeparator(key); i >= 0 {
			key = key[:i]
		}
		version := ListedVersion{
			ObjectInfo: layer.objectInfo(bucketName, key, entry.Record),
			// Versions sort newest-first per key, so the first entry
			// of each key is its latest.
			IsLatest: key != prevKey,
		}
		listed = append(listed, version)
		prevKey = key
	}
	return listed, nil
}

func indexOfSeparator(storageKey string) int {
	for i := 0; i < len(storageKey); i++ {
		if storageKey[i] == meta.VersionSeparator[0] {
			return i
		}
	}
	return -1
}

// GetObjectTagging returns an object's tag set.
func (layer *Layer) GetObjectTagging(ctx context.Context, bucketName, key, versionID string) (_ map[string]string, err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := layer.bucketInfo(ctx, bucketName); err != nil {
		return nil, err
	}
	record, err := layer.getRecord(ctx, bucketName, key, versionID)
	if err != nil {
		return nil, err
	}
	return record.Tags, nil
}

// PutObjectTagging replaces an object's tag set in place. Tagging updates
// never change the record's location or create a new version.
func (layer *Layer) PutObjectTagging(ctx context.Context, bucketName, key, versionID string, tags map[string]string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := layer.bucketInfo(ctx, bucketName); err != nil {
		return err
	}
	record, err := layer.getRecord(ctx, bucketName, key, versionID)
	if err != nil {
		return err
	}
	record.Tags = tags
	return layer.commitInPlace(ctx, bucketName, key, record)
}

// DeleteObjectTagging removes an object's tag set.
func (layer *Layer) DeleteObjectTagging(ctx context.Context, bucketName, key, versionID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := layer.bucketInfo(ctx, bucketName); err != nil {
		return err
	}
	record, err := layer.getRecord(ctx, bucketName, key, versionID)
	if err != nil {
		return err
	}
	record.Tags = nil
	return layer.commitInPlace(ctx, bucketName, key, record)
}

// commitInPlace rewrites a record without creating a new version: the
// version record (when there is one) and, if this record is current, the
// master slot.
func (layer *Layer) commitInPlace(ctx context.Context, bucketName, key string, record *meta.Record) error {
	if record.VersionID != "" {
		id := record.VersionID
		if _, err := layer.meta.PutObject(ctx, bucketName, key, record, meta.PutOptions{VersionID: &id}); err != nil {
			return Error.Wrap(err)
		}
		master, err := layer.meta.GetObject(ctx, bucketName, key, meta.ObjectOptions{})
		if err != nil {
			if meta.ErrNoSuchKey.Has(err) {
				return nil
			}
			return Error.Wrap(err)
		}
		// Not the current version: the master slot stays as it is.
		if master.VersionID != record.VersionID {
			return nil
		}
	}
	masterSlot := ""
	if _, err := layer.meta.PutObject(ctx, bucketName, key, record, meta.PutOptions{VersionID: &masterSlot}); err != nil {
		return Error.Wrap(err)
	}
	return nil
}
