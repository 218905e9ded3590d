// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package objcore

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/cask-io/cask/meta"
)

// ObjectLayer is the object operation surface consumed by the transport
// layer.
type ObjectLayer interface {
	PutObject(ctx context.Context, params PutObjectParams) (PutObjectResult, error)
	PutObjectMetadata(ctx context.Context, bucketName, key string, record *meta.Record, rawVersionID string) (PutObjectResult, error)
	GetObject(ctx context.Context, bucketName, key string, opts GetOptions) (ObjectInfo, io.ReadCloser, error)
	GetObjectInfo(ctx context.Context, bucketName, key, versionID string) (ObjectInfo, error)
	DeleteObject(ctx context.Context, bucketName, key, versionID string) (DeleteObjectResult, error)
	CopyObject(ctx context.Context, params CopyObjectParams) (PutObjectResult, error)
	ListObjectVersions(ctx context.Context, bucketName, prefix string, maxKeys int) ([]ListedVersion, error)

	GetObjectTagging(ctx context.Context, bucketName, key, versionID string) (map[string]string, error)
	PutObjectTagging(ctx context.Context, bucketName, key, versionID string, tags map[string]string) error
	DeleteObjectTagging(ctx context.Context, bucketName, key, versionID string) error

	NewMultipartUpload(ctx context.Context, params MultipartUploadParams) (string, error)
	PutObjectPart(ctx context.Context, bucketName, objectKey, uploadID string, partNumber int, body io.Reader, size int64, contentMD5 string) (string, error)
	ListObjectParts(ctx context.Context, bucketName, objectKey, uploadID string, partNumberMarker, maxParts int) ([]Part, error)
	CompleteMultipartUpload(ctx context.Context, bucketName, objectKey, uploadID string, completed []CompletedPart) (PutObjectResult, error)
	AbortMultipartUpload(ctx context.Context, bucketName, objectKey, uploadID string) error
}

type layerLogging struct {
	layer  ObjectLayer
	logger *zap.Logger
}

// Logging returns a wrapper of ObjectLayer that logs unexpected errors
// before returning them.
func Logging(layer ObjectLayer, log *zap.Logger) ObjectLayer {
	return &layerLogging{layer: layer, logger: log}
}

// expectedError checks whether the error is part of the layer's caller-facing
// taxonomy and therefore not worth an error-level log entry.
func expectedError(err error) bool {
	return ErrBucketNotFound.Has(err) ||
		ErrObjectNotFound.Has(err) ||
		ErrVersionNotFound.Has(err) ||
		ErrUploadNotFound.Has(err) ||
		ErrBadDigest.Has(err) ||
		ErrInvalidArgument.Has(err) ||
		ErrInvalidPart.Has(err) ||
		ErrInvalidPartOrder.Has(err) ||
		ErrEntityTooSmall.Has(err)
}

// log unexpected errors. It will return the given error to allow method
// chaining.
func (log *layerLogging) log(err error) error {
	// most of the time context canceled is intentionally caused by the
	// client; to keep log messages clean, only log it on debug level
	if errors.Is(err, context.Canceled) {
		log.logger.Debug("object layer error:", zap.Error(err))
		return err
	}

	if err != nil && !expectedError(err) {
		log.logger.Error("object layer error:", zap.Error(err))
	}
	return err
}

func (log *layerLogging) PutObject(ctx context.Context, params PutObjectParams) (result PutObjectResult, err error) {
	result, err = log.layer.PutObject(ctx, params)
	return result, log.log(err)
}

func (log *layerLogging) PutObjectMetadata(ctx context.Context, bucketName, key string, record *meta.Record, rawVersionID string) (result PutObjectResult, err error) {
	result, err = log.layer.PutObjectMetadata(ctx, bucketName, key, record, rawVersionID)
	return result, log.log(err)
}

func (log *layerLogging) GetObject(ctx context.Context, bucketName, key string, opts GetOptions) (info ObjectInfo, reader io.ReadCloser, err error) {
	info, reader, err = log.layer.GetObject(ctx, bucketName, key, opts)
	return info, reader, log.log(err)
}

func (log *layerLogging) GetObjectInfo(ctx context.Context, bucketName, key, versionID string) (info ObjectInfo, err error) {
	info, err = log.layer.GetObjectInfo(ctx, bucketName, key, versionID)
	return info, log.log(err)
}

func (log *layerLogging) DeleteObject(ctx context.Context, bucketName, key, versionID string) (result DeleteObjectResult, err error) {
	result, err = log.layer.DeleteObject(ctx, bucketName, key, versionID)
	return result, log.log(err)
}

func (log *layerLogging) CopyObject(ctx context.Context, params CopyObjectParams) (result PutObjectResult, err error) {
	result, err = log.layer.CopyObject(ctx, params)
	return result, log.log(err)
}

func (log *layerLogging) ListObjectVersions(ctx context.Context, bucketName, prefix string, maxKeys int) (versions []ListedVersion, err error) {
	versions, err = log.layer.ListObjectVersions(ctx, bucketName, prefix, maxKeys)
	return versions, log.log(err)
}

func (log *layerLogging) GetObjectTagging(ctx context.Context, bucketName, key, versionID string) (tags map[string]string, err error) {
	tags, err = log.layer.GetObjectTagging(ctx, bucketName, key, versionID)
	return tags, log.log(err)
}

func (log *layerLogging) PutObjectTagging(ctx context.Context, bucketName, key, versionID string, tags map[string]string) error {
	return log.log(log.layer.PutObjectTagging(ctx, bucketName, key, versionID, tags))
}

func (log *layerLogging) DeleteObjectTagging(ctx context.Context, bucketName, key, versionID string) error {
	return log.log(log.layer.DeleteObjectTagging(ctx, bucketName, key, versionID))
}

func (log *layerLogging) NewMultipartUpload(ctx context.Context, params MultipartUploadParams) (uploadID string, err error) {
	uploadID, err = log.layer.NewMultipartUpload(ctx, params)
	return uploadID, log.log(err)
}

func (log *layerLogging) PutObjectPart(ctx context.Context, bucketName, objectKey, uploadID string, partNumber int, body io.Reader, size int64, contentMD5 string) (etag string, err error) {
	etag, err = log.layer.PutObjectPart(ctx, bucketName, objectKey, uploadID, partNumber, body, size, contentMD5)
	return etag, log.log(err)
}

func (log *layerLogging) ListObjectParts(ctx context.Context, bucketName, objectKey, uploadID string, partNumberMarker, maxParts int) (parts []Part, err error) {
	parts, err = log.layer.ListObjectParts(ctx, bucketName, objectKey, uploadID, partNumberMarker, maxParts)
	return parts, log.log(err)
}

func (log *layerLogging) CompleteMultipartUpload(ctx context.Context, bucketName, objectKey, uploadID string, completed []CompletedPart) (result PutObjectResult, err error) {
	result, err = log.layer.CompleteMultipartUpload(ctx, bucketName, objectKey, uploadID, completed)
	return result, log.log(err)
}

func (log *layerLogging) AbortMultipartUpload(ctx context.Context, bucketName, objectKey, uploadID string) error {
	return log.log(log.layer.AbortMultipartUpload(ctx, bucketName, objectKey, uploadID))
}
