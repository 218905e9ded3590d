// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package blob

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/google/uuid"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config is the setup for one external S3-protocol backend.
type S3Config struct {
	Name      string
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	NoSSL     bool
}

// S3 stores blobs on a remote S3-protocol service. Keys are generated
// locally and namespaced under the originating bucket so that a single
// remote bucket can back many local ones.
type S3 struct {
	config S3Config
	api    *miniogo.Client
}

// NewS3 constructs an S3 backend.
func NewS3(config S3Config) (*S3, error) {
	api, err := miniogo.New(config.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: !config.NoSSL,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &S3{config: config, api: api}, nil
}

// Name implements Backend.
func (s *S3) Name() string { return s.config.Name }

// Type implements Backend.
func (s *S3) Type() string { return TypeS3 }

// Put implements Backend.
func (s *S3) Put(ctx context.Context, r io.Reader, size int64, keyCtx KeyContext) (_ Ref, err error) {
	defer mon.Task()(&ctx)(&err)

	key := path.Join(keyCtx.BucketName, keyCtx.ObjectKey, uuid.NewString())

	info, err := s.api.PutObject(ctx, s.config.Bucket, key, r, size, miniogo.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return Ref{}, ErrUnavailable.Wrap(err)
	}

	return Ref{
		Key:                key,
		DataStoreName:      s.config.Name,
		DataStoreType:      s.Type(),
		Size:               info.Size,
		DataStoreETag:      info.ETag,
		DataStoreVersionID: info.VersionID,
	}, nil
}

// Get implements Backend.
func (s *S3) Get(ctx context.Context, ref Ref, rng *Range) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	opts := miniogo.GetObjectOptions{}
	if rng != nil {
		if err := opts.SetRange(rng.Offset, rng.Offset+rng.Length-1); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	object, err := s.api.GetObject(ctx, s.config.Bucket, ref.Key, opts)
	if err != nil {
		return nil, s.convertError(err)
	}
	return object, nil
}

// Delete implements Backend.
func (s *S3) Delete(ctx context.Context, ref Ref) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = s.api.RemoveObject(ctx, s.config.Bucket, ref.Key, miniogo.RemoveObjectOptions{})
	if err != nil {
		return s.convertError(err)
	}
	return nil
}

// Head implements Backend.
func (s *S3) Head(ctx context.Context, ref Ref) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := s.api.StatObject(ctx, s.config.Bucket, ref.Key, miniogo.StatObjectOptions{})
	if err != nil {
		return 0, s.convertError(err)
	}
	return info.Size, nil
}

func (s *S3) convertError(err error) error {
	var resp miniogo.ErrorResponse
	if errors.As(err, &resp) && (resp.Code == "NoSuchKey" || resp.Code == "NotFound") {
		return ErrNotFound.Wrap(err)
	}
	return ErrUnavailable.Wrap(err)
}
