// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

// Package blob is the data-store collaborator: content blobs addressed by
// opaque keys, spread across one or more named backends.
package blob

import (
	"context"
	"io"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the default blob store error class.
	Error = errs.Class("blob")

	// ErrNotFound is returned when a blob does not exist. Callers on
	// best-effort cleanup paths treat it as success.
	ErrNotFound = errs.Class("blob not found")

	// ErrUnavailable is returned when a backend cannot serve the request.
	ErrUnavailable = errs.Class("blob store unavailable")

	mon = monkit.Package()
)

// TypeS3 marks refs living on an external S3-protocol backend. Overwrites on
// such backends replace the remote object in place, so superseding data does
// not require a delete there.
const TypeS3 = "aws_s3"

// Ref locates one stored piece of an object's data. Start is the byte offset
// of the piece within the logical object; NoRange reports legacy refs that
// predate offset bookkeeping and cannot be sub-addressed.
type Ref struct {
	Key           string `json:"key"`
	DataStoreName string `json:"dataStoreName"`
	DataStoreType string `json:"dataStoreType,omitempty"`
	Start         int64  `json:"start"`
	Size          int64  `json:"size"`
	NoRange       bool   `json:"-"`

	DataStoreETag      string `json:"dataStoreETag,omitempty"`
	DataStoreVersionID string `json:"dataStoreVersionId,omitempty"`

	// Server-side encryption attributes, carried opaquely.
	CryptoScheme    int    `json:"cryptoScheme,omitempty"`
	CipheredDataKey string `json:"cipheredDataKey,omitempty"`
	MasterKeyID     string `json:"masterKeyId,omitempty"`
	Algorithm       string `json:"algorithm,omitempty"`
}

// Range is a byte range within a single blob.
type Range struct {
	Offset int64
	Length int64
}

// KeyContext carries the request attributes a backend may fold into key
// generation or remote object naming.
type KeyContext struct {
	BucketName string
	ObjectKey  string
	Owner      string
}

// Backend stores and retrieves blobs for a single named target.
type Backend interface {
	Name() string
	Type() string

	Put(ctx context.Context, r io.Reader, size int64, keyCtx KeyContext) (Ref, error)
	Get(ctx context.Context, ref Ref, rng *Range) (io.ReadCloser, error)
	Delete(ctx context.Context, ref Ref) error
	Head(ctx context.Context, ref Ref) (size int64, err error)
}
