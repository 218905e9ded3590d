// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package objcore

import (
	"github.com/zeebo/errs"
)

var (
	// Error is the default object layer error class.
	Error = errs.Class("objcore")

	// ErrBucketNotFound is returned when the addressed bucket does not exist.
	ErrBucketNotFound = errs.Class("bucket not found")

	// ErrObjectNotFound is returned when the addressed object does not exist.
	ErrObjectNotFound = errs.Class("object not found")

	// ErrVersionNotFound is returned when the addressed object version does
	// not exist.
	ErrVersionNotFound = errs.Class("version not found")

	// ErrDeleteMarker marks a not-found caused by a delete marker. It always
	// travels wrapped in ErrObjectNotFound, so plain not-found checks keep
	// working; transport layers unwrap it to set the delete-marker header on
	// the response.
	ErrDeleteMarker = errs.Class("delete marker")

	// ErrUploadNotFound is returned when the addressed multipart upload is
	// unknown, already completed or already aborted.
	ErrUploadNotFound = errs.Class("upload not found")

	// ErrBadDigest is returned when the client-supplied content digest does
	// not match the streamed bytes.
	ErrBadDigest = errs.Class("bad digest")

	// ErrInvalidArgument is returned on malformed client input.
	ErrInvalidArgument = errs.Class("invalid argument")

	// ErrInvalidPart is returned when a completion request references a part
	// that was never uploaded or whose etag does not match.
	ErrInvalidPart = errs.Class("invalid part")

	// ErrInvalidPartOrder is returned when a completion request lists parts
	// out of ascending order or with duplicates.
	ErrInvalidPartOrder = errs.Class("invalid part order")

	// ErrEntityTooSmall is returned when a non-terminal part of a completed
	// multipart upload is below the minimum part size.
	ErrEntityTooSmall = errs.Class("entity too small")
)
