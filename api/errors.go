// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package api

import (
	"net/http"

	"github.com/cask-io/cask/objcore"
)

// APIError is one caller-facing error payload.
type APIError struct {
	Code           string `json:"code"`
	Description    string `json:"message"`
	HTTPStatusCode int    `json:"-"`
}

var (
	errAccessDenied = APIError{
		Code:           "AccessDenied",
		Description:    "Access Denied.",
		HTTPStatusCode: http.StatusForbidden,
	}
	errMissingContentLength = APIError{
		Code:           "MissingContentLength",
		Description:    "You must provide the Content-Length HTTP header.",
		HTTPStatusCode: http.StatusLengthRequired,
	}
	errMissingContentMD5 = APIError{
		Code:           "MissingContentMD5",
		Description:    "A Content-MD5 header is required for this request.",
		HTTPStatusCode: http.StatusBadRequest,
	}
	errMissingStorageClass = APIError{
		Code:           "MissingStorageClass",
		Description:    "A storage class header is required for this request.",
		HTTPStatusCode: http.StatusBadRequest,
	}
	errMalformedBody = APIError{
		Code:           "MalformedRequestBody",
		Description:    "The request body could not be parsed.",
		HTTPStatusCode: http.StatusBadRequest,
	}
	errInternal = APIError{
		Code:           "InternalError",
		Description:    "We encountered an internal error. Please try again.",
		HTTPStatusCode: http.StatusInternalServerError,
	}
)

// toAPIError maps an object layer error to its caller-facing payload.
func toAPIError(err error) APIError {
	switch {
	case objcore.ErrBucketNotFound.Has(err):
		return APIError{Code: "NoSuchBucket", Description: "The specified bucket does not exist.", HTTPStatusCode: http.StatusNotFound}
	case objcore.ErrObjectNotFound.Has(err):
		return APIError{Code: "NoSuchKey", Description: "The specified key does not exist.", HTTPStatusCode: http.StatusNotFound}
	case objcore.ErrVersionNotFound.Has(err):
		return APIError{Code: "NoSuchVersion", Description: "The specified version does not exist.", HTTPStatusCode: http.StatusNotFound}
	case objcore.ErrUploadNotFound.Has(err):
		return APIError{Code: "NoSuchUpload", Description: "The specified multipart upload does not exist.", HTTPStatusCode: http.StatusNotFound}
	case objcore.ErrBadDigest.Has(err):
		return APIError{Code: "BadDigest", Description: "The Content-MD5 you specified did not match what we received.", HTTPStatusCode: http.StatusBadRequest}
	case objcore.ErrInvalidPartOrder.Has(err):
		return APIError{Code: "InvalidPartOrder", Description: "The list of parts was not in ascending order.", HTTPStatusCode: http.StatusBadRequest}
	case objcore.ErrInvalidPart.Has(err):
		return APIError{Code: "InvalidPart", Description: "One or more of the specified parts could not be found.", HTTPStatusCode: http.StatusBadRequest}
	case objcore.ErrEntityTooSmall.Has(err):
		return APIError{Code: "EntityTooSmall", Description: "Your proposed upload is smaller than the minimum allowed object size.", HTTPStatusCode: http.StatusBadRequest}
	case objcore.ErrInvalidArgument.Has(err):
		return APIError{Code: "InvalidArgument", Description: err.Error(), HTTPStatusCode: http.StatusBadRequest}
	default:
		return errInternal
	}
}
