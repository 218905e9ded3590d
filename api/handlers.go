// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cask-io/cask/blob"
	"github.com/cask-io/cask/internal/versionid"
	"github.com/cask-io/cask/meta"
)

// PutDataHandler stores raw object bytes on the backend named by the
// storage-class header and returns the resulting location refs. Metadata is
// untouched; the agent follows up with a metadata push referencing these
// locations.
func (api *API) PutDataHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	bucketName, objectKey := vars["bucket"], vars["key"]

	if r.ContentLength < 0 {
		writeErrorResponse(w, errMissingContentLength)
		return
	}
	contentMD5 := r.Header.Get("Content-MD5")
	if contentMD5 == "" {
		writeErrorResponse(w, errMissingContentMD5)
		return
	}
	target := r.Header.Get(StorageClassHeader)
	if target == "" {
		writeErrorResponse(w, errMissingStorageClass)
		return
	}

	keyCtx := blob.KeyContext{BucketName: bucketName, ObjectKey: objectKey}
	ref, digest, err := api.blob.Put(ctx, r.Body, r.ContentLength, keyCtx, target)
	if err != nil {
		api.log.Error("replication data put failed",
			zap.String("bucket", bucketName),
			zap.String("key", objectKey),
			zap.Error(err))
		writeErrorResponse(w, errInternal)
		return
	}
	ref.Size = r.ContentLength

	if digest != contentMD5 {
		if err := api.blob.Delete(ctx, ref); err != nil && !blob.ErrNotFound.Has(err) {
			api.log.Error("orphaned data: cleanup after digest mismatch failed",
				zap.String("bucket", bucketName),
				zap.String("key", objectKey),
				zap.Error(err))
		}
		writeErrorResponse(w, APIError{
			Code:           "BadDigest",
			Description:    "The Content-MD5 you specified did not match what we received.",
			HTTPStatusCode: http.StatusBadRequest,
		})
		return
	}

	writeJSONResponse(w, http.StatusOK, []blob.Ref{ref})
}

// PutMetadataHandler commits a replicated metadata record through the object
// layer's versioning decision, optionally under the explicit version id
// carried by the source site. With the metadata-only header set, the record
// reuses the data locations already stored for the object instead of the ones
// it carries.
func (api *API) PutMetadataHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	bucketName, objectKey := vars["bucket"], vars["key"]

	var record meta.Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeErrorResponse(w, errMalformedBody)
		return
	}

	rawVersionID := record.VersionID
	if encoded := r.URL.Query().Get("versionId"); encoded != "" {
		decoded, err := versionid.Decode(encoded)
		if err != nil {
			writeErrorResponse(w, toAPIError(err))
			return
		}
		rawVersionID = decoded
	}

	if r.Header.Get(ReplicationContentHeader) == replicationContentMetadataOnly {
		existing, err := api.meta.GetObject(ctx, bucketName, objectKey, meta.ObjectOptions{})
		if err != nil {
			if meta.ErrNoSuchKey.Has(err) {
				writeErrorResponse(w, APIError{
					Code:           "NoSuchKey",
					Description:    "The specified key does not exist.",
					HTTPStatusCode: http.StatusNotFound,
				})
				return
			}
			writeErrorResponse(w, errInternal)
			return
		}
		record.Location = existing.Location
		record.ContentLength = existing.ContentLength
	}

	result, err := api.layer.PutObjectMetadata(ctx, bucketName, objectKey, &record, rawVersionID)
	if err != nil {
		writeErrorResponse(w, toAPIError(err))
		return
	}

	response := map[string]string{}
	if result.VersionID != "" {
		response["versionId"] = result.VersionID
	}
	writeJSONResponse(w, http.StatusOK, response)
}

// DeleteObjectHandler deletes an object or version through the regular
// delete decision.
func (api *API) DeleteObjectHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	result, err := api.layer.DeleteObject(ctx, vars["bucket"], vars["key"], r.URL.Query().Get("versionId"))
	if err != nil {
		writeErrorResponse(w, toAPIError(err))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"versionId":    result.VersionID,
		"deleteMarker": result.DeleteMarker,
	})
}

// PutTaggingHandler replaces an object's tag set.
func (api *API) PutTaggingHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	var tags map[string]string
	if err := json.NewDecoder(r.Body).Decode(&tags); err != nil {
		writeErrorResponse(w, errMalformedBody)
		return
	}
	if err := api.layer.PutObjectTagging(ctx, vars["bucket"], vars["key"], r.URL.Query().Get("versionId"), tags); err != nil {
		writeErrorResponse(w, toAPIError(err))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{})
}

// DeleteTaggingHandler removes an object's tag set.
func (api *API) DeleteTaggingHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	if err := api.layer.DeleteObjectTagging(ctx, vars["bucket"], vars["key"], r.URL.Query().Get("versionId")); err != nil {
		writeErrorResponse(w, toAPIError(err))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{})
}

// BatchDeleteHandler deletes the supplied data locations best-effort. Used
// by lifecycle agents to garbage-collect locations they know are orphaned.
func (api *API) BatchDeleteHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Locations []blob.Ref `json:"locations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorResponse(w, errMalformedBody)
		return
	}

	api.blob.BatchDelete(ctx, body.Locations)
	writeJSONResponse(w, http.StatusOK, map[string]string{})
}
