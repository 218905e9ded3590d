// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

// Package api is the internal replication control-plane surface: a
// header-authenticated HTTP API an external replication agent uses to push
// object data and metadata directly, bypassing bucket-level backend
// resolution in favor of explicitly supplied storage classes.
package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cask-io/cask/blob"
	"github.com/cask-io/cask/meta"
	"github.com/cask-io/cask/objcore"
)

const (
	// AuthHeader carries the shared replication key.
	AuthHeader = "X-Cask-Replication-Auth"

	// StorageClassHeader names the data backend a replication data push
	// lands on.
	StorageClassHeader = "X-Cask-Storage-Class"

	// ReplicationContentHeader set to "METADATA" marks a metadata-only
	// replication that must reuse the object's existing data locations.
	ReplicationContentHeader = "X-Cask-Replication-Content"

	replicationContentMetadataOnly = "METADATA"
)

// Config contains configuration parameters for the replication API.
type Config struct {
	// AuthKey is the shared key expected in AuthHeader.
	AuthKey string
}

// API is the replication control-plane HTTP API.
type API struct {
	log   *zap.Logger
	layer objcore.ObjectLayer
	meta  meta.Store
	blob  *blob.Service

	config Config
}

// New constructs the replication API.
func New(log *zap.Logger, layer objcore.ObjectLayer, metaStore meta.Store, blobService *blob.Service, config Config) *API {
	return &API{
		log:    log,
		layer:  layer,
		meta:   metaStore,
		blob:   blobService,
		config: config,
	}
}

// RegisterHandlers registers the replication routes on the provided router.
func (api *API) RegisterHandlers(router *mux.Router) {
	subrouter := router.PathPrefix("/_/replication").Subrouter()
	subrouter.Use(api.withAuth())

	subrouter.Methods(http.MethodPut).Path("/data/{bucket}/{key:.+}").HandlerFunc(api.PutDataHandler)
	subrouter.Methods(http.MethodPut).Path("/metadata/{bucket}/{key:.+}").HandlerFunc(api.PutMetadataHandler)
	subrouter.Methods(http.MethodDelete).Path("/object/{bucket}/{key:.+}").HandlerFunc(api.DeleteObjectHandler)
	subrouter.Methods(http.MethodPut).Path("/tagging/{bucket}/{key:.+}").HandlerFunc(api.PutTaggingHandler)
	subrouter.Methods(http.MethodDelete).Path("/tagging/{bucket}/{key:.+}").HandlerFunc(api.DeleteTaggingHandler)
	subrouter.Methods(http.MethodPost).Path("/batchdelete").HandlerFunc(api.BatchDeleteHandler)
}

func (api *API) withAuth() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := r.Header.Get(AuthHeader)
			if supplied == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(api.config.AuthKey)) != 1 {
				writeErrorResponse(w, errAccessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
