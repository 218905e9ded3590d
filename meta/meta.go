// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

// Package meta is the metadata-store collaborator: versioned object records
// addressed by bucket and key, with list-by-prefix and batch delete.
//
// Each logical object has a master record stored at its key and zero or more
// version records stored at key + separator + versionId. Version ids sort
// newest-first (see internal/versionid), so the first version record after a
// key in an ascending scan is its latest version.
package meta

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/cask-io/cask/blob"
)

var (
	// Error is the default metadata store error class.
	Error = errs.Class("meta")

	// ErrNoSuchKey is returned when the requested object or version does
	// not exist.
	ErrNoSuchKey = errs.Class("no such key")

	mon = monkit.Package()
)

// VersionSeparator joins an object key with a version id to form a version
// record's storage key. It sorts before any printable byte so an object's
// versions list immediately after its master record.
const VersionSeparator = "\x00"

// SSE carries a bucket's or object's server-side-encryption attributes.
// They are applied to data locations by the location resolver and otherwise
// passed through opaquely.
type SSE struct {
	Algorithm   string `json:"algorithm"`
	MasterKeyID string `json:"masterKeyId"`
}

// Record is one logical object version. Optional state is explicit: whether
// a record is a delete marker, a null version, or an MPU bookkeeping record
// is encoded in dedicated fields, never inferred from which attributes
// happen to be set.
type Record struct {
	LastModified  time.Time `json:"last-modified"`
	ContentLength int64     `json:"content-length"`
	ContentMD5    string    `json:"content-md5"`
	ContentType   string    `json:"content-type,omitempty"`
	StorageClass  string    `json:"x-amz-storage-class,omitempty"`

	VersionID      string `json:"versionId,omitempty"`
	IsNull         bool   `json:"isNull,omitempty"`
	NullVersionID  string `json:"nullVersionId,omitempty"`
	IsDeleteMarker bool   `json:"isDeleteMarker,omitempty"`

	Location LocationField `json:"location,omitempty"`
	SSE      *SSE          `json:"x-amz-server-side-encryption,omitempty"`

	WebsiteRedirectLocation string            `json:"x-amz-website-redirect-location,omitempty"`
	Tags                    map[string]string `json:"tags,omitempty"`
	UserMetadata            map[string]string `json:"x-amz-meta,omitempty"`
	ReplicationInfo         json.RawMessage   `json:"replicationInfo,omitempty"`
	LegalHold               bool              `json:"legalHold,omitempty"`
	RetentionMode           string            `json:"retentionMode,omitempty"`
	RetentionDate           time.Time         `json:"retentionDate,omitempty"`

	// Multipart-upload bookkeeping, set only on shadow-bucket records.
	UploadID            string     `json:"uploadId,omitempty"`
	ControllingLocation string     `json:"controllingLocationConstraint,omitempty"`
	PartLocations       []blob.Ref `json:"partLocations,omitempty"`
	ETag                string     `json:"etag,omitempty"`
	Size                int64      `json:"size,omitempty"`
	Initiated           time.Time  `json:"initiated,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	dup := *r
	dup.Location = r.Location.clone()
	if r.SSE != nil {
		sse := *r.SSE
		dup.SSE = &sse
	}
	if r.Tags != nil {
		dup.Tags = make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			dup.Tags[k] = v
		}
	}
	if r.UserMetadata != nil {
		dup.UserMetadata = make(map[string]string, len(r.UserMetadata))
		for k, v := range r.UserMetadata {
			dup.UserMetadata[k] = v
		}
	}
	if r.PartLocations != nil {
		dup.PartLocations = append([]blob.Ref(nil), r.PartLocations...)
	}
	if r.ReplicationInfo != nil {
		dup.ReplicationInfo = append(json.RawMessage(nil), r.ReplicationInfo...)
	}
	return &dup
}

// ObjectOptions selects which record of an object an operation addresses.
// An empty VersionID addresses the master record.
type ObjectOptions struct {
	VersionID string
}

// PutOptions carries the versioning instructions computed by the write
// path's versioning decision.
//
// With Versioning set and VersionID nil, the store assigns a fresh version
// id, writes the version record and refreshes the master. With VersionID
// set to the empty string the master record is overwritten in place. With
// VersionID set to a concrete id the addressed version record is written;
// combined with Versioning, the master is also refreshed if that id is the
// newest known.
type PutOptions struct {
	Versioning bool
	VersionID  *string
}

// ListOptions restricts a listing.
type ListOptions struct {
	Prefix   string
	MaxKeys  int
	Versions bool
}

// Entry is one listing result. Key is the storage key: for version records
// it includes the version separator and id.
type Entry struct {
	Key    string
	Record *Record
}

// Store is the metadata store contract consumed by the orchestration layer.
type Store interface {
	GetObject(ctx context.Context, bucket, key string, opts ObjectOptions) (*Record, error)
	PutObject(ctx context.Context, bucket, key string, record *Record, opts PutOptions) (versionID string, err error)
	DeleteObject(ctx context.Context, bucket, key string, opts ObjectOptions) error
	ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]Entry, error)
	BatchDeleteObjects(ctx context.Context, bucket string, keys []string) error
}
