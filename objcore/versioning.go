// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package objcore

import (
	"context"

	"github.com/cask-io/cask/blob"
	"github.com/cask-io/cask/bucket"
	"github.com/cask-io/cask/internal/versionid"
	"github.com/cask-io/cask/meta"
)

// writeDecision is the complete instruction set a versioning decision hands
// to the metadata write: how to address the write, which null-version state
// to stamp on the new record and which superseded data to delete after the
// metadata commit.
type writeDecision struct {
	options       meta.PutOptions
	isNull        bool
	nullVersionID string
	dataToDelete  []blob.Ref
}

// masterSlot is the PutOptions value addressing an in-place master
// overwrite.
func masterSlot() meta.PutOptions {
	empty := ""
	return meta.PutOptions{VersionID: &empty}
}

// decideVersioning computes the write decision for a PUT-type operation on
// bucketName/key. It reads the master record, archives the pre-versioning
// master when enabling-bucket semantics require it, and resolves which prior
// null version must go away under suspended semantics.
//
// requestedVersionID is the raw (decoded) version id of a version-specific
// write, empty for the common PUT case. Version-specific writes arrive only
// through the internal replication surface.
func (layer *Layer) decideVersioning(ctx context.Context, bucketName, key string, state bucket.VersioningState, requestedVersionID string) (_ writeDecision, err error) {
	defer mon.Task()(&ctx)(&err)

	master, err := layer.meta.GetObject(ctx, bucketName, key, meta.ObjectOptions{})
	if err != nil {
		if !meta.ErrNoSuchKey.Has(err) {
			return writeDecision{}, Error.Wrap(err)
		}
		master = nil
	}

	if requestedVersionID != "" {
		return layer.decideVersionSpecific(ctx, bucketName, key, state, master, requestedVersionID)
	}

	// Plain overwrite semantics when versioning was never configured.
	if state == bucket.VersioningNone {
		var dataToDelete []blob.Ref
		if master != nil {
			dataToDelete = resolveLocations(master)
		}
		return writeDecision{dataToDelete: dataToDelete}, nil
	}

	if master == nil || master.IsNull || master.VersionID == "" {
		switch state {
		case bucket.VersioningSuspended:
			return layer.overwriteNullMaster(ctx, bucketName, key, master)
		default:
			return layer.archiveNullMaster(ctx, bucketName, key, master)
		}
	}

	// Master is a real, non-null version.
	switch state {
	case bucket.VersioningSuspended:
		// The new write lands in the master slot as the null version;
		// any previously archived null version is superseded and its
		// record and data go away.
		decision := writeDecision{options: masterSlot(), isNull: true}
		if master.NullVersionID != "" {
			locations, err := layer.removeNullVersion(ctx, bucketName, key, master.NullVersionID)
			if err != nil {
				return writeDecision{}, err
			}
			decision.dataToDelete = locations
		}
		return decision, nil

	default:
		// Enabled: append a brand-new version, nothing is deleted. The
		// null back-reference is carried forward.
		return writeDecision{
			options:       meta.PutOptions{Versioning: true},
			nullVersionID: master.NullVersionID,
		}, nil
	}
}

// overwriteNullMaster handles a suspended-versioning write when the master
// slot already holds the null version (or nothing): the new record replaces
// it in place and the old null data is superseded.
func (layer *Layer) overwriteNullMaster(ctx context.Context, bucketName, key string, master *meta.Record) (writeDecision, error) {
	decision := writeDecision{options: masterSlot(), isNull: true}
	if master == nil {
		return decision, nil
	}
	decision.dataToDelete = resolveLocations(master)

	// A null version archived under its own id shares data with the master
	// copy; its version record is superseded together with the master.
	if master.IsNull && master.VersionID != "" {
		err := layer.meta.DeleteObject(ctx, bucketName, key, meta.ObjectOptions{VersionID: master.VersionID})
		if err != nil && !meta.ErrNoSuchKey.Has(err) {
			return writeDecision{}, Error.Wrap(err)
		}
	}
	return decision, nil
}

// archiveNullMaster handles an enabled-versioning write when the master is
// the null version: the master is first preserved under a version id of its
// own so the new version can land without destroying it. A master that
// predates versioning has no id and is archived under the reserved infinite
// id.
func (layer *Layer) archiveNullMaster(ctx context.Context, bucketName, key string, master *meta.Record) (writeDecision, error) {
	if master == nil {
		return writeDecision{options: meta.PutOptions{Versioning: true}}, nil
	}

	archiveID := master.VersionID
	if archiveID == "" {
		archiveID = versionid.Inf(layer.config.Site)
	}

	archived := master.Clone()
	archived.IsNull = true
	archived.VersionID = archiveID

	// The archived copy must be durable before the new version lands:
	// losing it would lose the null version's only record.
	if _, err := layer.meta.PutObject(ctx, bucketName, key, archived, meta.PutOptions{VersionID: &archiveID}); err != nil {
		return writeDecision{}, Error.Wrap(err)
	}

	return writeDecision{
		options:       meta.PutOptions{Versioning: true},
		nullVersionID: archiveID,
	}, nil
}

// removeNullVersion deletes the archived null version's metadata record and
// returns its data locations for post-commit cleanup. A concurrent delete of
// the same null version shows up as NoSuchKey on either call and is a benign
// race, not an error.
func (layer *Layer) removeNullVersion(ctx context.Context, bucketName, key, nullVersionID string) ([]blob.Ref, error) {
	record, err := layer.meta.GetObject(ctx, bucketName, key, meta.ObjectOptions{VersionID: nullVersionID})
	if err != nil {
		if meta.ErrNoSuchKey.Has(err) {
			return nil, nil
		}
		return nil, Error.Wrap(err)
	}

	err = layer.meta.DeleteObject(ctx, bucketName, key, meta.ObjectOptions{VersionID: nullVersionID})
	if err != nil && !meta.ErrNoSuchKey.Has(err) {
		return nil, Error.Wrap(err)
	}
	return resolveLocations(record), nil
}

// decideVersionSpecific handles a write addressing an explicit version id.
func (layer *Layer) decideVersionSpecific(ctx context.Context, bucketName, key string, state bucket.VersioningState, master *meta.Record, requestedVersionID string) (writeDecision, error) {
	// A key that is not yet versioned only has its null slot to write to.
	if master != nil && master.VersionID == "" {
		if state != bucket.VersioningSuspended && requestedVersionID != versionid.Null {
			return writeDecision{}, ErrInvalidArgument.New("cannot address version %q of an unversioned object", requestedVersionID)
		}
		return writeDecision{
			options:      masterSlot(),
			isNull:       true,
			dataToDelete: resolveLocations(master),
		}, nil
	}

	if master != nil && master.IsNull && requestedVersionID == versionid.Null {
		return layer.overwriteNullMaster(ctx, bucketName, key, master)
	}

	isNull := false
	if requestedVersionID == versionid.Null {
		if master == nil || master.NullVersionID == "" {
			return writeDecision{}, ErrVersionNotFound.New("%s/%s?versionId=null", bucketName, key)
		}
		// The overwrite lands under the archived null version's id but the
		// record stays the null version.
		requestedVersionID = master.NullVersionID
		isNull = true
	}

	// Overwriting a concrete version: whatever data that version holds now
	// is superseded. The version being already gone means there is simply
	// nothing to delete.
	previous, err := layer.meta.GetObject(ctx, bucketName, key, meta.ObjectOptions{VersionID: requestedVersionID})
	var dataToDelete []blob.Ref
	switch {
	case err == nil:
		dataToDelete = resolveLocations(previous)
	case meta.ErrNoSuchKey.Has(err):
	default:
		return writeDecision{}, Error.Wrap(err)
	}

	id := requestedVersionID
	return writeDecision{
		options:      meta.PutOptions{Versioning: true, VersionID: &id},
		isNull:       isNull,
		dataToDelete: dataToDelete,
	}, nil
}
