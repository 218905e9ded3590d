// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package meta

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/boltdb/bolt"

	"github.com/cask-io/cask/internal/versionid"
)

// Bolt is a persistent Store backed by a single bolt database file. Each
// logical bucket maps to a bolt bucket; records are stored as JSON under the
// same storage keys the in-memory store uses, so listings come straight off
// bolt's ordered cursor.
type Bolt struct {
	gen *versionid.Generator
	db  *bolt.DB
}

// OpenBolt opens (creating if needed) the database at path.
func OpenBolt(path string, gen *versionid.Generator) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Bolt{gen: gen, db: db}, nil
}

// Close releases the underlying database.
func (b *Bolt) Close() error {
	return Error.Wrap(b.db.Close())
}

func decodeRecord(data []byte) (*Record, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, Error.Wrap(err)
	}
	return &record, nil
}

// GetObject implements Store.
func (b *Bolt) GetObject(ctx context.Context, bucket, key string, opts ObjectOptions) (_ *Record, err error) {
	defer mon.Task()(&ctx)(&err)

	storageKey := key
	if opts.VersionID != "" {
		storageKey = key + VersionSeparator + opts.VersionID
	}

	var record *Record
	err = b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return ErrNoSuchKey.New("%s/%s", bucket, key)
		}
		data := bkt.Get([]byte(storageKey))
		if data == nil && opts.VersionID != "" {
			// The master may be the requested version without a
			// separate version record.
			if masterData := bkt.Get([]byte(key)); masterData != nil {
				master, err := decodeRecord(masterData)
				if err != nil {
					return err
				}
				if master.VersionID == opts.VersionID {
					record = master
					return nil
				}
			}
		}
		if data == nil {
			return ErrNoSuchKey.New("%s/%s", bucket, key)
		}
		record, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// PutObject implements Store.
func (b *Bolt) PutObject(ctx context.Context, bucket, key string, record *Record, opts PutOptions) (versionID string, err error) {
	defer mon.Task()(&ctx)(&err)

	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return Error.Wrap(err)
		}

		put := func(storageKey string, record *Record) error {
			data, err := json.Marshal(record)
			if err != nil {
				return Error.Wrap(err)
			}
			return Error.Wrap(bkt.Put([]byte(storageKey), data))
		}

		switch {
		case opts.VersionID != nil && *opts.VersionID == "":
			return put(key, record)

		case opts.VersionID != nil:
			id := *opts.VersionID
			stored := record.Clone()
			stored.VersionID = id
			if err := put(key+VersionSeparator+id, stored); err != nil {
				return err
			}
			if opts.Versioning {
				refresh := true
				if masterData := bkt.Get([]byte(key)); masterData != nil {
					master, err := decodeRecord(masterData)
					if err != nil {
						return err
					}
					refresh = master.VersionID == "" || id <= master.VersionID
				}
				if refresh {
					if err := put(key, stored); err != nil {
						return err
					}
				}
			}
			versionID = id
			return nil

		case opts.Versioning:
			id := b.gen.Generate()
			stored := record.Clone()
			stored.VersionID = id
			if err := put(key+VersionSeparator+id, stored); err != nil {
				return err
			}
			if err := put(key, stored); err != nil {
				return err
			}
			versionID = id
			return nil

		default:
			return put(key, record)
		}
	})
	return versionID, err
}

// DeleteObject implements Store.
func (b *Bolt) DeleteObject(ctx context.Context, bucket, key string, opts ObjectOptions) (err error) {
	defer mon.Task()(&ctx)(&err)

	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return ErrNoSuchKey.New("%s/%s", bucket, key)
		}

		if opts.VersionID == "" {
			if bkt.Get([]byte(key)) == nil {
				return ErrNoSuchKey.New("%s/%s", bucket, key)
			}
			return Error.Wrap(bkt.Delete([]byte(key)))
		}

		storageKey := key + VersionSeparator + opts.VersionID
		if bkt.Get([]byte(storageKey)) == nil {
			return ErrNoSuchKey.New("%s/%s?versionId=%s", bucket, key, opts.VersionID)
		}
		if err := bkt.Delete([]byte(storageKey)); err != nil {
			return Error.Wrap(err)
		}

		// If the deleted version was the master, promote the newest
		// remaining version. Version ids sort newest-first, so that is
		// the first version record after the master slot.
		masterData := bkt.Get([]byte(key))
		if masterData == nil {
			return nil
		}
		master, err := decodeRecord(masterData)
		if err != nil {
			return err
		}
		if master.VersionID != opts.VersionID {
			return nil
		}
		if err := bkt.Delete([]byte(key)); err != nil {
			return Error.Wrap(err)
		}
		prefix := []byte(key + VersionSeparator)
		cursor := bkt.Cursor()
		k, v := cursor.Seek(prefix)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return nil
		}
		return Error.Wrap(bkt.Put([]byte(key), append([]byte(nil), v...)))
	})
}

// ListObjects implements Store.
func (b *Bolt) ListObjects(ctx context.Context, bucket string, opts ListOptions) (_ []Entry, err error) {
	defer mon.Task()(&ctx)(&err)

	var entries []Entry
	err = b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}

		prefix := []byte(opts.Prefix)
		cursor := bkt.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			isVersion := bytes.Contains(k, []byte(VersionSeparator))
			if isVersion != opts.Versions {
				continue
			}
			record, err := decodeRecord(v)
			if err != nil {
				return err
			}
			entries = append(entries, Entry{Key: string(k), Record: record})
			if opts.MaxKeys > 0 && len(entries) >= opts.MaxKeys {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// BatchDeleteObjects implements Store.
func (b *Bolt) BatchDeleteObjects(ctx context.Context, bucket string, keys []string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		for _, key := range keys {
			if err := bkt.Delete([]byte(key)); err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
}
