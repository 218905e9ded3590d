// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package meta

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cask-io/cask/internal/versionid"
)

// Memory is an in-memory Store. Buckets are created implicitly on first
// write; per-key write order is serialized by a single lock, which is the
// read-then-write guarantee the orchestration layer assumes.
type Memory struct {
	gen *versionid.Generator

	mu      sync.RWMutex
	buckets map[string]map[string]*Record
}

// NewMemory constructs a Memory store using gen for version id assignment.
func NewMemory(gen *versionid.Generator) *Memory {
	return &Memory{
		gen:     gen,
		buckets: make(map[string]map[string]*Record),
	}
}

func (m *Memory) bucket(name string) map[string]*Record {
	records, ok := m.buckets[name]
	if !ok {
		records = make(map[string]*Record)
		m.buckets[name] = records
	}
	return records
}

// GetObject implements Store.
func (m *Memory) GetObject(ctx context.Context, bucket, key string, opts ObjectOptions) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.buckets[bucket]
	if !ok {
		return nil, ErrNoSuchKey.New("%s/%s", bucket, key)
	}

	storageKey := key
	if opts.VersionID != "" {
		storageKey = key + VersionSeparator + opts.VersionID
	}
	record, ok := records[storageKey]
	if !ok && opts.VersionID != "" {
		// The master may be the requested version without a separate
		// version record, e.g. right after versioning was enabled.
		if master, exists := records[key]; exists && master.VersionID == opts.VersionID {
			return master.Clone(), nil
		}
	}
	if !ok {
		return nil, ErrNoSuchKey.New("%s/%s", bucket, key)
	}
	return record.Clone(), nil
}

// PutObject implements Store.
func (m *Memory) PutObject(ctx context.Context, bucket, key string, record *Record, opts PutOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.bucket(bucket)

	switch {
	case opts.VersionID != nil && *opts.VersionID == "":
		// Overwrite the master slot in place (suspended-versioning null
		// version writes).
		records[key] = record.Clone()
		return "", nil

	case opts.VersionID != nil:
		// Write a specific version record. With Versioning also set
		// (replication pushes), refresh the master if this version is
		// the newest known.
		id := *opts.VersionID
		stored := record.Clone()
		stored.VersionID = id
		records[key+VersionSeparator+id] = stored
		if opts.Versioning {
			if master, ok := records[key]; !ok || id <= master.VersionID || master.VersionID == "" {
				records[key] = stored.Clone()
			}
		}
		return id, nil

	case opts.Versioning:
		// Append a brand-new version and make it the master.
		id := m.gen.Generate()
		stored := record.Clone()
		stored.VersionID = id
		records[key+VersionSeparator+id] = stored
		records[key] = stored.Clone()
		return id, nil

	default:
		// Non-versioned bucket: plain overwrite.
		records[key] = record.Clone()
		return "", nil
	}
}

// DeleteObject implements Store.
func (m *Memory) DeleteObject(ctx context.Context, bucket, key string, opts ObjectOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.buckets[bucket]
	if !ok {
		return ErrNoSuchKey.New("%s/%s", bucket, key)
	}

	if opts.VersionID == "" {
		if _, ok := records[key]; !ok {
			return ErrNoSuchKey.New("%s/%s", bucket, key)
		}
		delete(records, key)
		return nil
	}

	storageKey := key + VersionSeparator + opts.VersionID
	if _, ok := records[storageKey]; !ok {
		return ErrNoSuchKey.New("%s/%s?versionId=%s", bucket, key, opts.VersionID)
	}
	delete(records, storageKey)

	// If the deleted version was the master, promote the newest remaining
	// version.
	if master, ok := records[key]; ok && master.VersionID == opts.VersionID {
		delete(records, key)
		prefix := key + VersionSeparator
		next := ""
		for storageKey := range records {
			if !strings.HasPrefix(storageKey, prefix) {
				continue
			}
			if next == "" || storageKey < next {
				next = storageKey
			}
		}
		if next != "" {
			records[key] = records[next].Clone()
		}
	}
	return nil
}

// ListObjects implements Store.
func (m *Memory) ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.buckets[bucket]
	if !ok {
		return nil, nil
	}

	keys := make([]string, 0, len(records))
	for storageKey := range records {
		isVersion := strings.Contains(storageKey, VersionSeparator)
		if isVersion != opts.Versions {
			continue
		}
		if opts.Prefix != "" && !strings.HasPrefix(storageKey, opts.Prefix) {
			continue
		}
		keys = append(keys, storageKey)
	}
	sort.Strings(keys)

	if opts.MaxKeys > 0 && len(keys) > opts.MaxKeys {
		keys = keys[:opts.MaxKeys]
	}

	entries := make([]Entry, 0, len(keys))
	for _, storageKey := range keys {
		entries = append(entries, Entry{Key: storageKey, Record: records[storageKey].Clone()})
	}
	return entries, nil
}

// BatchDeleteObjects implements Store.
func (m *Memory) BatchDeleteObjects(ctx context.Context, bucket string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.buckets[bucket]
	if !ok {
		return nil
	}
	for _, key := range keys {
		delete(records, key)
	}
	return nil
}
