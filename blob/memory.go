// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package blob

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-memory backend. It is the default backend for tests and
// single-process deployments.
type Memory struct {
	name string

	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory constructs a Memory backend with the given backend name.
func NewMemory(name string) *Memory {
	return &Memory{
		name:  name,
		blobs: make(map[string][]byte),
	}
}

// Name implements Backend.
func (m *Memory) Name() string { return m.name }

// Type implements Backend.
func (m *Memory) Type() string { return "mem" }

// Put implements Backend.
func (m *Memory) Put(ctx context.Context, r io.Reader, size int64, keyCtx KeyContext) (Ref, error) {
	value, err := io.ReadAll(r)
	if err != nil {
		return Ref{}, Error.Wrap(err)
	}
	if size >= 0 && int64(len(value)) != size {
		return Ref{}, Error.New("expected %d bytes, read %d", size, len(value))
	}

	key := uuid.NewString()

	m.mu.Lock()
	m.blobs[key] = value
	m.mu.Unlock()

	return Ref{
		Key:           key,
		DataStoreName: m.name,
		DataStoreType: m.Type(),
		Size:          int64(len(value)),
	}, nil
}

// Get implements Backend.
func (m *Memory) Get(ctx context.Context, ref Ref, rng *Range) (io.ReadCloser, error) {
	m.mu.RLock()
	value, ok := m.blobs[ref.Key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound.New("%s", ref.Key)
	}

	if rng != nil {
		if rng.Offset > int64(len(value)) {
			return nil, Error.New("range offset %d beyond blob size %d", rng.Offset, len(value))
		}
		end := rng.Offset + rng.Length
		if end > int64(len(value)) {
			end = int64(len(value))
		}
		value = value[rng.Offset:end]
	}

	return io.NopCloser(bytes.NewReader(value)), nil
}

// Delete implements Backend.
func (m *Memory) Delete(ctx context.Context, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[ref.Key]; !ok {
		return ErrNotFound.New("%s", ref.Key)
	}
	delete(m.blobs, ref.Key)
	return nil
}

// Head implements Backend.
func (m *Memory) Head(ctx context.Context, ref Ref) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.blobs[ref.Key]
	if !ok {
		return 0, ErrNotFound.New("%s", ref.Key)
	}
	return int64(len(value)), nil
}

// Count reports the number of stored blobs, for tests.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
