// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

// Package bucket tracks bucket attributes consumed by the request
// orchestration layer: the versioning state machine, the default location
// constraint and the metadata model version that selects key formats.
package bucket

import (
	"context"
	"sync"
	"time"

	"github.com/zeebo/errs"

	"github.com/cask-io/cask/meta"
)

var (
	// Error is the default bucket store error class.
	Error = errs.Class("bucket")

	// ErrNotFound is returned when the bucket does not exist.
	ErrNotFound = errs.Class("bucket not found")

	// ErrAlreadyExists is returned on duplicate creation.
	ErrAlreadyExists = errs.Class("bucket already exists")
)

// VersioningState is a bucket's versioning configuration.
type VersioningState int

const (
	// VersioningNone means versioning was never configured.
	VersioningNone VersioningState = iota
	// VersioningEnabled means new writes receive version ids.
	VersioningEnabled
	// VersioningSuspended means new writes overwrite the null version.
	VersioningSuspended
)

// CurrentModelVersion is the metadata model version stamped on new buckets.
// Buckets below model version 2 predate the current multipart key separator.
const CurrentModelVersion = 3

// Info holds a bucket's orchestration-relevant attributes.
type Info struct {
	Name               string
	Created            time.Time
	LocationConstraint string
	Versioning         VersioningState
	ModelVersion       int
	SSE                *meta.SSE
}

// Store is the bucket attribute store contract.
type Store interface {
	Create(ctx context.Context, info Info) error
	Get(ctx context.Context, name string) (Info, error)
	SetVersioning(ctx context.Context, name string, state VersioningState) error
	Delete(ctx context.Context, name string) error
}

// Memory is an in-memory bucket Store.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]Info
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]Info)}
}

// Create implements Store.
func (m *Memory) Create(ctx context.Context, info Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.buckets[info.Name]; ok {
		return ErrAlreadyExists.New("%s", info.Name)
	}
	if info.Created.IsZero() {
		info.Created = time.Now()
	}
	if info.ModelVersion == 0 {
		info.ModelVersion = CurrentModelVersion
	}
	m.buckets[info.Name] = info
	return nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, name string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.buckets[name]
	if !ok {
		return Info{}, ErrNotFound.New("%s", name)
	}
	return info, nil
}

// SetVersioning implements Store. Versioning can never be fully turned off
// again: once enabled, the only reachable states are enabled and suspended.
func (m *Memory) SetVersioning(ctx context.Context, name string, state VersioningState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.buckets[name]
	if !ok {
		return ErrNotFound.New("%s", name)
	}
	if state == VersioningNone && info.Versioning != VersioningNone {
		return Error.New("versioning cannot be unset once configured")
	}
	info.Versioning = state
	m.buckets[name] = info
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.buckets[name]; !ok {
		return ErrNotFound.New("%s", name)
	}
	delete(m.buckets, name)
	return nil
}
