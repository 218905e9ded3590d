// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package blob

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// deleteConcurrency caps the number of in-flight deletes during a batch so
// cleanup never overwhelms a backend. Excess work queues.
const deleteConcurrency = 5

// deleteRetries is how many extra attempts an individual delete gets before
// it is reported as failed.
const deleteRetries = 2

// Service routes blob operations to named backends and owns the cross-
// backend concerns: digest computation on the write path, delete retries and
// bounded-concurrency batch deletion.
type Service struct {
	log      *zap.Logger
	backends map[string]Backend
}

// NewService constructs a Service over the given backends, keyed by name.
func NewService(log *zap.Logger, backends ...Backend) *Service {
	byName := make(map[string]Backend, len(backends))
	for _, backend := range backends {
		byName[backend.Name()] = backend
	}
	return &Service{log: log, backends: byName}
}

func (s *Service) backend(name string) (Backend, error) {
	backend, ok := s.backends[name]
	if !ok {
		return nil, Error.New("unknown data store %q", name)
	}
	return backend, nil
}

// Put streams r into the backend named by target and returns the stored
// ref together with the hex MD5 of the streamed bytes. The digest is
// computed on the same pass as the write, so by the time Put returns the
// hash is final; callers never proceed to a metadata write with an
// incomplete digest.
func (s *Service) Put(ctx context.Context, r io.Reader, size int64, keyCtx KeyContext, target string) (_ Ref, digest string, err error) {
	defer mon.Task()(&ctx)(&err)

	backend, err := s.backend(target)
	if err != nil {
		return Ref{}, "", err
	}

	hasher := md5.New()
	ref, err := backend.Put(ctx, io.TeeReader(r, hasher), size, keyCtx)
	if err != nil {
		return Ref{}, "", err
	}
	return ref, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Get opens a reader over the referenced blob, optionally restricted to a
// byte range.
func (s *Service) Get(ctx context.Context, ref Ref, rng *Range) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	backend, err := s.backend(ref.DataStoreName)
	if err != nil {
		return nil, err
	}
	return backend.Get(ctx, ref, rng)
}

// Delete removes the referenced blob, retrying transient failures.
// ErrNotFound is returned as-is so best-effort callers can ignore it.
func (s *Service) Delete(ctx context.Context, ref Ref) (err error) {
	defer mon.Task()(&ctx)(&err)

	backend, err := s.backend(ref.DataStoreName)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err = backend.Delete(ctx, ref)
		if err == nil || ErrNotFound.Has(err) {
			return err
		}
		if attempt >= deleteRetries {
			return err
		}
		s.log.Warn("delete error from data store, retrying",
			zap.String("key", ref.Key),
			zap.String("dataStore", ref.DataStoreName),
			zap.Error(err))
	}
}

// ShouldSkipDelete reports whether superseded locations must be kept. On a
// PUT-type overwrite targeting the same external backend, the remote object
// was replaced in place and deleting the "old" location would destroy the
// new data.
func ShouldSkipDelete(locations []Ref, requestMethod, newDataStoreName string) bool {
	if requestMethod != "PUT" && requestMethod != "POST" {
		return false
	}
	if len(locations) == 0 || locations[0].DataStoreType != TypeS3 {
		return false
	}
	return locations[0].DataStoreName == newDataStoreName
}

// BatchDelete removes the given locations best-effort with bounded
// concurrency. Missing blobs are fine; other failures are logged as severe
// (the data is now orphaned) and never returned: callers have already
// committed metadata and must not fail the request over cleanup.
func (s *Service) BatchDelete(ctx context.Context, locations []Ref) {
	var group errgroup.Group
	group.SetLimit(deleteConcurrency)

	for _, loc := range locations {
		loc := loc
		group.Go(func() error {
			err := s.Delete(ctx, loc)
			if err != nil && !ErrNotFound.Has(err) {
				s.log.Error("orphaned data: batch delete failed",
					zap.String("key", loc.Key),
					zap.String("dataStore", loc.DataStoreName),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = group.Wait()
}
