// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package objcore

import (
	"sync"
)

// activeCompletions tracks multipart completions currently assembling, so
// two completions of the same upload never interleave.
type activeCompletions struct {
	mu    sync.Mutex
	items map[activeCompletion]struct{}
}

type activeCompletion struct {
	bucketName string
	objectKey  string
	uploadID   string
}

func newActiveCompletions() *activeCompletions {
	return &activeCompletions{
		items: map[activeCompletion]struct{}{},
	}
}

func (completions *activeCompletions) tryAdd(bucketName, objectKey, uploadID string) (ok bool) {
	completions.mu.Lock()
	defer completions.mu.Unlock()

	id := activeCompletion{bucketName, objectKey, uploadID}
	if _, exists := completions.items[id]; exists {
		return false
	}

	completions.items[id] = struct{}{}
	return true
}

func (completions *activeCompletions) remove(bucketName, objectKey, uploadID string) {
	completions.mu.Lock()
	defer completions.mu.Unlock()

	id := activeCompletion{bucketName, objectKey, uploadID}
	delete(completions.items, id)
}
