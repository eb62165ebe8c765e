// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package viewmerge

import (
	"sync"

	"github.com/tagflow-project/tagflow/classify"
)

// ClaimTable arbitrates which consumer acts on an event key when
// several are mounted at once. The first successful claim wins;
// everyone else's claim attempt fails and they stand down. Safe for
// concurrent use.
type ClaimTable struct {
	mu     sync.Mutex
	claims map[classify.NaturalKey]string
}

// NewClaimTable returns an empty ClaimTable.
func NewClaimTable() *ClaimTable {
	return &ClaimTable{claims: make(map[classify.NaturalKey]string)}
}

// TryClaim atomically claims a key for the holder. It returns true
// when the holder now owns the key, including when it already did.
func (t *ClaimTable) TryClaim(key classify.NaturalKey, holder string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.claims[key]; ok {
		return current == holder
	}
	t.claims[key] = holder
	return true
}

// Release gives up a claim. Only the current holder may release;
// anyone else's release is a no-op, so a slow loser cannot free a
// winner's claim out from under it.
func (t *ClaimTable) Release(key classify.NaturalKey, holder string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.claims[key] == holder {
		delete(t.claims, key)
	}
}

// ReleaseAll gives up every claim the holder owns, used on unmount.
func (t *ClaimTable) ReleaseAll(holder string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, current := range t.claims {
		if current == holder {
			delete(t.claims, key)
		}
	}
}

// Claimant reports the current holder of a key.
func (t *ClaimTable) Claimant(key classify.NaturalKey) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	holder, ok := t.claims[key]
	return holder, ok
}
