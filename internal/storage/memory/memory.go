// Package memory keeps the revocation record in process memory. It suits a
// single instance; records are lost on restart.
package memory

import (
	"context"
	"sync"
	"time"
)

type Revocations struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

func New() *Revocations {
	return &Revocations{revoked: make(map[string]time.Time)}
}

func (r *Revocations) Revoke(_ context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.revoked[tokenID]; ok {
		return false, nil
	}
	r.revoked[tokenID] = expiresAt

	return true, nil
}

func (r *Revocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.revoked[tokenID]
	return ok, nil
}

func (r *Revocations) PurgeRevoked(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged int64
	for id, expiresAt := range r.revoked {
		if expiresAt.Before(before) {
			delete(r.revoked, id)
			purged++
		}
	}

	return purged, nil
}

func (r *Revocations) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.revoked)
}
