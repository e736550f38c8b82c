// Package match maintains enrolled-identity registries and performs
// nearest-neighbor lookup of probe embeddings.
package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/your-org/faceattend/internal/models"
)

// ErrNoValidSample is returned by Enroll when none of the supplied samples
// produced an embedding.
var ErrNoValidSample = errors.New("no valid sample embeddings")

// Store durably persists registry state. Enroll and Revoke write through to
// the store before updating the in-memory index, so a success is never
// visible to lookups without being on disk.
type Store interface {
	SaveIdentity(ctx context.Context, ident models.Identity) error
	DeleteIdentity(ctx context.Context, kind models.RegistryKind, id string) error
	SetIdentityActive(ctx context.Context, kind models.RegistryKind, id string, active bool) error
	LoadIdentities(ctx context.Context, kind models.RegistryKind) ([]models.Identity, error)
}

// Registry holds the enrolled identities of one namespace (subjects or
// admins). Reads are concurrent; enroll/revoke of any id are serialized by
// the registry mutex.
type Registry struct {
	kind  models.RegistryKind
	store Store

	mu      sync.RWMutex
	entries map[string]models.Identity

	now func() time.Time
}

// NewRegistry loads all persisted identities of the given kind.
func NewRegistry(ctx context.Context, kind models.RegistryKind, store Store) (*Registry, error) {
	idents, err := store.LoadIdentities(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s registry: %w", kind, err)
	}

	entries := make(map[string]models.Identity, len(idents))
	for _, ident := range idents {
		entries[ident.ID] = ident
	}

	return &Registry{
		kind:    kind,
		store:   store,
		entries: entries,
		now:     time.Now,
	}, nil
}

func (r *Registry) Kind() models.RegistryKind { return r.kind }

// Enroll computes the component-wise mean of all valid samples (nil samples
// are the ones the encoder failed on) and stores the centroid under id,
// overwriting any prior entry. The store write happens before the in-memory
// update; on store failure nothing changes.
func (r *Registry) Enroll(ctx context.Context, id string, role models.Role, samples [][]float32) (models.Identity, error) {
	var valid [][]float32
	for _, s := range samples {
		if len(s) > 0 {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return models.Identity{}, ErrNoValidSample
	}

	centroid := meanVector(valid)

	now := r.now().UTC()
	ident := models.Identity{
		ID:        id,
		Kind:      r.kind,
		Role:      role,
		Active:    true,
		Embedding: centroid,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[id]; ok {
		ident.CreatedAt = prev.CreatedAt
	}

	if err := r.store.SaveIdentity(ctx, ident); err != nil {
		return models.Identity{}, fmt.Errorf("persist identity %s: %w", id, err)
	}

	r.entries[id] = ident
	return ident, nil
}

// Revoke removes an identity. Revoking an unknown id is a no-op.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.DeleteIdentity(ctx, r.kind, id); err != nil {
		return fmt.Errorf("delete identity %s: %w", id, err)
	}
	delete(r.entries, id)
	return nil
}

// SetActive flips the active flag without touching the embedding. Inactive
// identities still match but fail privileged authentication.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ident, ok := r.entries[id]
	if !ok {
		return nil
	}

	if err := r.store.SetIdentityActive(ctx, r.kind, id, active); err != nil {
		return fmt.Errorf("update identity %s: %w", id, err)
	}

	ident.Active = active
	ident.UpdatedAt = r.now().UTC()
	r.entries[id] = ident
	return nil
}

// Get returns the enrolled identity for id, if any.
func (r *Registry) Get(id string) (models.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ident, ok := r.entries[id]
	return ident, ok
}

// Count returns the number of enrolled identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func meanVector(samples [][]float32) []float32 {
	dim := len(samples[0])
	sum := make([]float64, dim)
	n := 0
	for _, s := range samples {
		if len(s) != dim {
			continue
		}
		for i, v := range s {
			sum[i] += float64(v)
		}
		n++
	}

	centroid := make([]float32, dim)
	for i := range sum {
		centroid[i] = float32(sum[i] / float64(n))
	}
	return centroid
}
