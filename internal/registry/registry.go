// Package registry holds the pairings the replicator fans out to.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mt5_copier/internal/domain"
	"mt5_copier/internal/id"
)

// Registry is an in-memory pairing table. All readers receive copies.
type Registry struct {
	mu       sync.RWMutex
	pairings map[string]domain.Pairing
	order    []string // insertion order of ids
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{pairings: make(map[string]domain.Pairing)}
}

// Add validates and inserts p, assigning an id when empty.
func (r *Registry) Add(p domain.Pairing) (domain.Pairing, error) {
	if err := p.Validate(); err != nil {
		return domain.Pairing{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p.IsActive {
		if existing, ok := r.findActiveLocked(p.MasterAccountID, p.FollowerAccountID); ok && existing.ID != p.ID {
			return domain.Pairing{}, fmt.Errorf("pairing %s → %s: %w", p.MasterAccountID, p.FollowerAccountID, domain.ErrConflict)
		}
	}
	if p.ID == "" {
		p.ID = id.New()
	}
	if _, exists := r.pairings[p.ID]; exists {
		return domain.Pairing{}, fmt.Errorf("pairing %s: %w", p.ID, domain.ErrConflict)
	}

	p = p.Clone()
	r.pairings[p.ID] = p
	r.order = append(r.order, p.ID)
	return p.Clone(), nil
}

// Update applies patch to pairing id.
func (r *Registry) Update(pairingID string, patch domain.PairingPatch) (domain.Pairing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.pairings[pairingID]
	if !ok {
		return domain.Pairing{}, fmt.Errorf("pairing %s: %w", pairingID, domain.ErrNotFound)
	}
	next := patch.Apply(cur)
	if err := next.Validate(); err != nil {
		return domain.Pairing{}, err
	}
	if next.IsActive && !cur.IsActive {
		if other, ok := r.findActiveLocked(next.MasterAccountID, next.FollowerAccountID); ok && other.ID != pairingID {
			return domain.Pairing{}, fmt.Errorf("pairing %s → %s: %w", next.MasterAccountID, next.FollowerAccountID, domain.ErrConflict)
		}
	}
	r.pairings[pairingID] = next
	return next.Clone(), nil
}

// Deactivate stops fan-out for the pairing. Existing mappings stay tracked.
func (r *Registry) Deactivate(pairingID string) error {
	off := false
	_, err := r.Update(pairingID, domain.PairingPatch{IsActive: &off})
	return err
}

// Get returns the pairing with id.
func (r *Registry) Get(pairingID string) (domain.Pairing, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pairings[pairingID]
	if !ok {
		return domain.Pairing{}, false
	}
	return p.Clone(), true
}

// Find returns the pairing linking master to follower, preferring an active one.
func (r *Registry) Find(master, follower string) (domain.Pairing, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.findActiveLocked(master, follower); ok {
		return p.Clone(), true
	}
	for _, pid := range r.order {
		p := r.pairings[pid]
		if p.MasterAccountID == master && p.FollowerAccountID == follower {
			return p.Clone(), true
		}
	}
	return domain.Pairing{}, false
}

func (r *Registry) findActiveLocked(master, follower string) (domain.Pairing, bool) {
	for _, pid := range r.order {
		p := r.pairings[pid]
		if p.IsActive && p.MasterAccountID == master && p.FollowerAccountID == follower {
			return p, true
		}
	}
	return domain.Pairing{}, false
}

// ListByMaster returns master's pairings, active or not, in insertion order.
func (r *Registry) ListByMaster(master string) []domain.Pairing {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Pairing
	for _, pid := range r.order {
		if p := r.pairings[pid]; p.MasterAccountID == master {
			out = append(out, p.Clone())
		}
	}
	return out
}

// ListActiveMasters returns the sorted master ids with at least one active pairing.
func (r *Registry) ListActiveMasters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, p := range r.pairings {
		if p.IsActive {
			seen[p.MasterAccountID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// All returns every pairing in insertion order.
func (r *Registry) All() []domain.Pairing {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Pairing, 0, len(r.order))
	for _, pid := range r.order {
		out = append(out, r.pairings[pid].Clone())
	}
	return out
}

// Replace swaps the whole table atomically. Invalid pairings are skipped and
// reported in the returned error; the valid ones are still installed.
func (r *Registry) Replace(pairings []domain.Pairing) error {
	next := make(map[string]domain.Pairing, len(pairings))
	order := make([]string, 0, len(pairings))
	var skipped []string

	for _, p := range pairings {
		if p.ID == "" || p.Validate() != nil {
			skipped = append(skipped, p.ID)
			continue
		}
		if _, dup := next[p.ID]; dup {
			skipped = append(skipped, p.ID)
			continue
		}
		next[p.ID] = p.Clone()
		order = append(order, p.ID)
	}

	r.mu.Lock()
	r.pairings = next
	r.order = order
	r.mu.Unlock()

	if len(skipped) > 0 {
		return fmt.Errorf("skipped %d invalid pairings: %v", len(skipped), skipped)
	}
	return nil
}

// Load replaces the registry content with the pairings in store.
func (r *Registry) Load(ctx context.Context, store domain.PairingStore) error {
	pairings, err := store.ListPairings(ctx)
	if err != nil {
		return fmt.Errorf("load pairings: %w", err)
	}
	return r.Replace(pairings)
}
