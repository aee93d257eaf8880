package registry

import (
	"context"
	"fmt"

	"mt5_copier/internal/domain"
	"mt5_copier/internal/id"
)

// Service couples registry changes with persistence. The store is written
// first so a failed write never leaves the registry ahead of the database.
type Service struct {
	reg   *Registry
	store domain.PairingStore
}

// NewService creates a Service.
func NewService(reg *Registry, store domain.PairingStore) *Service {
	return &Service{reg: reg, store: store}
}

// Create validates, persists and registers a new pairing.
func (s *Service) Create(ctx context.Context, p domain.Pairing) (domain.Pairing, error) {
	if err := p.Validate(); err != nil {
		return domain.Pairing{}, err
	}
	if p.IsActive {
		if _, ok := s.activeFor(p.MasterAccountID, p.FollowerAccountID); ok {
			return domain.Pairing{}, fmt.Errorf("pairing %s → %s: %w", p.MasterAccountID, p.FollowerAccountID, domain.ErrConflict)
		}
	}
	if p.ID == "" {
		p.ID = id.New()
	}
	if err := s.store.SavePairing(ctx, &p); err != nil {
		return domain.Pairing{}, fmt.Errorf("save pairing: %w", err)
	}
	return s.reg.Add(p)
}

// Update patches a pairing in the store and the registry.
func (s *Service) Update(ctx context.Context, pairingID string, patch domain.PairingPatch) (domain.Pairing, error) {
	cur, ok := s.reg.Get(pairingID)
	if !ok {
		return domain.Pairing{}, fmt.Errorf("pairing %s: %w", pairingID, domain.ErrNotFound)
	}
	next := patch.Apply(cur)
	if err := next.Validate(); err != nil {
		return domain.Pairing{}, err
	}
	if next.IsActive && !cur.IsActive {
		if other, ok := s.activeFor(next.MasterAccountID, next.FollowerAccountID); ok && other.ID != pairingID {
			return domain.Pairing{}, fmt.Errorf("pairing %s → %s: %w", next.MasterAccountID, next.FollowerAccountID, domain.ErrConflict)
		}
	}
	if err := s.store.SavePairing(ctx, &next); err != nil {
		return domain.Pairing{}, fmt.Errorf("save pairing: %w", err)
	}
	return s.reg.Update(pairingID, patch)
}

// Deactivate marks a pairing inactive.
func (s *Service) Deactivate(ctx context.Context, pairingID string) error {
	off := false
	_, err := s.Update(ctx, pairingID, domain.PairingPatch{IsActive: &off})
	return err
}

// Sync reloads the registry from the store. It is the pairing sync job.
func (s *Service) Sync(ctx context.Context) error {
	return s.reg.Load(ctx, s.store)
}

func (s *Service) activeFor(master, follower string) (domain.Pairing, bool) {
	p, ok := s.reg.Find(master, follower)
	if !ok || !p.IsActive {
		return domain.Pairing{}, false
	}
	return p, true
}
