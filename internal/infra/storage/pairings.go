package storage

import (
	"context"
	"errors"

	"mt5_copier/internal/domain"

	"gorm.io/gorm"
)

// ======================================================================================
// Pairing Operations
// ======================================================================================

// SavePairing creates or updates a pairing
func (s *Storage) SavePairing(ctx context.Context, p *domain.Pairing) error {
	return s.db.WithContext(ctx).Save(p).Error
}

// GetPairing retrieves a pairing by id
func (s *Storage) GetPairing(ctx context.Context, id string) (*domain.Pairing, error) {
	var p domain.Pairing
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPairings returns every pairing in creation order
func (s *Storage) ListPairings(ctx context.Context) ([]domain.Pairing, error) {
	var pairings []domain.Pairing
	err := s.db.WithContext(ctx).Order("created_at, id").Find(&pairings).Error
	return pairings, err
}

// PairingsByMaster returns the pairings copying from master
func (s *Storage) PairingsByMaster(ctx context.Context, masterID string) ([]domain.Pairing, error) {
	var pairings []domain.Pairing
	err := s.db.WithContext(ctx).
		Where("master_account_id = ?", masterID).
		Order("created_at, id").
		Find(&pairings).Error
	return pairings, err
}

// PairingsByFollower returns the pairings copying into follower
func (s *Storage) PairingsByFollower(ctx context.Context, followerID string) ([]domain.Pairing, error) {
	var pairings []domain.Pairing
	err := s.db.WithContext(ctx).
		Where("follower_account_id = ?", followerID).
		Order("created_at, id").
		Find(&pairings).Error
	return pairings, err
}

// DeletePairing deletes a pairing
func (s *Storage) DeletePairing(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Pairing{}).Error
}
