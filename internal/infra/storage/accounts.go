package storage

import (
	"context"
	"errors"

	"mt5_copier/internal/domain"

	"gorm.io/gorm"
)

// ======================================================================================
// Account Operations
// ======================================================================================

// SaveAccount creates or updates an account
func (s *Storage) SaveAccount(ctx context.Context, a *domain.Account) error {
	return s.db.WithContext(ctx).Save(a).Error
}

// GetAccount retrieves an account by id
func (s *Storage) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAccounts returns every account ordered by id
func (s *Storage) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var accounts []domain.Account
	err := s.db.WithContext(ctx).Order("id").Find(&accounts).Error
	return accounts, err
}

// DeleteAccount deletes an account
func (s *Storage) DeleteAccount(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Account{}).Error
}
