package storage

import (
	"context"
	"time"

	"mt5_copier/internal/domain"
)

// ======================================================================================
// Trade History Operations
// ======================================================================================

// RecordCopiedTrade appends a follower position opened by the copier
func (s *Storage) RecordCopiedTrade(ctx context.Context, t *domain.CopiedTrade) error {
	return s.db.WithContext(ctx).Create(t).Error
}

// CloseCopiedTrade stamps the close time of an open copied trade.
// Unknown or already closed trades are ignored.
func (s *Storage) CloseCopiedTrade(ctx context.Context, followerAccountID string, followerTicket int64, reason string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&domain.CopiedTrade{}).
		Where("follower_account_id = ? AND follower_ticket = ? AND closed_at IS NULL", followerAccountID, followerTicket).
		Updates(map[string]any{"closed_at": at, "close_reason": reason}).Error
}

// ListCopiedTrades returns the newest trades first. An empty master lists all.
func (s *Storage) ListCopiedTrades(ctx context.Context, masterAccountID string, limit int) ([]domain.CopiedTrade, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if masterAccountID != "" {
		q = q.Where("master_account_id = ?", masterAccountID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var trades []domain.CopiedTrade
	err := q.Find(&trades).Error
	return trades, err
}
