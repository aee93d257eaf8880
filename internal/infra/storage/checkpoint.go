package storage

import (
	"context"
	"time"

	"mt5_copier/internal/domain"
	"mt5_copier/internal/ledger"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ledgerWatermark struct {
	MasterAccountID string `gorm:"primaryKey"`
	Ticket          int64
	UpdatedAt       time.Time
}

func (ledgerWatermark) TableName() string { return "ledger_watermarks" }

type ledgerLeg struct {
	MasterAccountID   string          `gorm:"primaryKey"`
	MasterTicket      int64           `gorm:"primaryKey"`
	FollowerAccountID string          `gorm:"primaryKey"`
	FollowerTicket    int64           `gorm:"not null"`
	MasterSL          decimal.Decimal `gorm:"type:decimal(20,8)"`
	MasterTP          decimal.Decimal `gorm:"type:decimal(20,8)"`
	FollowerSL        decimal.Decimal `gorm:"type:decimal(20,8)"`
	FollowerTP        decimal.Decimal `gorm:"type:decimal(20,8)"`
	Rejected          bool
	RejectedSL        decimal.Decimal `gorm:"type:decimal(20,8)"`
	RejectedTP        decimal.Decimal `gorm:"type:decimal(20,8)"`
	OpenedAt          time.Time
}

func (ledgerLeg) TableName() string { return "ledger_legs" }

// ======================================================================================
// Ledger Checkpoint Operations
// ======================================================================================

// Save replaces the stored ledger with st in one transaction.
func (s *Storage) Save(ctx context.Context, st ledger.State) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&ledgerLeg{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&ledgerWatermark{}).Error; err != nil {
			return err
		}

		now := time.Now()
		marks := make([]ledgerWatermark, 0, len(st.Watermarks))
		for master, ticket := range st.Watermarks {
			marks = append(marks, ledgerWatermark{MasterAccountID: master, Ticket: ticket, UpdatedAt: now})
		}
		if len(marks) > 0 {
			if err := tx.CreateInBatches(marks, 200).Error; err != nil {
				return err
			}
		}

		var legs []ledgerLeg
		for _, rec := range st.Records {
			for follower, leg := range rec.Followers {
				row := ledgerLeg{
					MasterAccountID:   rec.Key.AccountID,
					MasterTicket:      rec.Key.Ticket,
					FollowerAccountID: follower,
					FollowerTicket:    leg.Ticket,
					MasterSL:          rec.Levels.StopLoss,
					MasterTP:          rec.Levels.TakeProfit,
					FollowerSL:        leg.Levels.StopLoss,
					FollowerTP:        leg.Levels.TakeProfit,
					OpenedAt:          leg.OpenedAt,
				}
				if leg.Rejected != nil {
					row.Rejected = true
					row.RejectedSL = leg.Rejected.StopLoss
					row.RejectedTP = leg.Rejected.TakeProfit
				}
				legs = append(legs, row)
			}
		}
		if len(legs) > 0 {
			if err := tx.CreateInBatches(legs, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Load rebuilds the ledger state from the checkpoint tables.
func (s *Storage) Load(ctx context.Context) (ledger.State, error) {
	var marks []ledgerWatermark
	if err := s.db.WithContext(ctx).Find(&marks).Error; err != nil {
		return ledger.State{}, err
	}
	var legs []ledgerLeg
	if err := s.db.WithContext(ctx).Order("master_account_id, master_ticket, follower_account_id").Find(&legs).Error; err != nil {
		return ledger.State{}, err
	}

	st := ledger.State{Watermarks: make(map[string]int64, len(marks))}
	for _, m := range marks {
		st.Watermarks[m.MasterAccountID] = m.Ticket
	}

	index := make(map[domain.PositionKey]int)
	for _, l := range legs {
		key := domain.PositionKey{AccountID: l.MasterAccountID, Ticket: l.MasterTicket}
		i, ok := index[key]
		if !ok {
			i = len(st.Records)
			index[key] = i
			st.Records = append(st.Records, ledger.Record{
				Key:       key,
				Levels:    domain.StopLevels{StopLoss: l.MasterSL, TakeProfit: l.MasterTP},
				Followers: make(map[string]ledger.FollowerLeg),
			})
		}
		leg := ledger.FollowerLeg{
			Ticket:   l.FollowerTicket,
			Levels:   domain.StopLevels{StopLoss: l.FollowerSL, TakeProfit: l.FollowerTP},
			OpenedAt: l.OpenedAt,
		}
		if l.Rejected {
			leg.Rejected = &domain.StopLevels{StopLoss: l.RejectedSL, TakeProfit: l.RejectedTP}
		}
		st.Records[i].Followers[l.FollowerAccountID] = leg
	}
	return st, nil
}
