package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a venue account known to the copier, master or follower.
type Account struct {
	ID          string          `gorm:"primaryKey" json:"id"`
	Login       int64           `gorm:"index" json:"login"`
	Password    string          `json:"-"`
	Server      string          `json:"server"`
	Name        string          `json:"name"`
	Balance     decimal.Decimal `gorm:"type:decimal(20,8)" json:"balance"`
	Equity      decimal.Decimal `gorm:"type:decimal(20,8)" json:"equity"`
	Margin      decimal.Decimal `gorm:"type:decimal(20,8)" json:"margin"`
	FreeMargin  decimal.Decimal `gorm:"type:decimal(20,8)" json:"free_margin"`
	Leverage    int64           `json:"leverage"`
	Profit      decimal.Decimal `gorm:"type:decimal(20,8)" json:"profit"`
	IsConnected bool            `gorm:"index" json:"is_connected"`
	LastUpdate  time.Time       `json:"last_update"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Credentials returns the login details used by the gateway.
func (a *Account) Credentials() Credentials {
	return Credentials{
		AccountID: a.ID,
		Login:     a.Login,
		Password:  a.Password,
		Server:    a.Server,
	}
}

// Pairing is a directional master → follower replication rule.
type Pairing struct {
	ID                string          `gorm:"primaryKey" json:"id"`
	MasterAccountID   string          `gorm:"index:idx_pairing_accounts;not null" json:"master_account_id"`
	FollowerAccountID string          `gorm:"index:idx_pairing_accounts;index;not null" json:"follower_account_id"`
	VolumePercent     decimal.Decimal `gorm:"type:decimal(20,8)" json:"volume_percent"`
	CopyStopLevels    bool            `json:"copy_stop_levels"`
	MinVolume         decimal.Decimal `gorm:"type:decimal(20,8)" json:"min_volume"`
	MaxVolume         decimal.Decimal `gorm:"type:decimal(20,8)" json:"max_volume"`
	AllowedSymbols    []string        `gorm:"serializer:json;type:text" json:"allowed_symbols"`
	ExcludedSymbols   []string        `gorm:"serializer:json;type:text" json:"excluded_symbols"`
	MaxRiskPercent    decimal.Decimal `gorm:"type:decimal(20,8)" json:"max_risk_percent"`
	IsActive          bool            `gorm:"index" json:"is_active"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CopiedTrade is the history row of one follower position opened by the copier.
type CopiedTrade struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	FollowerAccountID string          `gorm:"uniqueIndex:idx_copied_follower_ticket" json:"follower_account_id"`
	FollowerTicket    int64           `gorm:"uniqueIndex:idx_copied_follower_ticket" json:"follower_ticket"`
	MasterAccountID   string          `gorm:"index:idx_copied_master" json:"master_account_id"`
	MasterTicket      int64           `gorm:"index:idx_copied_master" json:"master_ticket"`
	PairingID         string          `json:"pairing_id"`
	Symbol            string          `json:"symbol"`
	Side              Side            `json:"side"`
	Volume            decimal.Decimal `gorm:"type:decimal(20,8)" json:"volume"`
	OpenPrice         decimal.Decimal `gorm:"type:decimal(20,8)" json:"open_price"`
	OpenedAt          time.Time       `json:"opened_at"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
	CloseReason       string          `json:"close_reason,omitempty"`
}

// IsOpen reports whether the follower position is still open.
func (t *CopiedTrade) IsOpen() bool {
	return t.ClosedAt == nil
}
