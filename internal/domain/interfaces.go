package domain

import (
	"context"
	"time"
)

// BrokerGateway is the venue surface the copier needs. Every call addresses
// one account explicitly; implementations must be safe for concurrent use.
type BrokerGateway interface {
	Connect(ctx context.Context, creds Credentials) error
	AccountSnapshot(ctx context.Context, accountID string) (AccountSnapshot, error)
	OpenPositions(ctx context.Context, accountID string) ([]Position, error)
	Deals(ctx context.Context, accountID string, from, to time.Time) ([]Deal, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderFill, error)
	ModifyOrder(ctx context.Context, accountID string, ticket int64, levels StopLevels) error
	CloseOrder(ctx context.Context, accountID string, ticket int64) error
}

// SymbolSpecProvider is implemented by gateways that know instrument facts.
type SymbolSpecProvider interface {
	SymbolSpec(ctx context.Context, accountID, symbol string) (SymbolSpec, error)
}

// PairingStore persists pairings.
type PairingStore interface {
	SavePairing(ctx context.Context, p *Pairing) error
	GetPairing(ctx context.Context, id string) (*Pairing, error)
	ListPairings(ctx context.Context) ([]Pairing, error)
	PairingsByMaster(ctx context.Context, masterID string) ([]Pairing, error)
	PairingsByFollower(ctx context.Context, followerID string) ([]Pairing, error)
	DeletePairing(ctx context.Context, id string) error
}

// AccountStore persists accounts and their last snapshot.
type AccountStore interface {
	SaveAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

// TradeHistory records follower positions opened by the copier.
type TradeHistory interface {
	RecordCopiedTrade(ctx context.Context, t *CopiedTrade) error
	CloseCopiedTrade(ctx context.Context, followerAccountID string, followerTicket int64, reason string, at time.Time) error
	ListCopiedTrades(ctx context.Context, masterAccountID string, limit int) ([]CopiedTrade, error)
}

// Store is the persistence collaborator of the copier.
// Lookups of missing rows return (nil, nil).
type Store interface {
	PairingStore
	AccountStore
	TradeHistory
}
