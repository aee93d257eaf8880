package service

import (
	"sort"
	"sync"
	"time"

	"mt5_copier/internal/domain"

	"github.com/shopspring/decimal"
)

// AccountState is the latest known condition of one account.
type AccountState struct {
	AccountID  string                 `json:"account_id"`
	Snapshot   domain.AccountSnapshot `json:"snapshot"`
	HasData    bool                   `json:"has_data"`
	Connected  bool                   `json:"connected"`
	Down       bool                   `json:"down"` // marked disconnected after a failure
	LastUpdate time.Time              `json:"last_update"`
	LastErr    string                 `json:"last_error,omitempty"`
}

// AccountBook is the shared in-memory view of account health. The monitor
// writes snapshots; the replicator marks accounts down on fetch failures.
type AccountBook struct {
	mu       sync.RWMutex
	accounts map[string]*AccountState
}

// NewAccountBook creates an empty book.
func NewAccountBook() *AccountBook {
	return &AccountBook{accounts: make(map[string]*AccountState)}
}

func (b *AccountBook) stateLocked(accountID string) *AccountState {
	st, ok := b.accounts[accountID]
	if !ok {
		st = &AccountState{AccountID: accountID}
		b.accounts[accountID] = st
	}
	return st
}

// UpdateSnapshot stores snap and marks the account connected. It returns the
// previous snapshot, if any, for change detection.
func (b *AccountBook) UpdateSnapshot(accountID string, snap domain.AccountSnapshot, at time.Time) (prev domain.AccountSnapshot, hadPrev bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateLocked(accountID)
	prev, hadPrev = st.Snapshot, st.HasData
	st.Snapshot = snap
	st.HasData = true
	st.Connected = true
	st.Down = false
	st.LastUpdate = at
	st.LastErr = ""
	return prev, hadPrev
}

// Seed stores a persisted snapshot for an account the book has no data for.
// The account is not marked connected.
func (b *AccountBook) Seed(accountID string, snap domain.AccountSnapshot, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateLocked(accountID)
	if st.HasData {
		return
	}
	st.Snapshot = snap
	st.HasData = true
	st.LastUpdate = at
}

// MarkDisconnected records a failure. It returns true only when the account
// was not already marked down.
func (b *AccountBook) MarkDisconnected(accountID string, err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateLocked(accountID)
	if err != nil {
		st.LastErr = err.Error()
	}
	wasUp := !st.Down
	st.Down = true
	st.Connected = false
	return wasUp
}

// MarkConnected returns true when an account marked down comes back up.
func (b *AccountBook) MarkConnected(accountID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateLocked(accountID)
	was := st.Down
	st.Connected = true
	st.Down = false
	st.LastErr = ""
	return was
}

// IsConnected reports the last known connectivity of accountID.
func (b *AccountBook) IsConnected(accountID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.accounts[accountID]
	return ok && st.Connected
}

// Equity returns the last snapshot equity of accountID.
func (b *AccountBook) Equity(accountID string) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.accounts[accountID]
	if !ok || !st.HasData {
		return decimal.Zero, false
	}
	return st.Snapshot.Equity, true
}

// Get returns a copy of the account state.
func (b *AccountBook) Get(accountID string) (AccountState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.accounts[accountID]
	if !ok {
		return AccountState{}, false
	}
	return *st, true
}

// All returns copies of every account state sorted by account id.
func (b *AccountBook) All() []AccountState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]AccountState, 0, len(b.accounts))
	for _, st := range b.accounts {
		result = append(result, *st)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AccountID < result[j].AccountID
	})

	return result
}

// ConnectedCount returns how many accounts are currently up.
func (b *AccountBook) ConnectedCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, st := range b.accounts {
		if st.Connected {
			n++
		}
	}
	return n
}
