package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mt5_copier/internal/domain"
	"mt5_copier/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ domain.Store        = (*Storage)(nil)
	_ ledger.Checkpointer = (*Storage)(nil)
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(Options{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "mysql"})
	assert.Error(t, err)

	_, err = Open(Options{Driver: "postgres"})
	assert.Error(t, err, "postgres requires a DSN")
}

func TestPairingCRUD(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	p := domain.NewPairing("m1", "f1")
	p.ID = "01HPAIR"
	p.AllowedSymbols = []string{"EURUSD", "GBPUSD"}
	p.ExcludedSymbols = []string{"XAUUSD"}
	p.VolumePercent = decimal.NewFromInt(50)
	require.NoError(t, s.SavePairing(ctx, &p))

	other := domain.NewPairing("m1", "f2")
	other.ID = "01HPAIR2"
	require.NoError(t, s.SavePairing(ctx, &other))

	fetched, err := s.GetPairing(ctx, "01HPAIR")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, fetched.AllowedSymbols)
	assert.Equal(t, []string{"XAUUSD"}, fetched.ExcludedSymbols)
	assert.True(t, fetched.VolumePercent.Equal(decimal.NewFromInt(50)))
	assert.True(t, fetched.MinVolume.Equal(decimal.RequireFromString("0.01")))

	byMaster, err := s.PairingsByMaster(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, byMaster, 2)

	byFollower, err := s.PairingsByFollower(ctx, "f2")
	require.NoError(t, err)
	require.Len(t, byFollower, 1)
	assert.Equal(t, "01HPAIR2", byFollower[0].ID)

	fetched.IsActive = false
	require.NoError(t, s.SavePairing(ctx, fetched))
	again, _ := s.GetPairing(ctx, "01HPAIR")
	assert.False(t, again.IsActive)

	require.NoError(t, s.DeletePairing(ctx, "01HPAIR"))
	missing, err := s.GetPairing(ctx, "01HPAIR")
	assert.NoError(t, err, "not found is not an error")
	assert.Nil(t, missing)

	all, _ := s.ListPairings(ctx)
	assert.Len(t, all, 1)
}

func TestAccountCRUD(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	a := &domain.Account{ID: "master-1", Login: 5001, Server: "Broker-Demo", Password: "secret"}
	a.Apply(domain.AccountSnapshot{Balance: decimal.NewFromInt(10000), Equity: decimal.RequireFromString("10250.5"), Leverage: 500})
	require.NoError(t, s.SaveAccount(ctx, a))
	require.NoError(t, s.SaveAccount(ctx, &domain.Account{ID: "follower-1", Login: 5002}))

	fetched, err := s.GetAccount(ctx, "master-1")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, int64(5001), fetched.Login)
	assert.Equal(t, "secret", fetched.Password)
	assert.True(t, fetched.Equity.Equal(decimal.RequireFromString("10250.5")))

	list, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "follower-1", list[0].ID)

	require.NoError(t, s.DeleteAccount(ctx, "follower-1"))
	gone, err := s.GetAccount(ctx, "follower-1")
	assert.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCopiedTrades(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	for i, m := range []string{"m1", "m1", "m2"} {
		require.NoError(t, s.RecordCopiedTrade(ctx, &domain.CopiedTrade{
			FollowerAccountID: "f1",
			FollowerTicket:    int64(100 + i),
			MasterAccountID:   m,
			MasterTicket:      int64(10 + i),
			Symbol:            "EURUSD",
			Side:              domain.SideBuy,
			Volume:            decimal.RequireFromString("0.5"),
			OpenedAt:          time.Now(),
		}))
	}

	m1, err := s.ListCopiedTrades(ctx, "m1", 0)
	require.NoError(t, err)
	require.Len(t, m1, 2)
	assert.Equal(t, int64(101), m1[0].FollowerTicket, "newest first")

	limited, _ := s.ListCopiedTrades(ctx, "", 1)
	assert.Len(t, limited, 1)

	require.NoError(t, s.CloseCopiedTrade(ctx, "f1", 100, "master closed", time.Now()))
	require.NoError(t, s.CloseCopiedTrade(ctx, "f1", 999, "unknown", time.Now()))

	m1, _ = s.ListCopiedTrades(ctx, "m1", 0)
	var closed *domain.CopiedTrade
	for i := range m1 {
		if m1[i].FollowerTicket == 100 {
			closed = &m1[i]
		}
	}
	require.NotNil(t, closed)
	assert.False(t, closed.IsOpen())
	assert.Equal(t, "master closed", closed.CloseReason)
}

func TestLedgerCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := setupTestDB(t)

	empty, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	l := ledger.New()
	l.AdvanceWatermark("m1", 1002)
	l.AdvanceWatermark("m2", 7)
	sl := domain.StopLevels{StopLoss: decimal.RequireFromString("1.09"), TakeProfit: decimal.RequireFromString("1.12")}
	l.RecordMapping(domain.PositionKey{AccountID: "m1", Ticket: 1001}, "f1", ledger.FollowerLeg{Ticket: 5001, Levels: sl}, sl)
	l.RecordMapping(domain.PositionKey{AccountID: "m1", Ticket: 1001}, "f2", ledger.FollowerLeg{Ticket: 7001}, sl)

	require.NoError(t, s.Save(ctx, l.Snapshot()))

	// A second save replaces rather than appends.
	l.RemoveFollowerMapping(domain.PositionKey{AccountID: "m1", Ticket: 1001}, "f2")
	refused := domain.StopLevels{StopLoss: decimal.RequireFromString("1.2")}
	l.RejectFollowerLevels(domain.PositionKey{AccountID: "m1", Ticket: 1001}, "f1", refused)
	require.NoError(t, s.Save(ctx, l.Snapshot()))

	st, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"m1": 1002, "m2": 7}, st.Watermarks)
	require.Len(t, st.Records, 1)
	rec := st.Records[0]
	assert.Equal(t, int64(1001), rec.Key.Ticket)
	assert.True(t, rec.Levels.Equal(sl))
	require.Contains(t, rec.Followers, "f1")
	assert.Equal(t, int64(5001), rec.Followers["f1"].Ticket)
	assert.True(t, rec.Followers["f1"].Levels.Equal(sl))
	require.NotNil(t, rec.Followers["f1"].Rejected)
	assert.True(t, rec.Followers["f1"].Rejected.Equal(refused))
	assert.NotContains(t, rec.Followers, "f2")
}
