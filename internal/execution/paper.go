// Package execution provides an in-memory venue used for dry runs and tests.
package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mt5_copier/internal/domain"

	"github.com/shopspring/decimal"
)

// Gateway operations that can be failed on purpose.
const (
	OpConnect   = "connect"
	OpSnapshot  = "snapshot"
	OpPositions = "positions"
	OpDeals     = "deals"
	OpPlace     = "place"
	OpModify    = "modify"
	OpClose     = "close"
)

type paperAccount struct {
	creds        domain.Credentials
	snapshot     domain.AccountSnapshot
	disconnected bool
	loggedOut    bool
	positions    map[int64]*domain.Position
	deals        []domain.Deal
}

// PaperGateway implements domain.BrokerGateway and domain.SymbolSpecProvider
// in memory. Tickets are assigned from one monotonic counter.
type PaperGateway struct {
	mu         sync.Mutex
	nextTicket int64
	accounts   map[string]*paperAccount
	prices     map[string]decimal.Decimal
	specs      map[string]domain.SymbolSpec
	failures   map[string][]error // op → queued one-shot errors
	fills      []domain.OrderFill
	calls      map[string]int
	now        func() time.Time
}

// NewPaperGateway creates an empty venue. Tickets start after startTicket.
func NewPaperGateway(startTicket int64) *PaperGateway {
	return &PaperGateway{
		nextTicket: startTicket,
		accounts:   make(map[string]*paperAccount),
		prices:     make(map[string]decimal.Decimal),
		specs:      make(map[string]domain.SymbolSpec),
		failures:   make(map[string][]error),
		calls:      make(map[string]int),
		now:        time.Now,
	}
}

// AddAccount registers an account with a starting balance.
func (g *PaperGateway) AddAccount(accountID string, balance decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.accounts[accountID] = &paperAccount{
		creds:     domain.Credentials{AccountID: accountID},
		snapshot:  domain.AccountSnapshot{Balance: balance, Equity: balance, FreeMargin: balance, Leverage: 100},
		positions: make(map[int64]*domain.Position),
	}
}

// SetSnapshot overrides the reported account state.
func (g *PaperGateway) SetSnapshot(accountID string, snap domain.AccountSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if acct, ok := g.accounts[accountID]; ok {
		acct.snapshot = snap
	}
}

// SetDisconnected simulates a terminal outage for one account.
func (g *PaperGateway) SetDisconnected(accountID string, down bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if acct, ok := g.accounts[accountID]; ok {
		acct.disconnected = down
	}
}

// Logout drops the terminal session of an account. Every call except Connect
// fails until the account logs in again.
func (g *PaperGateway) Logout(accountID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if acct, ok := g.accounts[accountID]; ok {
		acct.loggedOut = true
	}
}

// UpdatePrice sets the fill price for symbol.
func (g *PaperGateway) UpdatePrice(symbol string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = price
}

// SetSymbolSpec sets what SymbolSpec returns for symbol.
func (g *PaperGateway) SetSymbolSpec(symbol string, spec domain.SymbolSpec) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.specs[symbol] = spec
}

// FailNext makes the next call of op return err.
func (g *PaperGateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = append(g.failures[op], err)
}

// Open creates a position directly, as a trader on the master terminal would.
func (g *PaperGateway) Open(accountID, symbol string, side domain.Side, volume decimal.Decimal, levels domain.StopLevels) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	acct, ok := g.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	pos := g.openLocked(acct, accountID, symbol, side, volume, levels)
	return pos.Ticket, nil
}

// SetStops changes the levels of an open position directly.
func (g *PaperGateway) SetStops(accountID string, ticket int64, levels domain.StopLevels) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, err := g.positionLocked(accountID, ticket)
	if err != nil {
		return err
	}
	pos.StopLoss, pos.TakeProfit = levels.StopLoss, levels.TakeProfit
	return nil
}

// Close closes a position directly.
func (g *PaperGateway) Close(accountID string, ticket int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closeLocked(accountID, ticket)
}

// Fills returns every follower fill in execution order.
func (g *PaperGateway) Fills() []domain.OrderFill {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.OrderFill(nil), g.fills...)
}

// Calls returns how many times op was invoked through the gateway interface.
func (g *PaperGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Positions returns the open positions of accountID without counting a call.
func (g *PaperGateway) Positions(accountID string) []domain.Position {
	g.mu.Lock()
	defer g.mu.Unlock()

	acct, ok := g.accounts[accountID]
	if !ok {
		return nil
	}
	return sortedPositions(acct)
}

// Connect implements domain.BrokerGateway.
func (g *PaperGateway) Connect(_ context.Context, creds domain.Credentials) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	acct, err := g.beginLocked(OpConnect, creds.AccountID)
	if err != nil {
		return err
	}
	acct.creds = creds
	acct.loggedOut = false
	return nil
}

// AccountSnapshot implements domain.BrokerGateway.
func (g *PaperGateway) AccountSnapshot(_ context.Context, accountID string) (domain.AccountSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	acct, err := g.beginLocked(OpSnapshot, accountID)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}
	return acct.snapshot, nil
}

// OpenPositions implements domain.BrokerGateway.
func (g *PaperGateway) OpenPositions(_ context.Context, accountID string) ([]domain.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	acct, err := g.beginLocked(OpPositions, accountID)
	if err != nil {
		return nil, err
	}
	return sortedPositions(acct), nil
}

// Deals implements domain.BrokerGateway.
func (g *PaperGateway) Deals(_ context.Context, accountID string, from, to time.Time) ([]domain.Deal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	acct, err := g.beginLocked(OpDeals, accountID)
	if err != nil {
		return nil, err
	}
	var out []domain.Deal
	for _, d := range acct.deals {
		if !d.Time.Before(from) && !d.Time.After(to) {
			out = append(out, d)
		}
	}
	return out, nil
}

// PlaceOrder implements domain.BrokerGateway.
func (g *PaperGateway) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderFill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	acct, err := g.beginLocked(OpPlace, req.AccountID)
	if err != nil {
		return domain.OrderFill{}, err
	}
	if !req.Side.Valid() || !req.Volume.IsPositive() {
		return domain.OrderFill{}, &domain.OrderSubmissionError{
			AccountID: req.AccountID, Symbol: req.Symbol, Code: "invalid_request",
			Err: fmt.Errorf("side %q volume %s", req.Side, req.Volume),
		}
	}

	pos := g.openLocked(acct, req.AccountID, req.Symbol, req.Side, req.Volume, req.Levels)
	fill := domain.OrderFill{
		Ticket:    pos.Ticket,
		Symbol:    pos.Symbol,
		Side:      pos.Side,
		Volume:    pos.Volume,
		FillPrice: pos.OpenPrice,
		FilledAt:  pos.OpenTime,
	}
	g.fills = append(g.fills, fill)
	return fill, nil
}

// ModifyOrder implements domain.BrokerGateway.
func (g *PaperGateway) ModifyOrder(_ context.Context, accountID string, ticket int64, levels domain.StopLevels) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.beginLocked(OpModify, accountID); err != nil {
		return err
	}
	pos, err := g.positionLocked(accountID, ticket)
	if err != nil {
		return err
	}
	pos.StopLoss, pos.TakeProfit = levels.StopLoss, levels.TakeProfit
	return nil
}

// CloseOrder implements domain.BrokerGateway.
func (g *PaperGateway) CloseOrder(_ context.Context, accountID string, ticket int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.beginLocked(OpClose, accountID); err != nil {
		return err
	}
	return g.closeLocked(accountID, ticket)
}

// SymbolSpec implements domain.SymbolSpecProvider.
func (g *PaperGateway) SymbolSpec(_ context.Context, _ string, symbol string) (domain.SymbolSpec, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.specs[symbol], nil
}

// beginLocked counts the call, pops an injected failure and checks the account.
func (g *PaperGateway) beginLocked(op, accountID string) (*paperAccount, error) {
	g.calls[op]++

	if queued := g.failures[op]; len(queued) > 0 {
		err := queued[0]
		g.failures[op] = queued[1:]
		return nil, err
	}

	acct, ok := g.accounts[accountID]
	if !ok {
		return nil, domain.NewConnectivityError(op, accountID, fmt.Errorf("unknown account"))
	}
	if acct.disconnected {
		return nil, domain.NewConnectivityError(op, accountID, fmt.Errorf("terminal not connected"))
	}
	if acct.loggedOut && op != OpConnect {
		return nil, domain.NewConnectivityError(op, accountID, fmt.Errorf("not logged in"))
	}
	return acct, nil
}

func (g *PaperGateway) openLocked(acct *paperAccount, accountID, symbol string, side domain.Side, volume decimal.Decimal, levels domain.StopLevels) *domain.Position {
	g.nextTicket++
	price, ok := g.prices[symbol]
	if !ok {
		price = decimal.NewFromInt(1)
	}
	pos := &domain.Position{
		Ticket:     g.nextTicket,
		AccountID:  accountID,
		Symbol:     symbol,
		Side:       side,
		Volume:     volume,
		OpenPrice:  price,
		OpenTime:   g.now(),
		StopLoss:   levels.StopLoss,
		TakeProfit: levels.TakeProfit,
	}
	acct.positions[pos.Ticket] = pos
	return pos
}

func (g *PaperGateway) positionLocked(accountID string, ticket int64) (*domain.Position, error) {
	acct, ok := g.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	pos, ok := acct.positions[ticket]
	if !ok {
		return nil, fmt.Errorf("ticket %d: %w", ticket, domain.ErrPositionNotFound)
	}
	return pos, nil
}

// closeLocked books the realized profit of the position at the current price.
func (g *PaperGateway) closeLocked(accountID string, ticket int64) error {
	pos, err := g.positionLocked(accountID, ticket)
	if err != nil {
		return err
	}
	acct := g.accounts[accountID]

	price, ok := g.prices[pos.Symbol]
	if !ok {
		price = pos.OpenPrice
	}
	move := price.Sub(pos.OpenPrice)
	if pos.Side == domain.SideSell {
		move = move.Neg()
	}
	profit := move.Mul(pos.Volume)

	acct.deals = append(acct.deals, domain.Deal{
		Ticket: ticket,
		Symbol: pos.Symbol,
		Side:   pos.Side.Opposite(),
		Volume: pos.Volume,
		Price:  price,
		Time:   g.now(),
		Profit: profit,
	})
	acct.snapshot.Balance = acct.snapshot.Balance.Add(profit)
	acct.snapshot.Equity = acct.snapshot.Equity.Add(profit)
	delete(acct.positions, ticket)
	return nil
}

func sortedPositions(acct *paperAccount) []domain.Position {
	out := make([]domain.Position, 0, len(acct.positions))
	for _, p := range acct.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}
