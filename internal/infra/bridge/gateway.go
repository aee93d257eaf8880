package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mt5_copier/internal/domain"
)

// Connect logs the account into the bridge terminal.
func (c *Client) Connect(ctx context.Context, creds domain.Credentials) error {
	params := loginParams{Login: creds.Login, Password: creds.Password, Server: creds.Server}
	if err := c.call(ctx, opConnect, creds.AccountID, params, nil); err != nil {
		return c.mapError(opConnect, creds.AccountID, "", err)
	}
	c.logger.Info("Account logged in", slog.String("account", creds.AccountID), slog.String("server", creds.Server))
	return nil
}

func (c *Client) AccountSnapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	var info accountInfo
	if err := c.call(ctx, opAccountInfo, accountID, nil, &info); err != nil {
		return domain.AccountSnapshot{}, c.mapError(opAccountInfo, accountID, "", err)
	}
	return info.toDomain(), nil
}

func (c *Client) OpenPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	var raw []positionInfo
	if err := c.call(ctx, opPositions, accountID, nil, &raw); err != nil {
		return nil, c.mapError(opPositions, accountID, "", err)
	}
	out := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		pos := p.toDomain(accountID)
		if !pos.Side.Valid() {
			c.logger.Warn("Skipping position with unknown type",
				slog.String("account", accountID), slog.Int64("ticket", p.Ticket), slog.String("type", p.Type))
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

func (c *Client) Deals(ctx context.Context, accountID string, from, to time.Time) ([]domain.Deal, error) {
	var raw []dealInfo
	params := dealsParams{From: from.Unix(), To: to.Unix()}
	if err := c.call(ctx, opDeals, accountID, params, &raw); err != nil {
		return nil, c.mapError(opDeals, accountID, "", err)
	}
	out := make([]domain.Deal, len(raw))
	for i, d := range raw {
		out[i] = d.toDomain()
	}
	return out, nil
}

// PlaceOrder sends a market order. deviation and magic come from the gateway config.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderFill, error) {
	params := orderSendParams{
		Symbol:    req.Symbol,
		Side:      string(req.Side),
		Volume:    req.Volume,
		SL:        req.Levels.StopLoss,
		TP:        req.Levels.TakeProfit,
		Deviation: c.deviation,
		Magic:     c.magic,
		Comment:   req.Comment,
	}
	var res orderResult
	if err := c.call(ctx, opOrderSend, req.AccountID, params, &res); err != nil {
		return domain.OrderFill{}, c.mapError(opOrderSend, req.AccountID, req.Symbol, err)
	}
	if res.Ticket == 0 {
		return domain.OrderFill{}, &domain.OrderSubmissionError{
			AccountID: req.AccountID, Symbol: req.Symbol, Err: errors.New("bridge returned no ticket"),
		}
	}

	fill := domain.OrderFill{
		Ticket:    res.Ticket,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Volume:    res.Volume,
		FillPrice: res.Price,
		FilledAt:  time.Unix(res.Time, 0).UTC(),
	}
	if fill.Volume.IsZero() {
		fill.Volume = req.Volume
	}
	if res.Time == 0 {
		fill.FilledAt = time.Now().UTC()
	}
	return fill, nil
}

func (c *Client) ModifyOrder(ctx context.Context, accountID string, ticket int64, levels domain.StopLevels) error {
	params := orderModifyParams{Ticket: ticket, SL: levels.StopLoss, TP: levels.TakeProfit}
	if err := c.call(ctx, opOrderModify, accountID, params, nil); err != nil {
		return c.mapError(opOrderModify, accountID, "", err)
	}
	return nil
}

func (c *Client) CloseOrder(ctx context.Context, accountID string, ticket int64) error {
	params := orderCloseParams{Ticket: ticket, Deviation: c.deviation, Magic: c.magic}
	if err := c.call(ctx, opOrderClose, accountID, params, nil); err != nil {
		return c.mapError(opOrderClose, accountID, "", err)
	}
	return nil
}

func (c *Client) SymbolSpec(ctx context.Context, accountID, symbol string) (domain.SymbolSpec, error) {
	var info symbolInfo
	if err := c.call(ctx, opSymbolInfo, accountID, symbolParams{Symbol: symbol}, &info); err != nil {
		return domain.SymbolSpec{}, c.mapError(opSymbolInfo, accountID, symbol, err)
	}
	return info.toDomain(), nil
}

// mapError translates bridge error codes into the domain taxonomy.
func (c *Client) mapError(op, accountID, symbol string, err error) error {
	var be *bridgeError
	if !errors.As(err, &be) {
		return err
	}
	switch be.Code {
	case codeNotConnected, codeLoginFailed, codeConnectionLost:
		return domain.NewConnectivityError(op, accountID, be)
	case codePositionNotFound:
		return fmt.Errorf("%s [%s]: %s: %w", op, accountID, be.Message, domain.ErrPositionNotFound)
	case codeRejected:
		return &domain.OrderSubmissionError{
			AccountID: accountID, Symbol: symbol, Code: be.Retcode, Err: errors.New(be.Message),
		}
	}
	return fmt.Errorf("bridge %s [%s]: %w", op, accountID, be)
}

var (
	_ domain.BrokerGateway      = (*Client)(nil)
	_ domain.SymbolSpecProvider = (*Client)(nil)
)
