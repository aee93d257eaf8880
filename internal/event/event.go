// Package event defines the replication events emitted for alerting and
// analytics consumers, plus in-process sinks.
package event

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mt5_copier/internal/id"

	"github.com/shopspring/decimal"
)

// Kind names an event type.
type Kind string

const (
	KindTradeCopied         Kind = "trade.copied"
	KindCopyRejected        Kind = "copy.rejected"
	KindCopyFailed          Kind = "copy.failed"
	KindFollowerClosed      Kind = "follower.closed"
	KindCloseFailed         Kind = "follower.close_failed"
	KindStopsModified       Kind = "stops.modified"
	KindModifyFailed        Kind = "stops.modify_failed"
	KindAccountDisconnected Kind = "account.disconnected"
	KindAccountReconnected  Kind = "account.reconnected"
	KindMarginLow           Kind = "margin.low"
	KindEquityDrop          Kind = "equity.drop"
	KindEnginePanic         Kind = "engine.panic"
)

// Event is a single notification. Empty fields are omitted on the wire.
type Event struct {
	ID                string          `json:"id"`
	Kind              Kind            `json:"kind"`
	Time              time.Time       `json:"time"`
	AccountID         string          `json:"account_id,omitempty"`
	MasterAccountID   string          `json:"master_account_id,omitempty"`
	FollowerAccountID string          `json:"follower_account_id,omitempty"`
	PairingID         string          `json:"pairing_id,omitempty"`
	MasterTicket      int64           `json:"master_ticket,omitempty"`
	FollowerTicket    int64           `json:"follower_ticket,omitempty"`
	Symbol            string          `json:"symbol,omitempty"`
	Volume            decimal.Decimal `json:"volume,omitzero"`
	Level             decimal.Decimal `json:"level,omitzero"`
	Message           string          `json:"message,omitempty"`
	Err               string          `json:"error,omitempty"`
}

// New stamps an event with an id and the current time.
func New(kind Kind) Event {
	now := time.Now().UTC()
	return Event{ID: id.NewAt(now), Kind: kind, Time: now}
}

// WithErr sets the error text when err is non-nil.
func (e Event) WithErr(err error) Event {
	if err != nil {
		e.Err = err.Error()
	}
	return e
}

// PartitionKey groups events of one account on the same partition.
func (e Event) PartitionKey() string {
	switch {
	case e.AccountID != "":
		return e.AccountID
	case e.MasterAccountID != "":
		return e.MasterAccountID
	}
	return e.FollowerAccountID
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// LogPublisher writes every event as a structured log line.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher. A nil logger uses slog.Default.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger.With(slog.String("module", "events"))}
}

func (p *LogPublisher) Publish(ctx context.Context, ev Event) error {
	level := slog.LevelInfo
	switch ev.Kind {
	case KindCopyFailed, KindCloseFailed, KindModifyFailed, KindAccountDisconnected, KindMarginLow, KindEquityDrop:
		level = slog.LevelWarn
	case KindEnginePanic:
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
	}
	if ev.AccountID != "" {
		attrs = append(attrs, slog.String("account", ev.AccountID))
	}
	if ev.MasterAccountID != "" {
		attrs = append(attrs, slog.String("master", ev.MasterAccountID))
	}
	if ev.MasterTicket != 0 {
		attrs = append(attrs, slog.Int64("ticket", ev.MasterTicket))
	}
	if ev.PairingID != "" {
		attrs = append(attrs, slog.String("pairing", ev.PairingID))
	}
	if ev.FollowerAccountID != "" {
		attrs = append(attrs, slog.String("follower", ev.FollowerAccountID))
	}
	if ev.FollowerTicket != 0 {
		attrs = append(attrs, slog.Int64("follower_ticket", ev.FollowerTicket))
	}
	if ev.Symbol != "" {
		attrs = append(attrs, slog.String("symbol", ev.Symbol))
	}
	if !ev.Volume.IsZero() {
		attrs = append(attrs, slog.String("volume", ev.Volume.String()))
	}
	if !ev.Level.IsZero() {
		attrs = append(attrs, slog.String("level", ev.Level.String()))
	}
	if ev.Err != "" {
		attrs = append(attrs, slog.String("error", ev.Err))
	}

	msg := ev.Message
	if msg == "" {
		msg = "Event " + string(ev.Kind)
	}
	p.logger.LogAttrs(ctx, level, msg, attrs...)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Multi fans an event out to every publisher. Delivery continues past
// failures; the errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
