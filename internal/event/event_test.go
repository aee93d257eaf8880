package event

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
	closed bool
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestNew_StampsIDAndTime(t *testing.T) {
	a := New(KindTradeCopied)
	b := New(KindTradeCopied)

	assert.Len(t, a.ID, 26)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Time.IsZero())
}

func TestEvent_JSONOmitsEmptyFields(t *testing.T) {
	ev := New(KindMarginLow)
	ev.MasterAccountID = "m1"
	ev.Level = decimal.NewFromInt(150)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "margin.low", m["kind"])
	assert.Equal(t, "150", m["level"])
	assert.NotContains(t, m, "volume")
	assert.NotContains(t, m, "follower_account_id")
}

func TestEvent_PartitionKey(t *testing.T) {
	assert.Equal(t, "m1", Event{MasterAccountID: "m1", FollowerAccountID: "f1"}.PartitionKey())
	assert.Equal(t, "f1", Event{FollowerAccountID: "f1"}.PartitionKey())
	assert.Equal(t, "a1", Event{AccountID: "a1", FollowerAccountID: "f1"}.PartitionKey())
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ev := New(KindCopyFailed)
	ev.MasterAccountID = "m1"
	ev.MasterTicket = 1001
	ev.PairingID = "p1"
	ev = ev.WithErr(errors.New("requote"))

	require.NoError(t, NewLogPublisher(logger).Publish(context.Background(), ev))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "m1", line["master"])
	assert.EqualValues(t, 1001, line["ticket"])
	assert.Equal(t, "p1", line["pairing"])
	assert.Equal(t, "requote", line["error"])
}

func TestMulti_DeliversPastFailures(t *testing.T) {
	bad := &recorder{err: errors.New("down")}
	good := &recorder{}

	err := Multi{bad, good}.Publish(context.Background(), New(KindTradeCopied))

	assert.Error(t, err)
	assert.Equal(t, 1, good.count())
	require.NoError(t, Multi{bad, good}.Close())
	assert.True(t, good.closed)
}

func TestAsync_DrainsOnClose(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 16, time.Second, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, a.Publish(context.Background(), New(KindTradeCopied)))
	}
	require.NoError(t, a.Close())

	assert.Equal(t, 10, rec.count())
	assert.True(t, rec.closed)
	assert.ErrorIs(t, a.Publish(context.Background(), New(KindTradeCopied)), ErrClosed)
}

func TestAsync_DropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	a := NewAsync(rec, 1, 0, nil)

	for i := 0; i < 5; i++ {
		_ = a.Publish(context.Background(), New(KindTradeCopied))
	}
	assert.Eventually(t, func() bool { return a.Dropped() >= 3 }, time.Second, 5*time.Millisecond)

	close(rec.block)
	require.NoError(t, a.Close())
	assert.Equal(t, uint64(5), a.Dropped()+uint64(rec.count()))
}
