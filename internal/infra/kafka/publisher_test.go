package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"mt5_copier/internal/event"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

var _ event.Publisher = (*EventPublisher)(nil)

func TestEventPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &EventPublisher{writer: w, Topic: "events"}

	ev := event.New(event.KindTradeCopied)
	ev.MasterAccountID = "m1"
	ev.FollowerAccountID = "f1"
	ev.MasterTicket = 1001

	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "m1", string(msg.Key))
	assert.Equal(t, "kind", msg.Headers[0].Key)
	assert.Equal(t, "trade.copied", string(msg.Headers[0].Value))

	var decoded event.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, int64(1001), decoded.MasterTicket)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestEventPublisher_WriteError(t *testing.T) {
	boom := errors.New("leader not available")
	p := &EventPublisher{writer: &fakeWriter{err: boom}}

	err := p.Publish(context.Background(), event.New(event.KindMarginLow))
	assert.ErrorIs(t, err, boom)
}

func TestNewEventPublisher(t *testing.T) {
	p := NewEventPublisher(Options{Brokers: []string{"localhost:9092"}, Topic: "mt5copier.events"})

	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "mt5copier.events", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}
