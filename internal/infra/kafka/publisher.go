// Package kafka publishes replication events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"mt5_copier/internal/event"

	"github.com/segmentio/kafka-go"
)

// Options configures the writer.
type Options struct {
	Brokers []string
	Topic   string
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher writes events as JSON, keyed by account so that one
// account's events stay ordered within a partition.
type EventPublisher struct {
	writer messageWriter
	Topic  string
}

// NewEventPublisher creates a new Kafka publisher for replication events.
func NewEventPublisher(opt Options) *EventPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(opt.Brokers...),
		Topic:                  opt.Topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &EventPublisher{writer: writer, Topic: opt.Topic}
}

// Publish sends ev to the configured topic.
func (p *EventPublisher) Publish(ctx context.Context, ev event.Event) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}

func encode(ev event.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.PartitionKey()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
		Time: ev.Time,
	}, nil
}
