// Package events ships domain events to the risk collaborator over Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/service"
	"github.com/segmentio/kafka-go"
)

var _ service.Publisher = (*KafkaPublisher)(nil)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds a writer that keeps events of one surebet on one
// partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// KafkaPublisher writes each event as one JSON message keyed by Event.Key.
type KafkaPublisher struct {
	w       MessageWriter
	timeout time.Duration
}

// NewKafkaPublisher creates a publisher. A zero timeout leaves the caller's
// context deadline in charge.
func NewKafkaPublisher(w MessageWriter, timeout time.Duration) *KafkaPublisher {
	return &KafkaPublisher{w: w, timeout: timeout}
}

// Publish implements service.Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events.Publish: marshal %s: %w", evt.Type, err)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	msg := kafka.Message{
		Key:     []byte(evt.Key()),
		Value:   payload,
		Time:    evt.OccurredAt,
		Headers: []kafka.Header{{Key: "type", Value: []byte(evt.Type)}},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events.Publish %s: %w", evt.Type, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
