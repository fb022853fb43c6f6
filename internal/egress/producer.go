// Package egress — producer.go
//
// Alert publisher for the zone.alerts topic.
//
// Messages are keyed by zoneId and the writer uses a deterministic hash
// balancer, so all alerts for one zone land on one partition and per-zone
// order is preserved on the egress side.
//
// Failure policy: a publish error is logged and counted by the caller and
// the event's offset still advances. The core does not retry — the
// transport layer and the downstream consumer's own persistence own
// delivery; the materialized store write is the local record of truth.

package egress

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/geopulse/geopulse/internal/event"
)

// Sink is the capability the per-zone workers need: publish one alert
// under a key. Satisfied by Producer; tests substitute a recorder.
type Sink interface {
	Publish(ctx context.Context, a *event.Alert) error
}

// Producer publishes alerts to the egress topic.
type Producer struct {
	writer *kafka.Writer
}

// New creates a Producer for the given broker and topic.
func New(brokerAddr, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokerAddr),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish encodes the alert and writes it keyed by zoneId.
func (p *Producer) Publish(ctx context.Context, a *event.Alert) error {
	payload, err := a.Encode()
	if err != nil {
		return fmt.Errorf("egress.Publish: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.ZoneID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("egress.Publish(%s): %w", a.ZoneID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
