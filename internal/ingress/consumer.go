// Package ingress — consumer.go
//
// Kafka consumer-group adapter for the raw.zone.events topic.
//
// The Source interface is the capability set the run loop consumes:
// fetch one message, commit watermarked offsets, close. KafkaSource backs
// it with a segmentio/kafka-go consumer-group Reader; tests back it with
// an in-memory fake.
//
// Subscription policy: a new consumer group starts from the earliest
// offset, so a fresh processor re-derives all volatile state by replay.
// The reader handles broker reconnects internally; the run loop adds its
// own bounded back-off around fetch errors so a flapping broker does not
// spin the loop.

package ingress

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// Message is one raw ingress record with its partition position.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// Source is the ingress transport capability set.
type Source interface {
	// Fetch blocks for the next message.
	Fetch(ctx context.Context) (Message, error)

	// Commit marks all offsets up to and including each (partition,
	// offset) pair as consumed for the group.
	Commit(ctx context.Context, targets ...Message) error

	// Close releases the transport.
	Close() error
}

// KafkaSource implements Source on a consumer-group Reader.
type KafkaSource struct {
	reader *kafka.Reader
}

// Options configures the consumer group subscription.
type Options struct {
	BrokerAddr string
	Topic      string
	GroupID    string
}

// NewKafkaSource subscribes to the ingress topic from the earliest
// uncommitted offset of the consumer group.
func NewKafkaSource(opts Options) *KafkaSource {
	return &KafkaSource{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{opts.BrokerAddr},
			GroupID:     opts.GroupID,
			Topic:       opts.Topic,
			StartOffset: kafka.FirstOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		}),
	}
}

// Fetch blocks for the next message without committing it.
func (s *KafkaSource) Fetch(ctx context.Context) (Message, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("ingress.Fetch: %w", err)
	}
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
	}, nil
}

// Commit acknowledges the given targets for the consumer group.
func (s *KafkaSource) Commit(ctx context.Context, targets ...Message) error {
	if len(targets) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(targets))
	for _, t := range targets {
		msgs = append(msgs, kafka.Message{
			Topic:     t.Topic,
			Partition: t.Partition,
			Offset:    t.Offset,
		})
	}
	if err := s.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("ingress.Commit: %w", err)
	}
	return nil
}

// Close closes the reader, leaving uncommitted offsets for redelivery.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
