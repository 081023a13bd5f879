package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fxsync/ratesync/internal/apperrors"
	"github.com/fxsync/ratesync/internal/core/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher writes envelopes to Kafka. Messages are keyed by partition key
// with a hash balancer, which gives per-key ordering inside each topic.
type Publisher struct {
	writer *kafkago.Writer
}

// NewPublisher creates a Kafka publisher for the given brokers.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish sends the envelope to its topic's channel. Failures map to
// ErrBusUnavailable so producers can apply the persistence-only degradation
// policy without inspecting transport errors.
func (p *Publisher) Publish(ctx context.Context, env domain.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope for %s: %w", env.Topic.Channel(), err)
	}

	msg := kafkago.Message{
		Topic: env.Topic.Channel(),
		Key:   []byte(env.PartitionKey),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: write to %s: %v", apperrors.ErrBusUnavailable, env.Topic.Channel(), err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
