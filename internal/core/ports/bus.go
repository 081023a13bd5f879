package ports

import (
	"context"

	"github.com/fxsync/ratesync/internal/core/domain"
)

// EventPublisher publishes envelopes to the event bus. Delivery is
// at-least-once with per-partition-key ordering only; publishing is
// fire-and-forget from the producer's point of view.
type EventPublisher interface {
	Publish(ctx context.Context, env domain.Envelope) error
	Close() error
}

// EventConsumer drives a consumer group's subscription. Run blocks until the
// context is cancelled, delivering events within one partition strictly in
// arrival order and committing the offset after each handled event.
// Implementations retry a failing handler per their retry policy and then
// skip the event with an alert; a partition is never blocked indefinitely.
type EventConsumer interface {
	Run(ctx context.Context, handler domain.EventHandler) error
	Close() error
}
