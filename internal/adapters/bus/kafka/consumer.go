package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fxsync/ratesync/internal/core/domain"
	"github.com/fxsync/ratesync/internal/platform/retry"
	kafkago "github.com/segmentio/kafka-go"
)

// Consumer drives one consumer group over Kafka. Each subscribed channel gets
// its own reader goroutine; within a reader messages are handled one at a
// time and committed individually, so same-partition events are processed
// strictly in arrival order and reprocessing after a restart is bounded to
// the last uncommitted event.
type Consumer struct {
	brokers []string
	groupID string
	policy  retry.Policy
	logger  *slog.Logger

	mu      sync.Mutex
	readers []*kafkago.Reader
}

// NewConsumer creates a consumer for the given group over all four channels.
func NewConsumer(brokers []string, groupID string, policy retry.Policy, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		brokers: brokers,
		groupID: groupID,
		policy:  policy,
		logger:  logger,
	}
}

// Run consumes until the context is cancelled. A handler failure is retried
// per the policy, then skipped with an alert; the offset is committed either
// way so the partition never blocks.
func (c *Consumer) Run(ctx context.Context, handler domain.EventHandler) error {
	var wg sync.WaitGroup
	for _, channel := range domain.Channels() {
		reader := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: c.brokers,
			GroupID: c.groupID,
			Topic:   channel,
		})
		c.mu.Lock()
		c.readers = append(c.readers, reader)
		c.mu.Unlock()

		wg.Add(1)
		go func(channel string, reader *kafkago.Reader) {
			defer wg.Done()
			c.consumeChannel(ctx, channel, reader, handler)
		}(channel, reader)
	}
	wg.Wait()
	return ctx.Err()
}

// Close closes all readers, committing nothing further.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Consumer) consumeChannel(ctx context.Context, channel string, reader *kafkago.Reader, handler domain.EventHandler) {
	topic, err := domain.TopicFromChannel(channel)
	if err != nil {
		c.logger.Error("refusing to consume unknown channel", slog.String("channel", channel))
		return
	}

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Error("fetch failed",
				slog.String("group", c.groupID),
				slog.String("channel", channel),
				slog.String("error", err.Error()))
			continue
		}

		if err := c.handleMessage(ctx, topic, msg, handler); err != nil {
			c.logger.Error("event handler failed after retries, skipping",
				slog.String("group", c.groupID),
				slog.String("channel", channel),
				slog.String("partition_key", string(msg.Key)),
				slog.String("error", err.Error()))
		}

		// Checkpoint after each consumed event.
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("offset commit failed",
				slog.String("group", c.groupID),
				slog.String("channel", channel),
				slog.String("error", err.Error()))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, topic domain.Topic, msg kafkago.Message, handler domain.EventHandler) error {
	var env domain.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		// A malformed envelope never becomes handleable; skip without retry.
		return fmt.Errorf("decode envelope: %w", err)
	}
	env.Topic = topic

	return c.policy.Do(ctx, func() error {
		return domain.Dispatch(ctx, env, handler)
	})
}
