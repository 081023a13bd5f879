package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fxsync/ratesync/internal/core/domain"
	"github.com/fxsync/ratesync/internal/platform/retry"
)

// ErrBusClosed is returned when publishing to a closed bus.
var ErrBusClosed = errors.New("bus closed")

// Bus is an in-memory event bus for local development and tests. It keeps an
// append-only log per partition key and tracks a committed offset per
// consumer group and partition, which gives the same observable guarantees as
// the production bus: at-least-once delivery, strict order within one
// partition, full independence between consumer groups, and offset resume
// after a consumer restart.
type Bus struct {
	mu     sync.Mutex
	closed bool
	logs   map[string][]domain.Envelope
	groups map[string]*group
	logger *slog.Logger
}

type group struct {
	name      string
	policy    retry.Policy
	handler   domain.EventHandler
	committed map[string]int
	wake      map[string]chan struct{}
	running   bool
	// discover nudges the running consumer to rescan wake for partitions
	// it has not started a worker for yet.
	discover chan struct{}
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logs:   make(map[string][]domain.Envelope),
		groups: make(map[string]*group),
		logger: logger,
	}
}

// Publish appends the envelope to its partition log and wakes every running
// consumer group.
func (b *Bus) Publish(_ context.Context, env domain.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.logs[env.PartitionKey] = append(b.logs[env.PartitionKey], env)
	for _, g := range b.groups {
		if g.running {
			b.wakeLocked(g, env.PartitionKey)
		}
	}
	return nil
}

// Close stops the bus from accepting new events.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// wakeLocked signals the partition worker, announcing the partition to the
// consumer first if it is new. The caller holds b.mu.
func (b *Bus) wakeLocked(g *group, partitionKey string) {
	ch, ok := g.wake[partitionKey]
	if !ok {
		ch = make(chan struct{}, 1)
		g.wake[partitionKey] = ch
		if g.discover != nil {
			select {
			case g.discover <- struct{}{}:
			default:
			}
		}
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Consumer returns the EventConsumer for a consumer group. Committed offsets
// outlive the consumer, so a restarted consumer resumes where it left off.
func (b *Bus) Consumer(groupName string, policy retry.Policy) *Consumer {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[groupName]
	if !ok {
		g = &group{
			name:      groupName,
			policy:    policy,
			committed: make(map[string]int),
			wake:      make(map[string]chan struct{}),
		}
		b.groups[groupName] = g
	}
	return &Consumer{bus: b, group: g}
}

// Consumer drives one consumer group over the bus. One logical worker per
// partition keeps same-key events strictly ordered while different partitions
// proceed concurrently.
type Consumer struct {
	bus   *Bus
	group *group
}

// Run delivers events to the handler until the context is cancelled. The
// offset is committed after each handled event; a handler failure is retried
// per the group's policy and then skipped with an alert, never blocking the
// partition.
func (c *Consumer) Run(ctx context.Context, handler domain.EventHandler) error {
	g := c.group

	c.bus.mu.Lock()
	g.handler = handler
	g.running = true
	g.discover = make(chan struct{}, 1)
	// Resume every partition that already has a backlog.
	for pk := range c.bus.logs {
		c.bus.wakeLocked(g, pk)
	}
	c.bus.mu.Unlock()

	var wg sync.WaitGroup
	started := make(map[string]bool)
	// startNew spawns a worker for every partition seen in wake but not yet
	// started. The discover channel only says "something changed", so a
	// publish that finds a signal already pending is still picked up by the
	// rescan that signal triggers.
	startNew := func() {
		c.bus.mu.Lock()
		pending := make(map[string]chan struct{})
		for pk, wake := range g.wake {
			if !started[pk] {
				pending[pk] = wake
			}
		}
		c.bus.mu.Unlock()
		for pk, wake := range pending {
			started[pk] = true
			wg.Add(1)
			go func(pk string, wake chan struct{}) {
				defer wg.Done()
				c.consumePartition(ctx, pk, wake)
			}(pk, wake)
		}
	}
	startNew()

	for {
		select {
		case <-ctx.Done():
			c.bus.mu.Lock()
			g.running = false
			c.bus.mu.Unlock()
			wg.Wait()
			return ctx.Err()
		case <-g.discover:
			startNew()
		}
	}
}

// Close marks the group stopped; committed offsets are retained.
func (c *Consumer) Close() error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	c.group.running = false
	return nil
}

func (c *Consumer) consumePartition(ctx context.Context, partitionKey string, wake chan struct{}) {
	// Drain once immediately so a backlog is processed without waiting for
	// the next publish.
	c.drain(ctx, partitionKey)
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}
		c.drain(ctx, partitionKey)
	}
}

// drain processes the partition backlog in order, committing after each
// event.
func (c *Consumer) drain(ctx context.Context, partitionKey string) {
	for {
		c.bus.mu.Lock()
		offset := c.group.committed[partitionKey]
		log := c.bus.logs[partitionKey]
		if offset >= len(log) {
			c.bus.mu.Unlock()
			return
		}
		env := log[offset]
		handler := c.group.handler
		policy := c.group.policy
		c.bus.mu.Unlock()

		err := policy.Do(ctx, func() error {
			return domain.Dispatch(ctx, env, handler)
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.bus.logger.Error("event handler failed after retries, skipping",
				slog.String("group", c.group.name),
				slog.String("topic", env.Topic.Channel()),
				slog.String("partition_key", partitionKey),
				slog.String("error", err.Error()))
		}

		c.bus.mu.Lock()
		c.group.committed[partitionKey] = offset + 1
		c.bus.mu.Unlock()
	}
}
