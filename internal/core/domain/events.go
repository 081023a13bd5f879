package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is the current event payload contract version. Payload
// changes must be additive-only; a breaking change bumps this and consumers
// reject versions they do not know.
const SchemaVersion = 1

// Topic identifies one of the four logical bus channels.
type Topic int

const (
	TopicDataBatchReceived Topic = iota
	TopicRateUpdated
	TopicBatchProcessed
	TopicCacheInvalidate
)

// Channel returns the wire name of the topic.
func (t Topic) Channel() string {
	switch t {
	case TopicDataBatchReceived:
		return "rates.batch.received"
	case TopicRateUpdated:
		return "rates.updated"
	case TopicBatchProcessed:
		return "rates.batch.processed"
	case TopicCacheInvalidate:
		return "rates.cache.invalidate"
	default:
		return fmt.Sprintf("rates.unknown.%d", int(t))
	}
}

// TopicFromChannel maps a wire name back to a Topic.
func TopicFromChannel(channel string) (Topic, error) {
	switch channel {
	case "rates.batch.received":
		return TopicDataBatchReceived, nil
	case "rates.updated":
		return TopicRateUpdated, nil
	case "rates.batch.processed":
		return TopicBatchProcessed, nil
	case "rates.cache.invalidate":
		return TopicCacheInvalidate, nil
	default:
		return 0, fmt.Errorf("unknown channel %q", channel)
	}
}

// Channels lists every wire name a consumer group subscribes to.
func Channels() []string {
	return []string{
		TopicDataBatchReceived.Channel(),
		TopicRateUpdated.Channel(),
		TopicBatchProcessed.Channel(),
		TopicCacheInvalidate.Channel(),
	}
}

// Envelope is the unit carried by the event bus. Events sharing a
// PartitionKey are delivered to any one consumer group in publish order.
type Envelope struct {
	Topic         Topic           `json:"-"`
	PartitionKey  string          `json:"partitionKey"`
	SchemaVersion int             `json:"schemaVersion"`
	CorrelationID string          `json:"correlationId"`
	PublishedAt   time.Time       `json:"publishedAt"`
	Payload       json.RawMessage `json:"payload"`
}

// DataBatchReceived marks a completed fetch cycle; per-symbol updates are not
// yet guaranteed visible.
type DataBatchReceived struct {
	Source         string    `json:"source"`
	SymbolCount    int       `json:"symbolCount"`
	CollectionTime time.Time `json:"collectionTime"`
	CorrelationID  string    `json:"correlationId"`
}

// RateUpdated is published once per changed symbol, partitioned by currency
// code.
type RateUpdated struct {
	CurrencyCode string          `json:"currencyCode"`
	BaseCurrency string          `json:"baseCurrency"`
	MidRate      decimal.Decimal `json:"midRate"`
	BuyRate      decimal.Decimal `json:"buyRate"`
	SellRate     decimal.Decimal `json:"sellRate"`
	Source       string          `json:"source"`
	ObservedAt   time.Time       `json:"observedAt"`
}

// BatchProcessed marks cycle completion. CycleStart bounds the reconciliation
// sweep consumers may run in response.
type BatchProcessed struct {
	Source         string    `json:"source"`
	TotalProcessed int       `json:"totalProcessed"`
	DurationMS     int64     `json:"durationMs"`
	CycleStart     time.Time `json:"cycleStart"`
	CorrelationID  string    `json:"correlationId"`
}

// CacheInvalidate orders consumers to drop the listed keys unconditionally,
// used for out-of-band corrections with no corresponding RateUpdated.
type CacheInvalidate struct {
	Keys   []string `json:"keys"`
	Reason string   `json:"reason"`
}

// NewEnvelope marshals a payload into an Envelope for the given topic.
func NewEnvelope(topic Topic, partitionKey, correlationID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", topic.Channel(), err)
	}
	return Envelope{
		Topic:         topic,
		PartitionKey:  partitionKey,
		SchemaVersion: SchemaVersion,
		CorrelationID: correlationID,
		PublishedAt:   time.Now().UTC(),
		Payload:       raw,
	}, nil
}

// EventHandler receives decoded events, one method per topic. Adding a topic
// extends this interface, which makes every handling site a compile error
// until it is covered.
type EventHandler interface {
	HandleDataBatchReceived(ctx context.Context, ev DataBatchReceived) error
	HandleRateUpdated(ctx context.Context, ev RateUpdated) error
	HandleBatchProcessed(ctx context.Context, ev BatchProcessed) error
	HandleCacheInvalidate(ctx context.Context, ev CacheInvalidate) error
}

// Dispatch decodes the envelope payload and routes it to the matching
// handler method. Unknown schema versions are rejected.
func Dispatch(ctx context.Context, env Envelope, h EventHandler) error {
	if env.SchemaVersion > SchemaVersion {
		return fmt.Errorf("unsupported schema version %d on %s", env.SchemaVersion, env.Topic.Channel())
	}
	switch env.Topic {
	case TopicDataBatchReceived:
		var ev DataBatchReceived
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Topic.Channel(), err)
		}
		return h.HandleDataBatchReceived(ctx, ev)
	case TopicRateUpdated:
		var ev RateUpdated
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Topic.Channel(), err)
		}
		return h.HandleRateUpdated(ctx, ev)
	case TopicBatchProcessed:
		var ev BatchProcessed
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Topic.Channel(), err)
		}
		return h.HandleBatchProcessed(ctx, ev)
	case TopicCacheInvalidate:
		var ev CacheInvalidate
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", env.Topic.Channel(), err)
		}
		return h.HandleCacheInvalidate(ctx, ev)
	default:
		return fmt.Errorf("unhandled topic %d", int(env.Topic))
	}
}
