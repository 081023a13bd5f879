package circuit

import (
	"log/slog"
	"sync"
	"time"
)

// State is the breaker state driving live/fallback source selection.
type State int

const (
	StateClosed   State = iota // primary source healthy
	StateOpen                  // primary failing, use fallback
	StateHalfOpen              // probing primary recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker gates access to an upstream source. Source selection happens on
// breaker state, never by matching error messages. Safe for concurrent use.
type Breaker struct {
	name string
	mu   sync.Mutex

	state        State
	failureCount int
	successCount int
	lastFailure  time.Time

	failureThreshold int
	successThreshold int
	cooldown         time.Duration
}

// Config holds breaker thresholds.
type Config struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// DefaultConfig returns the thresholds used for upstream providers.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         2 * time.Minute,
	}
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		name:             cfg.Name,
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		cooldown:         cfg.Cooldown,
	}
}

// Allow reports whether the guarded source may be used right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) > b.cooldown {
			b.state = StateHalfOpen
			b.successCount = 0
			slog.Info("circuit breaker half-open", slog.String("name", b.name))
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess notes a successful call against the guarded source.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			slog.Info("circuit breaker closed", slog.String("name", b.name))
		}
	}
}

// RecordFailure notes a failed call against the guarded source.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = StateOpen
			slog.Warn("circuit breaker open",
				slog.String("name", b.name),
				slog.Int("failures", b.failureCount))
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.successCount = 0
		slog.Warn("circuit breaker reopened", slog.String("name", b.name))
	}
}

// CurrentState returns the state for monitoring.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
