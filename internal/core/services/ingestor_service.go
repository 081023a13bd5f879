package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxsync/ratesync/internal/apperrors"
	"github.com/fxsync/ratesync/internal/core/domain"
	"github.com/fxsync/ratesync/internal/core/ports"
	"github.com/fxsync/ratesync/internal/platform/circuit"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IngestorConfig tunes a single ingestion cycle.
type IngestorConfig struct {
	BaseCurrency     string
	Symbols          []string
	FetchWorkers     int
	CacheTTL         time.Duration
	ScheduleInterval time.Duration
	SanityCeiling    decimal.Decimal
}

// CycleResult summarizes one fetch-normalize-persist-publish cycle.
type CycleResult struct {
	Source    string
	Processed int
	Skipped   int
	Published int
	BusErrors int
	Duration  time.Duration
}

// IngestorService drives the scheduled pipeline: fetch quotes from a
// provider, normalize them, upsert the canonical store, write through the
// ingestor's own cache, and announce each step on the event bus.
type IngestorService struct {
	providers []ports.RateProvider
	breakers  map[string]*circuit.Breaker
	repo      ports.RateWriter
	cache     ports.RateCache
	publisher ports.EventPublisher
	cfg       IngestorConfig
	logger    *slog.Logger

	inFlight atomic.Bool
	now      func() time.Time
}

// NewIngestorService creates an IngestorService. Providers are tried in
// order; each gets its own circuit breaker keyed by provider name.
func NewIngestorService(providers []ports.RateProvider, repo ports.RateWriter, cache ports.RateCache, publisher ports.EventPublisher, cfg IngestorConfig, logger *slog.Logger) *IngestorService {
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 8
	}
	breakers := make(map[string]*circuit.Breaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = circuit.NewBreaker(circuit.DefaultConfig(p.Name()))
	}
	return &IngestorService{
		providers: providers,
		breakers:  breakers,
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes cycles on the configured interval until ctx is cancelled.
// A tick that arrives while the previous cycle is still running is skipped
// rather than queued.
func (s *IngestorService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ScheduleInterval)
	defer ticker.Stop()

	s.runGuarded(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runGuarded(ctx)
		}
	}
}

func (s *IngestorService) runGuarded(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("previous ingestion cycle still running, skipping tick")
		return
	}
	defer s.inFlight.Store(false)

	result, err := s.RunCycle(ctx)
	if err != nil {
		s.logger.Error("ingestion cycle failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("ingestion cycle complete",
		slog.String("source", result.Source),
		slog.Int("processed", result.Processed),
		slog.Int("skipped", result.Skipped),
		slog.Int("published", result.Published),
		slog.Duration("duration", result.Duration),
	)
}

// RunCycle performs one full ingestion cycle and reports per-cycle counters.
// Upstream failure across all providers returns ErrUpstreamUnavailable and
// publishes nothing.
func (s *IngestorService) RunCycle(ctx context.Context) (CycleResult, error) {
	cycleStart := s.now().UTC()
	correlationID := uuid.NewString()

	source, quotes, err := s.fetchFromAnyProvider(ctx)
	if err != nil {
		return CycleResult{}, err
	}
	result := CycleResult{Source: source}

	batchEv := domain.DataBatchReceived{
		Source:         source,
		SymbolCount:    len(quotes),
		CollectionTime: cycleStart,
		CorrelationID:  correlationID,
	}
	if env, err := domain.NewEnvelope(domain.TopicDataBatchReceived, source, correlationID, batchEv); err != nil {
		s.logger.Error("failed to encode batch event", slog.String("error", err.Error()))
	} else if err := s.publisher.Publish(ctx, env); err != nil {
		result.BusErrors++
		s.logger.Error("bus unavailable, continuing in persistence-only mode", slog.String("error", err.Error()))
	}

	s.processQuotes(ctx, source, correlationID, quotes, &result)

	doneEv := domain.BatchProcessed{
		Source:         source,
		TotalProcessed: result.Processed,
		DurationMS:     s.now().UTC().Sub(cycleStart).Milliseconds(),
		CycleStart:     cycleStart,
		CorrelationID:  correlationID,
	}
	if env, err := domain.NewEnvelope(domain.TopicBatchProcessed, source, correlationID, doneEv); err != nil {
		s.logger.Error("failed to encode completion event", slog.String("error", err.Error()))
	} else if err := s.publisher.Publish(ctx, env); err != nil {
		result.BusErrors++
		s.logger.Error("failed to publish completion event", slog.String("error", err.Error()))
	}

	result.Duration = s.now().UTC().Sub(cycleStart)
	return result, nil
}

// fetchFromAnyProvider walks the provider list in priority order, honoring
// each provider's circuit breaker.
func (s *IngestorService) fetchFromAnyProvider(ctx context.Context) (string, map[string]domain.ProviderQuote, error) {
	var lastErr error
	for _, p := range s.providers {
		breaker := s.breakers[p.Name()]
		if !breaker.Allow() {
			s.logger.Warn("provider circuit open, trying next", slog.String("provider", p.Name()))
			continue
		}
		quotes, err := p.FetchRates(ctx, s.cfg.BaseCurrency, s.cfg.Symbols)
		if err != nil {
			breaker.RecordFailure()
			lastErr = err
			s.logger.Warn("provider fetch failed",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		breaker.RecordSuccess()
		return p.Name(), quotes, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: all provider circuits open", apperrors.ErrUpstreamUnavailable)
	}
	return "", nil, fmt.Errorf("no provider available: %w", lastErr)
}

// processQuotes normalizes and persists each quote on a bounded worker pool.
// A symbol that fails validation or persistence is skipped without emitting
// an update event; bus failures are logged and do not block persistence.
func (s *IngestorService) processQuotes(ctx context.Context, source, correlationID string, quotes map[string]domain.ProviderQuote, result *CycleResult) {
	type counters struct {
		processed int
		skipped   int
		published int
		busErrors int
	}

	symbols := make(chan string, len(quotes))
	for code := range quotes {
		symbols <- code
	}
	close(symbols)

	var mu sync.Mutex
	var total counters
	var wg sync.WaitGroup

	workers := s.cfg.FetchWorkers
	if workers > len(quotes) {
		workers = len(quotes)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var local counters
			for code := range symbols {
				s.processOne(ctx, source, correlationID, code, quotes[code], &local.processed, &local.skipped, &local.published, &local.busErrors)
			}
			mu.Lock()
			total.processed += local.processed
			total.skipped += local.skipped
			total.published += local.published
			total.busErrors += local.busErrors
			mu.Unlock()
		}()
	}
	wg.Wait()

	result.Processed += total.processed
	result.Skipped += total.skipped
	result.Published += total.published
	result.BusErrors += total.busErrors
}

func (s *IngestorService) processOne(ctx context.Context, source, correlationID, code string, quote domain.ProviderQuote, processed, skipped, published, busErrors *int) {
	if err := s.validateQuote(code, quote); err != nil {
		*skipped++
		s.logger.Warn("quote rejected",
			slog.String("currency", code),
			slog.String("error", err.Error()),
		)
		return
	}

	record := domain.NewRateRecord(quote, s.cfg.BaseCurrency, source)
	if err := s.repo.Save(ctx, record); err != nil {
		*skipped++
		s.logger.Error("failed to persist rate",
			slog.String("currency", code),
			slog.String("error", err.Error()),
		)
		return
	}
	*processed++

	if err := s.cache.Set(ctx, domain.CacheKey(code), record, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("write-through cache update failed",
			slog.String("currency", code),
			slog.String("error", err.Error()),
		)
	}

	ev := domain.RateUpdated{
		CurrencyCode: record.CurrencyCode,
		BaseCurrency: record.BaseCurrency,
		MidRate:      record.MidRate,
		BuyRate:      record.BuyRate,
		SellRate:     record.SellRate,
		Source:       record.Source,
		ObservedAt:   record.ObservedAt,
	}
	env, err := domain.NewEnvelope(domain.TopicRateUpdated, code, correlationID, ev)
	if err != nil {
		s.logger.Error("failed to encode rate event", slog.String("currency", code), slog.String("error", err.Error()))
		return
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		*busErrors++
		s.logger.Error("failed to publish rate event, record persisted without notification",
			slog.String("currency", code),
			slog.String("error", err.Error()),
		)
		return
	}
	*published++
}

func (s *IngestorService) validateQuote(code string, quote domain.ProviderQuote) error {
	if len(code) != 3 {
		return fmt.Errorf("%w: currency codes must be 3 letters", apperrors.ErrValidation)
	}
	if quote.MidRate.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: rate must be positive", apperrors.ErrValidation)
	}
	if !s.cfg.SanityCeiling.IsZero() && quote.MidRate.GreaterThanOrEqual(s.cfg.SanityCeiling) {
		return fmt.Errorf("%w: rate %s exceeds sanity ceiling", apperrors.ErrValidation, quote.MidRate)
	}
	if quote.ObservedAt.IsZero() {
		return fmt.Errorf("%w: missing observation time", apperrors.ErrValidation)
	}
	return nil
}
