package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/fxsync/ratesync/internal/adapters/bus/kafka"
	busmemory "github.com/fxsync/ratesync/internal/adapters/bus/memory"
	cachememory "github.com/fxsync/ratesync/internal/adapters/cache/memory"
	cacheredis "github.com/fxsync/ratesync/internal/adapters/cache/redis"
	"github.com/fxsync/ratesync/internal/adapters/provider/exchangerateapi"
	"github.com/fxsync/ratesync/internal/core/ports"
	"github.com/fxsync/ratesync/internal/core/services"
	"github.com/fxsync/ratesync/internal/platform/config"
	"github.com/fxsync/ratesync/internal/platform/retry"
	"github.com/fxsync/ratesync/internal/repositories/database/pgsql"
	"github.com/fxsync/ratesync/pkg/database"
	"github.com/shopspring/decimal"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPgxPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := runMigrations(logger, cfg.DatabaseURL); err != nil {
		logger.Error("Failed to apply migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	policy := retry.Policy{
		MaxAttempts:    cfg.RetryMaxAttempts,
		BaseDelay:      cfg.RetryBaseDelay,
		MaxDelay:       cfg.RetryMaxDelay,
		JitterFraction: 0.2,
	}

	providers := make([]ports.RateProvider, 0, len(cfg.ProviderEndpoints))
	for _, endpoint := range cfg.ProviderEndpoints {
		providers = append(providers, exchangerateapi.NewClient(providerName(endpoint), endpoint, cfg.ProviderTimeout, policy))
	}
	if len(providers) == 0 {
		logger.Error("No provider endpoints configured")
		os.Exit(1)
	}

	var cache ports.RateCache
	if cfg.RedisURL != "" {
		redisCache, err := cacheredis.NewCache(ctx, cfg.RedisURL, cfg.StaleRetention)
		if err != nil {
			logger.Error("Failed to connect to redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer redisCache.Close()
		cache = redisCache
	} else {
		logger.Warn("No redis URL configured, using in-process cache")
		cache = cachememory.NewCache(cfg.StaleRetention)
	}

	var publisher ports.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = kafka.NewPublisher(cfg.KafkaBrokers)
	} else {
		logger.Warn("No kafka brokers configured, using in-process bus")
		publisher = busmemory.NewBus(logger)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("Error closing publisher", slog.String("error", err.Error()))
		}
	}()

	repo := pgsql.NewPgxRateRepository(dbPool, cfg.BaseCurrency)

	ingestor := services.NewIngestorService(providers, repo, cache, publisher, services.IngestorConfig{
		BaseCurrency:     cfg.BaseCurrency,
		Symbols:          cfg.Symbols,
		FetchWorkers:     cfg.FetchWorkers,
		CacheTTL:         cfg.CacheTTL,
		ScheduleInterval: cfg.ScheduleInterval,
		SanityCeiling:    decimal.NewFromFloat(cfg.QualitySanityCeiling),
	}, logger)

	logger.Info("Ingestor starting",
		slog.String("base_currency", cfg.BaseCurrency),
		slog.Int("symbols", len(cfg.Symbols)),
		slog.Duration("interval", cfg.ScheduleInterval),
	)
	if err := ingestor.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Ingestor stopped unexpectedly", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Ingestor shut down")
}

// providerName derives a stable provider name from its endpoint host.
func providerName(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "exchangerate-api"
	}
	return u.Host
}

// runMigrations applies all pending "up" migrations using a temporary
// database/sql connection over the pgx stdlib driver.
func runMigrations(logger *slog.Logger, databaseURL string) error {
	logger.Info("Running database migrations...")

	migrationDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := migrationDB.Close(); cerr != nil {
			logger.Error("Error closing migration DB connection", slog.String("error", cerr.Error()))
		}
	}()
	if err := migrationDB.Ping(); err != nil {
		return err
	}

	driver, err := postgres.WithInstance(migrationDB, &postgres.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return err
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return err
	}
	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		return sourceErr
	}
	if dbErr != nil {
		return dbErr
	}

	if err == migrate.ErrNoChange {
		logger.Info("No new migrations to apply.")
	} else {
		logger.Info("Database migrations applied successfully.")
	}
	return nil
}
