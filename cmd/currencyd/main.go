package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fxsync/ratesync/internal/adapters/bus/kafka"
	busmemory "github.com/fxsync/ratesync/internal/adapters/bus/memory"
	cachememory "github.com/fxsync/ratesync/internal/adapters/cache/memory"
	cacheredis "github.com/fxsync/ratesync/internal/adapters/cache/redis"
	"github.com/fxsync/ratesync/internal/core/domain"
	"github.com/fxsync/ratesync/internal/core/ports"
	"github.com/fxsync/ratesync/internal/core/services"
	"github.com/fxsync/ratesync/internal/handlers"
	"github.com/fxsync/ratesync/internal/middleware"
	"github.com/fxsync/ratesync/internal/platform/config"
	"github.com/fxsync/ratesync/internal/platform/retry"
	"github.com/fxsync/ratesync/internal/repositories/database/pgsql"
	"github.com/fxsync/ratesync/pkg/database"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
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

	policy := retry.Policy{
		MaxAttempts:    cfg.RetryMaxAttempts,
		BaseDelay:      cfg.RetryBaseDelay,
		MaxDelay:       cfg.RetryMaxDelay,
		JitterFraction: 0.2,
	}

	repo := pgsql.NewPgxRateRepository(dbPool, cfg.BaseCurrency)
	agent := services.NewCacheAgent(cache, repo, logger)

	var consumer ports.EventConsumer
	if len(cfg.KafkaBrokers) > 0 {
		consumer = kafka.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, policy, logger)
	} else {
		logger.Warn("No kafka brokers configured, consuming from in-process bus")
		consumer = busmemory.NewBus(logger).Consumer(cfg.ConsumerGroup, policy)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Error("Error closing consumer", slog.String("error", err.Error()))
		}
	}()

	go func() {
		if err := consumer.Run(ctx, agent); err != nil && ctx.Err() == nil {
			logger.Error("Consumer stopped unexpectedly", slog.String("error", err.Error()))
			stop()
		}
	}()

	readService := services.NewRateReadService(cache, repo, cfg.CacheTTL, domain.QualityConfig{
		MinValidPoints:     cfg.QualityMinPoints,
		MaxOutlierFraction: cfg.QualityOutlierFraction,
		SanityCeiling:      cfg.QualitySanityCeiling,
	}, logger)

	r := gin.New()
	r.Use(middleware.StructuredLoggingMiddleware(logger), gin.Recovery(), cors.Default())
	if err := r.SetTrustedProxies(nil); err != nil {
		logger.Error("Failed to set trusted proxies", slog.String("error", err.Error()))
		os.Exit(1)
	}
	handlers.RegisterRoutes(r, readService)

	server := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed to run", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("Shut down cleanly")
}
