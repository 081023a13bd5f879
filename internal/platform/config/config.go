package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds configuration for both the ingestor and consuming services.
// Cadence, symbol set and cache policy are configurable per role.
type Config struct {
	DatabaseURL string
	Port        string

	// Event bus. With no brokers configured the process runs on the
	// in-memory bus (local development only).
	KafkaBrokers  []string
	ConsumerGroup string

	// Private cache. With no Redis URL the in-process cache is used.
	RedisURL       string
	CacheTTL       time.Duration
	StaleRetention time.Duration

	// Ingestor.
	BaseCurrency      string
	Symbols           []string
	ProviderEndpoints []string
	ProviderTimeout   time.Duration
	ScheduleInterval  time.Duration
	FetchWorkers      int

	// Backoff policy for upstream fetches and consumer handler retries.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Data-quality gate.
	QualityMinPoints       int
	QualityOutlierFraction float64
	QualitySanityCeiling   float64
}

// LoadConfig loads configuration from environment variables and a .env file
// if present.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	viper.SetDefault("PGSQL_URL", "")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("KAFKA_BROKERS", "")
	viper.SetDefault("CONSUMER_GROUP", "service-currency")
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("CACHE_TTL", "10m")
	viper.SetDefault("STALE_RETENTION", "24h")
	viper.SetDefault("BASE_CURRENCY", "KRW")
	viper.SetDefault("SYMBOLS", "USD,JPY,EUR,GBP,CNY,AUD,CAD,CHF,SGD,HKD")
	viper.SetDefault("PROVIDER_ENDPOINTS", "https://api.exchangerate-api.com/v4/latest")
	viper.SetDefault("PROVIDER_TIMEOUT", "10s")
	viper.SetDefault("SCHEDULE_INTERVAL", "5m")
	viper.SetDefault("FETCH_WORKERS", 8)
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	viper.SetDefault("RETRY_BASE_DELAY", "500ms")
	viper.SetDefault("RETRY_MAX_DELAY", "30s")
	viper.SetDefault("QUALITY_MIN_POINTS", 10)
	viper.SetDefault("QUALITY_OUTLIER_FRACTION", 0.30)
	viper.SetDefault("QUALITY_SANITY_CEILING", 10000.0)

	viper.AutomaticEnv()

	cfg := &Config{}

	cfg.DatabaseURL = viper.GetString("PGSQL_URL")
	if cfg.DatabaseURL == "" {
		log.Println("Warning: PGSQL_URL environment variable not set.")
	}

	cfg.Port = viper.GetString("PORT")
	cfg.KafkaBrokers = splitCSV(viper.GetString("KAFKA_BROKERS"))
	cfg.ConsumerGroup = viper.GetString("CONSUMER_GROUP")
	cfg.RedisURL = viper.GetString("REDIS_URL")

	cfg.CacheTTL = parseDurationOr("CACHE_TTL", 10*time.Minute)
	cfg.StaleRetention = parseDurationOr("STALE_RETENTION", 24*time.Hour)

	cfg.BaseCurrency = strings.ToUpper(viper.GetString("BASE_CURRENCY"))
	cfg.Symbols = splitCSV(strings.ToUpper(viper.GetString("SYMBOLS")))
	cfg.ProviderEndpoints = splitCSV(viper.GetString("PROVIDER_ENDPOINTS"))
	cfg.ProviderTimeout = parseDurationOr("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.ScheduleInterval = parseDurationOr("SCHEDULE_INTERVAL", 5*time.Minute)

	cfg.FetchWorkers = viper.GetInt("FETCH_WORKERS")
	if cfg.FetchWorkers < 1 {
		log.Printf("Warning: invalid FETCH_WORKERS (%d). Defaulting to 8.\n", cfg.FetchWorkers)
		cfg.FetchWorkers = 8
	}

	cfg.RetryMaxAttempts = viper.GetInt("RETRY_MAX_ATTEMPTS")
	cfg.RetryBaseDelay = parseDurationOr("RETRY_BASE_DELAY", 500*time.Millisecond)
	cfg.RetryMaxDelay = parseDurationOr("RETRY_MAX_DELAY", 30*time.Second)

	cfg.QualityMinPoints = viper.GetInt("QUALITY_MIN_POINTS")
	cfg.QualityOutlierFraction = viper.GetFloat64("QUALITY_OUTLIER_FRACTION")
	cfg.QualitySanityCeiling = viper.GetFloat64("QUALITY_SANITY_CEILING")

	return cfg, nil
}

func parseDurationOr(key string, fallback time.Duration) time.Duration {
	raw := viper.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		if raw != "" {
			log.Printf("Warning: invalid value for %s ('%s'). Defaulting to %s.\n", key, raw, fallback)
		}
		return fallback
	}
	return d
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
