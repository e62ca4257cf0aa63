package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Harvey-AU/archive-crawler/internal/crawler"
	"github.com/Harvey-AU/archive-crawler/internal/db"
	"github.com/Harvey-AU/archive-crawler/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the application configuration loaded from environment variables and flags
type Config struct {
	Env                  string // Environment (development/production)
	SentryDSN            string // Sentry DSN for error tracking
	LogLevel             string // Log level (debug, info, warn, error)
	ObservabilityEnabled bool   // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr          string // Address for Prometheus metrics endpoint (":9464" style)
	OTLPEndpoint         string // OTLP HTTP endpoint for trace export
	OTLPHeaders          string // Comma separated headers for OTLP exporter
	OTLPInsecure         bool   // Disable TLS verification for OTLP exporter
	AdminAddr            string // Address for the admin API, empty disables it
	SlackWebhookURL      string // Incoming webhook for run summaries, empty disables it

	Seed            string        // Start URL, empty resumes from the queue
	MaxDepth        int           // Link depth limit from the seed
	Workers         int           // Concurrent crawl workers
	Interval        time.Duration // Re-run period, 0 runs once
	PolicyPath      string        // YAML extraction policy, empty uses the built-in one
	PolitenessDelay time.Duration // Pause before each fetch
	MaxRPS          float64       // Process-wide request cap, 0 disables it
	StaleLease      time.Duration // Age after which processing items are reclaimed at run start
	MaxAttempts     int           // Failures before an item is permanently failed
	RetryDelay      time.Duration // Wait before a failed item may be claimed again
}

func loadConfig() *Config {
	crawlerDefaults := crawler.DefaultConfig()
	poolDefaults := jobs.DefaultConfig()
	queueDefaults := db.DefaultQueueConfig()

	return &Config{
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:          getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		AdminAddr:            getEnvWithDefault("ADMIN_ADDR", ":8080"),
		SlackWebhookURL:      os.Getenv("SLACK_WEBHOOK_URL"),

		Seed:            os.Getenv("CRAWL_SEED_URL"),
		MaxDepth:        getEnvInt("CRAWL_MAX_DEPTH", 6),
		Workers:         getEnvInt("CRAWL_WORKERS", poolDefaults.Workers),
		Interval:        getEnvDuration("CRAWL_INTERVAL", 0),
		PolicyPath:      os.Getenv("CRAWL_EXTRACT_POLICY"),
		PolitenessDelay: time.Duration(getEnvInt("CRAWL_POLITENESS_DELAY_MS", int(crawlerDefaults.PolitenessDelay.Milliseconds()))) * time.Millisecond,
		MaxRPS:          getEnvFloat("CRAWL_MAX_RPS", 0),
		StaleLease:      getEnvDuration("CRAWL_STALE_LEASE", poolDefaults.StaleLease),
		MaxAttempts:     getEnvInt("CRAWL_MAX_ATTEMPTS", queueDefaults.MaxAttempts),
		RetryDelay:      getEnvDuration("CRAWL_RETRY_DELAY", queueDefaults.RetryDelay),
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("max depth must not be negative, got %d", c.MaxDepth))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Interval < 0 {
		errs = append(errs, fmt.Errorf("interval must not be negative, got %s", c.Interval))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.MaxRPS < 0 {
		errs = append(errs, fmt.Errorf("max rps must not be negative, got %g", c.MaxRPS))
	}
	if c.PolitenessDelay < 0 {
		errs = append(errs, fmt.Errorf("politeness delay must not be negative, got %s", c.PolitenessDelay))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retry delay must not be negative, got %s", c.RetryDelay))
	}
	if c.StaleLease < 0 {
		errs = append(errs, fmt.Errorf("stale lease must not be negative, got %s", c.StaleLease))
	}
	return errors.Join(errs...)
}

func (c *Config) fetcherConfig() *crawler.Config {
	fc := crawler.DefaultConfig()
	fc.PolitenessDelay = c.PolitenessDelay
	fc.RequestsPerSecond = c.MaxRPS
	return fc
}

func (c *Config) poolConfig() jobs.Config {
	pc := jobs.DefaultConfig()
	pc.Workers = c.Workers
	pc.StaleLease = c.StaleLease
	return pc
}

func (c *Config) queueConfig() db.QueueConfig {
	return db.QueueConfig{
		MaxAttempts: c.MaxAttempts,
		RetryDelay:  c.RetryDelay,
	}
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt retrieves an environment variable as an integer or returns a default value if not set or invalid
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	result, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
		return defaultValue
	}

	return result
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Float64("default", defaultValue).
			Msg("Invalid number in environment variable, using default")
		return defaultValue
	}

	return result
}

// getEnvDuration accepts Go duration strings such as "90s" or "10m"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	result, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
		return defaultValue
	}

	return result
}

// setupLogging configures the global logger
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		return
	}

	log.Logger = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "archive-crawler").
		Logger()
}
