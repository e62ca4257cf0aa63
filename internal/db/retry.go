package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// RetryConfig holds configuration for connection retry behaviour
type RetryConfig struct {
	MaxAttempts     int           // Maximum number of connection attempts
	InitialInterval time.Duration // Initial retry interval
	MaxInterval     time.Duration // Maximum retry interval (cap for exponential backoff)
	Multiplier      float64       // Backoff multiplier (typically 2.0)
	Jitter          bool          // Spread retries of several processes apart
}

// DefaultRetryConfig returns the startup connection retry settings
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     10,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
	}
}

// InitFromEnvWithRetry creates a PostgreSQL connection using environment variables
// with automatic retry on connection failures
func InitFromEnvWithRetry(ctx context.Context) (*DB, error) {
	return connectWithRetry(ctx, DefaultRetryConfig(), InitFromEnv)
}

// connectWithRetry calls connect until it succeeds, fails with a non-retryable error,
// runs out of attempts or ctx is done
func connectWithRetry(ctx context.Context, retryConfig RetryConfig, connect func() (*DB, error)) (*DB, error) {
	var lastErr error
	backoff := retryConfig.InitialInterval
	startTime := time.Now()

	for attempt := 1; attempt <= retryConfig.MaxAttempts; attempt++ {
		db, err := connect()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempts", attempt).
					Dur("elapsed", time.Since(startTime)).
					Msg("Database connection established after retries")
			}
			return db, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			log.Error().
				Err(err).
				Int("attempt", attempt).
				Msg("Database connection failed with non-retryable error")
			return nil, fmt.Errorf("database connection failed: %w", err)
		}

		if attempt >= retryConfig.MaxAttempts {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", retryConfig.MaxAttempts).
			Dur("retry_in", backoff).
			Msg("Database connection failed, retrying...")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("connection retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * retryConfig.Multiplier)
		if backoff > retryConfig.MaxInterval {
			backoff = retryConfig.MaxInterval
		}
		if retryConfig.Jitter {
			// +/-10%
			backoff += time.Duration(float64(backoff) * 0.1 * (2*rand.Float64() - 1))
		}
	}

	log.Error().
		Err(lastErr).
		Int("max_attempts", retryConfig.MaxAttempts).
		Msg("Database connection failed after all retry attempts")

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", retryConfig.MaxAttempts, lastErr)
}

// isRetryableError reports whether a connection or query failure is likely transient
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidConfig) || errors.Is(err, context.Canceled) {
		return false
	}

	if class, ok := sqlStateClass(err); ok {
		switch class {
		case "08", // Connection exceptions
			"53", // Insufficient resources
			"57", // Operator intervention
			"58": // System errors
			return true
		case "22", // Data exceptions
			"23", // Integrity constraint violations
			"28", // Invalid authorisation
			"3D", // Invalid catalog name
			"42": // Syntax error or access rule violation
			return false
		default:
			return true
		}
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	for _, connErr := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"too many clients",
		"the database system is starting up",
		"i/o timeout",
		"eof",
	} {
		if strings.Contains(errMsg, connErr) {
			return true
		}
	}

	return false
}

// sqlStateClass extracts the two-character SQLSTATE class from a pgx or lib/pq error
func sqlStateClass(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		return pgErr.Code[:2], true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code.Class()), true
	}

	return "", false
}
