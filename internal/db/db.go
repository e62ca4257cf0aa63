package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// ErrInvalidConfig marks connection settings that no amount of retrying will fix
var ErrInvalidConfig = errors.New("invalid database configuration")

// DB represents a PostgreSQL database connection
type DB struct {
	client *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host             string        // Database host
	Port             string        // Database port
	User             string        // Database user
	Password         string        // Database password
	Database         string        // Database name
	SSLMode          string        // SSL mode (disable, require, verify-ca, verify-full)
	MaxIdleConns     int           // Maximum number of idle connections
	MaxOpenConns     int           // Maximum number of open connections
	MaxLifetime      time.Duration // Maximum lifetime of a connection
	StatementTimeout time.Duration // Server-side statement_timeout, 0 leaves the server default
	DatabaseURL      string        // Original DATABASE_URL if used
}

// ConnectionString returns the PostgreSQL connection string
func (c *Config) ConnectionString() string {
	dsn := c.DatabaseURL
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
	}
	return withStatementTimeout(dsn, c.StatementTimeout)
}

// withStatementTimeout appends statement_timeout to a URL or key=value DSN unless it is already set
func withStatementTimeout(dsn string, timeout time.Duration) string {
	if dsn == "" || timeout <= 0 || strings.Contains(dsn, "statement_timeout") {
		return dsn
	}

	ms := strconv.FormatInt(timeout.Milliseconds(), 10)

	if strings.HasPrefix(dsn, "postgresql://") || strings.HasPrefix(dsn, "postgres://") {
		separator := "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
		return dsn + separator + "statement_timeout=" + ms
	}

	return dsn + " statement_timeout=" + ms
}

func (c *Config) applyDefaults() {
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 10
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 20 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.DatabaseURL != "" {
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("%w: database host is required", ErrInvalidConfig)
	}
	if c.Port == "" {
		return fmt.Errorf("%w: database port is required", ErrInvalidConfig)
	}
	if c.User == "" {
		return fmt.Errorf("%w: database user is required", ErrInvalidConfig)
	}
	if c.Database == "" {
		return fmt.Errorf("%w: database name is required", ErrInvalidConfig)
	}
	return nil
}

// New creates a new PostgreSQL database connection and syncs the schema
func New(config *Config) (*DB, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	client, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.PingContext(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := setupSchema(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	log.Info().
		Int("max_open_conns", config.MaxOpenConns).
		Msg("Connected to PostgreSQL")

	return &DB{client: client}, nil
}

// ConfigFromEnv builds connection settings from DATABASE_URL or the POSTGRES_* variables
func ConfigFromEnv() *Config {
	config := &Config{
		MaxIdleConns: 10,
		MaxOpenConns: 25,
		MaxLifetime:  20 * time.Minute,
	}

	if ms, err := strconv.Atoi(os.Getenv("DB_STATEMENT_TIMEOUT_MS")); err == nil && ms > 0 {
		config.StatementTimeout = time.Duration(ms) * time.Millisecond
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.DatabaseURL = url
		return config
	}

	config.Host = os.Getenv("POSTGRES_HOST")
	config.Port = os.Getenv("POSTGRES_PORT")
	config.User = os.Getenv("POSTGRES_USER")
	config.Password = os.Getenv("POSTGRES_PASSWORD")
	config.Database = os.Getenv("POSTGRES_DB")
	config.SSLMode = os.Getenv("POSTGRES_SSL_MODE")

	// Use defaults if not set
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == "" {
		config.Port = "5432"
	}
	if config.User == "" {
		config.User = "postgres"
	}
	if config.Database == "" {
		config.Database = "archive_crawler"
	}

	return config
}

// InitFromEnv creates a PostgreSQL connection using environment variables
func InitFromEnv() (*DB, error) {
	return New(ConfigFromEnv())
}

// setupSchema creates the queue and page tables in PostgreSQL
func setupSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS crawl_queue (
			id BIGSERIAL PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'queued'
				CHECK (status IN ('queued', 'processing', 'done', 'failed')),
			depth INTEGER NOT NULL DEFAULT 0 CHECK (depth >= 0),
			priority INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
			last_error TEXT,
			claimed_at TIMESTAMPTZ,
			available_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create crawl_queue table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS pages (
			id BIGSERIAL PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			title TEXT,
			description TEXT,
			content TEXT,
			technologies JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create pages table: %w", err)
	}

	// Claim ordering: queued rows by priority desc, depth asc
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_crawl_queue_claim
		ON crawl_queue (status, priority DESC, depth ASC, id ASC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create claim index: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_crawl_queue_processing_claimed
		ON crawl_queue (claimed_at)
		WHERE status = 'processing'
	`)
	if err != nil {
		return fmt.Errorf("failed to create lease index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.client.Close()
}

// GetDB returns the underlying database connection
func (d *DB) GetDB() *sql.DB {
	return d.client
}

// Ping verifies the database is reachable
func (d *DB) Ping(ctx context.Context) error {
	if err := d.client.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
