package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Queue item lifecycle states
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

const maxErrorLength = 2000

// QueueConfig controls retry behaviour of the work queue
type QueueConfig struct {
	// MaxAttempts is the failure count at which an item becomes permanently failed
	MaxAttempts int
	// RetryDelay keeps a failed item out of claims for this long before it is retried
	RetryDelay time.Duration
}

// DefaultQueueConfig returns the default retry ceiling and retry delay
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxAttempts: 4,
		RetryDelay:  time.Minute,
	}
}

// DbQueue is a PostgreSQL implementation of the crawl work queue
type DbQueue struct {
	db     *sql.DB
	config QueueConfig
}

// NewDbQueue creates a PostgreSQL work queue
func NewDbQueue(db *sql.DB, config QueueConfig) *DbQueue {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultQueueConfig().MaxAttempts
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}
	return &DbQueue{
		db:     db,
		config: config,
	}
}

// Execute runs a database operation in a transaction
func (q *DbQueue) Execute(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// QueueItem is a unit of discoverable work
type QueueItem struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	Depth     int       `json:"depth"`
	Priority  int       `json:"priority"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewItem describes a URL to enqueue
type NewItem struct {
	URL      string
	Depth    int
	Priority int
}

// ClaimBatch atomically reserves up to limit queued items for the caller. Rows locked by a
// concurrent claimer are skipped rather than waited on, so claimers never block each other and
// never receive the same item. Either every selected row is marked processing or none is.
func (q *DbQueue) ClaimBatch(ctx context.Context, limit int) ([]*QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	var items []*QueueItem

	err := q.Execute(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, url, depth, priority, attempts, COALESCE(last_error, ''), created_at
			FROM crawl_queue
			WHERE status = 'queued'
			AND (available_at IS NULL OR available_at <= NOW())
			ORDER BY priority DESC, depth ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return fmt.Errorf("failed to query queued items: %w", err)
		}
		defer rows.Close()

		ids := make([]int64, 0, limit)
		for rows.Next() {
			item := &QueueItem{}
			if err := rows.Scan(&item.ID, &item.URL, &item.Depth, &item.Priority,
				&item.Attempts, &item.LastError, &item.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan queued item: %w", err)
			}
			items = append(items, item)
			ids = append(ids, item.ID)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate queued items: %w", err)
		}

		if len(ids) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE crawl_queue
			SET status = 'processing', claimed_at = NOW(), updated_at = NOW()
			WHERE id = ANY($1)
		`, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("failed to mark claimed items: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, item := range items {
		item.Status = StatusProcessing
		item.UpdatedAt = now
	}

	return items, nil
}

// Enqueue inserts url in the queued state. If the URL is already present in any state nothing
// changes and false is returned.
func (q *DbQueue) Enqueue(ctx context.Context, url string, depth, priority int) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		INSERT INTO crawl_queue (url, depth, priority)
		VALUES ($1, $2, $3)
		ON CONFLICT (url) DO NOTHING
	`, url, depth, priority)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue %s: %w", url, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read enqueue result: %w", err)
	}
	return n > 0, nil
}

// EnqueueMany idempotently inserts items in one transaction and returns how many were new
func (q *DbQueue) EnqueueMany(ctx context.Context, items []NewItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	inserted := 0
	err := q.Execute(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO crawl_queue (url, depth, priority)
			VALUES ($1, $2, $3)
			ON CONFLICT (url) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, item := range items {
			result, err := stmt.ExecContext(ctx, item.URL, item.Depth, item.Priority)
			if err != nil {
				return fmt.Errorf("failed to enqueue %s: %w", item.URL, err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// Reseed enqueues the seed URL at depth 0. A seed left done or failed by an earlier run is
// returned to queued so each run refetches it; a seed already queued or processing is untouched.
func (q *DbQueue) Reseed(ctx context.Context, url string, priority int) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		INSERT INTO crawl_queue (url, depth, priority)
		VALUES ($1, 0, $2)
		ON CONFLICT (url) DO UPDATE
		SET status = 'queued', depth = 0, attempts = 0, last_error = NULL,
			available_at = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE crawl_queue.status IN ('done', 'failed')
	`, url, priority)
	if err != nil {
		return false, fmt.Errorf("failed to reseed %s: %w", url, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read reseed result: %w", err)
	}
	return n > 0, nil
}

// MarkDone records successful processing
func (q *DbQueue) MarkDone(ctx context.Context, item *QueueItem) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE crawl_queue
		SET status = 'done', last_error = NULL, claimed_at = NULL,
			available_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, item.ID)
	if err != nil {
		return fmt.Errorf("failed to mark item %d done: %w", item.ID, err)
	}

	item.Status = StatusDone
	item.LastError = ""
	return nil
}

// MarkFailed increments the item's attempts and records cause. An item reaching the retry
// ceiling becomes failed and is never claimed again; below the ceiling it returns to queued and
// becomes claimable once the retry delay has passed. item is updated with the stored state.
func (q *DbQueue) MarkFailed(ctx context.Context, item *QueueItem, cause error) error {
	reason := errorText(cause)

	var status string
	var attempts int
	err := q.db.QueryRowContext(ctx, `
		UPDATE crawl_queue
		SET attempts = attempts + 1,
			last_error = $2,
			status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'queued' END,
			available_at = CASE WHEN attempts + 1 >= $3 THEN NULL
				ELSE NOW() + ($4 * INTERVAL '1 millisecond') END,
			claimed_at = NULL,
			updated_at = NOW()
		WHERE id = $1
		RETURNING status, attempts
	`, item.ID, reason, q.config.MaxAttempts, q.config.RetryDelay.Milliseconds()).Scan(&status, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("queue item %d not found", item.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to mark item %d failed: %w", item.ID, err)
	}

	item.Status = status
	item.Attempts = attempts
	item.LastError = reason

	if status == StatusFailed {
		log.Warn().
			Int64("item_id", item.ID).
			Str("url", item.URL).
			Int("attempts", attempts).
			Str("last_error", reason).
			Msg("Queue item permanently failed")
	}

	return nil
}

// MarkNormalizeFailed moves an item whose URL cannot be canonicalised straight to failed
func (q *DbQueue) MarkNormalizeFailed(ctx context.Context, item *QueueItem, cause error) error {
	reason := errorText(cause)

	_, err := q.db.ExecContext(ctx, `
		UPDATE crawl_queue
		SET status = 'failed', attempts = attempts + 1, last_error = $2,
			claimed_at = NULL, available_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, item.ID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark item %d normalise-failed: %w", item.ID, err)
	}

	item.Status = StatusFailed
	item.Attempts++
	item.LastError = reason
	return nil
}

// Release hands a claimed item back to the queue without counting a failed attempt
func (q *DbQueue) Release(ctx context.Context, item *QueueItem) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE crawl_queue
		SET status = 'queued', claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, item.ID)
	if err != nil {
		return fmt.Errorf("failed to release item %d: %w", item.ID, err)
	}

	item.Status = StatusQueued
	return nil
}

// RequeueStale returns processing items claimed longer than olderThan ago to queued. These
// are leftovers from a process that exited mid-item.
func (q *DbQueue) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	span := sentry.StartSpan(ctx, "db.requeue_stale")
	defer span.Finish()

	result, err := q.db.ExecContext(ctx, `
		UPDATE crawl_queue
		SET status = 'queued', claimed_at = NULL, updated_at = NOW()
		WHERE status = 'processing'
		AND (claimed_at IS NULL OR claimed_at < NOW() - ($1 * INTERVAL '1 millisecond'))
	`, olderThan.Milliseconds())
	if err != nil {
		span.SetTag("error", "true")
		span.SetData("error.message", err.Error())
		return 0, fmt.Errorf("failed to requeue stale items: %w", err)
	}

	n, _ := result.RowsAffected()
	if n > 0 {
		log.Info().
			Int64("items_requeued", n).
			Dur("lease", olderThan).
			Msg("Requeued stale processing items")
	}

	return n, nil
}

// AnyQueuedURL returns the URL of some queued item, or "" when none is queued
func (q *DbQueue) AnyQueuedURL(ctx context.Context) (string, error) {
	var url string
	err := q.db.QueryRowContext(ctx, `
		SELECT url FROM crawl_queue
		WHERE status = 'queued'
		ORDER BY depth ASC, id ASC
		LIMIT 1
	`).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find queued item: %w", err)
	}
	return url, nil
}

// QueueStats counts queue items by status
type QueueStats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Done       int64 `json:"done"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// Stats returns item counts per status
func (q *DbQueue) Stats(ctx context.Context) (*QueueStats, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM crawl_queue
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	stats := &QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}

		switch status {
		case StatusQueued:
			stats.Queued = count
		case StatusProcessing:
			stats.Processing = count
		case StatusDone:
			stats.Done = count
		case StatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue stats: %w", err)
	}

	return stats, nil
}

// ListFailed returns permanently failed items, most recently failed first
func (q *DbQueue) ListFailed(ctx context.Context, limit int) ([]*QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, url, depth, priority, attempts, COALESCE(last_error, ''), created_at, updated_at
		FROM crawl_queue
		WHERE status = 'failed'
		ORDER BY updated_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed items: %w", err)
	}
	defer rows.Close()

	items := make([]*QueueItem, 0)
	for rows.Next() {
		item := &QueueItem{Status: StatusFailed}
		if err := rows.Scan(&item.ID, &item.URL, &item.Depth, &item.Priority, &item.Attempts,
			&item.LastError, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failed item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate failed items: %w", err)
	}

	return items, nil
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	// Postgres text columns reject NUL bytes and invalid UTF-8
	msg := strings.ToValidUTF8(err.Error(), "\uFFFD")
	msg = strings.ReplaceAll(msg, "\x00", "")
	if len(msg) > maxErrorLength {
		n := maxErrorLength
		for n > 0 && !utf8.RuneStart(msg[n]) {
			n--
		}
		msg = msg[:n]
	}
	return msg
}
