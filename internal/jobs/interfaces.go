package jobs

import (
	"context"
	"net/http"
	"time"

	"github.com/Harvey-AU/archive-crawler/internal/crawler"
	"github.com/Harvey-AU/archive-crawler/internal/db"
)

// Queue is the persistent work queue the pool claims from
type Queue interface {
	ClaimBatch(ctx context.Context, limit int) ([]*db.QueueItem, error)
	EnqueueMany(ctx context.Context, items []db.NewItem) (int, error)
	Reseed(ctx context.Context, url string, priority int) (bool, error)
	MarkDone(ctx context.Context, item *db.QueueItem) error
	MarkFailed(ctx context.Context, item *db.QueueItem, cause error) error
	MarkNormalizeFailed(ctx context.Context, item *db.QueueItem, cause error) error
	Release(ctx context.Context, item *db.QueueItem) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
	AnyQueuedURL(ctx context.Context) (string, error)
}

// PageStore persists archived pages
type PageStore interface {
	UpsertPage(ctx context.Context, page *db.Page) error
}

// Fetcher retrieves a URL with politeness and retry handling
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*crawler.FetchResult, error)
}

// Extractor turns fetched markup into archive content and raw links
type Extractor interface {
	Extract(body []byte) (*crawler.Content, error)
}

// TechDetector fingerprints technologies from a response
type TechDetector interface {
	Technologies(headers http.Header, body []byte) []string
}
