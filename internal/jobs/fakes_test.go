//go:build unit || !integration

package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Harvey-AU/archive-crawler/internal/crawler"
	"github.com/Harvey-AU/archive-crawler/internal/db"
)

// memQueue is an in-memory queue with the same claim ordering and retry ceiling as DbQueue.
// Failed items are claimable again immediately.
type memQueue struct {
	mu          sync.Mutex
	items       []*db.QueueItem
	byURL       map[string]*db.QueueItem
	nextID      int64
	maxAttempts int
}

func newMemQueue() *memQueue {
	return &memQueue{
		byURL:       make(map[string]*db.QueueItem),
		maxAttempts: db.DefaultQueueConfig().MaxAttempts,
	}
}

func (q *memQueue) add(url string, depth int, status string) *db.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	item := &db.QueueItem{ID: q.nextID, URL: url, Depth: depth, Status: status}
	q.items = append(q.items, item)
	q.byURL[url] = item
	return item
}

func (q *memQueue) get(url string) (db.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byURL[url]
	if !ok {
		return db.QueueItem{}, false
	}
	return *item, true
}

func (q *memQueue) urls() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item.URL)
	}
	sort.Strings(out)
	return out
}

func (q *memQueue) byID(id int64) *db.QueueItem {
	for _, item := range q.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (q *memQueue) ClaimBatch(_ context.Context, limit int) ([]*db.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var queued []*db.QueueItem
	for _, item := range q.items {
		if item.Status == db.StatusQueued {
			queued = append(queued, item)
		}
	}
	sort.SliceStable(queued, func(i, j int) bool {
		if queued[i].Priority != queued[j].Priority {
			return queued[i].Priority > queued[j].Priority
		}
		if queued[i].Depth != queued[j].Depth {
			return queued[i].Depth < queued[j].Depth
		}
		return queued[i].ID < queued[j].ID
	})

	if len(queued) > limit {
		queued = queued[:limit]
	}
	claimed := make([]*db.QueueItem, 0, len(queued))
	for _, item := range queued {
		item.Status = db.StatusProcessing
		c := *item
		claimed = append(claimed, &c)
	}
	return claimed, nil
}

func (q *memQueue) EnqueueMany(_ context.Context, items []db.NewItem) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	inserted := 0
	for _, n := range items {
		if _, exists := q.byURL[n.URL]; exists {
			continue
		}
		q.nextID++
		item := &db.QueueItem{ID: q.nextID, URL: n.URL, Depth: n.Depth, Priority: n.Priority, Status: db.StatusQueued}
		q.items = append(q.items, item)
		q.byURL[n.URL] = item
		inserted++
	}
	return inserted, nil
}

func (q *memQueue) Reseed(ctx context.Context, url string, priority int) (bool, error) {
	q.mu.Lock()
	if item, ok := q.byURL[url]; ok {
		defer q.mu.Unlock()
		if item.Status == db.StatusDone || item.Status == db.StatusFailed {
			item.Status = db.StatusQueued
			item.Attempts = 0
			return true, nil
		}
		return false, nil
	}
	q.mu.Unlock()

	n, err := q.EnqueueMany(ctx, []db.NewItem{{URL: url, Priority: priority}})
	return n == 1, err
}

func (q *memQueue) setStatus(item *db.QueueItem, status string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	stored := q.byID(item.ID)
	if stored == nil {
		return errors.New("queue item not found")
	}
	stored.Status = status
	item.Status = status
	return nil
}

func (q *memQueue) MarkDone(_ context.Context, item *db.QueueItem) error {
	return q.setStatus(item, db.StatusDone)
}

func (q *memQueue) MarkFailed(_ context.Context, item *db.QueueItem, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	stored := q.byID(item.ID)
	if stored == nil {
		return errors.New("queue item not found")
	}
	stored.Attempts++
	stored.LastError = cause.Error()
	if stored.Attempts >= q.maxAttempts {
		stored.Status = db.StatusFailed
	} else {
		stored.Status = db.StatusQueued
	}
	item.Status = stored.Status
	item.Attempts = stored.Attempts
	item.LastError = stored.LastError
	return nil
}

func (q *memQueue) MarkNormalizeFailed(_ context.Context, item *db.QueueItem, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	stored := q.byID(item.ID)
	if stored == nil {
		return errors.New("queue item not found")
	}
	stored.Attempts++
	stored.LastError = cause.Error()
	stored.Status = db.StatusFailed
	item.Status = db.StatusFailed
	return nil
}

func (q *memQueue) Release(_ context.Context, item *db.QueueItem) error {
	return q.setStatus(item, db.StatusQueued)
}

func (q *memQueue) RequeueStale(_ context.Context, _ time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, item := range q.items {
		if item.Status == db.StatusProcessing {
			item.Status = db.StatusQueued
			n++
		}
	}
	return n, nil
}

func (q *memQueue) AnyQueuedURL(_ context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.Status == db.StatusQueued {
			return item.URL, nil
		}
	}
	return "", nil
}

// memPages records upserted pages by URL
type memPages struct {
	mu    sync.Mutex
	pages map[string]*db.Page
}

func newMemPages() *memPages {
	return &memPages{pages: make(map[string]*db.Page)}
}

func (p *memPages) UpsertPage(_ context.Context, page *db.Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[page.URL] = page
	return nil
}

func (p *memPages) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pages)
}

type fakeResponse struct {
	body        string
	contentType string
	finalURL    string
	err         error
}

// fakeFetcher serves canned responses and counts calls per URL. Unknown URLs get a 404.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     map[string]int
	block     chan struct{}
}

func newFakeFetcher(responses map[string]fakeResponse) *fakeFetcher {
	return &fakeFetcher{responses: responses, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*crawler.FetchResult, error) {
	f.mu.Lock()
	f.calls[url]++
	resp, ok := f.responses[url]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		close(block)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if !ok {
		return nil, &crawler.FetchError{Kind: crawler.KindClientError, URL: url, StatusCode: 404, Attempts: 1}
	}
	if resp.err != nil {
		return nil, resp.err
	}

	contentType := resp.contentType
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	finalURL := resp.finalURL
	if finalURL == "" {
		finalURL = url
	}

	return &crawler.FetchResult{
		URL:         url,
		FinalURL:    finalURL,
		StatusCode:  200,
		ContentType: contentType,
		Body:        []byte(resp.body),
		Attempts:    1,
	}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func testPoolConfig(workers int) Config {
	return Config{
		Workers:          workers,
		StaleLease:       time.Minute,
		IdlePollInterval: 5 * time.Millisecond,
		MaxIdlePoll:      20 * time.Millisecond,
	}
}
