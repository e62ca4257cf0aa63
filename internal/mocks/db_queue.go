package mocks

import (
	"context"
	"time"

	"github.com/Harvey-AU/archive-crawler/internal/db"
	"github.com/stretchr/testify/mock"
)

// MockQueue is a mock implementation of the crawl work queue
type MockQueue struct {
	mock.Mock
}

// ClaimBatch mocks the ClaimBatch method
func (m *MockQueue) ClaimBatch(ctx context.Context, limit int) ([]*db.QueueItem, error) {
	args := m.Called(ctx, limit)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*db.QueueItem), args.Error(1)
}

// EnqueueMany mocks the EnqueueMany method
func (m *MockQueue) EnqueueMany(ctx context.Context, items []db.NewItem) (int, error) {
	args := m.Called(ctx, items)
	return args.Int(0), args.Error(1)
}

// Reseed mocks the Reseed method
func (m *MockQueue) Reseed(ctx context.Context, url string, priority int) (bool, error) {
	args := m.Called(ctx, url, priority)
	return args.Bool(0), args.Error(1)
}

// MarkDone mocks the MarkDone method
func (m *MockQueue) MarkDone(ctx context.Context, item *db.QueueItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

// MarkFailed mocks the MarkFailed method. Use Run to set the item's resulting status.
func (m *MockQueue) MarkFailed(ctx context.Context, item *db.QueueItem, cause error) error {
	args := m.Called(ctx, item, cause)
	return args.Error(0)
}

// MarkNormalizeFailed mocks the MarkNormalizeFailed method
func (m *MockQueue) MarkNormalizeFailed(ctx context.Context, item *db.QueueItem, cause error) error {
	args := m.Called(ctx, item, cause)
	return args.Error(0)
}

// Release mocks the Release method
func (m *MockQueue) Release(ctx context.Context, item *db.QueueItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

// RequeueStale mocks the RequeueStale method
func (m *MockQueue) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

// AnyQueuedURL mocks the AnyQueuedURL method
func (m *MockQueue) AnyQueuedURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// Stats mocks the Stats method
func (m *MockQueue) Stats(ctx context.Context) (*db.QueueStats, error) {
	args := m.Called(ctx)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*db.QueueStats), args.Error(1)
}

// ListFailed mocks the ListFailed method
func (m *MockQueue) ListFailed(ctx context.Context, limit int) ([]*db.QueueItem, error) {
	args := m.Called(ctx, limit)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*db.QueueItem), args.Error(1)
}

// MockPageStore is a mock implementation of the page store
type MockPageStore struct {
	mock.Mock
}

// UpsertPage mocks the UpsertPage method
func (m *MockPageStore) UpsertPage(ctx context.Context, page *db.Page) error {
	args := m.Called(ctx, page)
	return args.Error(0)
}

// CountPages mocks the CountPages method
func (m *MockPageStore) CountPages(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
