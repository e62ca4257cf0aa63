package mocks

import (
	"context"
	"net/http"

	"github.com/Harvey-AU/archive-crawler/internal/crawler"
	"github.com/stretchr/testify/mock"
)

// MockFetcher is a mock implementation of the page fetcher
type MockFetcher struct {
	mock.Mock
}

// Fetch mocks the Fetch method
func (m *MockFetcher) Fetch(ctx context.Context, url string) (*crawler.FetchResult, error) {
	args := m.Called(ctx, url)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*crawler.FetchResult), args.Error(1)
}

// MockExtractor is a mock implementation of the content extractor
type MockExtractor struct {
	mock.Mock
}

// Extract mocks the Extract method
func (m *MockExtractor) Extract(body []byte) (*crawler.Content, error) {
	args := m.Called(body)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*crawler.Content), args.Error(1)
}

// MockTechDetector is a mock implementation of the technology detector
type MockTechDetector struct {
	mock.Mock
}

// Technologies mocks the Technologies method
func (m *MockTechDetector) Technologies(headers http.Header, body []byte) []string {
	args := m.Called(headers, body)

	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).([]string)
}
