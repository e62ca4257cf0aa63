package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabled(t *testing.T) {
	prov, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, prov)
}

func TestWrapHandlerWithoutProviders(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	wrapped := WrapHandler(h, nil)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRecordersAreSafeBeforeInit(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		RecordFetchAttempt(ctx, FetchAttemptMetrics{Outcome: "success", StatusCode: 200, Duration: time.Millisecond})
		RecordCrawlItem(ctx, CrawlItemMetrics{Outcome: "done", Duration: time.Millisecond})
		RecordCrawlRun(ctx, "example.com", false)
		_, span := StartCrawlItemSpan(ctx, CrawlItemSpanInfo{URL: "https://example.com/"})
		span.End()
	})
}

func TestInitExposesCrawlMetrics(t *testing.T) {
	ctx := context.Background()

	prov, err := Init(ctx, Config{Enabled: true, ServiceName: "archive-crawler-test", Environment: "test"})
	require.NoError(t, err)
	require.NotNil(t, prov)
	defer func() { _ = prov.Shutdown(ctx) }()

	RecordFetchAttempt(ctx, FetchAttemptMetrics{Outcome: "success", StatusCode: 200, Duration: 12 * time.Millisecond})
	RecordCrawlItem(ctx, CrawlItemMetrics{RootHost: "example.com", Outcome: "done", Duration: 40 * time.Millisecond})

	rec := httptest.NewRecorder()
	prov.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "crawler_fetch_attempts")
	assert.Contains(t, string(body), "crawler_item_total")
	assert.Contains(t, string(body), `run_root_host="example.com"`)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "none", statusClass(0))
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "4xx", statusClass(429))
	assert.Equal(t, "5xx", statusClass(503))
}

func TestParseOTLPHeaders(t *testing.T) {
	got := ParseOTLPHeaders("Authorization=Bearer abc, x-team = crawl ,broken,=nokey")
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer abc",
		"x-team":        "crawl",
	}, got)
}
