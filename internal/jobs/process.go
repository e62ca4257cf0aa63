package jobs

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/Harvey-AU/archive-crawler/internal/db"
	"github.com/Harvey-AU/archive-crawler/internal/observability"
	"github.com/Harvey-AU/archive-crawler/internal/util"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// releaseTimeout bounds the queue update that hands an interrupted item back
const releaseTimeout = 5 * time.Second

// processItem takes one claimed item through canonicalise, fetch, extract, persist and link
// discovery, and always leaves it in a non-processing state unless the queue itself is
// unreachable.
func (wp *WorkerPool) processItem(ctx context.Context, rc *runContext, workerID int, item *db.QueueItem) {
	start := time.Now()

	ctx, span := observability.StartCrawlItemSpan(ctx, observability.CrawlItemSpanInfo{
		RunID:    rc.id,
		ItemID:   item.ID,
		URL:      item.URL,
		Depth:    item.Depth,
		Attempts: item.Attempts,
	})
	defer span.End()

	logger := log.With().
		Str("run_id", rc.id).
		Int("worker_id", workerID).
		Int64("item_id", item.ID).
		Str("url", item.URL).
		Int("depth", item.Depth).
		Logger()

	outcome := wp.handleItem(ctx, rc, item, &logger)

	span.SetAttributes(attribute.String("item.outcome", outcome))
	if outcome == outcomeFailed || outcome == outcomeMalformed {
		span.SetStatus(codes.Error, item.LastError)
	}

	rc.count(outcome)
	observability.RecordCrawlItem(ctx, observability.CrawlItemMetrics{
		RootHost: rc.rootHost,
		Outcome:  outcome,
		Duration: time.Since(start),
	})
}

func (wp *WorkerPool) handleItem(ctx context.Context, rc *runContext, item *db.QueueItem, logger *zerolog.Logger) string {
	canonical, err := util.Canonicalize(item.URL, "")
	if err != nil {
		logger.Warn().Err(err).Msg("Claimed URL cannot be canonicalised")
		wp.reportQueueError(wp.queue.MarkNormalizeFailed(ctx, item, err), item, logger)
		return outcomeMalformed
	}

	if !rc.visited.Add(canonical) {
		logger.Debug().Msg("URL already handled in this run")
		wp.reportQueueError(wp.queue.MarkDone(ctx, item), item, logger)
		return outcomeSkipped
	}

	result, err := wp.fetcher.Fetch(ctx, canonical)
	if err != nil {
		if ctx.Err() != nil {
			return wp.release(ctx, item, logger)
		}
		logger.Warn().Err(err).Msg("Fetch failed")
		return wp.fail(ctx, rc, canonical, item, err, logger)
	}

	if !redirectInScope(result.FinalURL, rc.rootHost) {
		logger.Info().Str("final_url", result.FinalURL).Msg("Redirected out of scope, not archiving")
		wp.reportQueueError(wp.queue.MarkDone(ctx, item), item, logger)
		return outcomeSkipped
	}

	if !result.IsHTML() {
		logger.Debug().Str("content_type", result.ContentType).Msg("Skipping non-HTML response")
		wp.reportQueueError(wp.queue.MarkDone(ctx, item), item, logger)
		return outcomeDone
	}

	content, err := wp.extractor.Extract(result.Body)
	if err != nil {
		logger.Warn().Err(err).Msg("Extraction failed")
		return wp.fail(ctx, rc, canonical, item, err, logger)
	}

	page := &db.Page{
		URL:         canonical,
		Title:       content.Title,
		Description: content.Description,
		Content:     content.Content,
	}
	if wp.tech != nil {
		page.Technologies = wp.tech.Technologies(result.Headers, result.Body)
	}

	if err := wp.pages.UpsertPage(ctx, page); err != nil {
		logger.Error().Err(err).Msg("Failed to store page")
		return wp.fail(ctx, rc, canonical, item, err, logger)
	}

	if item.Depth < rc.maxDepth {
		links := discoverLinks(rc.rootHost, result.FinalURL, canonical, item.Depth+1, content.Links)
		if len(links) > 0 {
			inserted, err := wp.queue.EnqueueMany(ctx, links)
			if err != nil {
				logger.Error().Err(err).Int("links", len(links)).Msg("Failed to enqueue discovered links")
				return wp.fail(ctx, rc, canonical, item, err, logger)
			}
			rc.enqueued.Add(int64(inserted))
			logger.Debug().Int("discovered", len(links)).Int("enqueued", inserted).Msg("Enqueued discovered links")
		}
	}

	if err := wp.queue.MarkDone(ctx, item); err != nil {
		wp.reportQueueError(err, item, logger)
		return outcomeFailed
	}

	logger.Info().
		Int("status_code", result.StatusCode).
		Int("fetch_attempts", result.Attempts).
		Bool("has_content", page.Content != "").
		Msg("Archived page")

	return outcomeDone
}

// fail records a failed attempt. An item still under the retry ceiling is forgotten by the
// visited set so a later claim in this run can process it again.
func (wp *WorkerPool) fail(ctx context.Context, rc *runContext, canonical string, item *db.QueueItem, cause error, logger *zerolog.Logger) string {
	if err := wp.queue.MarkFailed(ctx, item, cause); err != nil {
		wp.reportQueueError(err, item, logger)
		return outcomeFailed
	}

	if item.Status == db.StatusQueued {
		rc.visited.Remove(canonical)
		return outcomeRetry
	}
	return outcomeFailed
}

// release hands an item interrupted by cancellation back to the queue. The update runs on a
// context detached from the cancelled one.
func (wp *WorkerPool) release(ctx context.Context, item *db.QueueItem, logger *zerolog.Logger) string {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := wp.queue.Release(releaseCtx, item); err != nil {
		wp.reportQueueError(err, item, logger)
	} else {
		logger.Info().Msg("Run cancelled, item returned to queue")
	}
	return outcomeInterrupted
}

func (wp *WorkerPool) reportQueueError(err error, item *db.QueueItem, logger *zerolog.Logger) {
	if err == nil {
		return
	}
	if !errors.Is(err, context.Canceled) {
		sentry.CaptureException(err)
	}
	logger.Error().Err(err).Int64("item_id", item.ID).Msg("Failed to update queue item")
}

// redirectInScope reports whether the URL a fetch ended on still belongs to the run's scope.
// An empty final URL means no redirect was followed.
func redirectInScope(finalURL, rootHost string) bool {
	if finalURL == "" {
		return true
	}
	parsed, err := url.Parse(finalURL)
	if err != nil {
		return false
	}
	return util.IsInScope(parsed.Hostname(), rootHost)
}

// discoverLinks resolves raw hrefs against the page's final URL and keeps the canonical,
// in-scope, distinct ones other than the page itself.
func discoverLinks(rootHost, baseURL, self string, depth int, hrefs []string) []db.NewItem {
	if baseURL == "" {
		baseURL = self
	}

	seen := make(map[string]struct{}, len(hrefs))
	seen[self] = struct{}{}

	items := make([]db.NewItem, 0, len(hrefs))
	for _, href := range hrefs {
		canonical, err := util.Canonicalize(href, baseURL)
		if err != nil {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}

		parsed, err := url.Parse(canonical)
		if err != nil || !util.IsInScope(parsed.Hostname(), rootHost) {
			continue
		}

		items = append(items, db.NewItem{
			URL:      canonical,
			Depth:    depth,
			Priority: util.ScorePriority(canonical),
		})
	}

	return items
}
