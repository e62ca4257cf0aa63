package jobs

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Harvey-AU/archive-crawler/internal/observability"
	"github.com/Harvey-AU/archive-crawler/internal/util"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// WorkerPool runs crawl runs: a fixed number of workers claiming from one shared queue until
// it drains
type WorkerPool struct {
	queue     Queue
	pages     PageStore
	fetcher   Fetcher
	extractor Extractor
	tech      TechDetector
	config    Config

	mu    sync.Mutex
	state RunState
}

// NewWorkerPool creates a worker pool. tech may be nil to skip technology detection.
func NewWorkerPool(queue Queue, pages PageStore, fetcher Fetcher, extractor Extractor, tech TechDetector, config Config) *WorkerPool {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.IdlePollInterval <= 0 {
		config.IdlePollInterval = defaults.IdlePollInterval
	}
	if config.MaxIdlePoll < config.IdlePollInterval {
		config.MaxIdlePoll = max(defaults.MaxIdlePoll, config.IdlePollInterval)
	}

	return &WorkerPool{
		queue:     queue,
		pages:     pages,
		fetcher:   fetcher,
		extractor: extractor,
		tech:      tech,
		config:    config,
		state:     StateIdle,
	}
}

// State returns the pool's lifecycle state
func (wp *WorkerPool) State() RunState {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.state
}

func (wp *WorkerPool) setState(s RunState) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.state = s
}

// Run performs one crawl run and blocks until every worker has drained. Per-item failures are
// recorded on the queue and never abort the run; a claim failure stops only the worker that hit
// it and is reported in the returned error once the rest of the pool has drained.
func (wp *WorkerPool) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	wp.mu.Lock()
	if wp.state == StateRunning {
		wp.mu.Unlock()
		return nil, ErrRunInProgress
	}
	wp.state = StateRunning
	wp.mu.Unlock()

	summary, err := wp.run(ctx, opts)
	if summary == nil {
		wp.setState(StateIdle)
	} else {
		wp.setState(StateDrained)
	}
	return summary, err
}

func (wp *WorkerPool) run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	if opts.MaxDepth < 0 {
		return nil, fmt.Errorf("max depth must not be negative, got %d", opts.MaxDepth)
	}

	start := time.Now()

	if wp.config.StaleLease > 0 {
		if _, err := wp.queue.RequeueStale(ctx, wp.config.StaleLease); err != nil {
			return nil, fmt.Errorf("failed to reconcile stale items: %w", err)
		}
	}

	rootHost, err := wp.resolveRoot(ctx, opts.Seed)
	if err != nil {
		return nil, err
	}

	rc := newRunContext(uuid.New().String(), rootHost, opts.MaxDepth)

	log.Info().
		Str("run_id", rc.id).
		Str("root_host", rootHost).
		Int("max_depth", opts.MaxDepth).
		Int("workers", wp.config.Workers).
		Msg("Crawl run started")

	var g errgroup.Group
	for i := 0; i < wp.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			return wp.worker(ctx, rc, workerID)
		})
	}
	runErr := g.Wait()

	summary := rc.summary(time.Since(start))
	observability.RecordCrawlRun(ctx, rootHost, runErr != nil)

	event := log.Info()
	if runErr != nil {
		event = log.Error().Err(runErr)
	}
	event.
		Str("run_id", summary.RunID).
		Str("root_host", summary.RootHost).
		Int64("processed", summary.Processed).
		Int64("succeeded", summary.Succeeded).
		Int64("failed", summary.Failed).
		Int64("retrying", summary.Retrying).
		Int64("skipped", summary.Skipped).
		Int64("enqueued", summary.Enqueued).
		Dur("duration", summary.Duration).
		Msg("Crawl run drained")

	return summary, runErr
}

// resolveRoot fixes the run's scope. A seed is enqueued (or re-queued) at depth 0; without a
// seed the scope comes from any queued item so an interrupted crawl can resume.
func (wp *WorkerPool) resolveRoot(ctx context.Context, seed string) (string, error) {
	if seed == "" {
		queued, err := wp.queue.AnyQueuedURL(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to infer root host: %w", err)
		}
		if queued == "" {
			return "", ErrNoRootHost
		}
		return util.RootHostname(queued)
	}

	canonical, err := util.Canonicalize(seed, "")
	if err != nil {
		return "", fmt.Errorf("invalid seed url: %w", err)
	}

	rootHost, err := util.RootHostname(canonical)
	if err != nil {
		return "", fmt.Errorf("invalid seed url: %w", err)
	}

	if _, err := wp.queue.Reseed(ctx, canonical, util.ScorePriority(canonical)); err != nil {
		return "", fmt.Errorf("failed to enqueue seed: %w", err)
	}

	return rootHost, nil
}

// worker claims and processes items until the run drains. A worker that finds the queue empty
// while others are still processing waits and claims again, since those workers may enqueue
// new links; it exits once a claim comes back empty with nothing in flight.
func (wp *WorkerPool) worker(ctx context.Context, rc *runContext, workerID int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Int("worker_id", workerID).
				Msg("Recovered from panic in crawl worker")
			sentry.CurrentHub().Recover(r)
			err = fmt.Errorf("worker %d panicked: %v", workerID, r)
		}
	}()

	log.Debug().Int("worker_id", workerID).Str("run_id", rc.id).Msg("Starting worker")

	consecutiveEmpty := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rc.inFlight.Add(1)
		items, err := wp.queue.ClaimBatch(ctx, 1)
		if err != nil {
			rc.inFlight.Add(-1)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sentry.CaptureException(err)
			log.Error().
				Err(err).
				Int("worker_id", workerID).
				Str("run_id", rc.id).
				Msg("Queue claim failed, stopping worker")
			return fmt.Errorf("worker %d: %w", workerID, err)
		}

		if len(items) == 0 {
			if rc.inFlight.Add(-1) == 0 {
				log.Debug().Int("worker_id", workerID).Str("run_id", rc.id).Msg("Queue drained, worker exiting")
				return nil
			}

			consecutiveEmpty++
			if err := wp.idleWait(ctx, consecutiveEmpty); err != nil {
				return err
			}
			continue
		}

		consecutiveEmpty = 0
		for _, item := range items {
			wp.processItem(ctx, rc, workerID, item)
		}
		rc.inFlight.Add(-1)
	}
}

// idleWait backs off exponentially while the queue is empty but the run is not yet drained
func (wp *WorkerPool) idleWait(ctx context.Context, consecutiveEmpty int) error {
	wait := time.Duration(float64(wp.config.IdlePollInterval) * math.Pow(1.5, float64(min(consecutiveEmpty-1, 10))))
	if wait > wp.config.MaxIdlePoll {
		wait = wp.config.MaxIdlePoll
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
