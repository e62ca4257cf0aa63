package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Harvey-AU/archive-crawler/internal/api"
	"github.com/Harvey-AU/archive-crawler/internal/crawler"
	"github.com/Harvey-AU/archive-crawler/internal/db"
	"github.com/Harvey-AU/archive-crawler/internal/jobs"
	"github.com/Harvey-AU/archive-crawler/internal/notifications"
	"github.com/Harvey-AU/archive-crawler/internal/observability"
	"github.com/Harvey-AU/archive-crawler/internal/techdetect"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

const (
	shutdownTimeout = 10 * time.Second
	notifyTimeout   = 10 * time.Second
)

type crawlRunner interface {
	Run(ctx context.Context, opts jobs.RunOptions) (*jobs.RunSummary, error)
}

type runNotifier interface {
	NotifyRunComplete(ctx context.Context, summary *jobs.RunSummary, runErr error)
}

// runCrawler wires the crawler's dependencies and runs the crawl loop until it finishes or ctx
// is cancelled. Errors returned from here exit the process with status 1.
func runCrawler(ctx context.Context, cfg *Config) error {
	setupLogging(cfg)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
			TracesSampleRate: func() float64 {
				if cfg.Env == "production" {
					return 0.1
				}
				return 1.0
			}(),
			AttachStacktrace: true,
			Debug:            cfg.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", cfg.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	var obsProviders *observability.Providers
	if cfg.ObservabilityEnabled {
		var err error
		obsProviders, err = observability.Init(ctx, observability.Config{
			Enabled:        true,
			ServiceName:    "archive-crawler",
			Environment:    cfg.Env,
			OTLPEndpoint:   strings.TrimSpace(cfg.OTLPEndpoint),
			OTLPHeaders:    observability.ParseOTLPHeaders(cfg.OTLPHeaders),
			OTLPInsecure:   cfg.OTLPInsecure,
			MetricsAddress: cfg.MetricsAddr,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise observability providers")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := obsProviders.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
				}
			}()

			if obsProviders.MetricsHandler != nil && cfg.MetricsAddr != "" {
				stopMetrics := startServer("metrics", cfg.MetricsAddr, obsProviders.MetricsHandler)
				defer stopMetrics()
			}
		}
	}

	pgDB, err := db.InitFromEnvWithRetry(ctx)
	if err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}
	defer pgDB.Close()

	log.Info().Msg("Connected to PostgreSQL database")

	var policy *crawler.Policy
	if cfg.PolicyPath != "" {
		policy, err = crawler.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			return err
		}
		log.Info().Str("path", cfg.PolicyPath).Msg("Loaded extraction policy")
	}

	var tech jobs.TechDetector
	if detector, err := techdetect.New(); err != nil {
		log.Warn().Err(err).Msg("Technology detection disabled")
	} else {
		tech = detector
	}

	queue := db.NewDbQueue(pgDB.GetDB(), cfg.queueConfig())
	pages := db.NewPageStore(pgDB.GetDB())
	pool := jobs.NewWorkerPool(
		queue,
		pages,
		crawler.New(cfg.fetcherConfig()),
		crawler.NewExtractor(policy),
		tech,
		cfg.poolConfig(),
	)

	if cfg.AdminAddr != "" {
		handler := api.NewHandler(queue, pages, pgDB, pool).Router(api.NewRateLimiter(20, 10))
		stopAdmin := startServer("admin", cfg.AdminAddr, observability.WrapHandler(handler, obsProviders))
		defer stopAdmin()
	}

	log.Info().
		Str("seed", cfg.Seed).
		Int("max_depth", cfg.MaxDepth).
		Int("workers", cfg.Workers).
		Dur("interval", cfg.Interval).
		Msg("Starting crawler")

	return runLoop(ctx, pool, notifications.NewSlackNotifier(cfg.SlackWebhookURL), jobs.RunOptions{
		Seed:     cfg.Seed,
		MaxDepth: cfg.MaxDepth,
	}, cfg.Interval)
}

// runLoop performs one run, or one run per interval until ctx is cancelled. Runs never overlap.
// A run that fails is reported and the loop continues; only a missing root host is returned,
// since no later run could succeed either.
func runLoop(ctx context.Context, runner crawlRunner, notifier runNotifier, opts jobs.RunOptions, interval time.Duration) error {
	for {
		summary, err := runner.Run(ctx, opts)

		if notifier != nil {
			notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			notifier.NotifyRunComplete(notifyCtx, summary, err)
			cancel()
		}

		switch {
		case errors.Is(err, jobs.ErrNoRootHost):
			return err
		case ctx.Err() != nil:
			log.Info().Msg("Crawl interrupted, queued work will resume on the next start")
			return nil
		case err != nil:
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Crawl run failed")
		}

		if interval <= 0 {
			return nil
		}

		log.Info().Dur("interval", interval).Msg("Waiting for next crawl run")
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// startServer serves handler on addr in the background and returns a graceful stop function
func startServer(name, addr string, handler http.Handler) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msgf("%s server listening", name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.CaptureException(err)
			log.Error().Err(err).Str("server", name).Msg("Server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("server", name).Msg("Graceful shutdown failed")
		}
	}
}
