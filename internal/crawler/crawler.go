package crawler

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/Harvey-AU/archive-crawler/internal/observability"
	"github.com/Harvey-AU/archive-crawler/internal/util"
	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"

// Fetcher performs polite HTTP GETs with retry and backoff. It is safe for concurrent use;
// a worker waiting on a delay or backoff never blocks another worker.
type Fetcher struct {
	config    *Config
	collector *colly.Collector
	limiter   *rate.Limiter

	// sleep waits for d or until ctx is done
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Fetcher with the given configuration.
// If config is nil, default configuration is used
func New(config *Config) *Fetcher {
	if config == nil {
		config = DefaultConfig()
	}

	c := colly.NewCollector(
		colly.UserAgent(config.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	)
	if config.MaxBodySize > 0 {
		c.MaxBodySize = config.MaxBodySize
	}

	baseTransport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	c.SetClient(&http.Client{
		Timeout:   config.Timeout,
		Transport: otelhttp.NewTransport(baseTransport),
	})

	f := &Fetcher{
		config:    config,
		collector: c,
		sleep:     sleepContext,
	}

	if config.RequestsPerSecond > 0 {
		burst := int(math.Ceil(config.RequestsPerSecond))
		f.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return f
}

// Config returns the Fetcher's configuration.
func (f *Fetcher) Config() *Config {
	return f.config
}

// validateFetchRequest checks the URL is absolute before any network activity
func validateFetchRequest(ctx context.Context, targetURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	parsed, err := url.Parse(targetURL)
	if err != nil {
		return &FetchError{Kind: KindClientError, URL: targetURL, Err: fmt.Errorf("%w: %v", util.ErrMalformedURL, err)}
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return &FetchError{Kind: KindClientError, URL: targetURL, Err: fmt.Errorf("%w: %s", util.ErrMalformedURL, targetURL)}
	}

	return nil
}

// Fetch retrieves targetURL. It waits the politeness delay before the first attempt, then
// retries rate-limited, server and network failures up to MaxRetries times. A 429 with a
// Retry-After header waits for the server-requested duration; every other retry uses
// exponential backoff. Client errors return immediately. Once retries are exhausted the last
// *FetchError is returned.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*FetchResult, error) {
	if err := validateFetchRequest(ctx, targetURL); err != nil {
		return nil, err
	}

	start := time.Now()

	if err := f.sleep(ctx, f.config.PolitenessDelay); err != nil {
		return nil, fmt.Errorf("politeness delay interrupted: %w", err)
	}

	attempt := 0
	for {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter wait: %w", err)
			}
		}

		attemptStart := time.Now()
		result, fetchErr := f.attempt(ctx, targetURL)
		observability.RecordFetchAttempt(ctx, observability.FetchAttemptMetrics{
			Outcome:    fetchOutcome(fetchErr),
			StatusCode: statusOf(result, fetchErr),
			Duration:   time.Since(attemptStart),
		})

		if fetchErr == nil {
			result.Attempts = attempt + 1
			result.Duration = time.Since(start)
			log.Debug().
				Str("url", targetURL).
				Int("status_code", result.StatusCode).
				Int("attempts", result.Attempts).
				Dur("duration", result.Duration).
				Msg("Fetch completed")
			return result, nil
		}

		attempt++
		fetchErr.Attempts = attempt

		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch cancelled: %w", ctx.Err())
		}
		if !fetchErr.Retryable() || attempt > f.config.MaxRetries {
			return nil, fetchErr
		}

		wait := f.backoff(fetchErr, attempt)
		log.Warn().
			Str("url", targetURL).
			Str("kind", string(fetchErr.Kind)).
			Int("status_code", fetchErr.StatusCode).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Fetch failed, retrying")

		if err := f.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("backoff interrupted: %w", err)
		}
	}
}

// backoff returns how long to wait before retry number attempt (1-based)
func (f *Fetcher) backoff(fetchErr *FetchError, attempt int) time.Duration {
	if fetchErr.Kind == KindRateLimited && fetchErr.HasRetryAfter {
		return fetchErr.RetryAfter
	}
	return f.config.BaseBackoff * time.Duration(1<<uint(attempt-1))
}

// attempt performs a single GET through a clone of the base collector
func (f *Fetcher) attempt(ctx context.Context, targetURL string) (*FetchResult, *FetchError) {
	res := &FetchResult{URL: targetURL, FinalURL: targetURL}
	var visitErr error

	collector := f.collector.Clone()

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHeader)
		r.Headers.Set("Accept-Language", f.config.AcceptLanguage)
	})

	collector.OnResponse(func(r *colly.Response) {
		res.StatusCode = r.StatusCode
		res.Body = r.Body
		if r.Headers != nil {
			res.Headers = r.Headers.Clone()
			res.ContentType = r.Headers.Get("Content-Type")
		}
		if r.Request != nil && r.Request.URL != nil {
			res.FinalURL = r.Request.URL.String()
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		visitErr = err
		if r != nil {
			res.StatusCode = r.StatusCode
			if r.Headers != nil {
				res.Headers = r.Headers.Clone()
			}
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(targetURL)
	}()

	select {
	case err := <-done:
		if err != nil && visitErr == nil {
			visitErr = err
		}
	case <-ctx.Done():
		return nil, &FetchError{Kind: KindNetworkError, URL: targetURL, Err: ctx.Err()}
	}

	if fetchErr := classifyResponse(targetURL, res.StatusCode, res.Headers, visitErr); fetchErr != nil {
		return nil, fetchErr
	}

	return res, nil
}

func fetchOutcome(err *FetchError) string {
	if err == nil {
		return "success"
	}
	return string(err.Kind)
}

func statusOf(res *FetchResult, err *FetchError) int {
	if res != nil {
		return res.StatusCode
	}
	if err != nil {
		return err.StatusCode
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
