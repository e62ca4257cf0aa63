package crawler

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FetchErrorKind classifies why a fetch attempt failed
type FetchErrorKind string

const (
	KindRateLimited  FetchErrorKind = "rate_limited"
	KindServerError  FetchErrorKind = "server_error"
	KindNetworkError FetchErrorKind = "network_error"
	KindClientError  FetchErrorKind = "client_error"
)

// FetchError describes a failed fetch. Rate-limited, server and network failures are
// retried by the fetcher; client errors are surfaced immediately.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Attempts   int
	Err        error

	// RetryAfter is the server-requested wait, valid only when HasRetryAfter is true
	RetryAfter    time.Duration
	HasRetryAfter bool
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " fetching %s", e.URL)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindNetworkError:
		return true
	default:
		return false
	}
}

// classifyResponse maps a completed attempt to a FetchError, or nil when the status is a
// success (2xx) or a redirect the transport did not follow (3xx).
func classifyResponse(targetURL string, statusCode int, headers http.Header, err error) *FetchError {
	switch {
	case statusCode == 0:
		if err == nil {
			err = fmt.Errorf("no response received")
		}
		return &FetchError{Kind: KindNetworkError, URL: targetURL, Err: err}

	case statusCode >= 200 && statusCode < 400:
		return nil

	case statusCode == http.StatusTooManyRequests:
		fe := &FetchError{Kind: KindRateLimited, URL: targetURL, StatusCode: statusCode, Err: err}
		if headers != nil {
			fe.RetryAfter, fe.HasRetryAfter = parseRetryAfter(headers.Get("Retry-After"), time.Now())
		}
		return fe

	case statusCode >= 500:
		return &FetchError{Kind: KindServerError, URL: targetURL, StatusCode: statusCode, Err: err}

	default:
		return &FetchError{Kind: KindClientError, URL: targetURL, StatusCode: statusCode, Err: err}
	}
}

// parseRetryAfter interprets a Retry-After header as either delta-seconds or an HTTP date.
// Dates in the past yield a zero wait.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}

	if at, err := http.ParseTime(value); err == nil {
		wait := at.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}

	return 0, false
}
