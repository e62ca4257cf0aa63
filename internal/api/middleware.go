package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Harvey-AU/archive-crawler/internal/util"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDMiddleware propagates an incoming X-Request-ID or assigns a new one
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID)))
	})
}

// GetRequestID retrieves the request ID from the request context
func GetRequestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	if requestID, ok := r.Context().Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// LoggingMiddleware logs each completed request except health checks
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		if r.URL.Path == "/health" {
			return
		}
		log.Info().
			Str("request_id", GetRequestID(r)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("client_ip", util.GetClientIP(r)).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// limiterIdleTTL is how long a client's bucket is kept after its last request
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP. Buckets idle for limiterIdleTTL are evicted.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	rate      rate.Limit
	capacity  int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a per-IP limiter allowing perSecond requests with the given burst
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients:  make(map[string]*clientLimiter),
		rate:     rate.Limit(perSecond),
		capacity: burst,
		idleTTL:  limiterIdleTTL,
		now:      time.Now,
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		for key, c := range rl.clients {
			if now.Sub(c.lastSeen) >= rl.idleTTL {
				delete(rl.clients, key)
			}
		}
		rl.lastSweep = now
	}

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.capacity)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// Allow reports whether a request from ip may proceed now
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.limiter(ip).Allow()
}

// Middleware rejects requests over the client's limit with 429
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(util.GetClientIP(r)) {
			retryAfter := time.Second
			if rl.rate > 0 {
				retryAfter = time.Duration(float64(time.Second) / float64(rl.rate))
			}
			TooManyRequests(w, r, "Too many requests", retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}
