package crawler

import (
	"time"
)

// Config holds the configuration for a fetcher instance
type Config struct {
	Timeout           time.Duration // Overall timeout for a single request attempt
	UserAgent         string        // User agent string for requests
	AcceptLanguage    string        // Accept-Language header sent with every request
	PolitenessDelay   time.Duration // Pause before the first attempt of every fetch
	MaxRetries        int           // Retries allowed after the first attempt
	BaseBackoff       time.Duration // Backoff base: wait = BaseBackoff * 2^(retry-1)
	RequestsPerSecond float64       // Process-wide request pacing, 0 disables it
	MaxBodySize       int           // Maximum response body size in bytes
}

// DefaultConfig returns a Config instance with default values
func DefaultConfig() *Config {
	return &Config{
		Timeout:           15 * time.Second,
		UserAgent:         "ArchiveCrawler/1.0 (compatible; +https://github.com/Harvey-AU/archive-crawler)",
		AcceptLanguage:    "vi-VN,vi;q=0.9,en-US;q=0.8,en;q=0.7",
		PolitenessDelay:   800 * time.Millisecond,
		MaxRetries:        4,
		BaseBackoff:       time.Second,
		RequestsPerSecond: 0,
		MaxBodySize:       10 * 1024 * 1024,
	}
}
