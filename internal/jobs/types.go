package jobs

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/Harvey-AU/archive-crawler/internal/cache"
)

var (
	// ErrNoRootHost is returned when a run has no seed and nothing is queued to resume from
	ErrNoRootHost = errors.New("no seed given and no queued item to resume from")
	// ErrRunInProgress is returned when Run is called while another run is active
	ErrRunInProgress = errors.New("a crawl run is already in progress")
)

// RunState is the lifecycle state of the pool
type RunState string

const (
	StateIdle    RunState = "idle"
	StateRunning RunState = "running"
	StateDrained RunState = "drained"
)

// Item outcomes, used for counting and metrics
const (
	outcomeDone        = "done"
	outcomeSkipped     = "skipped"
	outcomeRetry       = "retry"
	outcomeFailed      = "failed"
	outcomeMalformed   = "malformed"
	outcomeInterrupted = "interrupted"
)

// Config holds worker pool settings
type Config struct {
	Workers int
	// StaleLease returns processing items older than this to the queue at run start; 0 disables
	StaleLease time.Duration
	// IdlePollInterval is the first wait of a worker that found nothing while others are busy
	IdlePollInterval time.Duration
	// MaxIdlePoll caps the idle wait
	MaxIdlePoll time.Duration
}

// DefaultConfig returns the default pool settings
func DefaultConfig() Config {
	return Config{
		Workers:          5,
		StaleLease:       10 * time.Minute,
		IdlePollInterval: 200 * time.Millisecond,
		MaxIdlePoll:      5 * time.Second,
	}
}

// RunOptions parameterises a single crawl run
type RunOptions struct {
	// Seed is the start URL. Empty resumes from whatever is queued.
	Seed     string
	MaxDepth int
}

// RunSummary reports the aggregate outcome of a run
type RunSummary struct {
	RunID     string        `json:"run_id"`
	RootHost  string        `json:"root_host"`
	Processed int64         `json:"processed"`
	Succeeded int64         `json:"succeeded"`
	Failed    int64         `json:"failed"`
	Retrying  int64         `json:"retrying"`
	Skipped   int64         `json:"skipped"`
	Enqueued  int64         `json:"enqueued"`
	Duration  time.Duration `json:"duration"`
}

// runContext is the per-run state shared by every worker of that run
type runContext struct {
	id       string
	rootHost string
	maxDepth int
	visited  *cache.StringSet

	// inFlight counts workers between the start of a claim and the end of processing
	inFlight atomic.Int32

	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retrying  atomic.Int64
	skipped   atomic.Int64
	enqueued  atomic.Int64
}

func newRunContext(id, rootHost string, maxDepth int) *runContext {
	return &runContext{
		id:       id,
		rootHost: rootHost,
		maxDepth: maxDepth,
		visited:  cache.NewStringSet(),
	}
}

func (rc *runContext) count(outcome string) {
	rc.processed.Add(1)
	switch outcome {
	case outcomeDone:
		rc.succeeded.Add(1)
	case outcomeSkipped:
		rc.skipped.Add(1)
	case outcomeRetry:
		rc.retrying.Add(1)
	case outcomeFailed, outcomeMalformed:
		rc.failed.Add(1)
	}
}

func (rc *runContext) summary(duration time.Duration) *RunSummary {
	return &RunSummary{
		RunID:     rc.id,
		RootHost:  rc.rootHost,
		Processed: rc.processed.Load(),
		Succeeded: rc.succeeded.Load(),
		Failed:    rc.failed.Load(),
		Retrying:  rc.retrying.Load(),
		Skipped:   rc.skipped.Load(),
		Enqueued:  rc.enqueued.Load(),
		Duration:  duration,
	}
}
