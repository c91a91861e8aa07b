package migrate

import (
	"log/slog"
	"runtime"
	"strings"

	"github.com/syssam/porter"
)

// Default values of the executor options.
const (
	DefaultBatchSize = 1000
)

// Option configures the executor.
type Option func(*Executor) error

// WithBatchSize sets the number of rows read and written per round trip.
func WithBatchSize(n int) Option {
	return func(x *Executor) error {
		if n < 1 {
			return porter.NewConfigError("BatchSize", n, "must be at least 1")
		}
		x.batchSize = n
		return nil
	}
}

// WithWorkers sets the number of entities of a stage loaded concurrently.
// Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(x *Executor) error {
		if n < 1 {
			return porter.NewConfigError("Workers", n, "must be at least 1")
		}
		x.workers = n
		return nil
	}
}

// WithLogger sets the logger of the executor. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Executor) error {
		if logger == nil {
			return porter.NewConfigError("Logger", nil, "logger cannot be nil")
		}
		x.logger = logger
		return nil
	}
}

// WithRetry sets the policy used when the destination rejects a batch.
func WithRetry(p RetryPolicy) Option {
	return func(x *Executor) error {
		if p < RetryNone || p > RetryBisect {
			return porter.NewConfigError("Retry", p, "unknown retry policy")
		}
		x.retry = p
		return nil
	}
}

// WithConstraintToggling controls whether destination constraints are
// disabled for the duration of the run. Enabled by default.
func WithConstraintToggling(enabled bool) Option {
	return func(x *Executor) error {
		x.toggle = enabled
		return nil
	}
}

// WithCheckpoint records the progress of the run in the file at path.
func WithCheckpoint(path string) Option {
	return func(x *Executor) error {
		if path == "" {
			return porter.NewConfigError("Checkpoint", path, "path cannot be empty")
		}
		x.checkpoint = path
		return nil
	}
}

// WithResume continues the run recorded in the checkpoint file: completed
// entities are skipped, and started entities continue after their last
// committed row without being truncated. It requires WithCheckpoint.
func WithResume(resume bool) Option {
	return func(x *Executor) error {
		x.resume = resume
		return nil
	}
}

// RetryPolicy defines how a rejected batch is retried.
type RetryPolicy int

// Retry policies.
const (
	// RetryNone records a rejected batch without retrying it.
	RetryNone RetryPolicy = iota
	// RetryHalve retries a rejected batch once as two halves.
	RetryHalve
	// RetryBisect splits a rejected batch recursively until the rejected
	// rows are isolated.
	RetryBisect
)

var retryNames = [...]string{
	RetryNone:   "none",
	RetryHalve:  "halve",
	RetryBisect: "bisect",
}

// String returns the name of the policy.
func (p RetryPolicy) String() string {
	if p >= RetryNone && p <= RetryBisect {
		return retryNames[p]
	}
	return "unknown"
}

// ParseRetryPolicy parses a policy name.
func ParseRetryPolicy(s string) (RetryPolicy, error) {
	for p, name := range retryNames {
		if strings.EqualFold(s, name) {
			return RetryPolicy(p), nil
		}
	}
	return 0, porter.NewConfigError("Retry", s, "use none, halve or bisect")
}

func defaultWorkers() int {
	return max(1, runtime.GOMAXPROCS(0))
}
