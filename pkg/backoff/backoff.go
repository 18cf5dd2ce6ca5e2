// Package backoff implements the RetryStrategy object-store and log-stream
// callers consult on every failed attempt: bounded exponential backoff with
// jitter for transient faults, immediate give-up for anything definite.
package backoff

import (
	"math"
	"math/rand"
	"time"

	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// Decision is the outcome of consulting a Strategy after a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// RetryAfter builds a Decision that tells the caller to retry after delay.
func RetryAfter(delay time.Duration) Decision { return Decision{Retry: true, Delay: delay} }

// GiveUp builds a Decision that tells the caller to stop retrying.
func GiveUp() Decision { return Decision{Retry: false} }

// Strategy is consulted with (errorKind, attemptNumber) and decides whether
// to retry and after how long.
type Strategy interface {
	Decide(kind cerrors.Kind, attempt int) Decision
}

// Config configures an ExponentialStrategy.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultConfig returns sensible defaults for exponential backoff with
// jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// ExponentialStrategy retries transient/throttled/busy/timed-out faults with
// exponential backoff and gives up on everything else, or once MaxAttempts
// has been reached.
type ExponentialStrategy struct {
	cfg Config
}

// New creates an ExponentialStrategy, filling in zero-valued fields from
// DefaultConfig.
func New(cfg Config) *ExponentialStrategy {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	return &ExponentialStrategy{cfg: cfg}
}

// Decide implements Strategy.
func (s *ExponentialStrategy) Decide(kind cerrors.Kind, attempt int) Decision {
	if attempt >= s.cfg.MaxAttempts {
		return GiveUp()
	}
	if !cerrors.Retryable(kind) {
		return GiveUp()
	}
	return RetryAfter(s.delay(attempt))
}

func (s *ExponentialStrategy) delay(attempt int) time.Duration {
	delay := float64(s.cfg.InitialDelay) * math.Pow(s.cfg.Multiplier, float64(attempt-1))
	if delay > float64(s.cfg.MaxDelay) {
		delay = float64(s.cfg.MaxDelay)
	}
	if s.cfg.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
