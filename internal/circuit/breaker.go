// Package circuit implements a circuit breaker that internal/objectstore and
// internal/logstream wrap around every call to the underlying cloud
// service, so a sick backend fails fast instead of piling up blocked
// callers behind a long request timeout.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Execute when the breaker is open or has exhausted
// its half-open trial budget.
var ErrOpen = errors.New("circuit breaker: backend unavailable")

// Config configures a Breaker.
type Config struct {
	// MaxHalfOpenRequests bounds how many trial requests are allowed
	// through while the breaker is half-open.
	MaxHalfOpenRequests uint32

	// Interval is how long the closed state's failure window runs before
	// its counters reset.
	Interval time.Duration

	// OpenTimeout is how long the breaker stays open before allowing a
	// half-open trial.
	OpenTimeout time.Duration

	// ReadyToTrip decides, from the closed-state counts, whether to open.
	ReadyToTrip func(Counts) bool

	OnStateChange func(from, to State)
}

func (c *Config) setDefaults() {
	if c.MaxHalfOpenRequests == 0 {
		c.MaxHalfOpenRequests = 1
	}
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.ReadyToTrip == nil {
		c.ReadyToTrip = func(counts Counts) bool {
			return counts.Requests >= 10 && counts.ConsecutiveFailures >= 5
		}
	}
}

// Counts tracks requests observed within the current window.
type Counts struct {
	Requests             uint32
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

func (c *Counts) onRequest() { c.Requests++ }

func (c *Counts) onSuccess() {
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() { *c = Counts{} }

// Breaker is a single named circuit breaker.
type Breaker struct {
	name string
	cfg  Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New creates a Breaker in the closed state.
func New(name string, cfg Config) *Breaker {
	cfg.setDefaults()
	return &Breaker{
		name:   name,
		cfg:    cfg,
		state:  StateClosed,
		expiry: time.Now().Add(cfg.Interval),
	}
}

// Execute runs fn if the breaker allows it, otherwise returns ErrOpen
// without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.stateLocked(now)

	if state == StateOpen {
		return ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxHalfOpenRequests {
		return ErrOpen
	}
	b.counts.onRequest()
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.stateLocked(now)

	if err == nil {
		b.counts.onSuccess()
		if state == StateHalfOpen {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.onFailure()
	switch state {
	case StateClosed:
		if b.cfg.ReadyToTrip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// stateLocked resolves pending window/timeout transitions and returns the
// resulting state. Caller must hold b.mu.
func (b *Breaker) stateLocked(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts.clear()
			b.expiry = now.Add(b.cfg.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) transition(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.counts.clear()

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.cfg.Interval)
	case StateOpen:
		b.expiry = now.Add(b.cfg.OpenTimeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(prev, state)
	}
}

// State returns the breaker's current state, resolving any pending
// timeout transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(time.Now())
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// Reset forces the breaker back to closed, clearing all counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts.clear()
	b.transition(StateClosed, time.Now())
}
