// Package resilience guards worker calls to the AI Gateway.
//
// The workers sit behind a single gateway, and its calls are expensive: a
// synthesis chat completion or a TTS line can run for a minute or more. When
// the gateway is down, every queued job would otherwise burn its full
// timeout before failing. [Breaker] fails those calls fast instead: after a
// few consecutive failures it rejects calls outright, then lets a single
// probe through once a cooldown has passed.
//
// Breaker is safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker is rejecting
// calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's operating mode.
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects every call until the cooldown elapses.
	Open

	// HalfOpen lets one probe call through; its outcome decides between
	// Closed and Open.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a [Breaker]. Zero fields take the defaults, which are sized
// for gateway traffic: provider drivers already retry transient failures, so
// three consecutive errors reaching the worker mean the gateway itself is
// struggling, and the 30 s cooldown spans a typical gateway restart.
type Config struct {
	// Name labels the breaker in log output.
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 3.
	Threshold int

	// Cooldown is how long the breaker rejects calls before allowing a
	// probe. Default: 30s.
	Cooldown time.Duration
}

// Breaker is a three-state circuit breaker with a single-probe half-open
// phase.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker builds a [Breaker] from cfg, filling in defaults.
func NewBreaker(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
	}
}

// Do runs fn unless the breaker is rejecting calls. While open it returns
// [ErrCircuitOpen] without invoking fn; after the cooldown exactly one
// caller is admitted as a probe and concurrent callers keep getting
// [ErrCircuitOpen] until the probe resolves.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()
	b.settle(probe, err)
	return err
}

// State reports the breaker's current mode.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// Reset forces the breaker closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openedAt = time.Time{}
	b.probing = false
}

// admit decides whether a call may proceed and whether it is the half-open
// probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case Open:
		return false, ErrCircuitOpen
	case HalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		slog.Info("circuit breaker probing", "name", b.name)
		return true, nil
	default:
		return false, nil
	}
}

// settle records a call outcome.
func (b *Breaker) settle(probe bool, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
		if callErr != nil {
			b.openedAt = time.Now()
			slog.Warn("circuit breaker re-opened", "name", b.name)
			return
		}
		b.failures = 0
		b.openedAt = time.Time{}
		slog.Info("circuit breaker closed", "name", b.name)
		return
	}

	if callErr == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold && b.openedAt.IsZero() {
		b.openedAt = time.Now()
		slog.Warn("circuit breaker opened",
			"name", b.name, "consecutive_failures", b.failures)
	}
}

// stateLocked derives the mode from the failure bookkeeping. Must be called
// with b.mu held.
func (b *Breaker) stateLocked() State {
	if b.openedAt.IsZero() {
		return Closed
	}
	if time.Since(b.openedAt) < b.cooldown {
		return Open
	}
	return HalfOpen
}
