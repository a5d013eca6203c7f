// Package resilience protects the analysis lanes from failing
// collaborators. A [Breaker] is a three-state circuit breaker; a [Group]
// composes a primary provider with ordered fallbacks, each behind its own
// breaker, so a dead backend is bypassed instead of stalling a live call.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker refuses
// calls.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects every call until the cooldown elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through to decide
	// whether the backend has recovered.
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

// BreakerConfig tunes one [Breaker]. Zero fields take the defaults.
type BreakerConfig struct {
	// Name labels the breaker in logs.
	Name string

	// FailureLimit is how many consecutive failures trip the breaker.
	// Default 5.
	FailureLimit int

	// Cooldown is how long a tripped breaker refuses calls before probing
	// the backend again. Default 30s.
	Cooldown time.Duration

	// ProbeQuota is how many probe calls the half-open state admits; that
	// many consecutive successes close the breaker, any failure re-opens
	// it. Default 3.
	ProbeQuota int
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name         string
	failureLimit int
	cooldown     time.Duration
	probeQuota   int
	log          *slog.Logger
	clock        func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	trippedAt time.Time
	probes    int
	probeOK   int
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig, log *slog.Logger) *Breaker {
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		name:         cfg.Name,
		failureLimit: cfg.FailureLimit,
		cooldown:     cfg.Cooldown,
		probeQuota:   cfg.ProbeQuota,
		log:          log,
		clock:        time.Now,
	}
}

// Do runs fn when the breaker admits the call, otherwise it returns
// [ErrBreakerOpen] without touching the backend.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it counts as a
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.clock().Sub(b.trippedAt) < b.cooldown {
			return false, ErrBreakerOpen
		}
		b.state = HalfOpen
		b.probes = 0
		b.probeOK = 0
		b.log.Info("breaker half-open", "name", b.name)
	}
	if b.state == HalfOpen {
		if b.probes >= b.probeQuota {
			return false, ErrBreakerOpen
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if probe {
			b.probeOK++
			if b.probeOK >= b.probeQuota {
				b.state = Closed
				b.failures = 0
				b.log.Info("breaker closed", "name", b.name)
			}
		} else {
			b.failures = 0
		}
		return
	}

	b.trippedAt = b.clock()
	if probe {
		b.state = Open
		b.failures = b.failureLimit
		b.log.Warn("breaker re-opened by failed probe", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.failureLimit {
		b.state = Open
		b.log.Warn("breaker opened", "name", b.name, "failures", b.failures)
	}
}

// State reports the effective state: an open breaker whose cooldown has
// elapsed reads as half-open even before the next call performs the
// transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.clock().Sub(b.trippedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probes = 0
	b.probeOK = 0
}
