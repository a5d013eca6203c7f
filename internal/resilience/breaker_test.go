package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

// fakeClock drives breaker time deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	b := NewBreaker(cfg, nil)
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b.clock = func() time.Time { return clk.now }
	return b, clk
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestBreakerForwardsWhileClosed(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Name: "stt"})

	calls := 0
	for range 10 {
		if err := b.Do(func() error { calls++; return nil }); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if calls != 10 {
		t.Fatalf("calls = %d, want 10", calls)
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureLimit: 3})

	for range 3 {
		if err := b.Do(fail); !errors.Is(err, errBackend) {
			t.Fatalf("Do: %v", err)
		}
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}

	// Open breaker rejects without touching the backend.
	calls := 0
	err := b.Do(func() error { calls++; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("Do = %v, want ErrBreakerOpen", err)
	}
	if calls != 0 {
		t.Fatalf("backend called %d times while open", calls)
	}
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureLimit: 3})

	_ = b.Do(fail)
	_ = b.Do(fail)
	_ = b.Do(succeed)
	_ = b.Do(fail)
	_ = b.Do(fail)

	if b.State() != Closed {
		t.Fatalf("state = %v, want closed (failures were not consecutive)", b.State())
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{FailureLimit: 1, Cooldown: time.Minute})

	_ = b.Do(fail)
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}

	clk.advance(time.Minute)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", b.State())
	}
}

func TestBreakerClosesAfterSuccessfulProbes(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{FailureLimit: 1, Cooldown: time.Minute, ProbeQuota: 2})

	_ = b.Do(fail)
	clk.advance(time.Minute)

	for range 2 {
		if err := b.Do(succeed); err != nil {
			t.Fatalf("probe: %v", err)
		}
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed after probe quota", b.State())
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{FailureLimit: 1, Cooldown: time.Minute, ProbeQuota: 3})

	_ = b.Do(fail)
	clk.advance(time.Minute)

	if err := b.Do(fail); !errors.Is(err, errBackend) {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}
	if err := b.Do(succeed); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("Do = %v, want ErrBreakerOpen during renewed cooldown", err)
	}
}

func TestBreakerProbeQuotaBoundsHalfOpenCalls(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{FailureLimit: 1, Cooldown: time.Minute, ProbeQuota: 2})

	_ = b.Do(fail)
	clk.advance(time.Minute)

	calls := 0
	slow := func() error { calls++; return nil }
	_ = b.Do(slow)

	// One probe spent, one left; a third attempt before the breaker closes
	// must be rejected.
	if err := b.Do(slow); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureLimit: 1})

	_ = b.Do(fail)
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	b.Reset()
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}
	if err := b.Do(succeed); err != nil {
		t.Fatalf("Do after reset: %v", err)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open", State(42): "unknown"}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
