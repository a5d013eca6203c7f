package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllBackendsFailed is returned when every entry of a [Group] failed or
// sat behind an open breaker.
var ErrAllBackendsFailed = errors.New("resilience: all backends failed")

// entry pairs one backend with its dedicated breaker.
type entry[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// Group tries a primary backend first and falls through to fallbacks in
// registration order. Every entry carries its own [Breaker], so a tripped
// primary is skipped outright instead of burning its cooldown on each call.
type Group[T any] struct {
	entries []entry[T]
	cfg     BreakerConfig
	log     *slog.Logger
}

// NewGroup creates a [Group] with primary as its first entry. The breaker
// config is shared by all entries; each gets its own instance.
func NewGroup[T any](primaryName string, primary T, cfg BreakerConfig, log *slog.Logger) *Group[T] {
	if log == nil {
		log = slog.Default()
	}
	g := &Group[T]{cfg: cfg, log: log}
	g.add(primaryName, primary)
	return g
}

// AddFallback appends a backend tried after everything registered before it.
func (g *Group[T]) AddFallback(name string, backend T) {
	g.add(name, backend)
}

func (g *Group[T]) add(name string, backend T) {
	cfg := g.cfg
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		backend: backend,
		breaker: NewBreaker(cfg, g.log),
	})
}

// Primary returns the name of the first entry.
func (g *Group[T]) Primary() string {
	return g.entries[0].name
}

// Call invokes fn against each healthy entry in order until one succeeds.
// Entries behind an open breaker are skipped. When every entry fails the
// last error is wrapped in [ErrAllBackendsFailed].
func Call[T, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.entries {
		e := &g.entries[i]
		var out R
		err := e.breaker.Do(func() error {
			var callErr error
			out, callErr = fn(e.backend)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			g.log.Debug("skipping backend, breaker open", "backend", e.name)
			continue
		}
		g.log.Warn("backend failed, trying next", "backend", e.name, "error", err)
	}
	return zero, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}
