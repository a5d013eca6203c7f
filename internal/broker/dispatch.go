package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kavachlabs/kavach/internal/coach"
	"github.com/kavachlabs/kavach/internal/intel"
	"github.com/kavachlabs/kavach/internal/observe"
	"github.com/kavachlabs/kavach/pkg/provider/urlscan"
)

// dispatcher routes finalised scammer-leg transcripts into the two analysis
// lanes. The intelligence lane runs one short-lived task per transcript,
// capped by a weighted semaphore; tasks always run to completion because
// every transcript contributes entities. The coaching lane holds a single
// cancellable slot: a newer transcript supersedes the in-flight suggestion.
//
// A coaching result is held back until the intelligence task spawned from
// the same transcript has emitted (or failed), so the operator never sees
// coaching that references intelligence they do not have yet.
type dispatcher struct {
	extractor *intel.Extractor
	agent     *coach.Agent
	scanner   urlscan.Scanner
	state     *intel.State
	cfg       Config
	log       *slog.Logger
	metrics   *observe.Metrics
	clock     func() time.Time

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	emitIntel func(intel.Delta)
	emitCoach func(coach.Suggestion)
	window    func() []coach.ContextEntry

	mu          sync.Mutex
	coachCancel context.CancelFunc
	probed      map[string]bool
}

func newDispatcher(c Collaborators, cfg Config, log *slog.Logger,
	window func() []coach.ContextEntry,
	emitIntel func(intel.Delta), emitCoach func(coach.Suggestion)) *dispatcher {
	return &dispatcher{
		extractor: c.Extractor,
		agent:     c.Coach,
		scanner:   c.Scanner,
		state:     intel.NewState(),
		cfg:       cfg,
		log:       log,
		metrics:   c.Metrics,
		clock:     time.Now,
		sem:       semaphore.NewWeighted(int64(cfg.IntelConcurrency)),
		emitIntel: emitIntel,
		emitCoach: emitCoach,
		window:    window,
		probed:    make(map[string]bool),
	}
}

// HandleTranscript fans one scammer utterance out to both lanes. ctx is the
// session lifetime; teardown cancels everything in flight.
func (d *dispatcher) HandleTranscript(ctx context.Context, text string) {
	intelDone := make(chan struct{})
	if d.extractor != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer close(intelDone)
			d.runIntel(ctx, text)
		}()
	} else {
		close(intelDone)
	}
	d.startCoaching(ctx, intelDone)
}

// RequestCoaching runs the coaching lane on demand, without a fresh
// transcript. The operator leg triggers this explicitly.
func (d *dispatcher) RequestCoaching(ctx context.Context) {
	done := make(chan struct{})
	close(done)
	d.startCoaching(ctx, done)
}

// Snapshot exposes the cumulative intelligence for archival and teardown.
func (d *dispatcher) Snapshot() intel.Snapshot {
	return d.state.Snapshot()
}

// Wait blocks until all lane tasks have finished. Call after cancelling the
// session context.
func (d *dispatcher) Wait() {
	d.wg.Wait()
}

func (d *dispatcher) runIntel(ctx context.Context, text string) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer d.sem.Release(1)

	lctx, cancel := context.WithTimeout(ctx, d.cfg.LLMTimeout)
	start := d.clock()
	findings, err := d.extractor.Analyze(lctx, text)
	d.metrics.RecordLane(lctx, observe.LaneIntel, d.clock().Sub(start), err)
	cancel()
	if err != nil && ctx.Err() != nil {
		return
	}

	delta := d.state.Merge(findings, d.clock())
	if !delta.Empty() {
		d.emitIntel(delta)
	}
	for _, e := range delta.NewEntities {
		if e.Kind == intel.KindURL {
			d.probeURL(ctx, e.Value)
		}
	}
}

// probeURL issues the asynchronous reputation check for a newly discovered
// URL. The outcome may add the malicious_url tactic and raise the threat
// score; it never blocks the envelope that introduced the URL.
func (d *dispatcher) probeURL(ctx context.Context, rawURL string) {
	if d.scanner == nil {
		return
	}
	d.mu.Lock()
	seen := d.probed[rawURL]
	d.probed[rawURL] = true
	d.mu.Unlock()
	if seen {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sctx, cancel := context.WithTimeout(ctx, d.cfg.URLScanTimeout)
		defer cancel()
		start := d.clock()
		verdict, err := d.scanner.Check(sctx, rawURL)
		d.metrics.RecordLane(sctx, observe.LaneURLScan, d.clock().Sub(start), err)
		if err != nil {
			d.log.Warn("dispatch: url probe failed", "url", rawURL, "error", err)
			return
		}
		if !verdict.Malicious {
			return
		}
		delta := d.state.MarkMaliciousURL(d.clock())
		if !delta.Empty() {
			d.emitIntel(delta)
		}
	}()
}

// startCoaching cancels any in-flight suggestion and starts a new one over
// the current context window. gate is closed once the paired intelligence
// emission has happened.
func (d *dispatcher) startCoaching(ctx context.Context, gate <-chan struct{}) {
	if d.agent == nil {
		return
	}

	cctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if d.coachCancel != nil {
		d.coachCancel()
	}
	d.coachCancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		d.runCoaching(cctx, gate)
	}()
}

func (d *dispatcher) runCoaching(ctx context.Context, gate <-chan struct{}) {
	window := d.window()
	if len(window) == 0 {
		return
	}

	budget := d.cfg.LLMTimeout + d.cfg.TTSTimeout
	var suggestion coach.Suggestion
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, budget)
		start := d.clock()
		suggestion, err = d.agent.Suggest(sctx, window)
		d.metrics.RecordLane(sctx, observe.LaneCoach, d.clock().Sub(start), err)
		cancel()
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
	}
	if err != nil {
		d.log.Warn("dispatch: coaching dropped", "error", err)
		return
	}

	// Hold the result until the paired intelligence emission has gone out.
	select {
	case <-gate:
	case <-ctx.Done():
		return
	}
	if ctx.Err() != nil {
		return
	}
	d.emitCoach(suggestion)
}
