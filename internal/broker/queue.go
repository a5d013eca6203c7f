package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kavachlabs/kavach/internal/wire"
)

// ErrSlowConsumer is returned by PushControl when the queue stays full for
// longer than the configured block limit.
var ErrSlowConsumer = errors.New("broker: egress consumer too slow")

// errQueueClosed is returned by pushes after Close.
var errQueueClosed = errors.New("broker: egress queue closed")

// egressQueue is the bounded per-leg envelope queue. Audio envelopes are
// best-effort: when the queue is full the oldest queued audio envelope is
// dropped to make room. Everything else is never dropped; PushControl
// blocks until space frees up, the block limit expires, or ctx is done.
//
// The queue expects a single producer (the session actor) and a single
// consumer (the leg's writer goroutine).
type egressQueue struct {
	capacity   int
	blockLimit time.Duration

	mu      sync.Mutex
	items   []wire.Envelope
	closed  bool
	dropped uint64

	// itemReady and spaceReady carry at most one pending wakeup each;
	// waiters re-check state in a loop.
	itemReady  chan struct{}
	spaceReady chan struct{}
}

func newEgressQueue(capacity int, blockLimit time.Duration) *egressQueue {
	return &egressQueue{
		capacity:   capacity,
		blockLimit: blockLimit,
		itemReady:  make(chan struct{}, 1),
		spaceReady: make(chan struct{}, 1),
	}
}

// PushAudio enqueues a best-effort audio envelope, dropping the oldest
// queued audio envelope when full. It never blocks. The boolean reports
// whether env was enqueued; it is false only when no audio was evictable
// or the queue is closed.
func (q *egressQueue) PushAudio(env wire.Audio) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if len(q.items) >= q.capacity && !q.evictOldestAudioLocked() {
		q.dropped++
		return false
	}
	q.items = append(q.items, env)
	signal(q.itemReady)
	return true
}

// PushControl enqueues a must-deliver envelope. It blocks while the queue
// is full, up to the block limit, then fails with [ErrSlowConsumer].
func (q *egressQueue) PushControl(ctx context.Context, env wire.Envelope) error {
	var deadline <-chan time.Time
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return errQueueClosed
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, env)
			signal(q.itemReady)
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		if deadline == nil {
			t := time.NewTimer(q.blockLimit)
			defer t.Stop()
			deadline = t.C
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrSlowConsumer
		case <-q.spaceReady:
		}
	}
}

// Pop returns the next envelope in FIFO order, blocking until one is
// available. ok is false once the queue is closed and fully drained, or
// when ctx is done.
func (q *egressQueue) Pop(ctx context.Context) (wire.Envelope, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items = q.items[1:]
			signal(q.spaceReady)
			q.mu.Unlock()
			return env, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-q.itemReady:
		}
	}
}

// Close stops accepting new envelopes. Queued envelopes remain poppable so
// teardown can flush them.
func (q *egressQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	signal(q.itemReady)
	signal(q.spaceReady)
}

// Len returns the number of queued envelopes.
func (q *egressQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many audio envelopes were discarded.
func (q *egressQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// evictOldestAudioLocked removes the oldest audio envelope. Reports false
// when the queue holds no audio at all.
func (q *egressQueue) evictOldestAudioLocked() bool {
	for i, it := range q.items {
		if _, ok := it.(wire.Audio); ok {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.dropped++
			return true
		}
	}
	return false
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
