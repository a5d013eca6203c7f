package broker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kavachlabs/kavach/internal/observe"
	"github.com/kavachlabs/kavach/internal/wire"
	"github.com/kavachlabs/kavach/pkg/audio"
	"github.com/kavachlabs/kavach/pkg/memory"
	"github.com/kavachlabs/kavach/pkg/provider/stt"
	"github.com/kavachlabs/kavach/pkg/provider/vad"
)

// vadFrameMs is the frame granularity fed to the speech detector.
const vadFrameMs = 20

// ingestBuffer is how many PCM chunks may queue between the ingress pump
// and the transcriber before chunks are shed. Transcription lag must never
// block the audio relay.
const ingestBuffer = 64

// transcriber finds utterance boundaries in one leg's normalised audio and
// turns them into transcript entries.
//
// An utterance is finalised when either the voiced window reaches the
// configured minimum utterance length, or trailing silence follows enough
// voiced audio. Windows that stay essentially silent are discarded without
// an STT call.
type transcriber struct {
	role    wire.Role
	stt     stt.Provider
	detect  vad.SessionHandle
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics
	emit    func(memory.TranscriptEntry)
	clock   func() time.Time
	in      chan []byte
	dropped atomic.Uint64

	frameBytes int
	partial    []byte

	// Current window. buf holds frames from the first voiced frame up to
	// and including the last voiced frame; tail holds trailing silence
	// frames not yet claimed by any utterance.
	buf        []byte
	tail       []byte
	voiced     time.Duration
	silence    time.Duration
	windowSpan time.Duration
	startedAt  time.Time
	lastVoiced time.Time
}

func newTranscriber(role wire.Role, provider stt.Provider, detect vad.SessionHandle, cfg Config, log *slog.Logger, metrics *observe.Metrics, emit func(memory.TranscriptEntry)) *transcriber {
	return &transcriber{
		role:       role,
		stt:        provider,
		detect:     detect,
		cfg:        cfg,
		log:        log,
		metrics:    metrics,
		emit:       emit,
		clock:      time.Now,
		in:         make(chan []byte, ingestBuffer),
		frameBytes: audio.CanonicalSampleRate * vadFrameMs / 1000 * audio.BytesPerSample,
	}
}

// Ingest hands one normalised PCM chunk to the driver. It never blocks;
// when the driver is saturated the chunk is shed.
func (t *transcriber) Ingest(pcm []byte) {
	select {
	case t.in <- pcm:
	default:
		t.dropped.Add(1)
	}
}

// run consumes chunks until ctx is done or the input channel is closed,
// then attempts a final flush of any viable window.
func (t *transcriber) run(ctx context.Context) {
	defer t.detect.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case pcm, ok := <-t.in:
			if !ok {
				t.flush(ctx)
				return
			}
			t.process(ctx, pcm)
		}
	}
}

// process splits a chunk into detector frames and advances the window
// state machine.
func (t *transcriber) process(ctx context.Context, pcm []byte) {
	data := append(t.partial, pcm...)
	for len(data) >= t.frameBytes {
		frame := data[:t.frameBytes]
		data = data[t.frameBytes:]
		t.advance(ctx, frame)
	}
	t.partial = append(t.partial[:0], data...)
}

func (t *transcriber) advance(ctx context.Context, frame []byte) {
	ev, err := t.detect.ProcessFrame(frame)
	if err != nil {
		t.log.Warn("transcriber: vad frame rejected", "role", t.role, "error", err)
		return
	}
	frameDur := time.Duration(vadFrameMs) * time.Millisecond
	now := t.clock()

	if ev.IsSpeech {
		if t.voiced == 0 {
			// Window opens on the first voiced frame; leading silence is
			// never buffered.
			t.startedAt = now.Add(-frameDur)
		}
		// Silence inside an utterance belongs to it.
		t.buf = append(t.buf, t.tail...)
		t.tail = t.tail[:0]
		t.buf = append(t.buf, frame...)
		t.voiced += frameDur
		t.silence = 0
		t.lastVoiced = now
	} else {
		if t.voiced == 0 {
			return
		}
		t.tail = append(t.tail, frame...)
		t.silence += frameDur
	}
	t.windowSpan += frameDur

	switch {
	case t.voiced >= t.cfg.STTWindow:
		t.finalise(ctx)
	case t.silence >= t.cfg.EndpointSilence && t.voiced >= t.cfg.MinVoiced:
		t.finalise(ctx)
	case t.windowSpan >= t.cfg.DiscardWindow && t.voiced < t.cfg.DiscardVoiced:
		// Essentially silent window: drop it unheard.
		t.reset(false)
	}
}

// flush finalises a viable in-progress window at shutdown.
func (t *transcriber) flush(ctx context.Context) {
	if t.voiced >= t.cfg.MinVoiced {
		t.finalise(ctx)
	}
}

// finalise transcribes the buffered window and emits a transcript entry.
// The trailing silence stays behind as the seed of the next window.
func (t *transcriber) finalise(ctx context.Context) {
	window := make([]byte, len(t.buf))
	copy(window, t.buf)
	startedAt, endedAt := t.startedAt, t.lastVoiced
	t.reset(true)

	res, err := t.transcribe(ctx, window)
	if err != nil {
		t.log.Warn("transcriber: window discarded", "role", t.role, "error", err)
		return
	}
	if res.Text == "" {
		return
	}
	t.emit(memory.TranscriptEntry{
		Speaker:    string(t.role),
		Text:       res.Text,
		Language:   res.Language,
		Confidence: res.Confidence,
		StartedAt:  startedAt,
		EndedAt:    endedAt,
	})
}

// transcribe calls the STT collaborator with the configured deadline,
// retrying once on failure.
func (t *transcriber) transcribe(parent context.Context, window []byte) (stt.Result, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		ctx, cancel := context.WithTimeout(parent, t.cfg.STTTimeout)
		start := time.Now()
		res, err := t.stt.Transcribe(ctx, window, t.cfg.LanguageHint)
		t.metrics.RecordLane(ctx, observe.LaneSTT, time.Since(start), err)
		cancel()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if parent.Err() != nil {
			break
		}
	}
	return stt.Result{}, lastErr
}

// reset clears the window. keepTail preserves trailing silence frames for
// the next window; an endpoint consumed only the voiced span.
func (t *transcriber) reset(keepTail bool) {
	t.buf = t.buf[:0]
	if !keepTail {
		t.tail = t.tail[:0]
	}
	t.voiced = 0
	t.silence = 0
	t.windowSpan = 0
	t.detect.Reset()
}
