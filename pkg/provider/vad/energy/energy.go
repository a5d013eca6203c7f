// Package energy provides a root-mean-square energy VAD engine.
//
// It classifies a frame as speech when its RMS level crosses a fixed
// threshold, with a short hangover so that natural intra-word dips do not
// split utterances. No model download or cgo is required, which makes it the
// default engine.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/kavachlabs/kavach/pkg/provider/vad"
)

const (
	// defaultThreshold is the RMS level (in 16-bit PCM units, max 32767)
	// below which a frame counts as silence. 300 corresponds to near-silence
	// on typical telephony captures.
	defaultThreshold = 300.0

	// hangoverFrames is how many consecutive sub-threshold frames are still
	// reported as speech after a voiced frame. At 20 ms frames this bridges
	// dips of up to 60 ms.
	hangoverFrames = 3
)

// Compile-time interface assertion.
var _ vad.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithThreshold sets the default RMS threshold applied when a session config
// leaves EnergyThreshold zero.
func WithThreshold(rms float64) Option {
	return func(e *Engine) {
		e.threshold = rms
	}
}

// WithHangover sets how many trailing sub-threshold frames keep reporting
// speech. Zero disables the hangover.
func WithHangover(frames int) Option {
	return func(e *Engine) {
		e.hangover = frames
	}
}

// Engine implements vad.Engine using RMS energy.
type Engine struct {
	threshold float64
	hangover  int
}

// New creates an energy Engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		threshold: defaultThreshold,
		hangover:  hangoverFrames,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid frame size %d ms", cfg.FrameSizeMs)
	}
	threshold := cfg.EnergyThreshold
	if threshold == 0 {
		threshold = e.threshold
	}
	if threshold < 0 {
		return nil, fmt.Errorf("energy: negative threshold %f", threshold)
	}
	return &session{
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		threshold:  threshold,
		hangover:   e.hangover,
	}, nil
}

type session struct {
	frameBytes int
	threshold  float64
	hangover   int

	remaining int // hangover frames left after the last voiced frame
	closed    bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errors.New("energy: session is closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	rms := computeRMS(frame)
	ev := vad.Event{Energy: rms}
	if rms >= s.threshold {
		s.remaining = s.hangover
		ev.IsSpeech = true
	} else if s.remaining > 0 {
		s.remaining--
		ev.IsSpeech = true
	}
	return ev, nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.remaining = 0
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer, in PCM sample units.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
