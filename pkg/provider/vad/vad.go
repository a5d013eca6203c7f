// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine surfaces a frame-level speech detector as a stateful,
// per-stream session. Each call leg holds its own session; the transcription
// driver uses the per-frame verdicts to find utterance boundaries.
//
// VAD is synchronous by design: ProcessFrame returns immediately, making it
// suitable for low-latency pipeline stages that gate STT input.
//
// Engines must be safe for concurrent use across different sessions. A
// single SessionHandle must not be shared across goroutines.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame returns an error if the supplied frame does not match.
	FrameSizeMs int

	// EnergyThreshold is the engine-native activation level above which a
	// frame counts as speech. Zero selects the engine's default.
	EnergyThreshold float64
}

// Event is the detection result for a single frame.
type Event struct {
	// IsSpeech reports whether the frame was classified as voiced.
	IsSpeech bool

	// Energy is the engine-native activation level of the frame, for
	// diagnostics and threshold tuning.
	Energy float64
}

// SessionHandle is an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses one frame of 16-bit little-endian PCM at the
	// configured SampleRate and FrameSizeMs. It must not block.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases all session resources. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a session with the given configuration. Returns an
	// error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
