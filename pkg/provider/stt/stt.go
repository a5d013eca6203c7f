// Package stt defines the Provider interface for speech-to-text backends.
//
// Providers are batch engines: the broker buffers a leg's canonical PCM,
// detects utterance boundaries, and hands each complete utterance to
// Transcribe. Implementations must be safe for concurrent use; one provider
// instance serves every active call.
package stt

import "context"

// Result is one transcription outcome for a complete utterance.
type Result struct {
	// Text is the recognised utterance, trimmed. Empty when the engine heard
	// nothing intelligible; callers drop empty results silently.
	Text string

	// Language is the ISO 639-1 code of the detected (or requested) language.
	Language string

	// Confidence is the engine's overall confidence in [0, 1].
	Confidence float64
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Name returns a short identifier for logs and metrics ("whisper").
	Name() string

	// Transcribe recognises one utterance of canonical PCM (16 kHz, mono,
	// 16-bit little-endian). languageHint is an ISO 639-1 code or empty for
	// auto-detection. Respects ctx cancellation and deadlines.
	Transcribe(ctx context.Context, pcm []byte, languageHint string) (Result, error)
}
