// Package tts defines the Provider interface for text-to-speech backends.
//
// Coaching suggestions are short, so the surface is batch: one Synthesize
// call per suggestion, returning the complete clip. Implementations must be
// safe for concurrent use.
package tts

import "context"

// Clip is one synthesised audio clip.
type Clip struct {
	// Audio is the encoded clip.
	Audio []byte

	// Codec names the encoding ("pcm-16000", "wav-pcm", "mp3"). Forwarded
	// verbatim in the audio_codec field of coaching envelopes.
	Codec string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Name returns a short identifier for logs and metrics ("elevenlabs").
	Name() string

	// Synthesize renders text with the given voice. An empty voiceID selects
	// the provider's configured default voice. Respects ctx cancellation.
	Synthesize(ctx context.Context, text, voiceID string) (Clip, error)
}
