package resilience

import (
	"context"
	"log/slog"

	"github.com/kavachlabs/kavach/pkg/provider/tts"
)

// TTSFailover implements [tts.Provider] across an ordered set of voices.
// Coaching degrades to text-only when the whole group fails, so the
// wrapper never needs to invent a clip.
type TTSFailover struct {
	group *Group[tts.Provider]
}

var _ tts.Provider = (*TTSFailover)(nil)

// NewTTSFailover wraps primary as the preferred voice backend.
func NewTTSFailover(primary tts.Provider, cfg BreakerConfig, log *slog.Logger) *TTSFailover {
	return &TTSFailover{group: NewGroup(primary.Name(), primary, cfg, log)}
}

// AddFallback registers another backend, tried after everything before it.
func (f *TTSFailover) AddFallback(p tts.Provider) {
	f.group.AddFallback(p.Name(), p)
}

// Name reports the primary backend's name.
func (f *TTSFailover) Name() string {
	return f.group.Primary()
}

// Synthesize renders text with the first healthy backend.
func (f *TTSFailover) Synthesize(ctx context.Context, text, voiceID string) (tts.Clip, error) {
	return Call(f.group, func(p tts.Provider) (tts.Clip, error) {
		return p.Synthesize(ctx, text, voiceID)
	})
}
