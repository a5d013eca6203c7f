package resilience

import (
	"context"
	"log/slog"

	"github.com/kavachlabs/kavach/pkg/provider/stt"
)

// STTFailover implements [stt.Provider] across an ordered set of
// recognisers. Each utterance is independent, so failover happens per
// Transcribe call.
type STTFailover struct {
	group *Group[stt.Provider]
}

var _ stt.Provider = (*STTFailover)(nil)

// NewSTTFailover wraps primary as the preferred recogniser.
func NewSTTFailover(primary stt.Provider, cfg BreakerConfig, log *slog.Logger) *STTFailover {
	return &STTFailover{group: NewGroup(primary.Name(), primary, cfg, log)}
}

// AddFallback registers another recogniser, tried after everything before
// it.
func (f *STTFailover) AddFallback(p stt.Provider) {
	f.group.AddFallback(p.Name(), p)
}

// Name reports the primary backend's name.
func (f *STTFailover) Name() string {
	return f.group.Primary()
}

// Transcribe recognises one utterance with the first healthy backend.
func (f *STTFailover) Transcribe(ctx context.Context, pcm []byte, languageHint string) (stt.Result, error) {
	return Call(f.group, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, pcm, languageHint)
	})
}
