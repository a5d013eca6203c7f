package resilience

import (
	"context"
	"log/slog"

	"github.com/kavachlabs/kavach/pkg/provider/llm"
)

// LLMFailover implements [llm.Provider] across an ordered set of LLM
// backends. Both analysis lanes can keep running on a fallback model while
// the primary's breaker cools down.
type LLMFailover struct {
	group *Group[llm.Provider]
}

var _ llm.Provider = (*LLMFailover)(nil)

// NewLLMFailover wraps primary as the preferred backend.
func NewLLMFailover(primary llm.Provider, cfg BreakerConfig, log *slog.Logger) *LLMFailover {
	return &LLMFailover{group: NewGroup(primary.Name(), primary, cfg, log)}
}

// AddFallback registers another backend, tried after everything before it.
func (f *LLMFailover) AddFallback(p llm.Provider) {
	f.group.AddFallback(p.Name(), p)
}

// Name reports the primary backend's name.
func (f *LLMFailover) Name() string {
	return f.group.Primary()
}

// Complete sends req to the first healthy backend.
func (f *LLMFailover) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return Call(f.group, func(p llm.Provider) (llm.Response, error) {
		return p.Complete(ctx, req)
	})
}
