// Package coach produces spoken coaching suggestions for the operator: a
// short utterance, a strategy label from a closed set, and an intent tag,
// optionally synthesised to audio.
//
// The agent sees a sliding window of recent transcript entries from both
// legs, most recent first. One suggestion is produced per request; the
// caller owns cancellation and supersession of in-flight requests.
package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kavachlabs/kavach/pkg/provider/llm"
	"github.com/kavachlabs/kavach/pkg/provider/tts"
)

// Closed strategy labels.
const (
	StrategyDelay                 = "delay"
	StrategyEmpathy               = "empathy"
	StrategyInformationExtraction = "information_extraction"
	StrategyDeEscalation          = "de_escalation"
	StrategyTerminate             = "terminate"
)

// DefaultWindow is the number of transcript entries shown to the model.
const DefaultWindow = 6

const systemPrompt = `You coach a fraud-response operator who is live on a call with a suspected scammer.
Given the most recent transcript lines (newest first), suggest the single next thing the operator should say or do.
Respond with one JSON object and nothing else:
{"text": "<one short sentence the operator can say>", "strategy": "<one of: delay, empathy, information_extraction, de_escalation, terminate>", "intent": "<short label for what the suggestion tries to achieve>"}
Keep text under 25 words. Prefer information_extraction when the caller is volunteering payment details, terminate when the operator is at risk.`

// ContextEntry is one transcript line shown to the model.
type ContextEntry struct {
	Speaker string
	Text    string
}

// Suggestion is one coaching result. Audio is empty when synthesis is
// disabled or failed; the suggestion is still usable as text.
type Suggestion struct {
	Text       string
	Strategy   string
	Intent     string
	Audio      []byte
	AudioCodec string
	CreatedAt  time.Time
}

// Option is a functional option for configuring an [Agent].
type Option func(*Agent)

// WithTTS enables audio synthesis of each suggestion with the given voice.
func WithTTS(p tts.Provider, voiceID string) Option {
	return func(a *Agent) {
		a.tts = p
		a.voiceID = voiceID
	}
}

// WithWindow caps how many context entries are sent to the model.
// Default: [DefaultWindow].
func WithWindow(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.window = n
		}
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) {
		a.log = log
	}
}

// Agent turns transcript context windows into coaching suggestions. Safe
// for concurrent use.
type Agent struct {
	llm     llm.Provider
	tts     tts.Provider
	voiceID string
	window  int
	log     *slog.Logger
}

// New creates an Agent backed by the given model.
func New(p llm.Provider, opts ...Option) *Agent {
	a := &Agent{
		llm:    p,
		window: DefaultWindow,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// coachReply is the schema the model must produce.
type coachReply struct {
	Text     string `json:"text"`
	Strategy string `json:"strategy"`
	Intent   string `json:"intent"`
}

// Suggest produces one coaching suggestion for the given context window
// (most recent entry first). The window is trimmed to the configured size.
// Schema violations and unknown strategy labels are errors; the caller
// decides whether to retry or drop the lane's output.
func (a *Agent) Suggest(ctx context.Context, window []ContextEntry) (Suggestion, error) {
	if len(window) == 0 {
		return Suggestion{}, fmt.Errorf("coach: empty context window")
	}
	if len(window) > a.window {
		window = window[:a.window]
	}

	resp, err := a.llm.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: renderWindow(window)}},
		Temperature:  0.4,
		MaxTokens:    200,
		ForceJSON:    true,
	})
	if err != nil {
		return Suggestion{}, fmt.Errorf("coach: completion: %w", err)
	}

	var reply coachReply
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &reply); err != nil {
		return Suggestion{}, fmt.Errorf("coach: malformed reply: %w", err)
	}
	reply.Text = strings.TrimSpace(reply.Text)
	if reply.Text == "" {
		return Suggestion{}, fmt.Errorf("coach: reply missing text")
	}
	if !validStrategy(reply.Strategy) {
		return Suggestion{}, fmt.Errorf("coach: unknown strategy %q", reply.Strategy)
	}

	s := Suggestion{
		Text:      reply.Text,
		Strategy:  reply.Strategy,
		Intent:    reply.Intent,
		CreatedAt: time.Now(),
	}
	a.synthesize(ctx, &s)
	return s, nil
}

// synthesize attaches audio to s. Synthesis failures degrade the suggestion
// to text-only rather than failing the lane.
func (a *Agent) synthesize(ctx context.Context, s *Suggestion) {
	if a.tts == nil {
		return
	}
	clip, err := a.tts.Synthesize(ctx, s.Text, a.voiceID)
	if err != nil {
		a.log.Warn("coach: synthesis failed, delivering text only",
			"provider", a.tts.Name(), "error", err)
		return
	}
	s.Audio = clip.Audio
	s.AudioCodec = clip.Codec
}

// renderWindow formats the context for the model, newest first.
func renderWindow(window []ContextEntry) string {
	var b strings.Builder
	b.WriteString("Most recent lines first:\n")
	for _, e := range window {
		b.WriteString(e.Speaker)
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

func validStrategy(s string) bool {
	switch s {
	case StrategyDelay, StrategyEmpathy, StrategyInformationExtraction,
		StrategyDeEscalation, StrategyTerminate:
		return true
	}
	return false
}

// stripFences removes a markdown code fence wrapper if the model added one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
