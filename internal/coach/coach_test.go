package coach

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kavachlabs/kavach/pkg/provider/llm"
	llmmock "github.com/kavachlabs/kavach/pkg/provider/llm/mock"
	"github.com/kavachlabs/kavach/pkg/provider/tts"
	ttsmock "github.com/kavachlabs/kavach/pkg/provider/tts/mock"
)

func window(lines ...string) []ContextEntry {
	w := make([]ContextEntry, len(lines))
	for i, l := range lines {
		speaker, text, _ := strings.Cut(l, ": ")
		w[i] = ContextEntry{Speaker: speaker, Text: text}
	}
	return w
}

func TestSuggest(t *testing.T) {
	p := &llmmock.Provider{Responses: []llm.Response{{
		Content: `{"text": "Ask which branch he claims to call from.", "strategy": "delay", "intent": "stall for verification"}`,
	}}}
	a := New(p)

	s, err := a.Suggest(context.Background(), window("scammer: share your OTP now"))
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if s.Strategy != StrategyDelay {
		t.Errorf("strategy = %q, want %q", s.Strategy, StrategyDelay)
	}
	if s.Intent != "stall for verification" {
		t.Errorf("intent = %q", s.Intent)
	}
	if s.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if len(s.Audio) != 0 {
		t.Error("audio present without a TTS provider")
	}

	req := p.CompleteCalls[0]
	if !req.ForceJSON {
		t.Error("request did not force JSON output")
	}
	if !strings.Contains(req.Messages[0].Content, "scammer: share your OTP now") {
		t.Errorf("context window missing from prompt: %q", req.Messages[0].Content)
	}
}

func TestSuggest_WindowTrimmed(t *testing.T) {
	p := &llmmock.Provider{Responses: []llm.Response{{
		Content: `{"text": "ok", "strategy": "empathy", "intent": "x"}`,
	}}}
	a := New(p, WithWindow(2))

	lines := window(
		"scammer: newest",
		"operator: middle",
		"scammer: oldest",
	)
	if _, err := a.Suggest(context.Background(), lines); err != nil {
		t.Fatalf("Suggest: %v", err)
	}

	prompt := p.CompleteCalls[0].Messages[0].Content
	if !strings.Contains(prompt, "newest") || !strings.Contains(prompt, "middle") {
		t.Errorf("window head missing: %q", prompt)
	}
	if strings.Contains(prompt, "oldest") {
		t.Errorf("entry beyond the window leaked into the prompt: %q", prompt)
	}
}

func TestSuggest_WithTTS(t *testing.T) {
	p := &llmmock.Provider{Responses: []llm.Response{{
		Content: `{"text": "Hang up now.", "strategy": "terminate", "intent": "protect operator"}`,
	}}}
	voice := &ttsmock.Provider{Clip: tts.Clip{Audio: []byte{1, 2, 3}, Codec: "mp3"}}
	a := New(p, WithTTS(voice, "guide"))

	s, err := a.Suggest(context.Background(), window("scammer: I know where you live"))
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(s.Audio) != 3 || s.AudioCodec != "mp3" {
		t.Fatalf("audio = %v codec = %q", s.Audio, s.AudioCodec)
	}
	if got := voice.SynthesizeCalls[0]; got.Text != "Hang up now." || got.VoiceID != "guide" {
		t.Errorf("synthesize call = %+v", got)
	}
}

func TestSuggest_TTSFailureDegradesToText(t *testing.T) {
	p := &llmmock.Provider{Responses: []llm.Response{{
		Content: `{"text": "Keep him talking.", "strategy": "information_extraction", "intent": "gather"}`,
	}}}
	voice := &ttsmock.Provider{SynthesizeErr: errors.New("voice backend down")}
	a := New(p, WithTTS(voice, "guide"))

	s, err := a.Suggest(context.Background(), window("scammer: send it to fraud@ybl"))
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if s.Text == "" || len(s.Audio) != 0 {
		t.Fatalf("want text-only suggestion, got %+v", s)
	}
}

func TestSuggest_Errors(t *testing.T) {
	tests := []struct {
		name     string
		provider *llmmock.Provider
	}{
		{"llm failure", &llmmock.Provider{CompleteErr: errors.New("down")}},
		{"not json", &llmmock.Provider{Responses: []llm.Response{{Content: "try empathy"}}}},
		{"empty text", &llmmock.Provider{Responses: []llm.Response{{Content: `{"text": " ", "strategy": "delay", "intent": "x"}`}}}},
		{"unknown strategy", &llmmock.Provider{Responses: []llm.Response{{Content: `{"text": "hi", "strategy": "hypnosis", "intent": "x"}`}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.provider)
			if _, err := a.Suggest(context.Background(), window("scammer: hello")); err == nil {
				t.Fatal("want error")
			}
		})
	}
}

func TestSuggest_EmptyWindow(t *testing.T) {
	a := New(&llmmock.Provider{})
	if _, err := a.Suggest(context.Background(), nil); err == nil {
		t.Fatal("want error for empty window")
	}
}

func TestSuggest_FencedReplyAccepted(t *testing.T) {
	p := &llmmock.Provider{Responses: []llm.Response{{
		Content: "```json\n{\"text\": \"ok\", \"strategy\": \"de_escalation\", \"intent\": \"calm\"}\n```",
	}}}
	a := New(p)
	s, err := a.Suggest(context.Background(), window("scammer: hello"))
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if s.Strategy != StrategyDeEscalation {
		t.Errorf("strategy = %q", s.Strategy)
	}
}
