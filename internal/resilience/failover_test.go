package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kavachlabs/kavach/internal/resilience"
	"github.com/kavachlabs/kavach/pkg/provider/llm"
	llmmock "github.com/kavachlabs/kavach/pkg/provider/llm/mock"
	"github.com/kavachlabs/kavach/pkg/provider/stt"
	sttmock "github.com/kavachlabs/kavach/pkg/provider/stt/mock"
	"github.com/kavachlabs/kavach/pkg/provider/tts"
	ttsmock "github.com/kavachlabs/kavach/pkg/provider/tts/mock"
)

var breakerCfg = resilience.BreakerConfig{FailureLimit: 2, Cooldown: time.Hour}

func TestSTTFailoverUsesPrimary(t *testing.T) {
	primary := &sttmock.Provider{
		NameValue: "whisper",
		Results:   []stt.Result{{Text: "hello", Confidence: 0.9}},
	}
	fallback := &sttmock.Provider{NameValue: "backup"}

	f := resilience.NewSTTFailover(primary, breakerCfg, nil)
	f.AddFallback(fallback)

	res, err := f.Transcribe(context.Background(), []byte{1, 2}, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello" {
		t.Fatalf("result = %+v", res)
	}
	if f.Name() != "whisper" {
		t.Fatalf("Name() = %q", f.Name())
	}
	if len(fallback.TranscribeCalls) != 0 {
		t.Fatalf("fallback called %d times", len(fallback.TranscribeCalls))
	}
}

func TestSTTFailoverFallsThrough(t *testing.T) {
	primary := &sttmock.Provider{NameValue: "whisper", TranscribeErr: errors.New("engine crashed")}
	fallback := &sttmock.Provider{
		NameValue: "backup",
		Results:   []stt.Result{{Text: "recovered"}},
	}

	f := resilience.NewSTTFailover(primary, breakerCfg, nil)
	f.AddFallback(fallback)

	res, err := f.Transcribe(context.Background(), []byte{1, 2}, "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "recovered" {
		t.Fatalf("result = %+v", res)
	}
	if got := fallback.TranscribeCalls[0].LanguageHint; got != "" {
		t.Fatalf("language hint = %q", got)
	}
}

func TestLLMFailoverAllFail(t *testing.T) {
	primary := &llmmock.Provider{NameValue: "openai", CompleteErr: errors.New("quota")}
	fallback := &llmmock.Provider{NameValue: "ollama", CompleteErr: errors.New("down")}

	f := resilience.NewLLMFailover(primary, breakerCfg, nil)
	f.AddFallback(fallback)

	_, err := f.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if !errors.Is(err, resilience.ErrAllBackendsFailed) {
		t.Fatalf("Complete = %v, want ErrAllBackendsFailed", err)
	}
	if primary.CallCount() != 1 || fallback.CallCount() != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.CallCount(), fallback.CallCount())
	}
}

func TestLLMFailoverSkipsTrippedPrimary(t *testing.T) {
	primary := &llmmock.Provider{NameValue: "openai", CompleteErr: errors.New("quota")}
	fallback := &llmmock.Provider{
		NameValue: "ollama",
		Responses: []llm.Response{{Content: "ok"}},
	}

	f := resilience.NewLLMFailover(primary, breakerCfg, nil)
	f.AddFallback(fallback)

	req := llm.Request{Messages: []llm.Message{{Role: "user", Content: "hi"}}}
	for range 3 {
		resp, err := f.Complete(context.Background(), req)
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if resp.Content != "ok" {
			t.Fatalf("response = %+v", resp)
		}
	}
	// FailureLimit 2 trips the primary; the third round never touches it.
	if primary.CallCount() != 2 {
		t.Fatalf("primary calls = %d, want 2", primary.CallCount())
	}
}

func TestTTSFailoverFallsThrough(t *testing.T) {
	primary := &ttsmock.Provider{NameValue: "elevenlabs", SynthesizeErr: errors.New("rate limited")}
	fallback := &ttsmock.Provider{
		NameValue: "coqui",
		Clip:      tts.Clip{Audio: []byte{9, 9}, Codec: "wav-pcm"},
	}

	f := resilience.NewTTSFailover(primary, breakerCfg, nil)
	f.AddFallback(fallback)

	clip, err := f.Synthesize(context.Background(), "stay calm", "voice-1")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.Codec != "wav-pcm" {
		t.Fatalf("clip = %+v", clip)
	}
	if got := fallback.SynthesizeCalls[0]; got.Text != "stay calm" || got.VoiceID != "voice-1" {
		t.Fatalf("fallback call = %+v", got)
	}
}
