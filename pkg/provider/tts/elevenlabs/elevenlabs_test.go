package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should fail")
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/v1/text-to-speech/voice-1/stream-input") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		// BOI must carry the API key.
		_, msg, err := conn.Read(ctx)
		if err != nil {
			t.Errorf("read BOI: %v", err)
			return
		}
		var boi map[string]any
		json.Unmarshal(msg, &boi)
		if boi["xi_api_key"] != "key-123" {
			t.Errorf("BOI api key = %v", boi["xi_api_key"])
		}

		// Text then flush.
		if _, msg, err = conn.Read(ctx); err != nil {
			t.Errorf("read text: %v", err)
			return
		}
		var txt map[string]any
		json.Unmarshal(msg, &txt)
		if txt["text"] != "stall them" {
			t.Errorf("text = %v", txt["text"])
		}
		if _, _, err = conn.Read(ctx); err != nil {
			t.Errorf("read flush: %v", err)
			return
		}

		send := func(audio []byte, final bool) {
			payload, _ := json.Marshal(map[string]any{
				"audio":   base64.StdEncoding.EncodeToString(audio),
				"isFinal": final,
			})
			conn.Write(ctx, websocket.MessageText, payload)
		}
		send([]byte{1, 2}, false)
		send([]byte{3, 4}, true)
	}))
	defer srv.Close()

	p, err := New("key-123",
		WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")),
		WithDefaultVoice("voice-1"),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	clip, err := p.Synthesize(context.Background(), "stall them", "")
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if string(clip.Audio) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("audio = %v, want concatenated chunks", clip.Audio)
	}
	if clip.Codec != "pcm-16000" {
		t.Errorf("codec = %q, want pcm-16000", clip.Codec)
	}
}

func TestSynthesize_NoVoice(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	if _, err := p.Synthesize(context.Background(), "hi", ""); err == nil {
		t.Fatal("expected error when no voice is configured")
	}
}

func TestClipCodec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"pcm_16000", "pcm-16000"},
		{"pcm_24000", "pcm-24000"},
		{"mp3_44100_128", "mp3"},
		{"ulaw_8000", "ulaw_8000"},
	}
	for _, tt := range tests {
		if got := clipCodec(tt.in); got != tt.want {
			t.Errorf("clipCodec(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
