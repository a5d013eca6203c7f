package whisper

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew_RequiresServerURL(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should fail")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path = %s, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			if len(data) < 44 || string(data[0:4]) != "RIFF" {
				t.Error("uploaded file is not a WAV container")
			}
		}

		json.NewEncoder(w).Encode(map[string]any{"text": "  send the OTP now  "})
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	res, err := p.Transcribe(context.Background(), make([]byte, 3200), "hindi")
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if res.Text != "send the OTP now" {
		t.Errorf("text = %q, want trimmed transcript", res.Text)
	}
	if gotLanguage != "hi" {
		t.Errorf("language field = %q, want alias resolved to hi", gotLanguage)
	}
	if res.Language != "hi" {
		t.Errorf("result language = %q, want hi", res.Language)
	}
	if res.Confidence != defaultConfidence {
		t.Errorf("confidence = %v, want default %v", res.Confidence, defaultConfidence)
	}
}

func TestTranscribe_ServerFields(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"text":       "hello",
			"language":   "ta",
			"confidence": 0.73,
		})
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	res, err := p.Transcribe(context.Background(), make([]byte, 320), "")
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if res.Language != "ta" || res.Confidence != 0.73 {
		t.Errorf("server-reported fields not honoured: %+v", res)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Transcribe(context.Background(), make([]byte, 320), ""); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Transcribe(ctx, make([]byte, 320), ""); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNormaliseLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Hindi", "hi"},
		{"english", "en"},
		{" TAMIL ", "ta"},
		{"de", "de"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normaliseLanguage(tt.in); got != tt.want {
			t.Errorf("normaliseLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
