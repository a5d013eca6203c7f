// Package coqui provides a TTS provider backed by a local Coqui TTS server
// (ghcr.io/coqui-ai/tts-cpu). Synthesis is one GET /api/tts call per clip;
// the server responds with a WAV file. Useful as a self-hosted fallback when
// no hosted TTS credential is configured.
package coqui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kavachlabs/kavach/pkg/provider/tts"
)

const (
	ttsEndpoint    = "/api/tts"
	defaultTimeout = 30 * time.Second
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language id sent to the server (e.g., "en").
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithDefaultSpeaker sets the speaker id used when Synthesize receives an
// empty voiceID. Multi-speaker models require one.
func WithDefaultSpeaker(speakerID string) Option {
	return func(p *Provider) {
		p.defaultSpeaker = speakerID
	}
}

// Provider implements tts.Provider against a standard Coqui TTS server.
type Provider struct {
	serverURL      string
	language       string
	defaultSpeaker string
	httpClient     *http.Client
}

// New creates a Provider for the Coqui server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "coqui" }

// Synthesize performs one GET /api/tts call and returns the WAV response.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) (tts.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Clip{}, errors.New("coqui: text must not be empty")
	}
	if voiceID == "" {
		voiceID = p.defaultSpeaker
	}

	q := url.Values{}
	q.Set("text", text)
	if voiceID != "" {
		q.Set("speaker_id", voiceID)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}

	endpoint := p.serverURL + ttsEndpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("coqui: create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("coqui: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.Clip{}, fmt.Errorf("coqui: server returned HTTP %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("coqui: read response body: %w", err)
	}
	if len(audio) == 0 {
		return tts.Clip{}, errors.New("coqui: server returned no audio")
	}
	return tts.Clip{Audio: audio, Codec: "wav-pcm"}, nil
}
