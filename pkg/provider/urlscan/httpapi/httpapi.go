// Package httpapi provides a urlscan.Scanner backed by a JSON-over-HTTP
// reputation service. The wire shape matches self-hosted lookup services:
//
//	POST {base}/v1/lookup  {"url": "..."}
//	→ {"malicious": true, "score": 0.97, "categories": ["phishing"]}
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kavachlabs/kavach/pkg/provider/urlscan"
)

const (
	lookupPath     = "/v1/lookup"
	defaultTimeout = 15 * time.Second
)

// Compile-time interface assertion.
var _ urlscan.Scanner = (*Scanner)(nil)

// Option is a functional option for configuring a Scanner.
type Option func(*Scanner)

// WithAPIKey sets a bearer token sent with every lookup.
func WithAPIKey(key string) Option {
	return func(s *Scanner) {
		s.apiKey = key
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 15 s.
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		s.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Scanner) {
		s.httpClient = c
	}
}

// Scanner implements urlscan.Scanner against a JSON lookup service.
type Scanner struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Scanner for the reputation service at baseURL. baseURL must
// be non-empty.
func New(baseURL string, opts ...Option) (*Scanner, error) {
	if baseURL == "" {
		return nil, errors.New("urlscan: baseURL must not be empty")
	}
	s := &Scanner{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Name implements urlscan.Scanner.
func (s *Scanner) Name() string { return "httpapi" }

// Check implements urlscan.Scanner.
func (s *Scanner) Check(ctx context.Context, rawURL string) (urlscan.Verdict, error) {
	payload, err := json.Marshal(map[string]string{"url": rawURL})
	if err != nil {
		return urlscan.Verdict{}, fmt.Errorf("urlscan: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+lookupPath, bytes.NewReader(payload))
	if err != nil {
		return urlscan.Verdict{}, fmt.Errorf("urlscan: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return urlscan.Verdict{}, fmt.Errorf("urlscan: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return urlscan.Verdict{}, fmt.Errorf("urlscan: server returned HTTP %d", resp.StatusCode)
	}

	var parsed struct {
		Malicious  bool     `json:"malicious"`
		Score      float64  `json:"score"`
		Categories []string `json:"categories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return urlscan.Verdict{}, fmt.Errorf("urlscan: parse response: %w", err)
	}

	return urlscan.Verdict{
		Malicious:  parsed.Malicious,
		Score:      parsed.Score,
		Categories: parsed.Categories,
	}, nil
}
