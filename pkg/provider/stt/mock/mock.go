// Package mock provides a test double for the stt package interfaces.
//
// Pre-populate Results with the values Transcribe should return in order,
// then inspect TranscribeCalls to verify what audio was submitted.
package mock

import (
	"context"
	"sync"

	"github.com/kavachlabs/kavach/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio bytes passed to Transcribe.
	PCM []byte
	// LanguageHint is the hint passed to Transcribe.
	LanguageHint string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// Results are returned by successive Transcribe calls in order. When the
	// list is exhausted, Transcribe keeps returning the last element, or a
	// zero Result if the list is empty.
	Results []stt.Result

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// Delay, if set, is how long Transcribe blocks before returning. It
	// respects ctx cancellation.
	Delay func(ctx context.Context) error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Name returns NameValue or "mock".
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NameValue != "" {
		return p.NameValue
	}
	return "mock"
}

// Transcribe records the call and returns the next configured Result.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, languageHint string) (stt.Result, error) {
	p.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{PCM: cp, LanguageHint: languageHint})
	n := len(p.TranscribeCalls)
	err := p.TranscribeErr
	delay := p.Delay
	var res stt.Result
	if len(p.Results) > 0 {
		idx := min(n-1, len(p.Results)-1)
		res = p.Results[idx]
	}
	p.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return stt.Result{}, derr
		}
	}
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}
