// Package mock provides a test double for the llm package interfaces.
//
// Pre-populate Responses with the contents Complete should return in order,
// then inspect CompleteCalls to verify prompts.
package mock

import (
	"context"
	"sync"

	"github.com/kavachlabs/kavach/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// Responses are returned by successive Complete calls in order. When the
	// list is exhausted, Complete keeps returning the last element, or a zero
	// Response if the list is empty.
	Responses []llm.Response

	// CompleteErr, if non-nil, is returned by every Complete call.
	CompleteErr error

	// Delay, if set, is invoked before returning; use it to simulate slow
	// completions. It respects ctx cancellation.
	Delay func(ctx context.Context) error

	// CompleteCalls records every Request passed to Complete in order.
	CompleteCalls []llm.Request
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)

// Name returns NameValue or "mock".
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NameValue != "" {
		return p.NameValue
	}
	return "mock"
}

// Complete records the call and returns the next configured Response.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, req)
	n := len(p.CompleteCalls)
	err := p.CompleteErr
	delay := p.Delay
	var resp llm.Response
	if len(p.Responses) > 0 {
		idx := min(n-1, len(p.Responses)-1)
		resp = p.Responses[idx]
	}
	p.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return llm.Response{}, derr
		}
	}
	if err != nil {
		return llm.Response{}, err
	}
	return resp, nil
}

// CallCount returns the number of Complete calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
