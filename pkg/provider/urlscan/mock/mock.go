// Package mock provides a test double for the urlscan package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/kavachlabs/kavach/pkg/provider/urlscan"
)

// Scanner is a mock implementation of urlscan.Scanner.
type Scanner struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// Verdicts maps URLs to the verdict Check should return. URLs not in
	// the map get a zero Verdict.
	Verdicts map[string]urlscan.Verdict

	// CheckErr, if non-nil, is returned by every Check call.
	CheckErr error

	// Delay, if set, is how long Check blocks before returning. It respects
	// ctx cancellation.
	Delay func(ctx context.Context) error

	// CheckCalls records every URL passed to Check in order.
	CheckCalls []string
}

// Ensure Scanner implements urlscan.Scanner at compile time.
var _ urlscan.Scanner = (*Scanner)(nil)

// Name returns NameValue or "mock".
func (s *Scanner) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NameValue != "" {
		return s.NameValue
	}
	return "mock"
}

// Check records the call and returns the configured verdict for rawURL.
func (s *Scanner) Check(ctx context.Context, rawURL string) (urlscan.Verdict, error) {
	s.mu.Lock()
	s.CheckCalls = append(s.CheckCalls, rawURL)
	err := s.CheckErr
	delay := s.Delay
	verdict := s.Verdicts[rawURL]
	s.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return urlscan.Verdict{}, derr
		}
	}
	if err != nil {
		return urlscan.Verdict{}, err
	}
	return verdict, nil
}

// CallCount returns the number of Check calls. Thread-safe.
func (s *Scanner) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.CheckCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (s *Scanner) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CheckCalls = nil
}
