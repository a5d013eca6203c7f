// Package urlscan defines the Scanner interface for URL reputation backends.
//
// When intelligence extraction discovers a URL, the broker schedules an
// asynchronous reputation check; a malicious verdict feeds back into the
// call's tactics and threat score. Implementations must be safe for
// concurrent use.
package urlscan

import "context"

// Verdict is the outcome of one reputation check.
type Verdict struct {
	// Malicious reports whether the backend flagged the URL.
	Malicious bool

	// Score is the backend's risk score in [0, 1]; 0 when not provided.
	Score float64

	// Categories lists backend-specific classifications
	// ("phishing", "malware").
	Categories []string
}

// Scanner is the abstraction over any URL reputation backend.
type Scanner interface {
	// Name returns a short identifier for logs and metrics.
	Name() string

	// Check looks up the reputation of rawURL. Respects ctx cancellation and
	// deadlines; the broker applies the configured scan timeout through ctx.
	Check(ctx context.Context, rawURL string) (Verdict, error)
}
