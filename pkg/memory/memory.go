// Package memory defines the durable call archive: transcripts and
// intelligence snapshots outlive the in-process session so that operators can
// review a call after it ends and reporting pipelines can consume the
// extracted entities.
//
// Archival is best-effort from the broker's point of view: a failing store
// never blocks the live call path. Implementations must be safe for
// concurrent use.
package memory

import (
	"context"
	"time"
)

// TranscriptEntry is one archived transcript fragment.
type TranscriptEntry struct {
	// Speaker is the leg role the fragment originated from.
	Speaker string

	// Text is the recognised utterance.
	Text string

	// Language is the ISO 639-1 code of the detected language.
	Language string

	// Confidence is the recognition confidence in [0, 1].
	Confidence float64

	// StartedAt and EndedAt bound the utterance in wall-clock time.
	StartedAt time.Time
	EndedAt   time.Time
}

// EntityRecord is one extracted entity inside an intelligence snapshot.
type EntityRecord struct {
	Kind        string    `json:"kind"`
	Value       string    `json:"value"`
	Confidence  float64   `json:"confidence"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// IntelligenceRecord is the cumulative intelligence state of a call. Each
// save replaces the previous snapshot; the threat score only ever grows.
type IntelligenceRecord struct {
	Entities    []EntityRecord `json:"entities"`
	Tactics     []string       `json:"tactics"`
	ThreatScore float64        `json:"threat_score"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Store is the abstraction over any call archive backend.
type Store interface {
	// CreateCall registers a call when its session forms. Calling it twice
	// for the same id is not an error.
	CreateCall(ctx context.Context, callID string, startedAt time.Time) error

	// AppendTranscript archives one finalised transcript fragment.
	AppendTranscript(ctx context.Context, callID string, entry TranscriptEntry) error

	// SaveIntelligence replaces the call's intelligence snapshot.
	SaveIntelligence(ctx context.Context, callID string, rec IntelligenceRecord) error

	// FinishCall marks the call ended with the given reason and duration.
	FinishCall(ctx context.Context, callID, reason string, endedAt time.Time, durationMS int64) error

	// Transcript returns the call's archived fragments in chronological
	// order. limit caps the result when positive.
	Transcript(ctx context.Context, callID string, limit int) ([]TranscriptEntry, error)

	// Close releases backend resources.
	Close()
}
