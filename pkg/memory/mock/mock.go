// Package mock provides an in-memory test double for the memory package
// interfaces.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/kavachlabs/kavach/pkg/memory"
)

// Store is a mock implementation of memory.Store backed by maps.
type Store struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every mutating call.
	Err error

	// Calls maps call ids to their start time.
	Calls map[string]time.Time

	// Finished maps call ids to the reason passed to FinishCall.
	Finished map[string]string

	// Transcripts maps call ids to appended entries in order.
	Transcripts map[string][]memory.TranscriptEntry

	// Intelligence maps call ids to the last saved snapshot.
	Intelligence map[string]memory.IntelligenceRecord

	// CloseCount is the number of Close calls.
	CloseCount int
}

// Ensure Store implements memory.Store at compile time.
var _ memory.Store = (*Store)(nil)

// New creates an empty mock Store.
func New() *Store {
	return &Store{
		Calls:        map[string]time.Time{},
		Finished:     map[string]string{},
		Transcripts:  map[string][]memory.TranscriptEntry{},
		Intelligence: map[string]memory.IntelligenceRecord{},
	}
}

// CreateCall implements memory.Store.
func (s *Store) CreateCall(_ context.Context, callID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.Calls[callID]; !ok {
		s.Calls[callID] = startedAt
	}
	return nil
}

// AppendTranscript implements memory.Store.
func (s *Store) AppendTranscript(_ context.Context, callID string, entry memory.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Transcripts[callID] = append(s.Transcripts[callID], entry)
	return nil
}

// SaveIntelligence implements memory.Store.
func (s *Store) SaveIntelligence(_ context.Context, callID string, rec memory.IntelligenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Intelligence[callID] = rec
	return nil
}

// FinishCall implements memory.Store.
func (s *Store) FinishCall(_ context.Context, callID, reason string, _ time.Time, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Finished[callID] = reason
	return nil
}

// Transcript implements memory.Store.
func (s *Store) Transcript(_ context.Context, callID string, limit int) ([]memory.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	entries := s.Transcripts[callID]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	out := make([]memory.TranscriptEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Close implements memory.Store.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
}

// FinishedReason returns the reason FinishCall recorded for callID, or "".
func (s *Store) FinishedReason(callID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Finished[callID]
}

// TranscriptCount returns the number of entries archived for callID.
func (s *Store) TranscriptCount(callID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Transcripts[callID])
}
