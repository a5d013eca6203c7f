package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kavachlabs/kavach/pkg/memory"
)

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

// Store is the PostgreSQL-backed call archive. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure all required tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres archive: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres archive: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateCall implements [memory.Store].
func (s *Store) CreateCall(ctx context.Context, callID string, startedAt time.Time) error {
	const q = `
		INSERT INTO calls (call_id, started_at)
		VALUES ($1, $2)
		ON CONFLICT (call_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, callID, startedAt); err != nil {
		return fmt.Errorf("postgres archive: create call: %w", err)
	}
	return nil
}

// AppendTranscript implements [memory.Store].
func (s *Store) AppendTranscript(ctx context.Context, callID string, entry memory.TranscriptEntry) error {
	const q = `
		INSERT INTO call_transcripts
		    (call_id, speaker, text, language, confidence, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		callID,
		entry.Speaker,
		entry.Text,
		entry.Language,
		entry.Confidence,
		entry.StartedAt,
		entry.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres archive: append transcript: %w", err)
	}
	return nil
}

// SaveIntelligence implements [memory.Store]. The snapshot is upserted; the
// entities and tactics columns hold the full cumulative state as JSONB.
func (s *Store) SaveIntelligence(ctx context.Context, callID string, rec memory.IntelligenceRecord) error {
	entities, err := json.Marshal(rec.Entities)
	if err != nil {
		return fmt.Errorf("postgres archive: marshal entities: %w", err)
	}
	tactics, err := json.Marshal(rec.Tactics)
	if err != nil {
		return fmt.Errorf("postgres archive: marshal tactics: %w", err)
	}

	const q = `
		INSERT INTO call_intelligence (call_id, entities, tactics, threat_score, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (call_id) DO UPDATE
		SET entities = EXCLUDED.entities,
		    tactics = EXCLUDED.tactics,
		    threat_score = EXCLUDED.threat_score,
		    updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, q, callID, entities, tactics, rec.ThreatScore, rec.UpdatedAt); err != nil {
		return fmt.Errorf("postgres archive: save intelligence: %w", err)
	}
	return nil
}

// FinishCall implements [memory.Store].
func (s *Store) FinishCall(ctx context.Context, callID, reason string, endedAt time.Time, durationMS int64) error {
	const q = `
		UPDATE calls
		SET    ended_at = $2, end_reason = $3, duration_ms = $4
		WHERE  call_id = $1`

	if _, err := s.pool.Exec(ctx, q, callID, endedAt, reason, durationMS); err != nil {
		return fmt.Errorf("postgres archive: finish call: %w", err)
	}
	return nil
}

// Transcript implements [memory.Store].
func (s *Store) Transcript(ctx context.Context, callID string, limit int) ([]memory.TranscriptEntry, error) {
	q := `
		SELECT speaker, text, language, confidence, started_at, ended_at
		FROM   call_transcripts
		WHERE  call_id = $1
		ORDER  BY started_at`
	args := []any{callID}

	if limit > 0 {
		q += "\nLIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: transcript: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.TranscriptEntry, error) {
		var e memory.TranscriptEntry
		err := row.Scan(&e.Speaker, &e.Text, &e.Language, &e.Confidence, &e.StartedAt, &e.EndedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres archive: scan rows: %w", err)
	}
	if entries == nil {
		entries = []memory.TranscriptEntry{}
	}
	return entries, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
