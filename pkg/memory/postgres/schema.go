// Package postgres provides a PostgreSQL-backed implementation of the call
// archive. All tables share a single [pgxpool.Pool]; [Migrate] installs the
// schema via CREATE TABLE IF NOT EXISTS so a fresh database is usable without
// external tooling.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.CreateCall(ctx, callID, time.Now())
//	_ = store.AppendTranscript(ctx, callID, entry)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    call_id     TEXT         PRIMARY KEY,
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ,
    end_reason  TEXT         NOT NULL DEFAULT '',
    duration_ms BIGINT       NOT NULL DEFAULT 0
);`

const ddlCallTranscripts = `
CREATE TABLE IF NOT EXISTS call_transcripts (
    id         BIGSERIAL    PRIMARY KEY,
    call_id    TEXT         NOT NULL REFERENCES calls (call_id),
    speaker    TEXT         NOT NULL,
    text       TEXT         NOT NULL,
    language   TEXT         NOT NULL DEFAULT '',
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    started_at TIMESTAMPTZ  NOT NULL,
    ended_at   TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_call_transcripts_call_id
    ON call_transcripts (call_id);

CREATE INDEX IF NOT EXISTS idx_call_transcripts_call_started
    ON call_transcripts (call_id, started_at);

CREATE INDEX IF NOT EXISTS idx_call_transcripts_fts
    ON call_transcripts USING GIN (to_tsvector('english', text));`

const ddlCallIntelligence = `
CREATE TABLE IF NOT EXISTS call_intelligence (
    call_id      TEXT         PRIMARY KEY REFERENCES calls (call_id),
    entities     JSONB        NOT NULL DEFAULT '[]',
    tactics      JSONB        NOT NULL DEFAULT '[]',
    threat_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at   TIMESTAMPTZ  NOT NULL
);`

// Migrate installs the archive schema. Safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlCalls, ddlCallTranscripts, ddlCallIntelligence} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres archive: migrate: %w", err)
		}
	}
	return nil
}
