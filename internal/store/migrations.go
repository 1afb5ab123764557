package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: lifecycle-managed memory rows",
		SQL: `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE memories (
    id                UUID PRIMARY KEY,
    owner_id          TEXT NOT NULL,
    content           TEXT NOT NULL,
    tags              TEXT[] NOT NULL DEFAULT '{}',
    source            TEXT NOT NULL DEFAULT 'api',
    confidence        DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
    importance        DOUBLE PRECISION NOT NULL CHECK (importance >= 0 AND importance <= 1),
    base_strength     DOUBLE PRECISION NOT NULL CHECK (base_strength >= 0 AND base_strength <= 1),
    decay_rate        DOUBLE PRECISION NOT NULL CHECK (decay_rate >= 0),
    metadata          JSONB,
    session_id        TEXT,
    linked_ticket_id  TEXT,
    parent_memory_id  UUID REFERENCES memories(id),
    linked_memory_ids UUID[] NOT NULL DEFAULT '{}',
    status            TEXT NOT NULL CHECK (status IN ('pending', 'active', 'verified', 'redacted', 'rejected', 'deleted')),
    verified_by       TEXT,
    verified_at       TIMESTAMPTZ,
    redacted_by       TEXT,
    redacted_at       TIMESTAMPTZ,
    expires_at        TIMESTAMPTZ,
    version           BIGINT NOT NULL DEFAULT 1,
    embedding         vector(1536),
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX idx_memories_owner_status ON memories(owner_id, status);
CREATE INDEX idx_memories_session      ON memories(session_id) WHERE session_id IS NOT NULL;
CREATE INDEX idx_memories_ticket       ON memories(linked_ticket_id) WHERE linked_ticket_id IS NOT NULL;
CREATE INDEX idx_memories_tags         ON memories USING GIN (tags);
CREATE INDEX idx_memories_expires_at   ON memories(expires_at) WHERE expires_at IS NOT NULL;
`,
	},
	{
		Version:     2,
		Description: "memory_audit_logs: append-only ledger",
		SQL: `
CREATE TABLE memory_audit_logs (
    seq              BIGSERIAL,
    id               UUID PRIMARY KEY,
    memory_id        UUID REFERENCES memories(id),
    candidate_id     UUID,
    action           TEXT NOT NULL CHECK (action IN ('create', 'read', 'update', 'delete', 'verify', 'unverify', 'redact', 'unredact', 'reject')),
    previous_content TEXT,
    new_content      TEXT,
    reason           TEXT,
    actor_id         TEXT NOT NULL,
    timestamp        TIMESTAMPTZ NOT NULL,
    CHECK (memory_id IS NOT NULL OR candidate_id IS NOT NULL)
);

CREATE INDEX idx_audit_memory    ON memory_audit_logs(memory_id, timestamp, seq);
CREATE INDEX idx_audit_candidate ON memory_audit_logs(candidate_id) WHERE candidate_id IS NOT NULL;
`,
	},
	{
		Version:     3,
		Description: "pending_candidates: review queue",
		SQL: `
CREATE TABLE pending_candidates (
    id                UUID PRIMARY KEY,
    owner_id          TEXT NOT NULL,
    content           TEXT NOT NULL,
    source            TEXT NOT NULL DEFAULT 'api',
    confidence        DOUBLE PRECISION NOT NULL,
    suggested_tags    TEXT[] NOT NULL DEFAULT '{}',
    reason            TEXT,
    importance        DOUBLE PRECISION NOT NULL,
    decay_rate        DOUBLE PRECISION NOT NULL,
    metadata          JSONB,
    session_id        TEXT,
    linked_ticket_id  TEXT,
    parent_memory_id  UUID,
    linked_memory_ids UUID[] NOT NULL DEFAULT '{}',
    expires_at        TIMESTAMPTZ,
    submitted_by      TEXT NOT NULL,
    version           BIGINT NOT NULL DEFAULT 1,
    timestamp         TIMESTAMPTZ NOT NULL
);

CREATE INDEX idx_candidates_owner ON pending_candidates(owner_id, timestamp DESC);
`,
	},
	{
		Version:     4,
		Description: "sessions and actor role overrides",
		SQL: `
CREATE TABLE sessions (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    ended_at   TIMESTAMPTZ,
    metadata   JSONB
);

CREATE INDEX idx_sessions_owner ON sessions(owner_id, started_at DESC);

CREATE TABLE actor_roles (
    subject    TEXT PRIMARY KEY,
    role       TEXT NOT NULL CHECK (role IN ('admin', 'user', 'developer')),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	},
	{
		Version:     5,
		Description: "memory_audit_logs: owner of rejected candidates",
		SQL: `
ALTER TABLE memory_audit_logs ADD COLUMN owner_id TEXT;
`,
	},
}

// Migrate applies every migration newer than the recorded schema version.
// Each migration runs in its own transaction.
func Migrate(ctx context.Context, db *pgxpool.Pool) (int, error) {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("create schema_versions: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		var exists bool
		err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_versions WHERE version = $1)`, m.Version).Scan(&exists)
		if err != nil {
			return applied, fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists {
			continue
		}

		err = withTx(ctx, db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_versions (version, description) VALUES ($1, $2)`,
				m.Version, m.Description,
			); err != nil {
				return fmt.Errorf("record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// SchemaVersion returns the highest applied migration, 0 for a fresh database.
func SchemaVersion(ctx context.Context, db *pgxpool.Pool) (int, error) {
	var v *int
	err := db.QueryRow(ctx, `SELECT MAX(version) FROM schema_versions`).Scan(&v)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return 0, nil
		}
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return *v, nil
}

// LatestVersion is the schema version this binary expects.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}
