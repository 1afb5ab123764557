package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const auditCols = `id, memory_id, candidate_id, action, previous_content, new_content, reason, actor_id, owner_id, timestamp`

// AuditStore reads and appends to memory_audit_logs. The table is
// append-only: no statement in this package updates or deletes a row.
type AuditStore struct {
	db *pgxpool.Pool
}

func NewAuditStore(db *pgxpool.Pool) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	return insertAudit(ctx, s.db, entry)
}

func insertAudit(ctx context.Context, q querier, e *domain.AuditLogEntry) error {
	if e == nil {
		return nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := q.Exec(ctx,
		`INSERT INTO memory_audit_logs (`+auditCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`,
		e.ID, e.MemoryID, e.CandidateID, string(e.Action), e.PreviousContent, e.NewContent, e.Reason, e.ActorID, e.OwnerID, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *AuditStore) ListByMemory(ctx context.Context, memoryID uuid.UUID) ([]domain.AuditLogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+auditCols+` FROM memory_audit_logs WHERE memory_id = $1 ORDER BY timestamp ASC, seq ASC`,
		memoryID,
	)
	if err != nil {
		return nil, err
	}
	return scanAuditEntries(rows)
}

func (s *AuditStore) ListByCandidate(ctx context.Context, candidateID uuid.UUID) ([]domain.AuditLogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+auditCols+` FROM memory_audit_logs WHERE candidate_id = $1 ORDER BY timestamp ASC, seq ASC`,
		candidateID,
	)
	if err != nil {
		return nil, err
	}
	return scanAuditEntries(rows)
}

func (s *AuditStore) LatestByAction(ctx context.Context, memoryID uuid.UUID, action domain.AuditAction) (*domain.AuditLogEntry, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+auditCols+` FROM memory_audit_logs
		 WHERE memory_id = $1 AND action = $2
		 ORDER BY timestamp DESC, seq DESC
		 LIMIT 1`,
		memoryID, string(action),
	)
	e, err := scanAuditEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func scanAuditEntry(row pgx.Row) (*domain.AuditLogEntry, error) {
	e := &domain.AuditLogEntry{}
	var action string
	var owner *string
	err := row.Scan(&e.ID, &e.MemoryID, &e.CandidateID, &action, &e.PreviousContent, &e.NewContent, &e.Reason, &e.ActorID, &owner, &e.Timestamp)
	if err != nil {
		return nil, err
	}
	e.Action = domain.AuditAction(action)
	if owner != nil {
		e.OwnerID = *owner
	}
	return e, nil
}

func scanAuditEntries(rows pgx.Rows) ([]domain.AuditLogEntry, error) {
	defer rows.Close()

	var out []domain.AuditLogEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
