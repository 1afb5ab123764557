package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const candidateCols = `id, owner_id, content, source, confidence, suggested_tags, reason,
	importance, decay_rate, metadata, session_id, linked_ticket_id, parent_memory_id,
	linked_memory_ids, expires_at, submitted_by, version, timestamp`

type CandidateStore struct {
	db *pgxpool.Pool
}

func NewCandidateStore(db *pgxpool.Pool) *CandidateStore {
	return &CandidateStore{db: db}
}

func (s *CandidateStore) Create(ctx context.Context, c *domain.PendingCandidate) error {
	if c.Version == 0 {
		c.Version = 1
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO pending_candidates (`+candidateCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		c.ID, c.OwnerID, c.Content, c.Source, c.Confidence, nonNilTags(c.SuggestedTags), c.Reason,
		c.Importance, c.DecayRate, c.Metadata, c.SessionID, c.LinkedTicketID, c.ParentMemoryID,
		nonNilIDs(c.LinkedMemoryIDs), c.ExpiresAt, c.SubmittedBy, c.Version, c.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

func (s *CandidateStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.PendingCandidate, error) {
	c, err := scanCandidate(s.db.QueryRow(ctx, `SELECT `+candidateCols+` FROM pending_candidates WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *CandidateStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.PendingCandidate, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+candidateCols+` FROM pending_candidates
		 WHERE owner_id = $1
		 ORDER BY timestamp DESC, id ASC
		 LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return scanCandidates(rows)
}

func (s *CandidateStore) ListAll(ctx context.Context, limit, offset int) ([]domain.PendingCandidate, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+candidateCols+` FROM pending_candidates
		 ORDER BY timestamp DESC, id ASC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return scanCandidates(rows)
}

func (s *CandidateStore) ListOlderThan(ctx context.Context, before time.Time, limit int) ([]domain.PendingCandidate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+candidateCols+` FROM pending_candidates
		 WHERE timestamp < $1
		 ORDER BY timestamp ASC
		 LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanCandidates(rows)
}

func (s *CandidateStore) Approve(ctx context.Context, c *domain.PendingCandidate, m *domain.Memory, entry *domain.AuditLogEntry) error {
	return withTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := deleteCandidate(ctx, tx, c); err != nil {
			return err
		}
		if err := insertMemory(ctx, tx, m); err != nil {
			return err
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (s *CandidateStore) Reject(ctx context.Context, c *domain.PendingCandidate, entry *domain.AuditLogEntry) error {
	return withTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := deleteCandidate(ctx, tx, c); err != nil {
			return err
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (s *CandidateStore) Discard(ctx context.Context, entry *domain.AuditLogEntry) error {
	return insertAudit(ctx, s.db, entry)
}

// deleteCandidate removes the row only at the version the caller read, so
// exactly one of two racing decisions wins.
func deleteCandidate(ctx context.Context, q querier, c *domain.PendingCandidate) error {
	tag, err := q.Exec(ctx,
		`DELETE FROM pending_candidates WHERE id = $1 AND version = $2`,
		c.ID, c.Version,
	)
	if err != nil {
		return fmt.Errorf("delete candidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func scanCandidate(row pgx.Row) (*domain.PendingCandidate, error) {
	c := &domain.PendingCandidate{}
	err := row.Scan(&c.ID, &c.OwnerID, &c.Content, &c.Source, &c.Confidence, &c.SuggestedTags, &c.Reason,
		&c.Importance, &c.DecayRate, &c.Metadata, &c.SessionID, &c.LinkedTicketID, &c.ParentMemoryID,
		&c.LinkedMemoryIDs, &c.ExpiresAt, &c.SubmittedBy, &c.Version, &c.Timestamp)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanCandidates(rows pgx.Rows) ([]domain.PendingCandidate, error) {
	defer rows.Close()

	var out []domain.PendingCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
