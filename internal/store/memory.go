package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// memoryCols is the standard SELECT column list for scanMemory.
const memoryCols = `id, owner_id, content, tags, source, confidence, importance,
	base_strength, decay_rate, metadata, session_id, linked_ticket_id,
	parent_memory_id, linked_memory_ids, status, verified_by, verified_at,
	redacted_by, redacted_at, expires_at, version, created_at, updated_at`

type MemoryStore struct {
	db *pgxpool.Pool
}

func NewMemoryStore(db *pgxpool.Pool) *MemoryStore {
	return &MemoryStore{db: db}
}

func (s *MemoryStore) Create(ctx context.Context, m *domain.Memory, entry *domain.AuditLogEntry) error {
	return withTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := insertMemory(ctx, tx, m); err != nil {
			return err
		}
		return insertAudit(ctx, tx, entry)
	})
}

func insertMemory(ctx context.Context, q querier, m *domain.Memory) error {
	if m.Version == 0 {
		m.Version = 1
	}
	_, err := q.Exec(ctx,
		`INSERT INTO memories (id, owner_id, content, tags, source, confidence, importance,
			base_strength, decay_rate, metadata, session_id, linked_ticket_id,
			parent_memory_id, linked_memory_ids, status, verified_by, verified_at,
			redacted_by, redacted_at, expires_at, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		m.ID, m.OwnerID, m.Content, nonNilTags(m.Tags), m.Source, m.Confidence, m.Importance,
		m.BaseStrength, m.DecayRate, m.Metadata, m.SessionID, m.LinkedTicketID,
		m.ParentMemoryID, nonNilIDs(m.LinkedMemoryIDs), string(m.Status), m.VerifiedBy, m.VerifiedAt,
		m.RedactedBy, m.RedactedAt, m.ExpiresAt, m.Version, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, m *domain.Memory, expectedVersion int64, entry *domain.AuditLogEntry) error {
	return withTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := updateMemory(ctx, tx, m, expectedVersion); err != nil {
			return err
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (s *MemoryStore) UpdateBatch(ctx context.Context, updates []domain.MemoryUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return withTx(ctx, s.db, func(tx pgx.Tx) error {
		for _, u := range updates {
			if err := updateMemory(ctx, tx, u.Memory, u.ExpectedVersion); err != nil {
				return err
			}
			if err := insertAudit(ctx, tx, u.Entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// updateMemory writes the mutable fields guarded by the version. The stored
// embedding is dropped when the content changes or the memory leaves the
// retrievable states.
func updateMemory(ctx context.Context, q querier, m *domain.Memory, expectedVersion int64) error {
	var version int64
	err := q.QueryRow(ctx,
		`UPDATE memories SET
			content = $3, tags = $4, importance = $5, metadata = $6, status = $7,
			verified_by = $8, verified_at = $9, redacted_by = $10, redacted_at = $11,
			linked_memory_ids = $12, updated_at = $13,
			embedding = CASE WHEN $7 IN ('redacted', 'deleted') OR content <> $3 THEN NULL ELSE embedding END,
			version = version + 1
		 WHERE id = $1 AND version = $2
		 RETURNING version`,
		m.ID, expectedVersion, m.Content, nonNilTags(m.Tags), m.Importance, m.Metadata, string(m.Status),
		m.VerifiedBy, m.VerifiedAt, m.RedactedBy, m.RedactedAt,
		nonNilIDs(m.LinkedMemoryIDs), m.UpdatedAt,
	).Scan(&version)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update memory: %w", err)
		}
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM memories WHERE id = $1)`, m.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check memory: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	m.Version = version
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Memory, error) {
	row := s.db.QueryRow(ctx, `SELECT `+memoryCols+` FROM memories WHERE id = $1`, id)
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *MemoryStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]domain.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+memoryCols+` FROM memories WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return scanMemories(rows)
}

func (s *MemoryStore) List(ctx context.Context, f domain.MemoryFilter) ([]domain.Memory, error) {
	where, args := memoryFilterSQL(f)
	query := `SELECT ` + memoryCols + ` FROM memories WHERE ` + where + ` ORDER BY created_at DESC, id ASC`

	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanMemories(rows)
}

func (s *MemoryStore) Count(ctx context.Context, f domain.MemoryFilter) (int, error) {
	where, args := memoryFilterSQL(f)
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM memories WHERE `+where, args...).Scan(&n)
	return n, err
}

func (s *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]domain.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+memoryCols+` FROM memories
		 WHERE expires_at IS NOT NULL AND expires_at < $1 AND status <> 'deleted'
		 ORDER BY expires_at ASC
		 LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanMemories(rows)
}

func memoryFilterSQL(f domain.MemoryFilter) (string, []any) {
	var conditions []string
	var args []any

	args = append(args, f.OwnerID)
	conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))

	if f.SessionID != nil {
		args = append(args, *f.SessionID)
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if f.LinkedTicketID != nil {
		args = append(args, *f.LinkedTicketID)
		conditions = append(conditions, fmt.Sprintf("linked_ticket_id = $%d", len(args)))
	}
	if f.Tag != "" {
		args = append(args, strings.ToLower(strings.TrimSpace(f.Tag)))
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(tags)", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	} else {
		conditions = append(conditions, "status <> 'deleted'")
	}
	if f.CreatedAfter != nil {
		args = append(args, *f.CreatedAfter)
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", len(args)))
	}
	if f.LiveAt != nil {
		args = append(args, *f.LiveAt)
		conditions = append(conditions, fmt.Sprintf("(expires_at IS NULL OR expires_at > $%d)", len(args)))
	}

	return strings.Join(conditions, " AND "), args
}

func scanMemory(row pgx.Row) (*domain.Memory, error) {
	m := &domain.Memory{}
	var status string
	err := row.Scan(&m.ID, &m.OwnerID, &m.Content, &m.Tags, &m.Source, &m.Confidence, &m.Importance,
		&m.BaseStrength, &m.DecayRate, &m.Metadata, &m.SessionID, &m.LinkedTicketID,
		&m.ParentMemoryID, &m.LinkedMemoryIDs, &status, &m.VerifiedBy, &m.VerifiedAt,
		&m.RedactedBy, &m.RedactedAt, &m.ExpiresAt, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Status = domain.Status(status)
	return m, nil
}

func scanMemories(rows pgx.Rows) ([]domain.Memory, error) {
	defer rows.Close()

	var out []domain.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
