package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionStore struct {
	db *pgxpool.Pool
}

func NewSessionStore(db *pgxpool.Pool) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO sessions (id, owner_id, started_at, ended_at, metadata) VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.OwnerID, sess.StartedAt, sess.EndedAt, sess.Metadata,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	sess := &domain.Session{}
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_id, started_at, ended_at, metadata FROM sessions WHERE id = $1`,
		id,
	).Scan(&sess.ID, &sess.OwnerID, &sess.StartedAt, &sess.EndedAt, &sess.Metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *SessionStore) End(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sessions SET ended_at = $2 WHERE id = $1 AND ended_at IS NULL`,
		id, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SessionStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, started_at, ended_at, metadata FROM sessions
		 WHERE owner_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		var sess domain.Session
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.StartedAt, &sess.EndedAt, &sess.Metadata); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
