package store

import (
	"context"
	"errors"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RoleStore struct {
	db *pgxpool.Pool
}

func NewRoleStore(db *pgxpool.Pool) *RoleStore {
	return &RoleStore{db: db}
}

func (s *RoleStore) GetRole(ctx context.Context, subject string) (domain.Role, error) {
	var role string
	err := s.db.QueryRow(ctx, `SELECT role FROM actor_roles WHERE subject = $1`, subject).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return domain.Role(role), nil
}

func (s *RoleStore) SetRole(ctx context.Context, subject string, role domain.Role) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO actor_roles (subject, role, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (subject) DO UPDATE SET role = EXCLUDED.role, updated_at = NOW()`,
		subject, string(role),
	)
	return err
}
