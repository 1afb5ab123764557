package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxSessionIDLength = 128

type SessionService struct {
	sessions domain.SessionStore
	logger   *zap.Logger
}

func NewSessionService(ss domain.SessionStore, logger *zap.Logger) *SessionService {
	return &SessionService{sessions: ss, logger: logger}
}

// Start opens a session for the actor. An empty id gets a generated one.
func (s *SessionService) Start(ctx context.Context, actor domain.Actor, id string, metadata map[string]any) (*domain.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > maxSessionIDLength {
		return nil, fmt.Errorf("%w: session id longer than %d characters", domain.ErrValidation, maxSessionIDLength)
	}

	sess := &domain.Session{
		ID:        id,
		OwnerID:   actor.ID,
		StartedAt: timeNow(),
		Metadata:  metadata,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, storeErr(err, "session "+id)
	}

	s.logger.Info("session started", zap.String("session_id", id), zap.String("owner_id", actor.ID))
	return sess, nil
}

func (s *SessionService) End(ctx context.Context, actor domain.Actor, id string) (*domain.Session, error) {
	sess, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !sess.Active() {
		return sess, nil
	}

	now := timeNow()
	if err := s.sessions.End(ctx, id, now); err != nil {
		return nil, storeErr(err, "active session "+id)
	}
	sess.EndedAt = &now
	return sess, nil
}

func (s *SessionService) Get(ctx context.Context, actor domain.Actor, id string) (*domain.Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "session "+id)
	}
	if !actor.CanAccess(sess.OwnerID) {
		return nil, forbidden(actor, "session "+id)
	}
	return sess, nil
}

func (s *SessionService) List(ctx context.Context, actor domain.Actor, ownerID string, limit, offset int) ([]domain.Session, error) {
	owner, err := resolveOwner(actor, ownerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	list, err := s.sessions.ListByOwner(ctx, owner, limit, offset)
	if err != nil {
		return nil, storeErr(err, "sessions of "+owner)
	}
	if list == nil {
		list = []domain.Session{}
	}
	return list, nil
}
