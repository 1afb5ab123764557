package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/Harshitk-cp/memlayer/internal/notify"
	"github.com/Harshitk-cp/memlayer/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var timeNow = func() time.Time { return time.Now().UTC() }

// Notifier receives an event after every committed mutation.
type Notifier interface {
	Publish(e notify.Event)
}

// storeErr maps repository errors onto the engine's error kinds. what names
// the record for the message.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %s was modified concurrently, re-read and retry", domain.ErrConflict, what)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStorage, what, err)
}

func memoryRef(id uuid.UUID) string {
	return "memory " + id.String()
}

func candidateRef(id uuid.UUID) string {
	return "candidate " + id.String()
}

func forbidden(actor domain.Actor, what string) error {
	return fmt.Errorf("%w: actor %s may not access %s", domain.ErrForbidden, actor.ID, what)
}

// validateUnit rejects values outside [0,1], NaN included. The value is
// printed exactly so the message never rounds into range.
func validateUnit(name string, v float64) error {
	if !(v >= 0 && v <= 1) {
		return fmt.Errorf("%w: %s %g outside [0,1]", domain.ErrValidation, name, v)
	}
	return nil
}

func validateRate(name string, v float64) error {
	if !(v >= 0) || math.IsInf(v, 1) {
		return fmt.Errorf("%w: %s %g is not a finite non-negative number", domain.ErrValidation, name, v)
	}
	return nil
}

// resolveOwner returns the owner an actor is acting for. Only elevated
// actors may name someone else.
func resolveOwner(actor domain.Actor, requested string) (string, error) {
	if requested == "" || requested == actor.ID {
		return actor.ID, nil
	}
	if !actor.Role.Elevated() {
		return "", fmt.Errorf("%w: actor %s may not act for owner %s", domain.ErrForbidden, actor.ID, requested)
	}
	return requested, nil
}

func memoryEvent(m *domain.Memory, action domain.AuditAction, actorID string, at time.Time) notify.Event {
	id := m.ID
	return notify.Event{
		MemoryID:  &id,
		OwnerID:   m.OwnerID,
		Action:    action,
		ActorID:   actorID,
		Timestamp: at,
	}
}

// vectorIndexer writes embeddings for committed memories. Failures are
// logged only: a memory without a vector still matches lexically.
type vectorIndexer struct {
	client domain.EmbeddingClient
	index  domain.EmbeddingIndex
	logger *zap.Logger
}

func (v *vectorIndexer) enabled() bool {
	return v != nil && v.client != nil && v.index != nil
}

func (v *vectorIndexer) indexMemory(ctx context.Context, m *domain.Memory) {
	if !v.enabled() || !m.Status.Retrievable() {
		return
	}
	vec, err := v.client.Embed(ctx, m.Content)
	if err != nil {
		v.logger.Warn("embedding failed", zap.String("memory_id", m.ID.String()), zap.Error(err))
		return
	}
	if err := v.index.SetEmbedding(ctx, m.ID, vec); err != nil && !errors.Is(err, store.ErrNotFound) {
		v.logger.Warn("store embedding failed", zap.String("memory_id", m.ID.String()), zap.Error(err))
	}
}
