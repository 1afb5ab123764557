package service

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditService serves the ledger. Trails stay readable after the memory is
// deleted.
type AuditService struct {
	memories domain.MemoryStore
	audits   domain.AuditStore
	logger   *zap.Logger
}

func NewAuditService(ms domain.MemoryStore, as domain.AuditStore, logger *zap.Logger) *AuditService {
	return &AuditService{memories: ms, audits: as, logger: logger}
}

// Trail returns every entry for a memory, oldest first.
func (s *AuditService) Trail(ctx context.Context, memoryID uuid.UUID, actor domain.Actor) ([]domain.AuditLogEntry, error) {
	m, err := s.memories.GetByID(ctx, memoryID)
	if err != nil {
		return nil, storeErr(err, memoryRef(memoryID))
	}
	if !actor.CanAccess(m.OwnerID) {
		return nil, forbidden(actor, "audit trail of "+memoryRef(memoryID))
	}

	entries, err := s.audits.ListByMemory(ctx, memoryID)
	if err != nil {
		return nil, storeErr(err, "audit trail of "+memoryRef(memoryID))
	}
	if entries == nil {
		entries = []domain.AuditLogEntry{}
	}
	return entries, nil
}

// CandidateTrail returns the rejection record of a candidate. Elevated
// actors, the candidate's owner and the actor who recorded an entry may
// read it.
func (s *AuditService) CandidateTrail(ctx context.Context, candidateID uuid.UUID, actor domain.Actor) ([]domain.AuditLogEntry, error) {
	entries, err := s.audits.ListByCandidate(ctx, candidateID)
	if err != nil {
		return nil, storeErr(err, "audit trail of "+candidateRef(candidateID))
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no audit entries for %s", domain.ErrNotFound, candidateRef(candidateID))
	}
	if actor.Role.Elevated() {
		return entries, nil
	}
	for _, e := range entries {
		if e.ActorID == actor.ID || e.OwnerID == actor.ID {
			return entries, nil
		}
	}
	return nil, forbidden(actor, "audit trail of "+candidateRef(candidateID))
}
