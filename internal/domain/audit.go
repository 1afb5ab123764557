package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditCreate   AuditAction = "create"
	AuditRead     AuditAction = "read"
	AuditUpdate   AuditAction = "update"
	AuditDelete   AuditAction = "delete"
	AuditVerify   AuditAction = "verify"
	AuditUnverify AuditAction = "unverify"
	AuditRedact   AuditAction = "redact"
	AuditUnredact AuditAction = "unredact"
	AuditReject   AuditAction = "reject"
)

// AuditActions lists every action in a stable order.
var AuditActions = []AuditAction{
	AuditCreate, AuditRead, AuditUpdate, AuditDelete, AuditVerify,
	AuditUnverify, AuditRedact, AuditUnredact, AuditReject,
}

func ParseAuditAction(s string) (AuditAction, error) {
	switch a := AuditAction(s); a {
	case AuditCreate, AuditRead, AuditUpdate, AuditDelete, AuditVerify,
		AuditUnverify, AuditRedact, AuditUnredact, AuditReject:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown audit action %q", ErrValidation, s)
}

// IsMutation reports whether the action records a state change. Reads are
// the only entries that do not.
func (a AuditAction) IsMutation() bool {
	switch a {
	case AuditCreate, AuditUpdate, AuditDelete, AuditVerify, AuditUnverify,
		AuditRedact, AuditUnredact, AuditReject:
		return true
	case AuditRead:
		return false
	}
	return false
}

// ResultingStatus is the memory status after the action has been applied,
// given the status it was applied to.
func (a AuditAction) ResultingStatus(from Status) Status {
	switch a {
	case AuditCreate, AuditUnverify, AuditUnredact:
		return StatusActive
	case AuditUpdate:
		if from == StatusVerified {
			return StatusActive
		}
		return from
	case AuditVerify:
		return StatusVerified
	case AuditRedact:
		return StatusRedacted
	case AuditDelete:
		return StatusDeleted
	case AuditReject:
		return StatusRejected
	case AuditRead:
		return from
	}
	return from
}

// AuditLogEntry is immutable once written. Rejections of candidates that never
// became memories carry CandidateID, the candidate's OwnerID and a nil
// MemoryID.
type AuditLogEntry struct {
	ID              uuid.UUID   `json:"id"`
	MemoryID        *uuid.UUID  `json:"memory_id,omitempty"`
	CandidateID     *uuid.UUID  `json:"candidate_id,omitempty"`
	Action          AuditAction `json:"action"`
	PreviousContent *string     `json:"previous_content,omitempty"`
	NewContent      *string     `json:"new_content,omitempty"`
	Reason          *string     `json:"reason,omitempty"`
	ActorID         string      `json:"actor_id"`
	OwnerID         string      `json:"owner_id,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
}

// NewMemoryAudit builds an entry for an action on an existing memory.
func NewMemoryAudit(memoryID uuid.UUID, action AuditAction, actorID string, at time.Time) *AuditLogEntry {
	id := memoryID
	return &AuditLogEntry{
		ID:        uuid.New(),
		MemoryID:  &id,
		Action:    action,
		ActorID:   actorID,
		Timestamp: at,
	}
}

// NewRejectionAudit builds the rejection record for a candidate.
func NewRejectionAudit(candidateID uuid.UUID, ownerID, actorID, reason string, at time.Time) *AuditLogEntry {
	id := candidateID
	e := &AuditLogEntry{
		ID:          uuid.New(),
		CandidateID: &id,
		Action:      AuditReject,
		ActorID:     actorID,
		OwnerID:     ownerID,
		Timestamp:   at,
	}
	return e.WithReason(reason)
}

func (e *AuditLogEntry) WithContent(previous, next *string) *AuditLogEntry {
	e.PreviousContent = cloneString(previous)
	e.NewContent = cloneString(next)
	return e
}

func (e *AuditLogEntry) WithReason(reason string) *AuditLogEntry {
	if reason != "" {
		e.Reason = &reason
	}
	return e
}
