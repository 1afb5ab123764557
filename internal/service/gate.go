package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/Harshitk-cp/memlayer/internal/notify"
	"github.com/Harshitk-cp/memlayer/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultGateThreshold = 0.8
	DefaultImportance    = 0.5
	DefaultDecayRate     = 0.01
	DefaultSource        = "api"

	// ApprovedBaseStrength is the starting strength of a human-approved memory.
	ApprovedBaseStrength = 1.0
)

type GateConfig struct {
	Threshold                   float64
	AutoStoreAboveThreshold     bool
	RequireReviewBelowThreshold bool
	DefaultImportance           float64
	DefaultDecayRate            float64
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		Threshold:                   DefaultGateThreshold,
		AutoStoreAboveThreshold:     true,
		RequireReviewBelowThreshold: true,
		DefaultImportance:           DefaultImportance,
		DefaultDecayRate:            DefaultDecayRate,
	}
}

func (c GateConfig) Validate() error {
	if err := validateUnit("threshold", c.Threshold); err != nil {
		return err
	}
	if err := validateUnit("default importance", c.DefaultImportance); err != nil {
		return err
	}
	if err := validateRate("default decay rate", c.DefaultDecayRate); err != nil {
		return err
	}
	return nil
}

type SubmitRequest struct {
	OwnerID         string         `json:"owner_id,omitempty"`
	Content         string         `json:"content"`
	Confidence      float64        `json:"confidence"`
	Tags            []string       `json:"tags,omitempty"`
	Source          string         `json:"source,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	SessionID       *string        `json:"session_id,omitempty"`
	LinkedTicketID  *string        `json:"linked_ticket_id,omitempty"`
	ParentMemoryID  *uuid.UUID     `json:"parent_memory_id,omitempty"`
	LinkedMemoryIDs []uuid.UUID    `json:"linked_memory_ids,omitempty"`
	Importance      *float64       `json:"importance,omitempty"`
	DecayRate       *float64       `json:"decay_rate,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
}

type SubmitOutcome string

const (
	OutcomeCommitted SubmitOutcome = "committed"
	OutcomeQueued    SubmitOutcome = "queued"
	OutcomeDiscarded SubmitOutcome = "discarded"
)

// SubmitResult carries exactly one of Memory (committed), Candidate (queued)
// or RejectionID (discarded, the key of the reject entry).
type SubmitResult struct {
	Outcome     SubmitOutcome            `json:"outcome"`
	Memory      *domain.Memory           `json:"memory,omitempty"`
	Candidate   *domain.PendingCandidate `json:"candidate,omitempty"`
	RejectionID *uuid.UUID               `json:"rejection_id,omitempty"`
	Reason      string                   `json:"reason,omitempty"`
}

type ApproveInput struct {
	Content    *string
	Importance *float64
	Tags       []string
}

// GateObserver is told about every gate decision.
type GateObserver interface {
	ObserveGate(outcome string)
}

// GateService decides whether a candidate is committed directly or waits
// for review, and resolves reviews.
type GateService struct {
	memories   domain.MemoryStore
	candidates domain.CandidateStore
	vectors    *vectorIndexer
	notifier   Notifier
	observer   GateObserver
	cfg        GateConfig
	logger     *zap.Logger
}

func NewGateService(ms domain.MemoryStore, cs domain.CandidateStore, cfg GateConfig, logger *zap.Logger) *GateService {
	return &GateService{
		memories:   ms,
		candidates: cs,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *GateService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *GateService) SetObserver(o GateObserver) {
	s.observer = o
}

func (s *GateService) SetEmbedding(client domain.EmbeddingClient, index domain.EmbeddingIndex) {
	s.vectors = &vectorIndexer{client: client, index: index, logger: s.logger}
}

func (s *GateService) Config() GateConfig {
	return s.cfg
}

func (s *GateService) Submit(ctx context.Context, actor domain.Actor, req SubmitRequest) (*SubmitResult, error) {
	owner, err := resolveOwner(actor, req.OwnerID)
	if err != nil {
		return nil, err
	}
	c, err := s.buildCandidate(ctx, owner, actor, req)
	if err != nil {
		return nil, err
	}

	meets := c.Confidence >= s.cfg.Threshold
	var res *SubmitResult
	switch {
	case meets && s.cfg.AutoStoreAboveThreshold:
		res, err = s.commit(ctx, c)
	case meets:
		reason := fmt.Sprintf("confidence %.2f meets threshold %.2f but auto-store is disabled", c.Confidence, s.cfg.Threshold)
		res, err = s.queue(ctx, c, reason)
	case s.cfg.RequireReviewBelowThreshold:
		reason := fmt.Sprintf("confidence %.2f below threshold %.2f", c.Confidence, s.cfg.Threshold)
		res, err = s.queue(ctx, c, reason)
	default:
		res, err = s.discard(ctx, c)
	}
	if err != nil {
		return nil, err
	}

	if s.observer != nil {
		s.observer.ObserveGate(string(res.Outcome))
	}
	s.logger.Info("candidate gated",
		zap.String("outcome", string(res.Outcome)),
		zap.String("owner_id", owner),
		zap.Float64("confidence", c.Confidence),
		zap.Float64("threshold", s.cfg.Threshold),
	)
	return res, nil
}

func (s *GateService) buildCandidate(ctx context.Context, owner string, actor domain.Actor, req SubmitRequest) (*domain.PendingCandidate, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", domain.ErrValidation)
	}
	if err := validateUnit("confidence", req.Confidence); err != nil {
		return nil, err
	}

	importance := s.cfg.DefaultImportance
	if req.Importance != nil {
		if err := validateUnit("importance", *req.Importance); err != nil {
			return nil, err
		}
		importance = *req.Importance
	}
	decay := s.cfg.DefaultDecayRate
	if req.DecayRate != nil {
		if err := validateRate("decay rate", *req.DecayRate); err != nil {
			return nil, err
		}
		decay = *req.DecayRate
	}

	now := timeNow()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expires_at %s is not in the future", domain.ErrValidation, req.ExpiresAt.Format(time.RFC3339))
	}

	if req.ParentMemoryID != nil {
		parent, err := s.memories.GetByID(ctx, *req.ParentMemoryID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: parent %s does not exist", domain.ErrValidation, memoryRef(*req.ParentMemoryID))
			}
			return nil, storeErr(err, "parent "+memoryRef(*req.ParentMemoryID))
		}
		if parent.OwnerID != owner {
			return nil, fmt.Errorf("%w: parent %s belongs to another owner", domain.ErrValidation, memoryRef(parent.ID))
		}
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = DefaultSource
	}

	return &domain.PendingCandidate{
		ID:              uuid.New(),
		OwnerID:         owner,
		Content:         content,
		Source:          source,
		Confidence:      req.Confidence,
		SuggestedTags:   domain.NormalizeTags(req.Tags),
		Importance:      importance,
		DecayRate:       decay,
		Metadata:        req.Metadata,
		SessionID:       req.SessionID,
		LinkedTicketID:  req.LinkedTicketID,
		ParentMemoryID:  req.ParentMemoryID,
		LinkedMemoryIDs: domain.NormalizeLinks(req.LinkedMemoryIDs),
		ExpiresAt:       req.ExpiresAt,
		SubmittedBy:     actor.ID,
		Version:         1,
		Timestamp:       now,
	}, nil
}

func (s *GateService) commit(ctx context.Context, c *domain.PendingCandidate) (*SubmitResult, error) {
	m := c.ToMemory()
	m.ID = uuid.New()
	m.BaseStrength = c.Confidence
	m.CreatedAt = c.Timestamp
	m.UpdatedAt = c.Timestamp
	m.Version = 1

	reason := fmt.Sprintf("auto-committed: confidence %.2f meets threshold %.2f", c.Confidence, s.cfg.Threshold)
	entry := domain.NewMemoryAudit(m.ID, domain.AuditCreate, domain.SystemActorID, m.CreatedAt).
		WithContent(nil, &m.Content).
		WithReason(reason)

	if err := s.memories.Create(ctx, m, entry); err != nil {
		return nil, storeErr(err, memoryRef(m.ID))
	}
	s.publish(memoryEvent(m, domain.AuditCreate, domain.SystemActorID, m.CreatedAt))
	s.vectors.indexMemory(ctx, m)

	return &SubmitResult{Outcome: OutcomeCommitted, Memory: m, Reason: reason}, nil
}

func (s *GateService) queue(ctx context.Context, c *domain.PendingCandidate, reason string) (*SubmitResult, error) {
	c.Reason = &reason
	if err := s.candidates.Create(ctx, c); err != nil {
		return nil, storeErr(err, candidateRef(c.ID))
	}
	return &SubmitResult{Outcome: OutcomeQueued, Candidate: c, Reason: reason}, nil
}

func (s *GateService) discard(ctx context.Context, c *domain.PendingCandidate) (*SubmitResult, error) {
	reason := fmt.Sprintf("confidence %.2f below threshold %.2f and review is disabled", c.Confidence, s.cfg.Threshold)
	entry := domain.NewRejectionAudit(c.ID, c.OwnerID, domain.SystemActorID, reason, c.Timestamp)
	if err := s.candidates.Discard(ctx, entry); err != nil {
		return nil, storeErr(err, candidateRef(c.ID))
	}
	s.publish(candidateEvent(c, domain.SystemActorID, c.Timestamp))

	id := c.ID
	return &SubmitResult{Outcome: OutcomeDiscarded, RejectionID: &id, Reason: reason}, nil
}

// Approve turns a queued candidate into an active memory. Edited content,
// importance and tags replace the proposal.
func (s *GateService) Approve(ctx context.Context, candidateID uuid.UUID, in ApproveInput, actor domain.Actor) (*domain.Memory, error) {
	c, err := s.loadCandidate(ctx, candidateID, actor)
	if err != nil {
		return nil, err
	}

	m := c.ToMemory()
	edited := false
	if in.Content != nil {
		content := strings.TrimSpace(*in.Content)
		if content == "" {
			return nil, fmt.Errorf("%w: edited content is empty", domain.ErrValidation)
		}
		edited = content != c.Content
		m.Content = content
	}
	if in.Importance != nil {
		if err := validateUnit("importance", *in.Importance); err != nil {
			return nil, err
		}
		m.Importance = *in.Importance
	}
	if in.Tags != nil {
		m.Tags = domain.NormalizeTags(in.Tags)
	}

	now := timeNow()
	m.ID = uuid.New()
	m.BaseStrength = ApprovedBaseStrength
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Version = 1

	reason := "approved " + candidateRef(c.ID)
	entry := domain.NewMemoryAudit(m.ID, domain.AuditCreate, actor.ID, now).WithReason(reason)
	if edited {
		entry.WithContent(&c.Content, &m.Content)
	} else {
		entry.WithContent(nil, &m.Content)
	}

	if err := s.candidates.Approve(ctx, c, m, entry); err != nil {
		return nil, storeErr(err, candidateRef(c.ID))
	}
	s.publish(memoryEvent(m, domain.AuditCreate, actor.ID, now))
	s.vectors.indexMemory(ctx, m)
	if s.observer != nil {
		s.observer.ObserveGate("approved")
	}
	return m, nil
}

// Reject discards a queued candidate. The ledger keeps a reject entry keyed
// by the candidate id.
func (s *GateService) Reject(ctx context.Context, candidateID uuid.UUID, actor domain.Actor, reason string) error {
	c, err := s.loadCandidate(ctx, candidateID, actor)
	if err != nil {
		return err
	}
	return s.reject(ctx, c, actor.ID, reason)
}

func (s *GateService) reject(ctx context.Context, c *domain.PendingCandidate, actorID, reason string) error {
	now := timeNow()
	entry := domain.NewRejectionAudit(c.ID, c.OwnerID, actorID, strings.TrimSpace(reason), now)
	if err := s.candidates.Reject(ctx, c, entry); err != nil {
		return storeErr(err, candidateRef(c.ID))
	}
	s.publish(candidateEvent(c, actorID, now))
	if s.observer != nil {
		s.observer.ObserveGate("rejected")
	}
	return nil
}

// RejectStale rejects candidates queued before cutoff, as the system actor.
func (s *GateService) RejectStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.candidates.ListOlderThan(ctx, cutoff, limit)
	if err != nil {
		return 0, storeErr(err, "stale candidates")
	}

	rejected := 0
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return rejected, err
		}
		if err := s.reject(ctx, &stale[i], domain.SystemActorID, "pending ttl elapsed"); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return rejected, err
		}
		rejected++
	}
	return rejected, nil
}

func (s *GateService) GetCandidate(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.PendingCandidate, error) {
	return s.loadCandidate(ctx, id, actor)
}

// ListPending pages through queued candidates of one owner. An elevated
// actor that names no owner sees the whole review queue.
func (s *GateService) ListPending(ctx context.Context, actor domain.Actor, ownerID string, limit, offset int) ([]domain.PendingCandidate, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	if ownerID == "" && actor.Role.Elevated() {
		list, err := s.candidates.ListAll(ctx, limit, offset)
		if err != nil {
			return nil, storeErr(err, "review queue")
		}
		return nonNilCandidates(list), nil
	}

	owner, err := resolveOwner(actor, ownerID)
	if err != nil {
		return nil, err
	}
	list, err := s.candidates.ListByOwner(ctx, owner, limit, offset)
	if err != nil {
		return nil, storeErr(err, "candidates of "+owner)
	}
	return nonNilCandidates(list), nil
}

func nonNilCandidates(list []domain.PendingCandidate) []domain.PendingCandidate {
	if list == nil {
		return []domain.PendingCandidate{}
	}
	return list
}

func (s *GateService) loadCandidate(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.PendingCandidate, error) {
	c, err := s.candidates.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, candidateRef(id))
	}
	if !actor.CanAccess(c.OwnerID) {
		return nil, forbidden(actor, candidateRef(id))
	}
	return c, nil
}

func (s *GateService) publish(e notify.Event) {
	if s.notifier != nil {
		s.notifier.Publish(e)
	}
}

func candidateEvent(c *domain.PendingCandidate, actorID string, at time.Time) notify.Event {
	id := c.ID
	return notify.Event{
		CandidateID: &id,
		OwnerID:     c.OwnerID,
		Action:      domain.AuditReject,
		ActorID:     actorID,
		Timestamp:   at,
	}
}
