package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/Harshitk-cp/memlayer/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// UnredactPolicy decides whether a redaction can be undone.
type UnredactPolicy string

const (
	// UnredactRetainForRestore restores the content recorded by the latest
	// redact entry in the ledger.
	UnredactRetainForRestore UnredactPolicy = "retain-for-restore"
	// UnredactAuditTrailOnly keeps redaction irreversible.
	UnredactAuditTrailOnly UnredactPolicy = "audit-trail-only"
)

func ParseUnredactPolicy(s string) (UnredactPolicy, error) {
	switch p := UnredactPolicy(s); p {
	case UnredactRetainForRestore, UnredactAuditTrailOnly:
		return p, nil
	case "":
		return UnredactAuditTrailOnly, nil
	}
	return "", fmt.Errorf("unknown unredact policy %q (valid: %s, %s)", s, UnredactRetainForRestore, UnredactAuditTrailOnly)
}

type LifecycleConfig struct {
	AuditReads     bool
	UnredactPolicy UnredactPolicy
}

// Mutation identifies a state change request. Version is the caller's
// last-seen version; zero means "whatever is current".
type Mutation struct {
	MemoryID uuid.UUID
	Actor    domain.Actor
	Reason   string
	Version  int64
}

// EditInput replaces content and optionally revises importance and tags.
// Nil Tags leaves the tag set unchanged.
type EditInput struct {
	Content    string
	Importance *float64
	Tags       []string
}

type ListQuery struct {
	OwnerID   string
	SessionID *string
	Tag       string
	Status    string
	Limit     int
	Offset    int
}

type MemoryView struct {
	domain.Memory
	Strength float64 `json:"strength"`
}

type ListResult struct {
	Memories []MemoryView `json:"memories"`
	Total    int          `json:"total"`
	Limit    int          `json:"limit"`
	Offset   int          `json:"offset"`
}

// LifecycleService enforces the memory state machine. Every mutation is
// written together with its audit entry and announced after commit.
type LifecycleService struct {
	memories domain.MemoryStore
	audits   domain.AuditStore
	vectors  *vectorIndexer
	notifier Notifier
	cfg      LifecycleConfig
	logger   *zap.Logger
}

func NewLifecycleService(ms domain.MemoryStore, as domain.AuditStore, cfg LifecycleConfig, logger *zap.Logger) *LifecycleService {
	if cfg.UnredactPolicy == "" {
		cfg.UnredactPolicy = UnredactAuditTrailOnly
	}
	return &LifecycleService{
		memories: ms,
		audits:   as,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *LifecycleService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *LifecycleService) SetEmbedding(client domain.EmbeddingClient, index domain.EmbeddingIndex) {
	s.vectors = &vectorIndexer{client: client, index: index, logger: s.logger}
}

// Get returns a live memory. Deleted memories are reported as absent.
func (s *LifecycleService) Get(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Memory, error) {
	m, err := s.memories.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, memoryRef(id))
	}
	if m.Status == domain.StatusDeleted {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, memoryRef(id))
	}
	if !actor.CanAccess(m.OwnerID) {
		return nil, forbidden(actor, memoryRef(id))
	}

	if s.cfg.AuditReads {
		entry := domain.NewMemoryAudit(m.ID, domain.AuditRead, actor.ID, timeNow())
		if err := s.audits.Append(ctx, entry); err != nil {
			return nil, storeErr(err, "read audit for "+memoryRef(id))
		}
	}
	return m, nil
}

func (s *LifecycleService) List(ctx context.Context, actor domain.Actor, q ListQuery) (*ListResult, error) {
	owner, err := resolveOwner(actor, q.OwnerID)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	filter := domain.MemoryFilter{
		OwnerID:   owner,
		SessionID: q.SessionID,
		Tag:       q.Tag,
	}
	if q.Status != "" {
		if !domain.ValidStatus(q.Status) || domain.Status(q.Status) == domain.StatusDeleted {
			return nil, fmt.Errorf("%w: cannot list by status %q", domain.ErrValidation, q.Status)
		}
		filter.Statuses = []domain.Status{domain.Status(q.Status)}
	}

	total, err := s.memories.Count(ctx, filter)
	if err != nil {
		return nil, storeErr(err, "memories of "+owner)
	}

	filter.Limit = limit
	filter.Offset = offset
	list, err := s.memories.List(ctx, filter)
	if err != nil {
		return nil, storeErr(err, "memories of "+owner)
	}

	now := timeNow()
	views := make([]MemoryView, 0, len(list))
	for i := range list {
		views = append(views, MemoryView{Memory: list[i], Strength: domain.Strength(&list[i], now)})
	}
	return &ListResult{Memories: views, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *LifecycleService) Edit(ctx context.Context, mut Mutation, in EditInput) (*domain.Memory, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", domain.ErrValidation)
	}
	if in.Importance != nil {
		if err := validateUnit("importance", *in.Importance); err != nil {
			return nil, err
		}
	}

	m, err := s.load(ctx, mut)
	if err != nil {
		return nil, err
	}

	switch m.Status {
	case domain.StatusActive, domain.StatusVerified:
	case domain.StatusRedacted:
		return nil, fmt.Errorf("%w: %s is redacted and cannot be edited", domain.ErrForbidden, memoryRef(m.ID))
	default:
		return nil, invalidState(m, "edit")
	}
	if err := checkVersion(m, mut); err != nil {
		return nil, err
	}

	now := timeNow()
	next := m.Clone()
	next.Content = content
	if in.Importance != nil {
		next.Importance = *in.Importance
	}
	if in.Tags != nil {
		next.Tags = domain.NormalizeTags(in.Tags)
	}
	if m.Status == domain.StatusVerified {
		next.Status = domain.StatusActive
		next.VerifiedBy, next.VerifiedAt = nil, nil
	}
	next.UpdatedAt = now

	prev := m.Content
	entry := domain.NewMemoryAudit(m.ID, domain.AuditUpdate, mut.Actor.ID, now).
		WithContent(&prev, &next.Content).
		WithReason(mut.Reason)

	if err := s.commit(ctx, m, next, entry); err != nil {
		return nil, err
	}
	if next.Content != prev {
		s.vectors.indexMemory(ctx, next)
	}
	return next, nil
}

// Verify is idempotent: a verified memory is returned unchanged and no
// second entry is written.
func (s *LifecycleService) Verify(ctx context.Context, mut Mutation) (*domain.Memory, error) {
	m, err := s.load(ctx, mut)
	if err != nil {
		return nil, err
	}
	if m.Status == domain.StatusVerified {
		return m, nil
	}
	if m.Status != domain.StatusActive {
		return nil, invalidState(m, "verify")
	}
	if err := checkVersion(m, mut); err != nil {
		return nil, err
	}

	now := timeNow()
	next := m.Clone()
	next.Status = domain.StatusVerified
	next.VerifiedBy = &mut.Actor.ID
	next.VerifiedAt = &now
	next.UpdatedAt = now

	entry := domain.NewMemoryAudit(m.ID, domain.AuditVerify, mut.Actor.ID, now).WithReason(mut.Reason)
	if err := s.commit(ctx, m, next, entry); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *LifecycleService) Unverify(ctx context.Context, mut Mutation) (*domain.Memory, error) {
	m, err := s.load(ctx, mut)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.StatusVerified {
		return nil, invalidState(m, "unverify")
	}
	if err := checkVersion(m, mut); err != nil {
		return nil, err
	}

	now := timeNow()
	next := m.Clone()
	next.Status = domain.StatusActive
	next.VerifiedBy, next.VerifiedAt = nil, nil
	next.UpdatedAt = now

	entry := domain.NewMemoryAudit(m.ID, domain.AuditUnverify, mut.Actor.ID, now).WithReason(mut.Reason)
	if err := s.commit(ctx, m, next, entry); err != nil {
		return nil, err
	}
	return next, nil
}

// Redact replaces the content with the marker. The original text is kept
// only as the entry's previous content.
func (s *LifecycleService) Redact(ctx context.Context, mut Mutation) (*domain.Memory, error) {
	if strings.TrimSpace(mut.Reason) == "" {
		return nil, fmt.Errorf("%w: reason is required to redact", domain.ErrValidation)
	}

	m, err := s.load(ctx, mut)
	if err != nil {
		return nil, err
	}
	switch m.Status {
	case domain.StatusActive, domain.StatusVerified:
	case domain.StatusRedacted:
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyRedacted, memoryRef(m.ID))
	default:
		return nil, invalidState(m, "redact")
	}
	if err := checkVersion(m, mut); err != nil {
		return nil, err
	}

	now := timeNow()
	next := m.Clone()
	next.Content = domain.RedactedMarker
	next.Status = domain.StatusRedacted
	next.RedactedBy = &mut.Actor.ID
	next.RedactedAt = &now
	next.UpdatedAt = now

	prev := m.Content
	marker := domain.RedactedMarker
	entry := domain.NewMemoryAudit(m.ID, domain.AuditRedact, mut.Actor.ID, now).
		WithContent(&prev, &marker).
		WithReason(mut.Reason)

	if err := s.commit(ctx, m, next, entry); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *LifecycleService) Unredact(ctx context.Context, mut Mutation) (*domain.Memory, error) {
	m, err := s.load(ctx, mut)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.StatusRedacted {
		return nil, invalidState(m, "unredact")
	}
	if s.cfg.UnredactPolicy != UnredactRetainForRestore {
		return nil, fmt.Errorf("%w: redaction is irreversible under policy %s", domain.ErrForbidden, s.cfg.UnredactPolicy)
	}
	if err := checkVersion(m, mut); err != nil {
		return nil, err
	}

	last, err := s.audits.LatestByAction(ctx, m.ID, domain.AuditRedact)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no redact entry retains the content of %s", domain.ErrInvalidState, memoryRef(m.ID))
		}
		return nil, storeErr(err, "audit trail of "+memoryRef(m.ID))
	}
	if last.PreviousContent == nil {
		return nil, fmt.Errorf("%w: redact entry of %s has no prior content", domain.ErrInvalidState, memoryRef(m.ID))
	}

	now := timeNow()
	next := m.Clone()
	next.Content = *last.PreviousContent
	next.Status = domain.StatusActive
	next.RedactedBy, next.RedactedAt = nil, nil
	next.VerifiedBy, next.VerifiedAt = nil, nil
	next.UpdatedAt = now

	marker := m.Content
	entry := domain.NewMemoryAudit(m.ID, domain.AuditUnredact, mut.Actor.ID, now).
		WithContent(&marker, &next.Content).
		WithReason(mut.Reason)

	if err := s.commit(ctx, m, next, entry); err != nil {
		return nil, err
	}
	s.vectors.indexMemory(ctx, next)
	return next, nil
}

// Delete is a soft delete: the row stays for the ledger but every read
// reports it as absent. Deleting twice is a no-op.
func (s *LifecycleService) Delete(ctx context.Context, mut Mutation) (*domain.Memory, error) {
	m, err := s.load(ctx, mut)
	if err != nil {
		return nil, err
	}
	if m.Status == domain.StatusDeleted {
		return m, nil
	}
	if err := checkVersion(m, mut); err != nil {
		return nil, err
	}

	now := timeNow()
	next := m.Clone()
	next.Status = domain.StatusDeleted
	next.UpdatedAt = now

	entry := domain.NewMemoryAudit(m.ID, domain.AuditDelete, mut.Actor.ID, now).WithReason(mut.Reason)
	if err := s.commit(ctx, m, next, entry); err != nil {
		return nil, err
	}
	return next, nil
}

// Clear deletes every live memory of an owner, optionally restricted to one
// session, in a single transaction.
func (s *LifecycleService) Clear(ctx context.Context, actor domain.Actor, ownerID string, sessionID *string, reason string) (int, error) {
	owner, err := resolveOwner(actor, ownerID)
	if err != nil {
		return 0, err
	}

	list, err := s.memories.List(ctx, domain.MemoryFilter{OwnerID: owner, SessionID: sessionID})
	if err != nil {
		return 0, storeErr(err, "memories of "+owner)
	}
	if len(list) == 0 {
		return 0, nil
	}

	now := timeNow()
	updates := make([]domain.MemoryUpdate, 0, len(list))
	for i := range list {
		m := &list[i]
		if m.Status == domain.StatusDeleted {
			continue
		}
		next := m.Clone()
		next.Status = domain.StatusDeleted
		next.UpdatedAt = now
		updates = append(updates, domain.MemoryUpdate{
			Memory:          next,
			ExpectedVersion: m.Version,
			Entry:           domain.NewMemoryAudit(m.ID, domain.AuditDelete, actor.ID, now).WithReason(reason),
		})
	}

	if err := s.memories.UpdateBatch(ctx, updates); err != nil {
		return 0, storeErr(err, "memories of "+owner)
	}

	for _, u := range updates {
		s.publish(u.Memory, domain.AuditDelete, actor.ID, now)
	}
	s.logger.Info("memories cleared",
		zap.String("owner_id", owner),
		zap.String("actor_id", actor.ID),
		zap.Int("count", len(updates)),
	)
	return len(updates), nil
}

// ExpireDue soft-deletes memories whose hard cutoff has passed, as the
// system actor. Memories changed concurrently are left for the next sweep.
func (s *LifecycleService) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.memories.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, storeErr(err, "expired memories")
	}

	expired := 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		_, err := s.Delete(ctx, Mutation{
			MemoryID: due[i].ID,
			Actor:    domain.SystemActor,
			Reason:   "expired",
			Version:  due[i].Version,
		})
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *LifecycleService) load(ctx context.Context, mut Mutation) (*domain.Memory, error) {
	m, err := s.memories.GetByID(ctx, mut.MemoryID)
	if err != nil {
		return nil, storeErr(err, memoryRef(mut.MemoryID))
	}
	if !mut.Actor.CanAccess(m.OwnerID) {
		return nil, forbidden(mut.Actor, memoryRef(m.ID))
	}
	return m, nil
}

func (s *LifecycleService) commit(ctx context.Context, prev, next *domain.Memory, entry *domain.AuditLogEntry) error {
	if !domain.CanTransition(prev.Status, next.Status) {
		return fmt.Errorf("%w: %s cannot move from %s to %s", domain.ErrInvalidState, memoryRef(prev.ID), prev.Status, next.Status)
	}
	if err := s.memories.Update(ctx, next, prev.Version, entry); err != nil {
		return storeErr(err, memoryRef(prev.ID))
	}
	s.publish(next, entry.Action, entry.ActorID, entry.Timestamp)
	return nil
}

func (s *LifecycleService) publish(m *domain.Memory, action domain.AuditAction, actorID string, at time.Time) {
	if s.notifier != nil {
		s.notifier.Publish(memoryEvent(m, action, actorID, at))
	}
}

func checkVersion(m *domain.Memory, mut Mutation) error {
	if mut.Version != 0 && mut.Version != m.Version {
		return fmt.Errorf("%w: %s is at version %d, request was based on %d", domain.ErrConflict, memoryRef(m.ID), m.Version, mut.Version)
	}
	return nil
}

func invalidState(m *domain.Memory, op string) error {
	return fmt.Errorf("%w: cannot %s %s in status %s", domain.ErrInvalidState, op, memoryRef(m.ID), m.Status)
}
