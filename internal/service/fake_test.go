package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/Harshitk-cp/memlayer/internal/notify"
	"github.com/Harshitk-cp/memlayer/internal/store"
	"github.com/google/uuid"
)

// fakeBackend is an in-memory stand-in for Postgres. One mutex plays the
// role of a transaction: a mutation and its audit entry land together or not
// at all.
type fakeBackend struct {
	mu         sync.Mutex
	memories   map[uuid.UUID]*domain.Memory
	candidates map[uuid.UUID]*domain.PendingCandidate
	sessions   map[string]*domain.Session
	audits     []domain.AuditLogEntry

	// failWrites makes every mutating call fail before touching state.
	failWrites error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		memories:   make(map[uuid.UUID]*domain.Memory),
		candidates: make(map[uuid.UUID]*domain.PendingCandidate),
		sessions:   make(map[string]*domain.Session),
	}
}

func (b *fakeBackend) Memories() *fakeMemoryStore { return &fakeMemoryStore{b} }
func (b *fakeBackend) Audits() *fakeAuditStore { return &fakeAuditStore{b} }
func (b *fakeBackend) Candidates() *fakeCandidateStore { return &fakeCandidateStore{b} }
func (b *fakeBackend) SessionStore() *fakeSessionStore { return &fakeSessionStore{b} }

func (b *fakeBackend) appendAudit(e *domain.AuditLogEntry) {
	if e == nil {
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	b.audits = append(b.audits, *e)
}

func (b *fakeBackend) auditCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.audits)
}

func (b *fakeBackend) entries(action domain.AuditAction) []domain.AuditLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.AuditLogEntry
	for _, e := range b.audits {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// put seeds a memory directly.
func (b *fakeBackend) put(m *domain.Memory) *domain.Memory {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if m.Status == "" {
		m.Status = domain.StatusActive
	}
	b.memories[m.ID] = m.Clone()
	return m
}

func (b *fakeBackend) stored(id uuid.UUID) *domain.Memory {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.memories[id]
	if !ok {
		return nil
	}
	return m.Clone()
}

type fakeMemoryStore struct{ b *fakeBackend }

func (s *fakeMemoryStore) Create(ctx context.Context, m *domain.Memory, entry *domain.AuditLogEntry) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.b.failWrites != nil {
		return s.b.failWrites
	}
	if _, ok := s.b.memories[m.ID]; ok {
		return store.ErrConflict
	}
	if m.Version == 0 {
		m.Version = 1
	}
	s.b.memories[m.ID] = m.Clone()
	s.b.appendAudit(entry)
	return nil
}

func (s *fakeMemoryStore) update(m *domain.Memory, expected int64, entry *domain.AuditLogEntry) error {
	cur, ok := s.b.memories[m.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != expected {
		return store.ErrConflict
	}
	m.Version = expected + 1
	s.b.memories[m.ID] = m.Clone()
	s.b.appendAudit(entry)
	return nil
}

func (s *fakeMemoryStore) Update(ctx context.Context, m *domain.Memory, expected int64, entry *domain.AuditLogEntry) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.b.failWrites != nil {
		return s.b.failWrites
	}
	return s.update(m, expected, entry)
}

func (s *fakeMemoryStore) UpdateBatch(ctx context.Context, updates []domain.MemoryUpdate) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.b.failWrites != nil {
		return s.b.failWrites
	}
	for _, u := range updates {
		cur, ok := s.b.memories[u.Memory.ID]
		if !ok {
			return store.ErrNotFound
		}
		if cur.Version != u.ExpectedVersion {
			return store.ErrConflict
		}
	}
	for _, u := range updates {
		if err := s.update(u.Memory, u.ExpectedVersion, u.Entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeMemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Memory, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	m, ok := s.b.memories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *fakeMemoryStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]domain.Memory, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []domain.Memory
	for _, id := range ids {
		if m, ok := s.b.memories[id]; ok {
			out = append(out, *m.Clone())
		}
	}
	return out, nil
}

func (s *fakeMemoryStore) filter(f domain.MemoryFilter) []domain.Memory {
	var out []domain.Memory
	for _, m := range s.b.memories {
		if m.OwnerID != f.OwnerID {
			continue
		}
		if f.SessionID != nil && (m.SessionID == nil || *m.SessionID != *f.SessionID) {
			continue
		}
		if f.LinkedTicketID != nil && (m.LinkedTicketID == nil || *m.LinkedTicketID != *f.LinkedTicketID) {
			continue
		}
		if f.Tag != "" && !m.HasTag(f.Tag) {
			continue
		}
		if f.CreatedAfter != nil && !m.CreatedAt.After(*f.CreatedAfter) {
			continue
		}
		if f.LiveAt != nil && m.ExpiresAt != nil && !m.ExpiresAt.After(*f.LiveAt) {
			continue
		}
		if len(f.Statuses) == 0 {
			if m.Status == domain.StatusDeleted {
				continue
			}
		} else if !containsStatus(f.Statuses, m.Status) {
			continue
		}
		out = append(out, *m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *fakeMemoryStore) List(ctx context.Context, f domain.MemoryFilter) ([]domain.Memory, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	out := s.filter(f)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *fakeMemoryStore) Count(ctx context.Context, f domain.MemoryFilter) (int, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return len(s.filter(f)), nil
}

func (s *fakeMemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]domain.Memory, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []domain.Memory
	for _, m := range s.b.memories {
		if m.ExpiresAt != nil && m.ExpiresAt.Before(before) && m.Status != domain.StatusDeleted {
			out = append(out, *m.Clone())
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func containsStatus(list []domain.Status, s domain.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeAuditStore struct{ b *fakeBackend }

func (s *fakeAuditStore) Append(ctx context.Context, e *domain.AuditLogEntry) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.b.failWrites != nil {
		return s.b.failWrites
	}
	s.b.appendAudit(e)
	return nil
}

func (s *fakeAuditStore) ListByMemory(ctx context.Context, memoryID uuid.UUID) ([]domain.AuditLogEntry, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []domain.AuditLogEntry
	for _, e := range s.b.audits {
		if e.MemoryID != nil && *e.MemoryID == memoryID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeAuditStore) ListByCandidate(ctx context.Context, candidateID uuid.UUID) ([]domain.AuditLogEntry, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []domain.AuditLogEntry
	for _, e := range s.b.audits {
		if e.CandidateID != nil && *e.CandidateID == candidateID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeAuditStore) LatestByAction(ctx context.Context, memoryID uuid.UUID, action domain.AuditAction) (*domain.AuditLogEntry, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	for i := len(s.b.audits) - 1; i >= 0; i-- {
		e := s.b.audits[i]
		if e.Action == action && e.MemoryID != nil && *e.MemoryID == memoryID {
			return &e, nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeCandidateStore struct{ b *fakeBackend }

func (s *fakeCandidateStore) Create(ctx context.Context, c *domain.PendingCandidate) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.b.failWrites != nil {
		return s.b.failWrites
	}
	cp := *c
	s.b.candidates[c.ID] = &cp
	return nil
}

func (s *fakeCandidateStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.PendingCandidate, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	c, ok := s.b.candidates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeCandidateStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.PendingCandidate, error) {
	return s.list(func(c *domain.PendingCandidate) bool { return c.OwnerID == ownerID }, limit, offset)
}

func (s *fakeCandidateStore) ListAll(ctx context.Context, limit, offset int) ([]domain.PendingCandidate, error) {
	return s.list(func(*domain.PendingCandidate) bool { return true }, limit, offset)
}

func (s *fakeCandidateStore) list(keep func(*domain.PendingCandidate) bool, limit, offset int) ([]domain.PendingCandidate, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []domain.PendingCandidate
	for _, c := range s.b.candidates {
		if keep(c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeCandidateStore) ListOlderThan(ctx context.Context, before time.Time, limit int) ([]domain.PendingCandidate, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []domain.PendingCandidate
	for _, c := range s.b.candidates {
		if c.Timestamp.Before(before) {
			out = append(out, *c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeCandidateStore) remove(c *domain.PendingCandidate) error {
	cur, ok := s.b.candidates[c.ID]
	if !ok || cur.Version != c.Version {
		return store.ErrConflict
	}
	delete(s.b.candidates, c.ID)
	return nil
}

func (s *fakeCandidateStore) Approve(ctx context.Context, c *domain.PendingCandidate, m *domain.Memory, entry *domain.AuditLogEntry) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.b.failWrites != nil {
		return s.b.failWrites
	}
	if err := s.remove(c); err != nil {
		return err
	}
	s.b.memories[m.ID] = m.Clone()
	s.b.appendAudit(entry)
	return nil
}

func (s *fakeCandidateStore) Reject(ctx context.Context, c *domain.PendingCandidate, entry *domain.AuditLogEntry) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.b.failWrites != nil {
		return s.b.failWrites
	}
	if err := s.remove(c); err != nil {
		return err
	}
	s.b.appendAudit(entry)
	return nil
}

func (s *fakeCandidateStore) Discard(ctx context.Context, entry *domain.AuditLogEntry) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.b.failWrites != nil {
		return s.b.failWrites
	}
	s.b.appendAudit(entry)
	return nil
}

type fakeSessionStore struct{ b *fakeBackend }

func (s *fakeSessionStore) Create(ctx context.Context, sess *domain.Session) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if _, ok := s.b.sessions[sess.ID]; ok {
		return store.ErrConflict
	}
	cp := *sess
	s.b.sessions[sess.ID] = &cp
	return nil
}

func (s *fakeSessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	sess, ok := s.b.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeSessionStore) End(ctx context.Context, id string, at time.Time) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	sess, ok := s.b.sessions[id]
	if !ok || sess.EndedAt != nil {
		return store.ErrNotFound
	}
	sess.EndedAt = &at
	return nil
}

func (s *fakeSessionStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Session, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	var out []domain.Session
	for _, sess := range s.b.sessions {
		if sess.OwnerID == ownerID {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// recordingNotifier collects published events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Publish(e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) actions() []domain.AuditAction {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.AuditAction, len(n.events))
	for i, e := range n.events {
		out[i] = e.Action
	}
	return out
}

var errBackendDown = errors.New("connection refused")

// fixedClock pins timeNow for the duration of a test.
func fixedClock(t interface{ Cleanup(func()) }, at time.Time) *time.Time {
	now := at
	prev := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = prev })
	return &now
}

var (
	alice = domain.Actor{ID: "alice", Role: domain.RoleUser}
	bob   = domain.Actor{ID: "bob", Role: domain.RoleUser}
	admin = domain.Actor{ID: "root", Role: domain.RoleAdmin}
)
