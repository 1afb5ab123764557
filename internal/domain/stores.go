package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryFilter selects memories of one owner. Zero values mean "any".
type MemoryFilter struct {
	OwnerID        string
	SessionID      *string
	Tag            string
	LinkedTicketID *string
	Statuses       []Status
	CreatedAfter   *time.Time
	// LiveAt drops memories whose expiry is at or before the instant.
	LiveAt *time.Time
	Limit          int
	Offset         int
}

// MemoryStore persists memories. Every mutating method writes the given audit
// entry in the same transaction as the memory row; if either write fails,
// neither is visible.
type MemoryStore interface {
	Create(ctx context.Context, m *Memory, entry *AuditLogEntry) error
	// Update replaces the mutable fields of m when the stored version equals
	// expectedVersion, bumping the version by one.
	Update(ctx context.Context, m *Memory, expectedVersion int64, entry *AuditLogEntry) error
	// UpdateBatch applies several guarded updates atomically.
	UpdateBatch(ctx context.Context, updates []MemoryUpdate) error
	// GetByID returns the memory in any status, deleted included.
	GetByID(ctx context.Context, id uuid.UUID) (*Memory, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]Memory, error)
	List(ctx context.Context, f MemoryFilter) ([]Memory, error)
	Count(ctx context.Context, f MemoryFilter) (int, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]Memory, error)
}

type MemoryUpdate struct {
	Memory          *Memory
	ExpectedVersion int64
	Entry           *AuditLogEntry
}

// AuditStore is append-only. Mutation entries are written by MemoryStore and
// CandidateStore; Append exists for read entries.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditLogEntry) error
	ListByMemory(ctx context.Context, memoryID uuid.UUID) ([]AuditLogEntry, error)
	ListByCandidate(ctx context.Context, candidateID uuid.UUID) ([]AuditLogEntry, error)
	LatestByAction(ctx context.Context, memoryID uuid.UUID, action AuditAction) (*AuditLogEntry, error)
}

type CandidateStore interface {
	Create(ctx context.Context, c *PendingCandidate) error
	GetByID(ctx context.Context, id uuid.UUID) (*PendingCandidate, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]PendingCandidate, error)
	// ListAll pages through the whole review queue, newest first.
	ListAll(ctx context.Context, limit, offset int) ([]PendingCandidate, error)
	ListOlderThan(ctx context.Context, before time.Time, limit int) ([]PendingCandidate, error)
	// Approve removes c (guarded by its version), inserts m and writes entry
	// in one transaction.
	Approve(ctx context.Context, c *PendingCandidate, m *Memory, entry *AuditLogEntry) error
	// Reject removes c (guarded by its version) and writes entry in one
	// transaction.
	Reject(ctx context.Context, c *PendingCandidate, entry *AuditLogEntry) error
	// Discard records the rejection of a candidate that was never queued.
	Discard(ctx context.Context, entry *AuditLogEntry) error
}

type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	End(ctx context.Context, id string, at time.Time) error
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Session, error)
}

// RoleStore holds role overrides for subjects. Unknown subjects keep the role
// carried by their credential.
type RoleStore interface {
	GetRole(ctx context.Context, subject string) (Role, error)
	SetRole(ctx context.Context, subject string, role Role) error
}

type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingIndex stores per-memory vectors and scores them against a query.
// Vectors of redacted or deleted memories are dropped by MemoryStore.Update.
type EmbeddingIndex interface {
	SetEmbedding(ctx context.Context, memoryID uuid.UUID, embedding []float32) error
	Similarity(ctx context.Context, query []float32, ids []uuid.UUID) (map[uuid.UUID]float64, error)
}

// Matcher scores how well each memory matches a free-text query, in [0,1].
type Matcher interface {
	Match(ctx context.Context, query string, memories []Memory) (map[uuid.UUID]float64, error)
}
