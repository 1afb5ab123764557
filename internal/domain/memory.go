package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RedactedMarker replaces the content of a redacted memory. The original text
// only survives in the audit ledger.
const RedactedMarker = "[REDACTED]"

type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusVerified Status = "verified"
	StatusRedacted Status = "redacted"
	StatusRejected Status = "rejected"
	StatusDeleted  Status = "deleted"
)

func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusActive, StatusVerified, StatusRedacted, StatusRejected, StatusDeleted:
		return true
	}
	return false
}

// Retrievable reports whether memories in this status take part in context
// reconstruction and episodic views.
func (s Status) Retrievable() bool {
	return s == StatusActive || s == StatusVerified
}

// Terminal reports whether no further transition leaves this status.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusDeleted
}

// CanTransition encodes the memory lifecycle graph.
//
//	pending  -> active | rejected | deleted
//	active   -> active (edit) | verified | redacted | deleted
//	verified -> active | redacted | deleted
//	redacted -> active (unredact, policy permitting) | deleted
//	rejected -> deleted
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusActive || to == StatusRejected || to == StatusDeleted
	case StatusActive:
		return to == StatusActive || to == StatusVerified || to == StatusRedacted || to == StatusDeleted
	case StatusVerified:
		return to == StatusActive || to == StatusRedacted || to == StatusDeleted
	case StatusRedacted:
		return to == StatusActive || to == StatusDeleted
	case StatusRejected:
		return to == StatusDeleted
	case StatusDeleted:
		return false
	}
	return false
}

type Memory struct {
	ID              uuid.UUID      `json:"id"`
	OwnerID         string         `json:"owner_id"`
	Content         string         `json:"content"`
	Tags            []string       `json:"tags"`
	Source          string         `json:"source"`
	Confidence      float64        `json:"confidence"`
	Importance      float64        `json:"importance"`
	BaseStrength    float64        `json:"base_strength"`
	DecayRate       float64        `json:"decay_rate"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	SessionID       *string        `json:"session_id,omitempty"`
	LinkedTicketID  *string        `json:"linked_ticket_id,omitempty"`
	ParentMemoryID  *uuid.UUID     `json:"parent_memory_id,omitempty"`
	LinkedMemoryIDs []uuid.UUID    `json:"linked_memory_ids"`
	Status          Status         `json:"status"`
	VerifiedBy      *string        `json:"verified_by,omitempty"`
	VerifiedAt      *time.Time     `json:"verified_at,omitempty"`
	RedactedBy      *string        `json:"redacted_by,omitempty"`
	RedactedAt      *time.Time     `json:"redacted_at,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Clone returns a copy that shares no slices, maps or pointers with m.
func (m *Memory) Clone() *Memory {
	c := *m
	c.Tags = append([]string(nil), m.Tags...)
	c.LinkedMemoryIDs = append([]uuid.UUID(nil), m.LinkedMemoryIDs...)
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	c.SessionID = cloneString(m.SessionID)
	c.LinkedTicketID = cloneString(m.LinkedTicketID)
	c.VerifiedBy = cloneString(m.VerifiedBy)
	c.RedactedBy = cloneString(m.RedactedBy)
	c.VerifiedAt = cloneTime(m.VerifiedAt)
	c.RedactedAt = cloneTime(m.RedactedAt)
	c.ExpiresAt = cloneTime(m.ExpiresAt)
	if m.ParentMemoryID != nil {
		id := *m.ParentMemoryID
		c.ParentMemoryID = &id
	}
	return &c
}

// HasTag reports whether the normalized tag is present.
func (m *Memory) HasTag(tag string) bool {
	tag = normalizeTag(tag)
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NormalizeTags trims, lower-cases, de-duplicates and sorts tags so that the
// stored set is independent of input order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = normalizeTag(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NormalizeLinks drops duplicates and nil ids while keeping declaration order.
func NormalizeLinks(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func normalizeTag(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
