package domain

import (
	"time"

	"github.com/google/uuid"
)

// PendingCandidate is a submitted memory waiting for a human decision. It
// carries everything needed to become a Memory on approval.
type PendingCandidate struct {
	ID              uuid.UUID      `json:"id"`
	OwnerID         string         `json:"owner_id"`
	Content         string         `json:"content"`
	Source          string         `json:"source"`
	Confidence      float64        `json:"confidence"`
	SuggestedTags   []string       `json:"suggested_tags"`
	Reason          *string        `json:"reason,omitempty"`
	Importance      float64        `json:"importance"`
	DecayRate       float64        `json:"decay_rate"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	SessionID       *string        `json:"session_id,omitempty"`
	LinkedTicketID  *string        `json:"linked_ticket_id,omitempty"`
	ParentMemoryID  *uuid.UUID     `json:"parent_memory_id,omitempty"`
	LinkedMemoryIDs []uuid.UUID    `json:"linked_memory_ids"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	SubmittedBy     string         `json:"submitted_by"`
	Version         int64          `json:"version"`
	Timestamp       time.Time      `json:"timestamp"`
}

// ToMemory converts the candidate into an active memory owned by the same
// subject. The caller assigns ID, timestamps and base strength.
func (c *PendingCandidate) ToMemory() *Memory {
	return &Memory{
		OwnerID:         c.OwnerID,
		Content:         c.Content,
		Tags:            NormalizeTags(c.SuggestedTags),
		Source:          c.Source,
		Confidence:      c.Confidence,
		Importance:      c.Importance,
		DecayRate:       c.DecayRate,
		Metadata:        c.Metadata,
		SessionID:       cloneString(c.SessionID),
		LinkedTicketID:  cloneString(c.LinkedTicketID),
		ParentMemoryID:  c.ParentMemoryID,
		LinkedMemoryIDs: NormalizeLinks(c.LinkedMemoryIDs),
		ExpiresAt:       cloneTime(c.ExpiresAt),
		Status:          StatusActive,
	}
}
