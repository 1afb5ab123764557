package domain

import "time"

// Session groups memories created within one interaction. It is a
// correlation key only.
type Session struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (s *Session) Active() bool {
	return s.EndedAt == nil
}
