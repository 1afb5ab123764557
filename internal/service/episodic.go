package service

import (
	"context"
	"sort"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EpisodeQuery struct {
	OwnerID      string
	SessionID    *string
	Tag          string
	TicketID     *string
	CreatedAfter *time.Time
	Limit        int
}

// Episode is one memory placed on a timeline. Links and LinkedFrom only
// reference memories inside the same view.
type Episode struct {
	Memory     domain.Memory    `json:"memory"`
	Strength   float64          `json:"strength"`
	Links      []uuid.UUID      `json:"links"`
	LinkedFrom []uuid.UUID      `json:"linked_from"`
	Parent     *uuid.UUID       `json:"parent,omitempty"`
	Gap        *domain.TimeDiff `json:"gap,omitempty"`
}

type EpisodicService struct {
	memories domain.MemoryStore
	logger   *zap.Logger
}

func NewEpisodicService(ms domain.MemoryStore, logger *zap.Logger) *EpisodicService {
	return &EpisodicService{memories: ms, logger: logger}
}

// View orders the selected memories chronologically and resolves their links
// against the selection. Each link is looked up once and never followed
// further, so cycles in the link graph are harmless.
func (s *EpisodicService) View(ctx context.Context, actor domain.Actor, q EpisodeQuery) ([]Episode, error) {
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

	list, err := s.memories.List(ctx, domain.MemoryFilter{
		OwnerID:        owner,
		SessionID:      q.SessionID,
		Tag:            q.Tag,
		LinkedTicketID: q.TicketID,
		CreatedAfter:   q.CreatedAfter,
		Statuses:       []domain.Status{domain.StatusActive, domain.StatusVerified},
		Limit:          limit,
	})
	if err != nil {
		return nil, storeErr(err, "memories of "+owner)
	}

	now := timeNow()
	selected := make([]domain.Memory, 0, len(list))
	for i := range list {
		if domain.Expired(&list[i], now) {
			continue
		}
		selected = append(selected, list[i])
	}
	return buildEpisodes(selected, now), nil
}

func buildEpisodes(memories []domain.Memory, now time.Time) []Episode {
	sort.SliceStable(memories, func(i, j int) bool {
		a, b := memories[i], memories[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	pos := make(map[uuid.UUID]int, len(memories))
	for i := range memories {
		pos[memories[i].ID] = i
	}

	episodes := make([]Episode, len(memories))
	for i := range memories {
		m := memories[i]
		ep := Episode{
			Memory:     m,
			Strength:   domain.Strength(&m, now),
			Links:      []uuid.UUID{},
			LinkedFrom: []uuid.UUID{},
		}
		if m.ParentMemoryID != nil {
			if _, ok := pos[*m.ParentMemoryID]; ok {
				parent := *m.ParentMemoryID
				ep.Parent = &parent
			}
		}
		if i > 0 {
			gap := domain.DiffTime(memories[i-1].CreatedAt, m.CreatedAt)
			ep.Gap = &gap
		}
		episodes[i] = ep
	}

	for i := range memories {
		seen := make(map[uuid.UUID]struct{}, len(memories[i].LinkedMemoryIDs))
		for _, target := range memories[i].LinkedMemoryIDs {
			j, ok := pos[target]
			if !ok || j == i {
				continue
			}
			if _, dup := seen[target]; dup {
				continue
			}
			seen[target] = struct{}{}
			episodes[i].Links = append(episodes[i].Links, target)
			episodes[j].LinkedFrom = append(episodes[j].LinkedFrom, memories[i].ID)
		}
	}
	return episodes
}
