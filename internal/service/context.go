package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultContextTopK  = 5
	DefaultContextLimit = 50
	contextScanLimit    = 1000
)

// ContextWeights combine the three relevance signals.
type ContextWeights struct {
	Strength   float64 `json:"strength"`
	Importance float64 `json:"importance"`
	Match      float64 `json:"match"`
}

func DefaultContextWeights() ContextWeights {
	return ContextWeights{Strength: 0.4, Importance: 0.3, Match: 0.3}
}

func (w ContextWeights) Sum() float64 {
	return w.Strength + w.Importance + w.Match
}

func (w ContextWeights) Validate() error {
	if !(w.Strength >= 0 && w.Importance >= 0 && w.Match >= 0) {
		return fmt.Errorf("%w: context weights must be non-negative", domain.ErrValidation)
	}
	if sum := w.Sum(); sum <= 0 || math.IsInf(sum, 0) {
		return fmt.Errorf("%w: context weights must sum to a positive finite number", domain.ErrValidation)
	}
	return nil
}

type ContextQuery struct {
	OwnerID   string          `json:"owner_id,omitempty"`
	SessionID *string         `json:"session_id,omitempty"`
	Tag       string          `json:"tag,omitempty"`
	TicketID  *string         `json:"ticket_id,omitempty"`
	Query     string          `json:"query,omitempty"`
	TopK      int             `json:"top_k,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Weights   *ContextWeights `json:"weights,omitempty"`
}

type RankedMemory struct {
	Memory     domain.Memory `json:"memory"`
	Strength   float64       `json:"strength"`
	Importance float64       `json:"importance"`
	Match      float64       `json:"match"`
	Relevance  float64       `json:"relevance"`
}

type ReconstructedContext struct {
	OwnerID         string         `json:"owner_id"`
	Ranked          []RankedMemory `json:"ranked_memories"`
	ContextScore    float64        `json:"context_score"`
	TotalMemories   int            `json:"total_memories"`
	SessionCount    int            `json:"session_count"`
	SourceBreakdown map[string]int `json:"source_breakdown"`
	KeyInsights     []string       `json:"key_insights"`
	Weights         ContextWeights `json:"weights"`
	TopK            int            `json:"top_k"`
	// Truncated is set when the owner holds more live memories than one
	// reconstruction scans; only the newest were ranked.
	Truncated bool `json:"truncated"`
}

type ContextConfig struct {
	TopK    int
	Weights ContextWeights
}

// ContextService ranks the live memories of a subject into one view.
type ContextService struct {
	memories domain.MemoryStore
	matcher  domain.Matcher
	cfg      ContextConfig
	logger   *zap.Logger

	scanLimit int
}

func NewContextService(ms domain.MemoryStore, matcher domain.Matcher, cfg ContextConfig, logger *zap.Logger) *ContextService {
	if matcher == nil {
		matcher = LexicalMatcher{}
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultContextTopK
	}
	if cfg.Weights.Validate() != nil {
		cfg.Weights = DefaultContextWeights()
	}
	return &ContextService{memories: ms, matcher: matcher, cfg: cfg, logger: logger, scanLimit: contextScanLimit}
}

// Reconstruct ranks by relevance = w1*strength + w2*importance + w3*match,
// ties going to the newer memory and then the smaller id. The context score
// is the mean relevance of the top K, normalized by the weight sum and
// scaled to 0-100.
func (s *ContextService) Reconstruct(ctx context.Context, actor domain.Actor, q ContextQuery) (*ReconstructedContext, error) {
	owner, err := resolveOwner(actor, q.OwnerID)
	if err != nil {
		return nil, err
	}

	weights := s.cfg.Weights
	if q.Weights != nil {
		if err := q.Weights.Validate(); err != nil {
			return nil, err
		}
		weights = *q.Weights
	}
	topK := q.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	now := timeNow()
	// One row past the scan limit tells a full page apart from a cut one.
	list, err := s.memories.List(ctx, domain.MemoryFilter{
		OwnerID:        owner,
		SessionID:      q.SessionID,
		Tag:            q.Tag,
		LinkedTicketID: q.TicketID,
		Statuses:       []domain.Status{domain.StatusActive, domain.StatusVerified},
		LiveAt:         &now,
		Limit:          s.scanLimit + 1,
	})
	if err != nil {
		return nil, storeErr(err, "memories of "+owner)
	}
	truncated := len(list) > s.scanLimit
	if truncated {
		list = list[:s.scanLimit]
		s.logger.Warn("context scan truncated",
			zap.String("owner_id", owner),
			zap.Int("scan_limit", s.scanLimit),
		)
	}
	eligible := make([]domain.Memory, 0, len(list))
	strengths := make([]float64, 0, len(list))
	for i := range list {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st := domain.Strength(&list[i], now)
		if st <= 0 {
			continue
		}
		eligible = append(eligible, list[i])
		strengths = append(strengths, st)
	}

	matches, err := s.matcher.Match(ctx, q.Query, eligible)
	if err != nil {
		return nil, err
	}

	ranked := make([]RankedMemory, len(eligible))
	sessions := make(map[string]struct{})
	sources := make(map[string]int)
	for i := range eligible {
		m := eligible[i]
		match := clampScore(matches[m.ID])
		ranked[i] = RankedMemory{
			Memory:     m,
			Strength:   strengths[i],
			Importance: m.Importance,
			Match:      match,
			Relevance:  weights.Strength*strengths[i] + weights.Importance*m.Importance + weights.Match*match,
		}
		if m.SessionID != nil {
			sessions[*m.SessionID] = struct{}{}
		}
		sources[m.Source]++
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sortRanked(ranked)

	k := topK
	if k > len(ranked) {
		k = len(ranked)
	}
	insights := make([]string, 0, k)
	var sum float64
	for i := 0; i < k; i++ {
		sum += ranked[i].Relevance
		insights = append(insights, ranked[i].Memory.Content)
	}
	score := 0.0
	if k > 0 {
		score = round2(100 * (sum / float64(k)) / weights.Sum())
	}

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	s.logger.Debug("context reconstructed",
		zap.String("owner_id", owner),
		zap.Int("eligible", len(eligible)),
		zap.Float64("context_score", score),
		zap.Bool("query", strings.TrimSpace(q.Query) != ""),
	)

	return &ReconstructedContext{
		OwnerID:         owner,
		Ranked:          ranked,
		ContextScore:    score,
		TotalMemories:   len(eligible),
		SessionCount:    len(sessions),
		SourceBreakdown: sources,
		KeyInsights:     insights,
		Weights:         weights,
		TopK:            topK,
		Truncated:       truncated,
	}, nil
}

func sortRanked(ranked []RankedMemory) {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if !a.Memory.CreatedAt.Equal(b.Memory.CreatedAt) {
			return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
		}
		return a.Memory.ID.String() < b.Memory.ID.String()
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
