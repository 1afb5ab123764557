package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MatchLexical   = "lexical"
	MatchEmbedding = "embedding"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {}, "with": {},
}

// LexicalMatcher scores a memory by the share of distinct query terms its
// content contains. An empty query matches nothing.
type LexicalMatcher struct{}

func (LexicalMatcher) Match(ctx context.Context, query string, memories []domain.Memory) (map[uuid.UUID]float64, error) {
	out := make(map[uuid.UUID]float64, len(memories))
	terms := termSet(query)
	for i := range memories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[memories[i].ID] = overlap(terms, termSet(memories[i].Content))
	}
	return out, nil
}

func termSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

func overlap(query, content map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for t := range query {
		if _, ok := content[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// EmbeddingMatcher scores memories by cosine similarity between the query
// vector and the stored memory vectors. Memories without a vector fall back
// to the lexical score.
type EmbeddingMatcher struct {
	client   domain.EmbeddingClient
	index    domain.EmbeddingIndex
	fallback domain.Matcher
	logger   *zap.Logger
}

func NewEmbeddingMatcher(client domain.EmbeddingClient, index domain.EmbeddingIndex, logger *zap.Logger) *EmbeddingMatcher {
	return &EmbeddingMatcher{
		client:   client,
		index:    index,
		fallback: LexicalMatcher{},
		logger:   logger,
	}
}

func (m *EmbeddingMatcher) Match(ctx context.Context, query string, memories []domain.Memory) (map[uuid.UUID]float64, error) {
	scores, err := m.fallback.Match(ctx, query, memories)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" || len(memories) == 0 {
		return scores, nil
	}

	vec, err := m.client.Embed(ctx, query)
	if err != nil {
		m.logger.Warn("query embedding failed, using lexical match", zap.Error(err))
		return scores, nil
	}

	ids := make([]uuid.UUID, len(memories))
	for i := range memories {
		ids[i] = memories[i].ID
	}
	sims, err := m.index.Similarity(ctx, vec, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity lookup: %v", domain.ErrStorage, err)
	}
	for id, sim := range sims {
		scores[id] = clampScore(sim)
	}
	return scores, nil
}

// NewMatcher builds the matcher named by provider.
func NewMatcher(provider string, client domain.EmbeddingClient, index domain.EmbeddingIndex, logger *zap.Logger) (domain.Matcher, error) {
	switch provider {
	case "", MatchLexical:
		return LexicalMatcher{}, nil
	case MatchEmbedding:
		if client == nil || index == nil {
			return nil, fmt.Errorf("embedding matcher requires an embedding provider")
		}
		return NewEmbeddingMatcher(client, index, logger), nil
	}
	return nil, fmt.Errorf("unknown match provider: %s (valid options: lexical, embedding)", provider)
}

func clampScore(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
