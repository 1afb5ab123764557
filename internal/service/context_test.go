package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newContextService(t *testing.T, matcher domain.Matcher) (*ContextService, *fakeBackend) {
	t.Helper()
	fixedClock(t, testNow)
	b := newFakeBackend()
	return NewContextService(b.Memories(), matcher, ContextConfig{}, zap.NewNop()), b
}

func contextMemory(b *fakeBackend, owner, content string, base float64, created time.Time) *domain.Memory {
	return b.put(&domain.Memory{
		OwnerID:      owner,
		Content:      content,
		Source:       "chat",
		Confidence:   base,
		Importance:   0.5,
		BaseStrength: base,
		CreatedAt:    created,
		UpdatedAt:    created,
	})
}

func TestReconstruct_ExcludesExpired(t *testing.T) {
	svc, b := newContextService(t, nil)
	strong := contextMemory(b, "alice", "strong", 0.9, testNow)
	weak := contextMemory(b, "alice", "weak", 0.4, testNow)
	gone := contextMemory(b, "alice", "gone", 0.8, testNow.Add(-48*time.Hour))
	past := testNow.Add(-time.Hour)
	gone.ExpiresAt = &past
	b.put(gone)

	res, err := svc.Reconstruct(context.Background(), alice, ContextQuery{})
	require.NoError(t, err)
	require.Len(t, res.Ranked, 2)
	assert.Equal(t, strong.ID, res.Ranked[0].Memory.ID)
	assert.Equal(t, weak.ID, res.Ranked[1].Memory.ID)
	assert.InDelta(t, 0.9, res.Ranked[0].Strength, 1e-9)
	assert.InDelta(t, 0.51, res.Ranked[0].Relevance, 1e-9)
	assert.InDelta(t, 0.31, res.Ranked[1].Relevance, 1e-9)
	assert.InDelta(t, 41.0, res.ContextScore, 1e-9)
	assert.Equal(t, 2, res.TotalMemories)
	assert.Equal(t, map[string]int{"chat": 2}, res.SourceBreakdown)
	assert.Equal(t, []string{"strong", "weak"}, res.KeyInsights)
}

func TestReconstruct_SkipsHiddenStatuses(t *testing.T) {
	svc, b := newContextService(t, nil)
	contextMemory(b, "alice", "live", 0.9, testNow)
	redacted := contextMemory(b, "alice", domain.RedactedMarker, 0.9, testNow)
	redacted.Status = domain.StatusRedacted
	b.put(redacted)
	deleted := contextMemory(b, "alice", "deleted", 0.9, testNow)
	deleted.Status = domain.StatusDeleted
	b.put(deleted)

	res, err := svc.Reconstruct(context.Background(), alice, ContextQuery{})
	require.NoError(t, err)
	require.Len(t, res.Ranked, 1)
	assert.Equal(t, "live", res.Ranked[0].Memory.Content)
}

func TestReconstruct_QueryMatchRaisesRank(t *testing.T) {
	svc, b := newContextService(t, nil)
	contextMemory(b, "alice", "likes green tea", 0.9, testNow)
	dark := contextMemory(b, "alice", "prefers dark mode in the editor", 0.6, testNow)

	res, err := svc.Reconstruct(context.Background(), alice, ContextQuery{Query: "dark mode"})
	require.NoError(t, err)
	require.Len(t, res.Ranked, 2)
	assert.Equal(t, dark.ID, res.Ranked[0].Memory.ID)
	assert.Equal(t, 1.0, res.Ranked[0].Match)
}

func TestReconstruct_TieBreaks(t *testing.T) {
	svc, b := newContextService(t, nil)
	older := contextMemory(b, "alice", "a", 0.5, testNow.Add(-time.Minute))
	newer := contextMemory(b, "alice", "b", 0.5, testNow)
	// Zero decay keeps every strength at 0.5, so only timestamps and ids differ.
	idA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	idB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	b.put(&domain.Memory{ID: idB, OwnerID: "alice", Content: "c", Source: "chat", Importance: 0.5, BaseStrength: 0.5, CreatedAt: testNow.Add(-time.Hour)})
	b.put(&domain.Memory{ID: idA, OwnerID: "alice", Content: "d", Source: "chat", Importance: 0.5, BaseStrength: 0.5, CreatedAt: testNow.Add(-time.Hour)})

	res, err := svc.Reconstruct(context.Background(), alice, ContextQuery{})
	require.NoError(t, err)

	var order []uuid.UUID
	for _, r := range res.Ranked {
		order = append(order, r.Memory.ID)
	}
	require.Len(t, order, 4)
	assert.Equal(t, newer.ID, order[0])
	assert.Equal(t, older.ID, order[1])
	assert.Equal(t, idA, order[2])
	assert.Equal(t, idB, order[3])
}

func TestReconstruct_TopKAndWeights(t *testing.T) {
	svc, b := newContextService(t, nil)
	contextMemory(b, "alice", "one", 1.0, testNow)
	contextMemory(b, "alice", "two", 0.5, testNow.Add(-time.Minute))

	w := ContextWeights{Strength: 1}
	res, err := svc.Reconstruct(context.Background(), alice, ContextQuery{TopK: 1, Weights: &w})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TopK)
	assert.InDelta(t, 100.0, res.ContextScore, 1e-9)
	assert.Equal(t, []string{"one"}, res.KeyInsights)
	assert.Len(t, res.Ranked, 2)
}

func TestReconstruct_Validation(t *testing.T) {
	svc, _ := newContextService(t, nil)

	_, err := svc.Reconstruct(context.Background(), alice, ContextQuery{Weights: &ContextWeights{Strength: -1, Match: 2}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Reconstruct(context.Background(), alice, ContextQuery{Weights: &ContextWeights{}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Reconstruct(context.Background(), alice, ContextQuery{Weights: &ContextWeights{Strength: math.NaN(), Match: 1}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Reconstruct(context.Background(), alice, ContextQuery{Weights: &ContextWeights{Strength: math.Inf(1)}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Reconstruct(context.Background(), alice, ContextQuery{OwnerID: "bob"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestReconstruct_Empty(t *testing.T) {
	svc, _ := newContextService(t, nil)

	res, err := svc.Reconstruct(context.Background(), alice, ContextQuery{})
	require.NoError(t, err)
	assert.Empty(t, res.Ranked)
	assert.Zero(t, res.ContextScore)
	assert.Zero(t, res.SessionCount)
}

func TestReconstruct_Cancelled(t *testing.T) {
	svc, b := newContextService(t, nil)
	contextMemory(b, "alice", "one", 1.0, testNow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := svc.Reconstruct(ctx, alice, ContextQuery{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.Zero(t, b.auditCount())
}

func TestReconstruct_CountsSessions(t *testing.T) {
	svc, b := newContextService(t, nil)
	s1, s2 := "s1", "s2"
	for _, sid := range []*string{&s1, &s1, &s2, nil} {
		m := contextMemory(b, "alice", "x", 0.7, testNow)
		m.SessionID = sid
		b.put(m)
	}

	res, err := svc.Reconstruct(context.Background(), alice, ContextQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SessionCount)
	assert.Equal(t, 4, res.TotalMemories)
}

func TestReconstruct_FlagsTruncatedScan(t *testing.T) {
	svc, b := newContextService(t, nil)
	svc.scanLimit = 2
	contextMemory(b, "alice", "oldest", 0.9, testNow.Add(-3*time.Minute))
	contextMemory(b, "alice", "middle", 0.9, testNow.Add(-2*time.Minute))
	contextMemory(b, "alice", "newest", 0.9, testNow.Add(-time.Minute))

	res, err := svc.Reconstruct(context.Background(), alice, ContextQuery{})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 2, res.TotalMemories)
	assert.Equal(t, []string{"newest", "middle"}, res.KeyInsights)

	svc.scanLimit = 3
	res, err = svc.Reconstruct(context.Background(), alice, ContextQuery{})
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Equal(t, 3, res.TotalMemories)
}

func TestReconstruct_ExpiredRowsDoNotFillTheScan(t *testing.T) {
	svc, b := newContextService(t, nil)
	svc.scanLimit = 1
	past := testNow.Add(-time.Second)
	for i := 0; i < 3; i++ {
		m := contextMemory(b, "alice", "expired", 0.9, testNow)
		m.ExpiresAt = &past
		b.put(m)
	}
	contextMemory(b, "alice", "live", 0.9, testNow.Add(-time.Hour))

	res, err := svc.Reconstruct(context.Background(), alice, ContextQuery{})
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Equal(t, []string{"live"}, res.KeyInsights)
}

type scoreMatcher float64

func (m scoreMatcher) Match(_ context.Context, _ string, memories []domain.Memory) (map[uuid.UUID]float64, error) {
	out := make(map[uuid.UUID]float64, len(memories))
	for _, mem := range memories {
		out[mem.ID] = float64(m)
	}
	return out, nil
}

func TestReconstruct_NaNMatchScoresAsZero(t *testing.T) {
	svc, b := newContextService(t, scoreMatcher(math.NaN()))
	contextMemory(b, "alice", "one", 0.9, testNow)

	res, err := svc.Reconstruct(context.Background(), alice, ContextQuery{Query: "one"})
	require.NoError(t, err)
	require.Len(t, res.Ranked, 1)
	assert.Zero(t, res.Ranked[0].Match)
	assert.InDelta(t, 0.51, res.Ranked[0].Relevance, 1e-9)
	assert.InDelta(t, 51.0, res.ContextScore, 1e-9)
}
