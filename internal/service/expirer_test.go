package service

import (
	"context"
	"testing"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sweepCounter map[string]int

func (c sweepCounter) ObserveSweep(kind string, n int) {
	c[kind] += n
}

func TestExpirer_Sweep(t *testing.T) {
	fixedClock(t, testNow)
	b := newFakeBackend()
	lifecycle := NewLifecycleService(b.Memories(), b.Audits(), LifecycleConfig{}, zap.NewNop())
	gate := NewGateService(b.Memories(), b.Candidates(), DefaultGateConfig(), zap.NewNop())

	past := testNow.Add(-time.Minute)
	m := seedMemory(b, "alice", "stale fact")
	m.ExpiresAt = &past
	b.put(m)

	_, err := gate.Submit(context.Background(), alice, SubmitRequest{Content: "unsure", Confidence: 0.2})
	require.NoError(t, err)

	exp := NewExpirerService(lifecycle, gate, zap.NewNop())
	counts := sweepCounter{}
	exp.SetObserver(counts)

	// Without a TTL queued candidates are left alone.
	res := exp.Sweep(context.Background())
	assert.Equal(t, SweepResult{Expired: 1}, res)
	assert.Equal(t, domain.StatusDeleted, b.stored(m.ID).Status)
	assert.Len(t, b.candidates, 1)

	exp.SetPendingTTL(time.Hour)
	fixedClock(t, testNow.Add(2*time.Hour))
	res = exp.Sweep(context.Background())
	assert.Equal(t, SweepResult{Rejected: 1}, res)
	assert.Empty(t, b.candidates)
	assert.Equal(t, 1, counts["expired"])
	assert.Equal(t, 1, counts["pending_rejected"])
}

func TestExpirer_StartStop(t *testing.T) {
	b := newFakeBackend()
	lifecycle := NewLifecycleService(b.Memories(), b.Audits(), LifecycleConfig{}, zap.NewNop())
	exp := NewExpirerService(lifecycle, nil, zap.NewNop())
	exp.SetInterval(10 * time.Millisecond)

	exp.Start()
	time.Sleep(30 * time.Millisecond)
	exp.Stop()
	assert.NotPanics(t, exp.Stop)
}
