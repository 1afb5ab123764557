package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newLifecycle(t *testing.T, cfg LifecycleConfig) (*LifecycleService, *fakeBackend, *recordingNotifier) {
	t.Helper()
	fixedClock(t, testNow)
	b := newFakeBackend()
	svc := NewLifecycleService(b.Memories(), b.Audits(), cfg, zap.NewNop())
	n := &recordingNotifier{}
	svc.SetNotifier(n)
	return svc, b, n
}

func seedMemory(b *fakeBackend, owner, content string) *domain.Memory {
	return b.put(&domain.Memory{
		OwnerID:      owner,
		Content:      content,
		Tags:         []string{},
		Source:       "chat",
		Confidence:   0.9,
		Importance:   0.5,
		BaseStrength: 0.9,
		DecayRate:    0.01,
		CreatedAt:    testNow.Add(-time.Hour),
		UpdatedAt:    testNow.Add(-time.Hour),
	})
}

func TestLifecycle_GetForbiddenForOtherOwner(t *testing.T) {
	svc, b, _ := newLifecycle(t, LifecycleConfig{})
	m := seedMemory(b, "alice", "likes tea")

	_, err := svc.Get(context.Background(), m.ID, bob)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := svc.Get(context.Background(), m.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, "likes tea", got.Content)
}

func TestLifecycle_GetUnknown(t *testing.T) {
	svc, _, _ := newLifecycle(t, LifecycleConfig{})

	_, err := svc.Get(context.Background(), uuid.New(), alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLifecycle_ReadAuditing(t *testing.T) {
	t.Run("off by default", func(t *testing.T) {
		svc, b, _ := newLifecycle(t, LifecycleConfig{})
		m := seedMemory(b, "alice", "likes tea")

		_, err := svc.Get(context.Background(), m.ID, alice)
		require.NoError(t, err)
		assert.Zero(t, b.auditCount())
	})

	t.Run("compliance mode logs reads", func(t *testing.T) {
		svc, b, n := newLifecycle(t, LifecycleConfig{AuditReads: true})
		m := seedMemory(b, "alice", "likes tea")

		_, err := svc.Get(context.Background(), m.ID, alice)
		require.NoError(t, err)
		reads := b.entries(domain.AuditRead)
		require.Len(t, reads, 1)
		assert.Equal(t, "alice", reads[0].ActorID)
		assert.Empty(t, n.actions(), "reads are not mutations")
	})
}

func TestLifecycle_EditRoundTrip(t *testing.T) {
	svc, b, n := newLifecycle(t, LifecycleConfig{})
	m := seedMemory(b, "alice", "likes tea")
	audit := NewAuditService(b.Memories(), b.Audits(), zap.NewNop())

	edited, err := svc.Edit(context.Background(), Mutation{MemoryID: m.ID, Actor: alice, Version: m.Version}, EditInput{Content: "X"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), edited.Version)

	got, err := svc.Get(context.Background(), m.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, "X", got.Content)

	trail, err := audit.Trail(context.Background(), m.ID, alice)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.AuditUpdate, trail[0].Action)
	require.NotNil(t, trail[0].NewContent)
	assert.Equal(t, "X", *trail[0].NewContent)
	require.NotNil(t, trail[0].PreviousContent)
	assert.Equal(t, "likes tea", *trail[0].PreviousContent)

	assert.Equal(t, []domain.AuditAction{domain.AuditUpdate}, n.actions())
}

func TestLifecycle_EditRejections(t *testing.T) {
	tests := []struct {
		name    string
		status  domain.Status
		content string
		wantErr error
	}{
		{"empty content", domain.StatusActive, "   ", domain.ErrValidation},
		{"deleted", domain.StatusDeleted, "new", domain.ErrInvalidState},
		{"rejected", domain.StatusRejected, "new", domain.ErrInvalidState},
		{"redacted", domain.StatusRedacted, "new", domain.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, b, _ := newLifecycle(t, LifecycleConfig{})
			m := seedMemory(b, "alice", "old")
			m.Status = tt.status
			b.put(m)

			_, err := svc.Edit(context.Background(), Mutation{MemoryID: m.ID, Actor: alice}, EditInput{Content: tt.content})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, b.auditCount())
		})
	}

	t.Run("not found", func(t *testing.T) {
		svc, _, _ := newLifecycle(t, LifecycleConfig{})
		_, err := svc.Edit(context.Background(), Mutation{MemoryID: uuid.New(), Actor: alice}, EditInput{Content: "x"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("importance out of range names the value", func(t *testing.T) {
		svc, b, _ := newLifecycle(t, LifecycleConfig{})
		m := seedMemory(b, "alice", "old")
		imp := 1.4
		_, err := svc.Edit(context.Background(), Mutation{MemoryID: m.ID, Actor: alice}, EditInput{Content: "x", Importance: &imp})
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Contains(t, err.Error(), "importance 1.4 outside [0,1]")
	})
}

func TestLifecycle_EditVerifiedDemotes(t *testing.T) {
	svc, b, _ := newLifecycle(t, LifecycleConfig{})
	m := seedMemory(b, "alice", "old")

	_, err := svc.Verify(context.Background(), Mutation{MemoryID: m.ID, Actor: admin})
	require.NoError(t, err)

	edited, err := svc.Edit(context.Background(), Mutation{MemoryID: m.ID, Actor: alice}, EditInput{Content: "new", Tags: []string{"Work", "work "}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, edited.Status)
	assert.Nil(t, edited.VerifiedBy)
	assert.Equal(t, []string{"work"}, edited.Tags)
}

func TestLifecycle_VerifyIsIdempotent(t *testing.T) {
	svc, b, n := newLifecycle(t, LifecycleConfig{})
	m := seedMemory(b, "alice", "likes tea")

	first, err := svc.Verify(context.Background(), Mutation{MemoryID: m.ID, Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, first.Status)
	require.NotNil(t, first.VerifiedBy)
	assert.Equal(t, "root", *first.VerifiedBy)

	// A retry with the stale version still gets the terminal state.
	second, err := svc.Verify(context.Background(), Mutation{MemoryID: m.ID, Actor: admin, Version: m.Version})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, second.Status)

	assert.Len(t, b.entries(domain.AuditVerify), 1)
	assert.Equal(t, []domain.AuditAction{domain.AuditVerify}, n.actions())
}

func TestLifecycle_Unverify(t *testing.T) {
	svc, b, _ := newLifecycle(t, LifecycleConfig{})
	m := seedMemory(b, "alice", "likes tea")

	_, err := svc.Unverify(context.Background(), Mutation{MemoryID: m.ID, Actor: alice})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.Verify(context.Background(), Mutation{MemoryID: m.ID, Actor: alice})
	require.NoError(t, err)
	got, err := svc.Unverify(context.Background(), Mutation{MemoryID: m.ID, Actor: alice})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Nil(t, got.VerifiedAt)
	assert.Len(t, b.entries(domain.AuditUnverify), 1)
}

func TestLifecycle_RedactTwice(t *testing.T) {
	svc, b, _ := newLifecycle(t, LifecycleConfig{})
	m := seedMemory(b, "alice", "card 4242")

	_, err := svc.Redact(context.Background(), Mutation{MemoryID: m.ID, Actor: alice})
	assert.ErrorIs(t, err, domain.ErrValidation, "reason is required")

	red, err := svc.Redact(context.Background(), Mutation{MemoryID: m.ID, Actor: alice, Reason: "pii"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRedacted, red.Status)
	assert.Equal(t, domain.RedactedMarker, red.Content)

	_, err = svc.Redact(context.Background(), Mutation{MemoryID: m.ID, Actor: alice, Reason: "pii"})
	assert.ErrorIs(t, err, domain.ErrAlreadyRedacted)

	assert.Len(t, b.entries(domain.AuditRedact), 1)
}

func TestLifecycle_RedactionConfidentiality(t *testing.T) {
	svc, b, _ := newLifecycle(t, LifecycleConfig{})
	m := seedMemory(b, "alice", "card 4242")
	audit := NewAuditService(b.Memories(), b.Audits(), zap.NewNop())

	_, err := svc.Redact(context.Background(), Mutation{MemoryID: m.ID, Actor: alice, Reason: "pii"})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), m.ID, alice)
	require.NoError(t, err)
	assert.NotContains(t, got.Content, "4242")

	list, err := svc.List(context.Background(), alice, ListQuery{})
	require.NoError(t, err)
	require.Len(t, list.Memories, 1)
	assert.Equal(t, domain.RedactedMarker, list.Memories[0].Content)

	trail, err := audit.Trail(context.Background(), m.ID, alice)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	require.NotNil(t, trail[0].PreviousContent)
	assert.Equal(t, "card 4242", *trail[0].PreviousContent)
	assert.Equal(t, domain.RedactedMarker, *trail[0].NewContent)
	assert.Equal(t, "pii", *trail[0].Reason)
}

func TestLifecycle_Unredact(t *testing.T) {
	t.Run("audit-trail-only forbids", func(t *testing.T) {
		svc, b, _ := newLifecycle(t, LifecycleConfig{})
		m := seedMemory(b, "alice", "secret")
		_, err := svc.Redact(context.Background(), Mutation{MemoryID: m.ID, Actor: alice, Reason: "pii"})
		require.NoError(t, err)

		_, err = svc.Unredact(context.Background(), Mutation{MemoryID: m.ID, Actor: admin})
		assert.ErrorIs(t, err, domain.ErrForbidden)
		assert.Equal(t, domain.StatusRedacted, b.stored(m.ID).Status)
	})

	t.Run("retain-for-restore restores from the ledger", func(t *testing.T) {
		svc, b, _ := newLifecycle(t, LifecycleConfig{UnredactPolicy: UnredactRetainForRestore})
		m := seedMemory(b, "alice", "secret")
		_, err := svc.Redact(context.Background(), Mutation{MemoryID: m.ID, Actor: alice, Reason: "pii"})
		require.NoError(t, err)

		got, err := svc.Unredact(context.Background(), Mutation{MemoryID: m.ID, Actor: admin, Reason: "false alarm"})
		require.NoError(t, err)
		assert.Equal(t, "secret", got.Content)
		assert.Equal(t, domain.StatusActive, got.Status)
		assert.Nil(t, got.RedactedBy)
		assert.Len(t, b.entries(domain.AuditUnredact), 1)
	})

	t.Run("not redacted", func(t *testing.T) {
		svc, b, _ := newLifecycle(t, LifecycleConfig{UnredactPolicy: UnredactRetainForRestore})
		m := seedMemory(b, "alice", "secret")
		_, err := svc.Unredact(context.Background(), Mutation{MemoryID: m.ID, Actor: admin})
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})
}

func TestLifecycle_Delete(t *testing.T) {
	svc, b, _ := newLifecycle(t, LifecycleConfig{})
	m := seedMemory(b, "alice", "likes tea")
	audit := NewAuditService(b.Memories(), b.Audits(), zap.NewNop())

	del, err := svc.Delete(context.Background(), Mutation{MemoryID: m.ID, Actor: alice, Reason: "outdated"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, del.Status)

	_, err = svc.Get(context.Background(), m.ID, alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	again, err := svc.Delete(context.Background(), Mutation{MemoryID: m.ID, Actor: alice})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, again.Status)
	assert.Len(t, b.entries(domain.AuditDelete), 1)

	_, err = svc.Verify(context.Background(), Mutation{MemoryID: m.ID, Actor: alice})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	trail, err := audit.Trail(context.Background(), m.ID, alice)
	require.NoError(t, err)
	assert.Len(t, trail, 1, "trail survives deletion")
}

func TestLifecycle_StaleVersionConflicts(t *testing.T) {
	svc, b, _ := newLifecycle(t, LifecycleConfig{})
	m := seedMemory(b, "alice", "v1")

	_, err := svc.Edit(context.Background(), Mutation{MemoryID: m.ID, Actor: alice, Version: 1}, EditInput{Content: "v2"})
	require.NoError(t, err)

	_, err = svc.Edit(context.Background(), Mutation{MemoryID: m.ID, Actor: alice, Version: 1}, EditInput{Content: "v3"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.True(t, domain.Retryable(err))
	assert.Equal(t, "v2", b.stored(m.ID).Content)
}

func TestLifecycle_ConcurrentEditsOneWins(t *testing.T) {
	svc, b, _ := newLifecycle(t, LifecycleConfig{})
	m := seedMemory(b, "alice", "v1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Edit(context.Background(),
				Mutation{MemoryID: m.ID, Actor: alice, Version: m.Version},
				EditInput{Content: []string{"left", "right"}[i]})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, domain.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Len(t, b.entries(domain.AuditUpdate), 1)
	assert.Equal(t, int64(2), b.stored(m.ID).Version)
}

func TestLifecycle_StorageFailureLeavesNoEntry(t *testing.T) {
	svc, b, n := newLifecycle(t, LifecycleConfig{})
	m := seedMemory(b, "alice", "v1")
	b.failWrites = errBackendDown

	_, err := svc.Edit(context.Background(), Mutation{MemoryID: m.ID, Actor: alice}, EditInput{Content: "v2"})
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Equal(t, "storage_failure", domain.ErrorCode(err))
	assert.Zero(t, b.auditCount())
	assert.Empty(t, n.actions())
	assert.Equal(t, "v1", b.stored(m.ID).Content)
}

func TestLifecycle_ListPagesAndScores(t *testing.T) {
	svc, b, _ := newLifecycle(t, LifecycleConfig{})
	for i := 0; i < 3; i++ {
		m := seedMemory(b, "alice", "note")
		m.CreatedAt = testNow.Add(-time.Duration(i+1) * time.Hour)
		b.put(m)
	}
	seedMemory(b, "bob", "not alice's")

	res, err := svc.List(context.Background(), alice, ListQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Len(t, res.Memories, 2)
	assert.InDelta(t, 0.89, res.Memories[0].Strength, 1e-9)

	_, err = svc.List(context.Background(), alice, ListQuery{OwnerID: "bob"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.List(context.Background(), alice, ListQuery{Status: "deleted"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLifecycle_Clear(t *testing.T) {
	svc, b, n := newLifecycle(t, LifecycleConfig{})
	session := "s-1"
	inSession := seedMemory(b, "alice", "a")
	inSession.SessionID = &session
	b.put(inSession)
	other := seedMemory(b, "alice", "b")

	count, err := svc.Clear(context.Background(), alice, "", &session, "session reset")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, domain.StatusDeleted, b.stored(inSession.ID).Status)
	assert.Equal(t, domain.StatusActive, b.stored(other.ID).Status)
	assert.Equal(t, []domain.AuditAction{domain.AuditDelete}, n.actions())
}

func TestLifecycle_ExpireDue(t *testing.T) {
	svc, b, _ := newLifecycle(t, LifecycleConfig{})
	past := testNow.Add(-time.Minute)
	m := seedMemory(b, "alice", "old")
	m.ExpiresAt = &past
	b.put(m)
	seedMemory(b, "alice", "fresh")

	n, err := svc.ExpireDue(context.Background(), testNow, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dels := b.entries(domain.AuditDelete)
	require.Len(t, dels, 1)
	assert.Equal(t, domain.SystemActorID, dels[0].ActorID)
	assert.Equal(t, "expired", *dels[0].Reason)
}

func TestParseUnredactPolicy(t *testing.T) {
	p, err := ParseUnredactPolicy("")
	require.NoError(t, err)
	assert.Equal(t, UnredactAuditTrailOnly, p)

	p, err = ParseUnredactPolicy("retain-for-restore")
	require.NoError(t, err)
	assert.Equal(t, UnredactRetainForRestore, p)

	_, err = ParseUnredactPolicy("forever")
	assert.Error(t, err)
}
