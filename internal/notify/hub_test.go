package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestHub_DeliversToAllListeners(t *testing.T) {
	hub := NewHub(16, zap.NewNop())
	var a, b recorder
	hub.Subscribe(a.handle)
	hub.Subscribe(b.handle)
	hub.Start()

	id := uuid.New()
	hub.Publish(Event{MemoryID: &id, OwnerID: "u1", Action: domain.AuditCreate})
	hub.Publish(Event{MemoryID: &id, OwnerID: "u1", Action: domain.AuditVerify})
	hub.Stop()

	assert.Equal(t, 2, a.len())
	assert.Equal(t, 2, b.len())
	assert.Equal(t, domain.AuditVerify, a.events[1].Action)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(16, zap.NewNop())
	var r recorder
	unsubscribe := hub.Subscribe(r.handle)
	unsubscribe()
	unsubscribe()

	hub.Start()
	hub.Publish(Event{OwnerID: "u1", Action: domain.AuditDelete})
	hub.Stop()

	assert.Equal(t, 0, r.len())
}

func TestHub_DropsWhenFull(t *testing.T) {
	hub := NewHub(1, zap.NewNop())
	var r recorder
	hub.Subscribe(r.handle)

	// Not started: the second publish finds the queue full.
	hub.Publish(Event{OwnerID: "u1", Action: domain.AuditCreate})
	hub.Publish(Event{OwnerID: "u1", Action: domain.AuditUpdate})

	hub.Start()
	hub.Stop()

	require.Equal(t, 1, r.len())
	assert.Equal(t, domain.AuditCreate, r.events[0].Action)
}

func TestHub_ListenerPanicDoesNotStopDelivery(t *testing.T) {
	hub := NewHub(4, zap.NewNop())
	var r recorder
	hub.Subscribe(func(Event) { panic("boom") })
	hub.Subscribe(r.handle)
	hub.Start()

	hub.Publish(Event{OwnerID: "u1", Action: domain.AuditRedact})
	hub.Stop()

	assert.Equal(t, 1, r.len())
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, message.([]byte))

	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisSink_PublishesPerOwnerChannel(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewRedisSink(pub, "memlayer", zap.NewNop())

	id := uuid.New()
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	sink.Handle(Event{MemoryID: &id, OwnerID: "cust-42", Action: domain.AuditRedact, ActorID: "ops", Timestamp: at})

	require.Len(t, pub.channels, 1)
	assert.Equal(t, "memlayer:cust-42:events", pub.channels[0])

	var got Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, id, *got.MemoryID)
	assert.Equal(t, domain.AuditRedact, got.Action)
	assert.True(t, at.Equal(got.Timestamp))
}

func TestRedisSink_PublishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	sink := NewRedisSink(pub, "", zap.NewNop())

	assert.NotPanics(t, func() {
		sink.Handle(Event{OwnerID: "u1", Action: domain.AuditDelete})
	})
	assert.Equal(t, "memlayer:u1:events", pub.channels[0])
}
