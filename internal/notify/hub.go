package notify

import (
	"sync"
	"time"

	"github.com/Harshitk-cp/memlayer/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event announces a committed mutation. It is only published after the
// memory and its audit entry are durable.
type Event struct {
	MemoryID    *uuid.UUID         `json:"memory_id,omitempty"`
	CandidateID *uuid.UUID         `json:"candidate_id,omitempty"`
	OwnerID     string             `json:"owner_id"`
	Action      domain.AuditAction `json:"action"`
	ActorID     string             `json:"actor_id"`
	Timestamp   time.Time          `json:"timestamp"`
}

type Listener func(Event)

type subscription struct {
	id uint64
	fn Listener
}

// Hub fans events out to registered listeners from a single worker so that
// slow listeners never block a writer. When the queue is full the event is
// dropped with a warning.
type Hub struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64

	queue   chan Event
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	logger  *zap.Logger
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		queue:  make(chan Event, buffer),
		stopCh: make(chan struct{}),
		logger: logger,
	}
}

// Subscribe registers fn and returns a function that removes it.
func (h *Hub) Subscribe(fn Listener) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscription{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, s := range h.subs {
				if s.id == id {
					h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish enqueues e without blocking.
func (h *Hub) Publish(e Event) {
	select {
	case h.queue <- e:
	default:
		h.logger.Warn("notification queue full, dropping event",
			zap.String("action", string(e.Action)),
			zap.String("owner_id", e.OwnerID),
		)
	}
}

func (h *Hub) Start() {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run()
	h.logger.Info("notification hub started", zap.Int("buffer", cap(h.queue)))
}

// Stop delivers whatever is still queued, then returns.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	h.mu.Unlock()

	close(h.stopCh)
	h.wg.Wait()
	h.logger.Info("notification hub stopped")
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case e := <-h.queue:
			h.deliver(e)
		case <-h.stopCh:
			for {
				select {
				case e := <-h.queue:
					h.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) deliver(e Event) {
	h.mu.RLock()
	subs := make([]subscription, len(h.subs))
	copy(subs, h.subs)
	h.mu.RUnlock()

	for _, s := range subs {
		h.safeCall(s.fn, e)
	}
}

func (h *Hub) safeCall(fn Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("notification listener panicked", zap.Any("panic", r))
		}
	}()
	fn(e)
}
