package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultExpirerInterval = 1 * time.Hour
	expirerBatchSize       = 100
)

// SweepObserver is told how many records each sweep touched.
type SweepObserver interface {
	ObserveSweep(kind string, n int)
}

// ExpirerService soft-deletes memories past their expires_at and rejects
// candidates that waited longer than the pending TTL.
type ExpirerService struct {
	lifecycle  *LifecycleService
	gate       *GateService
	observer   SweepObserver
	pendingTTL time.Duration
	logger     *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewExpirerService(lifecycle *LifecycleService, gate *GateService, logger *zap.Logger) *ExpirerService {
	return &ExpirerService{
		lifecycle: lifecycle,
		gate:      gate,
		logger:    logger,
		interval:  defaultExpirerInterval,
		stopCh:    make(chan struct{}),
	}
}

func (s *ExpirerService) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// SetPendingTTL enables the candidate sweep. Zero disables it.
func (s *ExpirerService) SetPendingTTL(d time.Duration) {
	s.pendingTTL = d
}

func (s *ExpirerService) SetObserver(o SweepObserver) {
	s.observer = o
}

// Start runs the expirer on a periodic schedule in a background goroutine.
func (s *ExpirerService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("memory expirer started",
			zap.Duration("interval", s.interval),
			zap.Duration("pending_ttl", s.pendingTTL))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.Sweep(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("memory expirer stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the expirer.
func (s *ExpirerService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// SweepResult counts what one sweep changed.
type SweepResult struct {
	Expired  int `json:"expired"`
	Rejected int `json:"rejected"`
}

// Sweep runs one pass. Errors are logged; a failed step does not stop the
// other one.
func (s *ExpirerService) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	now := timeNow()

	expired, err := s.lifecycle.ExpireDue(ctx, now, expirerBatchSize)
	if err != nil {
		s.logger.Error("failed to expire memories", zap.Error(err))
	} else if expired > 0 {
		s.logger.Info("expired memories", zap.Int("count", expired))
	}
	res.Expired = expired
	s.observe("expired", expired)

	if s.pendingTTL <= 0 || s.gate == nil {
		return res
	}

	rejected, err := s.gate.RejectStale(ctx, now.Add(-s.pendingTTL), expirerBatchSize)
	if err != nil {
		s.logger.Error("failed to reject stale candidates", zap.Error(err))
	} else if rejected > 0 {
		s.logger.Info("rejected stale candidates",
			zap.Int("count", rejected),
			zap.Duration("pending_ttl", s.pendingTTL))
	}
	res.Rejected = rejected
	s.observe("pending_rejected", rejected)
	return res
}

func (s *ExpirerService) observe(kind string, n int) {
	if s.observer != nil {
		s.observer.ObserveSweep(kind, n)
	}
}
