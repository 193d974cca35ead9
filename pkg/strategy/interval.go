package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/whizbang-lib/whizbang/pkg/lifecycle"
	"github.com/whizbang-lib/whizbang/pkg/models"
)

// DefaultFlushInterval is the fixed wall-clock cadence Interval flushes
// on absent an explicit override (§4.2).
const DefaultFlushInterval = 100 * time.Millisecond

// Interval accumulates items and flushes on a fixed wall-clock
// interval, in addition to explicit demand. Highest throughput,
// highest latency (§4.2).
type Interval struct {
	base

	period   time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewInterval builds an Interval strategy. period <= 0 falls back to
// DefaultFlushInterval.
func NewInterval(flusher Flusher, reg *lifecycle.Registry, instance models.ServiceInstance, cfg models.BatchConfig, messageType string, period time.Duration) *Interval {
	if period <= 0 {
		period = DefaultFlushInterval
	}
	return &Interval{
		base:   newBase(flusher, reg, instance, cfg, messageType),
		period: period,
		stopCh: make(chan struct{}),
	}
}

// Start begins the ticking flush loop in a goroutine. Stop must be
// called to release it.
func (s *Interval) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the flush loop and waits for the in-flight flush, if any,
// to finish. Safe to call multiple times.
func (s *Interval) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Interval) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Flush(ctx, 0); err != nil {
				slog.Error("interval flush failed", "error", err)
			}
		}
	}
}

// Flush runs an out-of-cycle flush on demand, in addition to whatever
// the ticker drives.
func (s *Interval) Flush(ctx context.Context, flags models.BatchFlags) (models.WorkBatch, error) {
	return s.flush(ctx, flags)
}
