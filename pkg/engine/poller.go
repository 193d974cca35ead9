package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/whizbang-lib/whizbang/pkg/models"
)

// DefaultPollInterval is the fixed cadence Poller flushes and delivers
// on absent an explicit override.
const DefaultPollInterval = 100 * time.Millisecond

// Flusher is the strategy surface Poller drives.
type Flusher interface {
	Flush(ctx context.Context, flags models.BatchFlags) (models.WorkBatch, error)
}

// Poller repeatedly flushes a strategy and hands the resulting batch to
// an Engine for delivery, the same Start/Stop/ticker shape
// pkg/queue/worker.go's run loop uses.
type Poller struct {
	flusher  Flusher
	engine   *Engine
	period   time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller builds a Poller. period <= 0 falls back to DefaultPollInterval.
func NewPoller(flusher Flusher, eng *Engine, period time.Duration) *Poller {
	if period <= 0 {
		period = DefaultPollInterval
	}
	return &Poller{flusher: flusher, engine: eng, period: period, stopCh: make(chan struct{})}
}

// Start begins polling in a goroutine.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop signals the poller to stop and waits for it to finish. Safe to
// call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	batch, err := p.flusher.Flush(ctx, 0)
	if err != nil {
		slog.Error("engine flush failed", "error", err)
		return
	}
	if len(batch.Outbox) == 0 && len(batch.Inbox) == 0 {
		return
	}
	p.engine.ProcessBatch(ctx, batch)
}
