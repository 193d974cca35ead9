package perspective

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/whizbang-lib/whizbang/pkg/models"
)

// DefaultPollInterval is the poller's default cadence absent an
// explicit override.
const DefaultPollInterval = 1 * time.Second

// BatchProducer is the coordinator surface the poller drives purely to
// discover perspective work — it sends no new outbox/inbox messages,
// only a heartbeat, and reads back whatever WorkBatch.Perspectives the
// coordinator claimed for this instance.
type BatchProducer interface {
	ProcessWorkBatch(ctx context.Context, req models.BatchRequest) (models.WorkBatch, error)
}

// Poller drives a Runner on a fixed wall-clock cadence, the same
// Start/Stop/run shape as the reference worker loop adapted from
// claiming sessions to claiming perspective work.
type Poller struct {
	producer BatchProducer
	runner   *Runner
	instance models.ServiceInstance
	config   models.BatchConfig
	period   time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller builds a Poller. period <= 0 falls back to
// DefaultPollInterval.
func NewPoller(producer BatchProducer, runner *Runner, instance models.ServiceInstance, cfg models.BatchConfig, period time.Duration) *Poller {
	if period <= 0 {
		period = DefaultPollInterval
	}
	return &Poller{
		producer: producer,
		runner:   runner,
		instance: instance,
		config:   cfg,
		period:   period,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the poll loop in a goroutine.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop halts the poll loop and waits for the in-flight tick, if any,
// to finish. Safe to call multiple times.
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
	batch, err := p.producer.ProcessWorkBatch(ctx, models.BatchRequest{Instance: p.instance, Config: p.config})
	if err != nil {
		slog.Error("perspective poll failed", "error", err)
		return
	}
	if len(batch.Perspectives) == 0 {
		return
	}
	p.runner.Process(ctx, batch.Perspectives)
}
