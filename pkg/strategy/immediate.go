package strategy

import (
	"context"
	"log/slog"

	"github.com/whizbang-lib/whizbang/pkg/lifecycle"
	"github.com/whizbang-lib/whizbang/pkg/models"
)

// Immediate drains every queue call into its own flush immediately.
// Lowest latency, highest coordinator load; intended for
// request-response paths (§4.2). Queue* calls match IFlushStrategy's
// void signature, so the WorkBatch produced by the automatic flush
// they trigger is not returned from the call site that queued the
// item — callers who need it should call Flush explicitly instead (it
// is a no-op, returning an empty batch, when nothing is buffered).
type Immediate struct {
	base
}

// NewImmediate builds an Immediate strategy over flusher.
func NewImmediate(flusher Flusher, reg *lifecycle.Registry, instance models.ServiceInstance, cfg models.BatchConfig, messageType string) *Immediate {
	return &Immediate{base: newBase(flusher, reg, instance, cfg, messageType)}
}

// Flush runs the standard PreDistribute/coordinator/PostDistribute
// discipline.
func (s *Immediate) Flush(ctx context.Context, flags models.BatchFlags) (models.WorkBatch, error) {
	return s.flush(ctx, flags)
}

func (s *Immediate) drain() {
	if _, err := s.Flush(context.Background(), 0); err != nil {
		slog.Error("immediate flush failed", "error", err)
	}
}

func (s *Immediate) QueueOutbox(msg models.NewOutboxMessage) {
	s.base.QueueOutbox(msg)
	s.drain()
}

func (s *Immediate) QueueInbox(msg models.NewInboxMessage) {
	s.base.QueueInbox(msg)
	s.drain()
}

func (s *Immediate) QueueOutboxCompletion(c models.Completion) {
	s.base.QueueOutboxCompletion(c)
	s.drain()
}

func (s *Immediate) QueueInboxCompletion(c models.Completion) {
	s.base.QueueInboxCompletion(c)
	s.drain()
}

func (s *Immediate) QueueReceptorCompletion(c models.ReceptorCompletion) {
	s.base.QueueReceptorCompletion(c)
	s.drain()
}

func (s *Immediate) QueuePerspectiveCompletion(c models.PerspectiveCompletion) {
	s.base.QueuePerspectiveCompletion(c)
	s.drain()
}

func (s *Immediate) QueueOutboxFailure(f models.Failure) {
	s.base.QueueOutboxFailure(f)
	s.drain()
}

func (s *Immediate) QueueInboxFailure(f models.Failure) {
	s.base.QueueInboxFailure(f)
	s.drain()
}

func (s *Immediate) QueueReceptorFailure(f models.ReceptorFailure) {
	s.base.QueueReceptorFailure(f)
	s.drain()
}

func (s *Immediate) QueuePerspectiveFailure(f models.PerspectiveFailure) {
	s.base.QueuePerspectiveFailure(f)
	s.drain()
}
