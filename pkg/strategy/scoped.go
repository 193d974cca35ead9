package strategy

import (
	"context"

	"github.com/whizbang-lib/whizbang/pkg/lifecycle"
	"github.com/whizbang-lib/whizbang/pkg/models"
)

// Scoped accumulates queued items within an explicit scope — typically
// one inbound request — and flushes on scope close regardless of
// whether the scope ended in success or failure (§4.2). Queue* calls
// only buffer; nothing reaches the coordinator until Close or an
// explicit Flush.
type Scoped struct {
	base
}

// NewScoped builds a Scoped strategy over flusher; construction opens
// the scope and Close ends it. A new Scoped should be constructed per scope rather than
// reused, since Close does not reset the underlying Flusher/lifecycle
// wiring, only the buffer.
func NewScoped(flusher Flusher, reg *lifecycle.Registry, instance models.ServiceInstance, cfg models.BatchConfig, messageType string) *Scoped {
	return &Scoped{base: newBase(flusher, reg, instance, cfg, messageType)}
}

// Flush drives the coordinator with whatever has accumulated so far
// and resets the buffer, whether called explicitly mid-scope or from
// Close. "If flushed manually before close, buffers are reset" (§4.2)
// falls out of snapshotAndReset always clearing on the way out.
func (s *Scoped) Flush(ctx context.Context, flags models.BatchFlags) (models.WorkBatch, error) {
	return s.flush(ctx, flags)
}

// Close ends the scope, flushing whatever is still buffered. It is
// called unconditionally by the owning request handler — on the
// success path and on the error path alike — so that nothing queued
// during a failed request is silently lost.
func (s *Scoped) Close(ctx context.Context) (models.WorkBatch, error) {
	return s.Flush(ctx, 0)
}
