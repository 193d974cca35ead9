// Package strategy implements the three interchangeable flush
// strategies described in §4.2: Immediate, Scoped, and Interval. All
// three buffer queued outbox/inbox messages and completion/failure
// reports, differing only in when they drive the coordinator.
package strategy

import (
	"context"
	"errors"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/whizbang-lib/whizbang/pkg/lifecycle"
	"github.com/whizbang-lib/whizbang/pkg/models"
)

// flushMaxRetries bounds the number of extra attempts a single Flush
// makes against the coordinator before giving up, on top of the first.
// Kept small: a strategy that can't reach the coordinator after a
// handful of short backoffs is better off surfacing the error than
// silently stalling the caller.
const flushMaxRetries = 2

// Flusher is the coordinator surface a strategy drives. Satisfied by
// *coordinator.Coordinator.
type Flusher interface {
	ProcessWorkBatch(ctx context.Context, req models.BatchRequest) (models.WorkBatch, error)
}

var (
	_ IFlushStrategy = (*Immediate)(nil)
	_ IFlushStrategy = (*Scoped)(nil)
	_ IFlushStrategy = (*Interval)(nil)
)

// IFlushStrategy is the common surface every strategy exposes (§4.2):
// queue each kind of item, then Flush on whatever cadence the concrete
// strategy implements.
type IFlushStrategy interface {
	QueueOutbox(msg models.NewOutboxMessage)
	QueueInbox(msg models.NewInboxMessage)
	QueueOutboxCompletion(c models.Completion)
	QueueInboxCompletion(c models.Completion)
	QueueReceptorCompletion(c models.ReceptorCompletion)
	QueuePerspectiveCompletion(c models.PerspectiveCompletion)
	QueueOutboxFailure(f models.Failure)
	QueueInboxFailure(f models.Failure)
	QueueReceptorFailure(f models.ReceptorFailure)
	QueuePerspectiveFailure(f models.PerspectiveFailure)
	RenewOutbox(id uuid.UUID)
	RenewInbox(id uuid.UUID)
	Flush(ctx context.Context, flags models.BatchFlags) (models.WorkBatch, error)
}

// buffer accumulates queued items between flushes. All mutation goes
// through its own mutex so concurrent callers (multiple goroutines
// queuing work against the same strategy instance) never race.
type buffer struct {
	mu sync.Mutex

	outbox []models.NewOutboxMessage
	inbox  []models.NewInboxMessage

	renewOutbox []uuid.UUID
	renewInbox  []uuid.UUID

	outboxCompletions      []models.Completion
	inboxCompletions       []models.Completion
	receptorCompletions    []models.ReceptorCompletion
	perspectiveCompletions []models.PerspectiveCompletion

	outboxFailures      []models.Failure
	inboxFailures       []models.Failure
	receptorFailures    []models.ReceptorFailure
	perspectiveFailures []models.PerspectiveFailure
}

func (b *buffer) queueOutbox(msg models.NewOutboxMessage) {
	b.mu.Lock()
	b.outbox = append(b.outbox, msg)
	b.mu.Unlock()
}

func (b *buffer) queueInbox(msg models.NewInboxMessage) {
	b.mu.Lock()
	b.inbox = append(b.inbox, msg)
	b.mu.Unlock()
}

func (b *buffer) renewOutboxID(id uuid.UUID) {
	b.mu.Lock()
	b.renewOutbox = append(b.renewOutbox, id)
	b.mu.Unlock()
}

func (b *buffer) renewInboxID(id uuid.UUID) {
	b.mu.Lock()
	b.renewInbox = append(b.renewInbox, id)
	b.mu.Unlock()
}

func (b *buffer) queueOutboxCompletion(c models.Completion) {
	b.mu.Lock()
	b.outboxCompletions = append(b.outboxCompletions, c)
	b.mu.Unlock()
}

func (b *buffer) queueInboxCompletion(c models.Completion) {
	b.mu.Lock()
	b.inboxCompletions = append(b.inboxCompletions, c)
	b.mu.Unlock()
}

func (b *buffer) queueReceptorCompletion(c models.ReceptorCompletion) {
	b.mu.Lock()
	b.receptorCompletions = append(b.receptorCompletions, c)
	b.mu.Unlock()
}

func (b *buffer) queuePerspectiveCompletion(c models.PerspectiveCompletion) {
	b.mu.Lock()
	b.perspectiveCompletions = append(b.perspectiveCompletions, c)
	b.mu.Unlock()
}

func (b *buffer) queueOutboxFailure(f models.Failure) {
	b.mu.Lock()
	b.outboxFailures = append(b.outboxFailures, f)
	b.mu.Unlock()
}

func (b *buffer) queueInboxFailure(f models.Failure) {
	b.mu.Lock()
	b.inboxFailures = append(b.inboxFailures, f)
	b.mu.Unlock()
}

func (b *buffer) queueReceptorFailure(f models.ReceptorFailure) {
	b.mu.Lock()
	b.receptorFailures = append(b.receptorFailures, f)
	b.mu.Unlock()
}

func (b *buffer) queuePerspectiveFailure(f models.PerspectiveFailure) {
	b.mu.Lock()
	b.perspectiveFailures = append(b.perspectiveFailures, f)
	b.mu.Unlock()
}

// snapshotAndReset builds a BatchRequest from everything queued so far
// and clears the buffer in the same critical section, so a concurrent
// Queue* call during a flush lands in the *next* batch rather than
// being silently dropped or double-sent.
func (b *buffer) snapshotAndReset(instance models.ServiceInstance, cfg models.BatchConfig) models.BatchRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	req := models.BatchRequest{
		Instance:               instance,
		NewOutbox:               b.outbox,
		NewInbox:                b.inbox,
		RenewOutbox:             b.renewOutbox,
		RenewInbox:              b.renewInbox,
		OutboxCompletions:       b.outboxCompletions,
		InboxCompletions:        b.inboxCompletions,
		ReceptorCompletions:     b.receptorCompletions,
		PerspectiveCompletions:  b.perspectiveCompletions,
		OutboxFailures:          b.outboxFailures,
		InboxFailures:           b.inboxFailures,
		ReceptorFailures:        b.receptorFailures,
		PerspectiveFailures:     b.perspectiveFailures,
		Config:                  cfg,
	}

	b.outbox = nil
	b.inbox = nil
	b.renewOutbox = nil
	b.renewInbox = nil
	b.outboxCompletions = nil
	b.inboxCompletions = nil
	b.receptorCompletions = nil
	b.perspectiveCompletions = nil
	b.outboxFailures = nil
	b.inboxFailures = nil
	b.receptorFailures = nil
	b.perspectiveFailures = nil

	return req
}

func (b *buffer) invocationContexts(stage lifecycle.Stage, messageType string) []lifecycle.InvocationContext {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := make([]lifecycle.InvocationContext, 0, len(b.outbox)+len(b.inbox))
	for range b.outbox {
		items = append(items, lifecycle.InvocationContext{Stage: stage, MessageType: messageType, Source: lifecycle.SourceOutbox})
	}
	for range b.inbox {
		items = append(items, lifecycle.InvocationContext{Stage: stage, MessageType: messageType, Source: lifecycle.SourceInbox})
	}
	return items
}

// base implements the shared Queue*/Flush bookkeeping all three
// concrete strategies embed; each strategy only adds its own cadence
// on top (Immediate flushes after every queue call, Scoped flushes on
// scope close, Interval flushes on a ticker).
type base struct {
	flusher    Flusher
	lifecycle  *lifecycle.Registry
	instance   models.ServiceInstance
	config     models.BatchConfig
	buf        buffer
	messageType string
}

func newBase(flusher Flusher, reg *lifecycle.Registry, instance models.ServiceInstance, cfg models.BatchConfig, messageType string) base {
	return base{flusher: flusher, lifecycle: reg, instance: instance, config: cfg, messageType: messageType}
}

func (b *base) QueueOutbox(msg models.NewOutboxMessage)                     { b.buf.queueOutbox(msg) }
func (b *base) QueueInbox(msg models.NewInboxMessage)                       { b.buf.queueInbox(msg) }
func (b *base) RenewOutbox(id uuid.UUID)                                   { b.buf.renewOutboxID(id) }
func (b *base) RenewInbox(id uuid.UUID)                                    { b.buf.renewInboxID(id) }
func (b *base) QueueOutboxCompletion(c models.Completion)                  { b.buf.queueOutboxCompletion(c) }
func (b *base) QueueInboxCompletion(c models.Completion)                   { b.buf.queueInboxCompletion(c) }
func (b *base) QueueReceptorCompletion(c models.ReceptorCompletion)        { b.buf.queueReceptorCompletion(c) }
func (b *base) QueuePerspectiveCompletion(c models.PerspectiveCompletion)  { b.buf.queuePerspectiveCompletion(c) }
func (b *base) QueueOutboxFailure(f models.Failure)                       { b.buf.queueOutboxFailure(f) }
func (b *base) QueueInboxFailure(f models.Failure)                        { b.buf.queueInboxFailure(f) }
func (b *base) QueueReceptorFailure(f models.ReceptorFailure)             { b.buf.queueReceptorFailure(f) }
func (b *base) QueuePerspectiveFailure(f models.PerspectiveFailure)       { b.buf.queuePerspectiveFailure(f) }

// flush runs the shared discipline from §4.2: PreDistribute stages
// (async snapshot first, then inline — inline failures abort the
// flush before the coordinator is ever called), the coordinator call
// itself, then PostDistribute stages. Buffers are cleared as part of
// building the request, not after the coordinator returns, which is
// equivalent for a single-flusher strategy but also means a failed
// coordinator call does not silently re-queue the same items forever.
func (b *base) flush(ctx context.Context, flags models.BatchFlags) (models.WorkBatch, error) {
	pre := b.buf.invocationContexts(lifecycle.StagePreDistributeAsync, b.messageType)
	b.lifecycle.RunAsync(ctx, pre)

	preInline := b.buf.invocationContexts(lifecycle.StagePreDistributeInline, b.messageType)
	if err := b.lifecycle.RunInline(ctx, preInline); err != nil {
		return models.WorkBatch{}, err
	}

	cfg := b.config
	cfg.Flags = flags
	req := b.buf.snapshotAndReset(b.instance, cfg)

	dist := make([]lifecycle.InvocationContext, 0, len(req.NewOutbox)+len(req.NewInbox))
	for range req.NewOutbox {
		dist = append(dist, lifecycle.InvocationContext{Stage: lifecycle.StageDistributeAsync, MessageType: b.messageType, Source: lifecycle.SourceOutbox})
	}
	for range req.NewInbox {
		dist = append(dist, lifecycle.InvocationContext{Stage: lifecycle.StageDistributeAsync, MessageType: b.messageType, Source: lifecycle.SourceInbox})
	}
	b.lifecycle.RunAsync(ctx, dist)

	var batch models.WorkBatch
	op := func() error {
		var err error
		batch, err = b.flusher.ProcessWorkBatch(ctx, req)
		if err == nil {
			return nil
		}
		var cerr *models.CoordinatorError
		if errors.As(err, &cerr) && !cerr.Kind.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), flushMaxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return models.WorkBatch{}, err
	}

	post := []lifecycle.InvocationContext{{Stage: lifecycle.StagePostDistributeAsync, MessageType: b.messageType}}
	b.lifecycle.RunAsync(ctx, post)
	postInline := []lifecycle.InvocationContext{{Stage: lifecycle.StagePostDistributeInline, MessageType: b.messageType}}
	if err := b.lifecycle.RunInline(ctx, postInline); err != nil {
		return batch, err
	}

	return batch, nil
}
