// Package engine drives the loop a flush strategy's Flush call leaves
// unfinished: a WorkBatch only names the outbox/inbox rows claimed for
// this instance (spec §4.1 step 10) — something still has to publish
// each outbox row to the transport and invoke each inbox row's local
// handler, then report the outcome back so the next flush can apply it.
// Grounded on pkg/queue/worker.go's poll-claim-process loop, adapted to
// process a batch the strategy already claimed rather than claiming one
// itself.
package engine

import (
	"context"
	"fmt"

	"github.com/whizbang-lib/whizbang/pkg/dispatcher"
	"github.com/whizbang-lib/whizbang/pkg/models"
	"github.com/whizbang-lib/whizbang/pkg/stream"
	"github.com/whizbang-lib/whizbang/pkg/transport"
)

// Reporter is the subset of strategy.IFlushStrategy Engine needs to
// report outcomes back into the next flush, structurally satisfied by
// any concrete strategy without importing pkg/strategy.
type Reporter interface {
	QueueOutboxCompletion(c models.Completion)
	QueueInboxCompletion(c models.Completion)
	QueueOutboxFailure(f models.Failure)
	QueueInboxFailure(f models.Failure)
}

// Engine delivers one WorkBatch's outbox rows to a transport and its
// inbox rows to local handlers, then feeds the result back into reporter.
type Engine struct {
	transport  transport.Transport
	dispatcher *dispatcher.Dispatcher
	reporter   Reporter
	// parallel runs distinct streams (and the catch-all bucket)
	// concurrently; within a stream, delivery always stays sequential
	// per the ordered stream processor (§4.3).
	parallel bool
}

// New builds an Engine over a transport, dispatcher and reporter.
func New(tr transport.Transport, d *dispatcher.Dispatcher, reporter Reporter, parallel bool) *Engine {
	return &Engine{transport: tr, dispatcher: d, reporter: reporter, parallel: parallel}
}

// ProcessBatch delivers every outbox and inbox row in batch and queues
// the resulting completions/failures on the reporter. It never returns
// an error itself — per-row failures are captured as Failure reports,
// following §7's "errors logged but never surfaced" for this path.
func (e *Engine) ProcessBatch(ctx context.Context, batch models.WorkBatch) {
	stream.ProcessOutbox(ctx, batch.Outbox, e.parallel, e.publishOutbox, stream.ResultHandler[models.OutboxWorkItem]{
		OnComplete: func(value models.OutboxWorkItem, status models.StatusFlags) {
			e.reporter.QueueOutboxCompletion(models.Completion{MessageID: value.MessageID, Status: status})
		},
		OnFailure: func(value models.OutboxWorkItem, preFailureStatus models.StatusFlags, err error) {
			e.reporter.QueueOutboxFailure(models.Failure{
				MessageID: value.MessageID, Status: preFailureStatus,
				Error: err.Error(), Reason: "transport publish failed",
			})
		},
	})

	stream.ProcessInbox(ctx, batch.Inbox, e.parallel, e.invokeInbox, stream.ResultHandler[models.InboxWorkItem]{
		OnComplete: func(value models.InboxWorkItem, status models.StatusFlags) {
			e.reporter.QueueInboxCompletion(models.Completion{MessageID: value.MessageID, Status: status})
		},
		OnFailure: func(value models.InboxWorkItem, preFailureStatus models.StatusFlags, err error) {
			e.reporter.QueueInboxFailure(models.Failure{
				MessageID: value.MessageID, Status: preFailureStatus,
				Error: err.Error(), Reason: "local handler failed",
			})
		},
	})
}

// publishOutbox sends one outbox row to its destination and marks it
// Published on success.
func (e *Engine) publishOutbox(ctx context.Context, item models.OutboxWorkItem) (models.StatusFlags, error) {
	if !e.transport.IsReady(ctx) {
		return item.Status, models.NewCoordinatorError(models.ErrKindTransportNotReady,
			fmt.Sprintf("transport not ready for destination %q", item.Destination), nil)
	}

	envelope := transport.Envelope{
		EnvelopeType: item.EnvelopeType,
		Body:         item.EnvelopeJSON,
		Headers:      map[string]string{"event_type": item.EventType},
	}
	if err := e.transport.Publish(ctx, envelope, item.Destination); err != nil {
		return item.Status, models.NewCoordinatorError(models.ErrKindTransportException,
			fmt.Sprintf("publishing to destination %q", item.Destination), err)
	}
	return item.Status.With(models.StatusPublished), nil
}

// invokeInbox calls the local handler registered for one inbox row's
// HandlerName and marks the row Stored (handled locally, the inbox
// terminal bit) on success.
func (e *Engine) invokeInbox(ctx context.Context, item models.InboxWorkItem) (models.StatusFlags, error) {
	if _, err := e.dispatcher.LocalInvoke(ctx, dispatcher.Message{
		HandlerName:  item.HandlerName,
		EventType:    item.EventType,
		EnvelopeType: item.EnvelopeType,
		Envelope:     item.EnvelopeJSON,
		Metadata:     item.MetadataJSON,
		Scope:        item.ScopeJSON,
		StreamID:     item.StreamID,
		IsEvent:      item.IsEvent,
	}); err != nil {
		return item.Status, err
	}
	return item.Status.With(models.StatusStored), nil
}
