package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whizbang-lib/whizbang/pkg/dispatcher"
	"github.com/whizbang-lib/whizbang/pkg/models"
	"github.com/whizbang-lib/whizbang/pkg/transport"
	"github.com/whizbang-lib/whizbang/pkg/transport/inmem"
)

type fakeReporter struct {
	mu                sync.Mutex
	outboxCompletions []models.Completion
	outboxFailures    []models.Failure
	inboxCompletions  []models.Completion
	inboxFailures     []models.Failure
}

func (f *fakeReporter) QueueOutboxCompletion(c models.Completion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outboxCompletions = append(f.outboxCompletions, c)
}
func (f *fakeReporter) QueueInboxCompletion(c models.Completion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inboxCompletions = append(f.inboxCompletions, c)
}
func (f *fakeReporter) QueueOutboxFailure(ft models.Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outboxFailures = append(f.outboxFailures, ft)
}
func (f *fakeReporter) QueueInboxFailure(ft models.Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inboxFailures = append(f.inboxFailures, ft)
}

func TestProcessBatchPublishesOutboxAndReportsCompletion(t *testing.T) {
	tr := inmem.New()
	var gotBody []byte
	var mu sync.Mutex
	require.NoError(t, tr.Subscribe(context.Background(), "orders", func(_ context.Context, e transport.Envelope) error {
		mu.Lock()
		gotBody = e.Body
		mu.Unlock()
		return nil
	}))

	d := dispatcher.New(nil)
	rep := &fakeReporter{}
	eng := New(tr, d, rep, false)

	id := uuid.New()
	eng.ProcessBatch(context.Background(), models.WorkBatch{
		Outbox: []models.OutboxWorkItem{
			{MessageID: id, Destination: "orders", EnvelopeJSON: []byte(`{"a":1}`), Status: models.StatusStored},
		},
	})

	mu.Lock()
	assert.Equal(t, []byte(`{"a":1}`), gotBody)
	mu.Unlock()

	require.Len(t, rep.outboxCompletions, 1)
	assert.Equal(t, id, rep.outboxCompletions[0].MessageID)
	assert.True(t, rep.outboxCompletions[0].Status.Has(models.StatusPublished))
	assert.Empty(t, rep.outboxFailures)
}

func TestProcessBatchReportsOutboxFailureWhenTransportNotReady(t *testing.T) {
	tr := inmem.New()
	tr.SetReady(false)
	d := dispatcher.New(nil)
	rep := &fakeReporter{}
	eng := New(tr, d, rep, false)

	id := uuid.New()
	eng.ProcessBatch(context.Background(), models.WorkBatch{
		Outbox: []models.OutboxWorkItem{{MessageID: id, Destination: "orders", Status: models.StatusStored}},
	})

	require.Len(t, rep.outboxFailures, 1)
	assert.Equal(t, id, rep.outboxFailures[0].MessageID)
	assert.Empty(t, rep.outboxCompletions)
}

func TestProcessBatchInvokesLocalHandlerForInboxAndReportsCompletion(t *testing.T) {
	d := dispatcher.New(nil)
	var called bool
	d.RegisterLocal("handle-order", func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		called = true
		return nil, nil
	})

	rep := &fakeReporter{}
	eng := New(inmem.New(), d, rep, false)

	id := uuid.New()
	eng.ProcessBatch(context.Background(), models.WorkBatch{
		Inbox: []models.InboxWorkItem{{MessageID: id, HandlerName: "handle-order", Status: models.StatusStored}},
	})

	assert.True(t, called)
	require.Len(t, rep.inboxCompletions, 1)
	assert.Equal(t, id, rep.inboxCompletions[0].MessageID)
	assert.Empty(t, rep.inboxFailures)
}

func TestProcessBatchReportsInboxFailureWhenHandlerErrors(t *testing.T) {
	d := dispatcher.New(nil)
	wantErr := errors.New("boom")
	d.RegisterLocal("fails", func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, wantErr
	})

	rep := &fakeReporter{}
	eng := New(inmem.New(), d, rep, false)

	id := uuid.New()
	eng.ProcessBatch(context.Background(), models.WorkBatch{
		Inbox: []models.InboxWorkItem{{MessageID: id, HandlerName: "fails", Status: models.StatusStored}},
	})

	require.Len(t, rep.inboxFailures, 1)
	assert.Equal(t, id, rep.inboxFailures[0].MessageID)
	assert.Contains(t, rep.inboxFailures[0].Error, "boom")
}
