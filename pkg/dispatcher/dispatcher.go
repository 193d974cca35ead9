// Package dispatcher implements the public Dispatcher surface (§6)
// over a flush strategy: send (fire-and-forget with receipt),
// localInvoke (in-process request/reply), publish (in-process fan-out
// plus an optional outbox append), and their *Many batch variants.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/whizbang-lib/whizbang/pkg/models"
)

// Message is one unit of work a caller hands to the Dispatcher.
// Destination selects the outbox route (Send/Publish-with-append);
// HandlerName selects the local handler (LocalInvoke) or the event
// type subscribers key off of (Publish's fan-out).
type Message struct {
	MessageID    uuid.UUID
	Destination  string
	HandlerName  string
	EventType    string
	EnvelopeType string
	Envelope     json.RawMessage
	Metadata     json.RawMessage
	Scope        json.RawMessage
	StreamID     *string
	IsEvent      bool
}

// DeliveryReceipt is Send's return value: acceptance into the
// strategy's buffer, not a broker acknowledgement (§7 user-visible
// behaviour).
type DeliveryReceipt struct {
	MessageID uuid.UUID
	Accepted  bool
}

// LocalHandler handles one in-process invocation, returning a reply
// payload or an error. LocalInvoke propagates both directly to the
// caller — it never wraps or translates a handler's own error.
type LocalHandler func(ctx context.Context, envelope json.RawMessage) (json.RawMessage, error)

// Queuer is the strategy surface Dispatcher drives. Satisfied by any
// strategy.IFlushStrategy.
type Queuer interface {
	QueueOutbox(msg models.NewOutboxMessage)
	QueueInbox(msg models.NewInboxMessage)
}

// Dispatcher is a thin façade over a Queuer plus an in-process
// handler/subscriber registry, the same shape as the reference
// session manager's map-plus-mutex wrapped in a small public API.
type Dispatcher struct {
	strategy Queuer
	tracing  bool

	mu          sync.RWMutex
	local       map[string]LocalHandler
	subscribers map[string][]LocalHandler
}

// New builds a Dispatcher over strategy. tracing controls whether
// LocalInvoke allocates a correlation id per call; disabled by default
// for the zero-allocation fast path §6 calls for.
func New(strategy Queuer) *Dispatcher {
	return &Dispatcher{
		strategy:    strategy,
		local:       make(map[string]LocalHandler),
		subscribers: make(map[string][]LocalHandler),
	}
}

// EnableTracing turns on correlation-id allocation for every
// subsequent LocalInvoke call.
func (d *Dispatcher) EnableTracing(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracing = on
}

// RegisterLocal registers the handler LocalInvoke calls for name.
func (d *Dispatcher) RegisterLocal(name string, handler LocalHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.local[name] = handler
}

// Subscribe registers handler to run on every Publish of eventType, in
// addition to any other subscribers already registered for it.
func (d *Dispatcher) Subscribe(eventType string, handler LocalHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[eventType] = append(d.subscribers[eventType], handler)
}

// Send queues msg for outbox delivery and returns immediately with a
// receipt indicating buffer acceptance — it never waits on the
// transport.
func (d *Dispatcher) Send(_ context.Context, msg Message) DeliveryReceipt {
	id := msg.MessageID
	if id == uuid.Nil {
		id = models.NewID()
	}
	d.strategy.QueueOutbox(models.NewOutboxMessage{
		MessageID:    id,
		Destination:  msg.Destination,
		EventType:    msg.EventType,
		EnvelopeType: msg.EnvelopeType,
		EnvelopeJSON: msg.Envelope,
		MetadataJSON: msg.Metadata,
		ScopeJSON:    msg.Scope,
		StreamID:     msg.StreamID,
		IsEvent:      msg.IsEvent,
	})
	return DeliveryReceipt{MessageID: id, Accepted: true}
}

// SendMany sends every message in msgs and returns one receipt per
// message, in the same order.
func (d *Dispatcher) SendMany(ctx context.Context, msgs []Message) []DeliveryReceipt {
	receipts := make([]DeliveryReceipt, len(msgs))
	for i, m := range msgs {
		receipts[i] = d.Send(ctx, m)
	}
	return receipts
}

// LocalInvoke calls the handler registered under msg.HandlerName
// directly, in-process, and returns exactly what the handler returns.
// With tracing disabled (the default) this allocates nothing beyond
// the handler's own work — no correlation id, no span.
func (d *Dispatcher) LocalInvoke(ctx context.Context, msg Message) (json.RawMessage, error) {
	d.mu.RLock()
	handler, ok := d.local[msg.HandlerName]
	tracing := d.tracing
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dispatcher: no local handler registered for %q", msg.HandlerName)
	}

	if tracing {
		correlationID := models.NewID()
		ctx = context.WithValue(ctx, correlationIDKey{}, correlationID)
	}
	return handler(ctx, msg.Envelope)
}

// LocalInvokeMany invokes every message in msgs and returns one result
// per message, in the same order. A per-message error does not stop
// the rest from running.
func (d *Dispatcher) LocalInvokeMany(ctx context.Context, msgs []Message) ([]json.RawMessage, []error) {
	results := make([]json.RawMessage, len(msgs))
	errs := make([]error, len(msgs))
	for i, m := range msgs {
		results[i], errs[i] = d.LocalInvoke(ctx, m)
	}
	return results, errs
}

// Publish fans out msg to every local subscriber registered for
// msg.EventType, synchronously, then — only when msg.Destination is
// set — also queues an outbox append, so a published event both
// drives in-process reactors immediately and gets durably recorded
// for remote delivery.
func (d *Dispatcher) Publish(ctx context.Context, msg Message) DeliveryReceipt {
	d.mu.RLock()
	subs := append([]LocalHandler(nil), d.subscribers[msg.EventType]...)
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range subs {
		wg.Add(1)
		go func(h LocalHandler) {
			defer wg.Done()
			_, _ = h(ctx, msg.Envelope)
		}(h)
	}
	wg.Wait()

	if msg.Destination == "" {
		return DeliveryReceipt{MessageID: msg.MessageID, Accepted: true}
	}
	return d.Send(ctx, msg)
}

type correlationIDKey struct{}

// CorrelationID returns the correlation id LocalInvoke attached to ctx
// when tracing is enabled, if any.
func CorrelationID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(correlationIDKey{}).(uuid.UUID)
	return id, ok
}
