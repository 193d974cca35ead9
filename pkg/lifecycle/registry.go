package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// InvocationContext is the immutable value passed to every handler
// (§4.4): current stage, optional identifiers, message source, and
// attempt number.
type InvocationContext struct {
	Stage           Stage
	MessageType     string
	EventID         *uuid.UUID
	StreamID        *string
	PerspectiveName *string
	Source          Source
	Attempt         int
}

// HandlerFunc is one registered stage handler.
type HandlerFunc func(ctx context.Context, ictx InvocationContext) error

type key struct {
	messageType string
	stage       Stage
}

// Registry maps (message_type, stage) to an ordered list of handlers.
// Handlers may be registered at any time, including while invocations
// are in flight — the handler slice for a key is read under RLock and
// never mutated in place, only replaced, so a running dispatch always
// sees a consistent snapshot.
type Registry struct {
	mu       sync.RWMutex
	handlers map[key][]HandlerFunc
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[key][]HandlerFunc)}
}

// Register appends h to the handler list for (messageType, stage).
// messageType "" matches every message type, consulted in addition to
// any type-specific handlers.
func (r *Registry) Register(messageType string, stage Stage, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{messageType, stage}
	r.handlers[k] = append(append([]HandlerFunc{}, r.handlers[k]...), h)
}

func (r *Registry) lookup(messageType string, stage Stage) []HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []HandlerFunc
	out = append(out, r.handlers[key{"", stage}]...)
	if messageType != "" {
		out = append(out, r.handlers[key{messageType, stage}]...)
	}
	return out
}

// RunInline invokes every handler for every item, in registration
// order, awaiting each call. The first handler error aborts the
// remaining items and is returned to the caller as a lifecycle
// failure, per §4.4.
func (r *Registry) RunInline(ctx context.Context, items []InvocationContext) error {
	for _, ictx := range items {
		for _, h := range r.lookup(ictx.MessageType, ictx.Stage) {
			if err := h(ctx, ictx); err != nil {
				return fmt.Errorf("lifecycle stage %s failed for %s: %w", ictx.Stage, ictx.MessageType, err)
			}
		}
	}
	return nil
}

// RunAsync snapshots items (the caller's buffer may be mutated or
// reused immediately after this call returns, per the re-entrancy
// requirement in §4.4) and runs every handler on a detached goroutine.
// The goroutine runs against context.Background(), not ctx: ctx may be
// cancelled (e.g. a request context) the moment the caller moves on,
// and a detached task must outlive its trigger. Handler errors are
// logged, never returned or propagated.
func (r *Registry) RunAsync(_ context.Context, items []InvocationContext) {
	snapshot := append([]InvocationContext{}, items...)
	go func() {
		bg := context.Background()
		for _, ictx := range snapshot {
			for _, h := range r.lookup(ictx.MessageType, ictx.Stage) {
				if err := h(bg, ictx); err != nil {
					slog.Error("async lifecycle handler failed",
						"stage", ictx.Stage, "message_type", ictx.MessageType, "error", err)
				}
			}
		}
	}()
}
