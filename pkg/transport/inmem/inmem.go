// Package inmem implements transport.Transport entirely in-process
// over a map of registered handlers — no broker, no network. Intended for tests and
// single-instance deployments that don't need cross-process delivery.
package inmem

import (
	"context"
	"sync"

	"github.com/whizbang-lib/whizbang/pkg/transport"
)

// Transport fans out every Publish to every Subscribe callback
// registered for the same destination at the time of publish.
// Subscribers registered afterward do not see earlier publishes.
type Transport struct {
	mu       sync.RWMutex
	handlers map[string][]transport.Handler
	ready    bool
}

// New builds a ready-to-use in-memory Transport.
func New() *Transport {
	return &Transport{handlers: make(map[string][]transport.Handler), ready: true}
}

var _ transport.Transport = (*Transport)(nil)

// SetReady lets tests simulate a transport going unready, exercising
// pkg/engine's not-ready failure path without a real broker.
func (t *Transport) SetReady(ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready = ready
}

func (t *Transport) IsReady(_ context.Context) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

func (t *Transport) Subscribe(_ context.Context, destination string, handler transport.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[destination] = append(t.handlers[destination], handler)
	return nil
}

// Publish invokes every handler registered for destination, each in
// its own goroutine so one slow handler does not delay the others —
// close to what a real broker's independent consumers would give you —
// and returns once all of them have returned. Handler errors are
// discarded.
func (t *Transport) Publish(ctx context.Context, envelope transport.Envelope, destination string) error {
	t.mu.RLock()
	handlers := append([]transport.Handler(nil), t.handlers[destination]...)
	t.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h transport.Handler) {
			defer wg.Done()
			_ = h(ctx, envelope)
		}(h)
	}
	wg.Wait()
	return nil
}
