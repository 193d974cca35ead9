// Package transport defines the external collaborator contract §6
// describes only as a set of methods: publish/subscribe/readiness. The
// core tolerates arbitrary redelivery from any implementation since it
// relies on dedup, not on the transport's own exactly-once guarantees.
//
// pkg/transport/amqprabbit is the real adapter; pkg/transport/inmem is
// a dependency-free adapter for tests and single-process deployments.
package transport

import "context"

// Envelope is the wire payload handed to a transport. EnvelopeType
// names the runtime type the event-type provider resolves on receipt;
// the transport itself never interprets Body.
type Envelope struct {
	EnvelopeType string
	Body         []byte
	Headers      map[string]string
}

// Publisher sends an envelope to a destination. Implementations may
// acknowledge before the message is durably delivered; the core's
// at-least-once + dedup design tolerates redelivery and loss alike is
// not assumed — only duplication.
type Publisher interface {
	Publish(ctx context.Context, envelope Envelope, destination string) error
}

// Handler processes one received envelope. A returned error means the
// message was not successfully handled; whether it is redelivered is
// the Subscriber implementation's choice (driven by ack/nack).
type Handler func(ctx context.Context, envelope Envelope) error

// Subscriber registers a handler against a destination. Subscribe
// returns once the handler is registered; delivery happens on the
// implementation's own goroutines until the context is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, destination string, handler Handler) error
}

// Ready reports whether a transport can currently accept publishes.
// pkg/engine checks it before each outbox publish and, when it returns
// false, reports the row as a TransportNotReady failure instead of
// publishing.
type Ready interface {
	IsReady(ctx context.Context) bool
}

// Transport bundles all three external-collaborator roles a concrete
// adapter fulfills.
type Transport interface {
	Publisher
	Subscriber
	Ready
}
