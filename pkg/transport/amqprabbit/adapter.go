package amqprabbit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/streadway/amqp"
	"github.com/whizbang-lib/whizbang/pkg/transport"
)

// Adapter publishes and subscribes over a single RabbitMQ connection
// and channel, declaring one durable direct exchange and binding one
// queue per destination on first use. Destinations are RabbitMQ
// routing keys; each gets its own durable queue bound to the shared
// exchange, matching the reference client's "durable queue per
// destination" approach generalized from one fixed queue to many.
type Adapter struct {
	url      string
	exchange string
	dialer   Dialer

	mu   sync.Mutex
	conn Connection
	ch   Channel

	ready atomic.Bool
}

// New builds an Adapter. Connect must be called before Publish/Subscribe.
func New(url, exchange string, dialer Dialer) *Adapter {
	if dialer == nil {
		dialer = RealDialer{}
	}
	return &Adapter{url: url, exchange: exchange, dialer: dialer}
}

var _ transport.Transport = (*Adapter)(nil)

// Connect dials the broker, opens one channel, and declares the
// shared exchange. Safe to call again after a connection loss.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	conn, err := a.dialer.Dial(a.url)
	if err != nil {
		a.ready.Store(false)
		return fmt.Errorf("dialing amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		a.ready.Store(false)
		return fmt.Errorf("opening amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(a.exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		a.ready.Store(false)
		return fmt.Errorf("declaring exchange %s: %w", a.exchange, err)
	}

	a.conn = conn
	a.ch = ch
	a.ready.Store(true)
	return nil
}

// Close releases the channel and connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ready.Store(false)
	if a.ch != nil {
		a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

// IsReady reports whether the last Connect succeeded and Close has not
// since been called. pkg/engine checks this before each outbox
// publish.
func (a *Adapter) IsReady(_ context.Context) bool {
	return a.ready.Load()
}

func (a *Adapter) declareAndBind(destination string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ch == nil {
		return fmt.Errorf("amqprabbit: not connected")
	}
	if _, err := a.ch.QueueDeclare(destination, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring queue %s: %w", destination, err)
	}
	return a.ch.QueueBind(destination, destination, a.exchange, false, nil)
}

// Publish sends envelope to destination via the shared exchange, using
// destination as both the queue name and routing key.
func (a *Adapter) Publish(_ context.Context, envelope transport.Envelope, destination string) error {
	if err := a.declareAndBind(destination); err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range envelope.Headers {
		headers[k] = v
	}

	a.mu.Lock()
	ch := a.ch
	a.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("amqprabbit: not connected")
	}

	err := ch.Publish(a.exchange, destination, false, false, amqp.Publishing{
		ContentType: envelope.EnvelopeType,
		Body:        envelope.Body,
		Headers:     headers,
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", destination, err)
	}
	return nil
}

// Subscribe starts a goroutine consuming destination until ctx is
// cancelled, invoking handler for every delivery. Deliveries whose
// handler returns an error are nacked with requeue so the core's own
// dedup/lease machinery decides whether the redelivery is accepted.
func (a *Adapter) Subscribe(ctx context.Context, destination string, handler transport.Handler) error {
	if err := a.declareAndBind(destination); err != nil {
		return err
	}

	a.mu.Lock()
	ch := a.ch
	a.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("amqprabbit: not connected")
	}

	deliveries, err := ch.Consume(destination, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consuming %s: %w", destination, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				env := transport.Envelope{EnvelopeType: d.ContentType, Body: d.Body, Headers: stringifyHeaders(d.Headers)}
				if err := handler(ctx, env); err != nil {
					_ = d.Nack(false, true)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()
	return nil
}

func stringifyHeaders(table amqp.Table) map[string]string {
	if len(table) == 0 {
		return nil
	}
	out := make(map[string]string, len(table))
	for k, v := range table {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
