package amqprabbit

import (
	"sync"

	"github.com/streadway/amqp"
)

// mockChannel is a fake Channel that records declared/bound names and
// published messages, and feeds Consume from an in-memory buffer —
// enough surface to drive Adapter in tests without a broker.
type mockChannel struct {
	mu sync.Mutex

	declaredQueues []string
	boundQueues    []string
	published      []amqp.Publishing
	publishedKeys  []string

	deliveries chan amqp.Delivery
	acks       []bool // true = Ack, false = Nack, recorded in delivery order

	publishErr error
	declareErr error
}

func newMockChannel() *mockChannel {
	return &mockChannel{deliveries: make(chan amqp.Delivery, 16)}
}

// fakeAcknowledger records Ack/Nack calls so Subscribe's handler
// outcome can be asserted without a real broker connection.
type fakeAcknowledger struct {
	ch *mockChannel
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.ch.mu.Lock()
	defer f.ch.mu.Unlock()
	f.ch.acks = append(f.ch.acks, true)
	return nil
}

func (f *fakeAcknowledger) Nack(uint64, bool, bool) error {
	f.ch.mu.Lock()
	defer f.ch.mu.Unlock()
	f.ch.acks = append(f.ch.acks, false)
	return nil
}

func (f *fakeAcknowledger) Reject(uint64, bool) error { return nil }

func (m *mockChannel) ExchangeDeclare(string, string, bool, bool, bool, bool, amqp.Table) error {
	return nil
}

func (m *mockChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.declareErr != nil {
		return amqp.Queue{}, m.declareErr
	}
	m.declaredQueues = append(m.declaredQueues, name)
	return amqp.Queue{Name: name}, nil
}

func (m *mockChannel) QueueBind(name, _, _ string, _ bool, _ amqp.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boundQueues = append(m.boundQueues, name)
	return nil
}

func (m *mockChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, msg)
	m.publishedKeys = append(m.publishedKeys, key)
	m.deliveries <- amqp.Delivery{Acknowledger: &fakeAcknowledger{ch: m}, ContentType: msg.ContentType, Body: msg.Body, Headers: msg.Headers}
	return nil
}

func (m *mockChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return m.deliveries, nil
}

func (m *mockChannel) Close() error { return nil }

type mockConnection struct {
	ch      *mockChannel
	chanErr error
}

func (m *mockConnection) Channel() (Channel, error) {
	if m.chanErr != nil {
		return nil, m.chanErr
	}
	return m.ch, nil
}

func (m *mockConnection) Close() error { return nil }

type mockDialer struct {
	conn   *mockConnection
	dialErr error
}

func (m *mockDialer) Dial(string) (Connection, error) {
	if m.dialErr != nil {
		return nil, m.dialErr
	}
	return m.conn, nil
}

func newMockDialer() (*mockDialer, *mockChannel) {
	ch := newMockChannel()
	return &mockDialer{conn: &mockConnection{ch: ch}}, ch
}
