// Package amqprabbit adapts transport.Transport onto RabbitMQ via
// github.com/streadway/amqp. The connection/channel/dialer interfaces
// below exist purely so tests can inject a fake broker without a real
// RabbitMQ instance, the same seam the reference queue client used.
package amqprabbit

import "github.com/streadway/amqp"

// Connection is the subset of *amqp.Connection this adapter needs.
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

// Channel is the subset of *amqp.Channel this adapter needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Dialer opens a Connection. Injectable for tests.
type Dialer interface {
	Dial(url string) (Connection, error)
}

// realConnection wraps a real *amqp.Connection.
type realConnection struct{ conn *amqp.Connection }

func (r *realConnection) Channel() (Channel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *realConnection) Close() error { return r.conn.Close() }

// RealDialer dials a real RabbitMQ broker.
type RealDialer struct{}

func (RealDialer) Dial(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &realConnection{conn: conn}, nil
}
