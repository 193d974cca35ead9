package amqprabbit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whizbang-lib/whizbang/pkg/transport"
)

func TestAdapterNotReadyBeforeConnect(t *testing.T) {
	dialer, _ := newMockDialer()
	a := New("amqp://broker", "wh.events", dialer)
	assert.False(t, a.IsReady(context.Background()))
}

func TestAdapterReadyAfterConnect(t *testing.T) {
	dialer, _ := newMockDialer()
	a := New("amqp://broker", "wh.events", dialer)
	require.NoError(t, a.Connect(context.Background()))
	assert.True(t, a.IsReady(context.Background()))
}

func TestAdapterNotReadyWhenDialFails(t *testing.T) {
	dialer := &mockDialer{dialErr: errors.New("connection refused")}
	a := New("amqp://broker", "wh.events", dialer)
	err := a.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, a.IsReady(context.Background()))
}

func TestAdapterPublishDeclaresQueueAndSendsBody(t *testing.T) {
	dialer, ch := newMockDialer()
	a := New("amqp://broker", "wh.events", dialer)
	require.NoError(t, a.Connect(context.Background()))

	err := a.Publish(context.Background(), transport.Envelope{EnvelopeType: "json", Body: []byte(`{"a":1}`)}, "orders")
	require.NoError(t, err)

	assert.Contains(t, ch.declaredQueues, "orders")
	assert.Contains(t, ch.boundQueues, "orders")
	require.Len(t, ch.published, 1)
	assert.Equal(t, []byte(`{"a":1}`), ch.published[0].Body)
}

func TestAdapterSubscribeDeliversAndAcksOnSuccess(t *testing.T) {
	dialer, _ := newMockDialer()
	a := New("amqp://broker", "wh.events", dialer)
	require.NoError(t, a.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan transport.Envelope, 1)
	err := a.Subscribe(ctx, "orders", func(_ context.Context, e transport.Envelope) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, a.Publish(ctx, transport.Envelope{EnvelopeType: "json", Body: []byte("hello")}, "orders"))

	select {
	case e := <-received:
		assert.Equal(t, []byte("hello"), e.Body)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestAdapterSubscribeNacksOnHandlerError(t *testing.T) {
	dialer, ch := newMockDialer()
	a := New("amqp://broker", "wh.events", dialer)
	require.NoError(t, a.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	err := a.Subscribe(ctx, "orders", func(_ context.Context, _ transport.Envelope) error {
		defer close(done)
		return errors.New("handler failed")
	})
	require.NoError(t, err)

	require.NoError(t, a.Publish(ctx, transport.Envelope{Body: []byte("x")}, "orders"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}

	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return len(ch.acks) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, false, ch.acks[0])
}

func TestAdapterPublishFailsWhenNotConnected(t *testing.T) {
	dialer, _ := newMockDialer()
	a := New("amqp://broker", "wh.events", dialer)
	err := a.Publish(context.Background(), transport.Envelope{Body: []byte("x")}, "orders")
	require.Error(t, err)
}
