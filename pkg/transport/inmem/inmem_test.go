package inmem

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whizbang-lib/whizbang/pkg/transport"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	tr := New()
	var mu sync.Mutex
	var received []string

	for _, name := range []string{"a", "b"} {
		name := name
		require.NoError(t, tr.Subscribe(context.Background(), "orders", func(_ context.Context, e transport.Envelope) error {
			mu.Lock()
			received = append(received, name+":"+string(e.Body))
			mu.Unlock()
			return nil
		}))
	}

	require.NoError(t, tr.Publish(context.Background(), transport.Envelope{Body: []byte("hi")}, "orders"))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a:hi", "b:hi"}, received)
}

func TestPublishIgnoresOtherDestinations(t *testing.T) {
	tr := New()
	called := false
	require.NoError(t, tr.Subscribe(context.Background(), "orders", func(_ context.Context, _ transport.Envelope) error {
		called = true
		return nil
	}))

	require.NoError(t, tr.Publish(context.Background(), transport.Envelope{Body: []byte("hi")}, "invoices"))
	assert.False(t, called)
}

func TestIsReadyDefaultsTrueAndHonorsSetReady(t *testing.T) {
	tr := New()
	assert.True(t, tr.IsReady(context.Background()))
	tr.SetReady(false)
	assert.False(t, tr.IsReady(context.Background()))
}
