package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusvpn/provision/internal/shared/logger"
	"github.com/nimbusvpn/provision/pkg/api"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(logger.NewDevelopment("events_test"))
	defer bus.Close()

	var received *StateChanged
	unsubscribe, err := bus.Subscribe(TypeStateChanged, func(ctx context.Context, ev Event) error {
		received = ev.(*StateChanged)
		return nil
	})
	require.NoError(t, err)
	defer unsubscribe()

	ev := NewStateChanged("https://vpn.example.org", "ready", "discovering_api")
	require.NoError(t, bus.Publish(context.Background(), ev))

	require.NotNil(t, received)
	assert.Equal(t, api.ServerIdentity("https://vpn.example.org"), received.Server)
	assert.Equal(t, "ready", received.From)
	assert.Equal(t, "discovering_api", received.To)
	assert.NotEmpty(t, received.ID())
	assert.WithinDuration(t, time.Now(), received.Timestamp(), time.Second)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(logger.NewDevelopment("events_test"))
	defer bus.Close()

	count := 0
	unsubscribe, err := bus.Subscribe(TypeStateChanged, func(ctx context.Context, ev Event) error {
		count++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewStateChanged("s", "a", "b")))
	unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), NewStateChanged("s", "b", "c")))

	assert.Equal(t, 1, count)
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(logger.NewDevelopment("events_test"))
	defer bus.Close()

	first, second := 0, 0
	_, err := bus.Subscribe(TypeStateChanged, func(ctx context.Context, ev Event) error {
		first++
		return nil
	})
	require.NoError(t, err)
	_, err = bus.Subscribe(TypeStateChanged, func(ctx context.Context, ev Event) error {
		second++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewStateChanged("s", "a", "b")))

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(logger.NewDevelopment("events_test"))
	require.NoError(t, bus.Close())

	// Closing twice is a no-op.
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), NewStateChanged("s", "a", "b"))
	assert.Error(t, err)

	_, err = bus.Subscribe(TypeStateChanged, func(ctx context.Context, ev Event) error { return nil })
	assert.Error(t, err)
}
