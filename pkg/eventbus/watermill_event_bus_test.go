package eventbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/autoflow/pkg/channels/gochannel"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *received) handler(_ context.Context, event *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return nil
}

func (r *received) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.events)
}

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pub, sub := gochannel.CreateChannel(watermill.NopLogger{}, 10)
	bus := NewWatermillEventBus(pub, sub, slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	got := &received{}
	require.NoError(t, bus.Subscribe(ctx, "lead.created", got.handler))

	event := events.NewEvent("lead.created", map[string]any{"email": "a@b.c"})
	event.Platform = "hubspot"
	require.NoError(t, bus.Publish(ctx, event))

	assert.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 10*time.Millisecond)

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, event.ID, got.events[0].ID)
	assert.Equal(t, "hubspot", got.events[0].Platform)
	assert.Equal(t, "a@b.c", got.events[0].Payload["email"])
}

func TestWatermillEventBus_FanOutAndTopicIsolation(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	first, second, other := &received{}, &received{}, &received{}
	require.NoError(t, bus.Subscribe(ctx, "deal.won", first.handler))
	require.NoError(t, bus.Subscribe(ctx, "deal.won", second.handler))
	require.NoError(t, bus.Subscribe(ctx, "deal.lost", other.handler))

	require.NoError(t, bus.Publish(ctx, events.NewEvent("deal.won", nil)))

	assert.Eventually(t, func() bool { return first.count() == 1 && second.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return other.count() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestWatermillEventBus_UnsubscribeOnContextCancel(t *testing.T) {
	bus := newTestBus(t)

	subCtx, cancel := context.WithCancel(context.Background())

	got := &received{}
	require.NoError(t, bus.Subscribe(subCtx, "lead.created", got.handler))

	cancel()

	assert.Eventually(t, func() bool { return len(bus.handlers("lead.created")) == 0 }, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), events.NewEvent("lead.created", nil)))
	assert.Never(t, func() bool { return got.count() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestWatermillEventBus_HandlerErrorDoesNotBlockOthers(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	got := &received{}
	require.NoError(t, bus.Subscribe(ctx, "lead.created", func(context.Context, *events.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, bus.Subscribe(ctx, "lead.created", got.handler))

	require.NoError(t, bus.Publish(ctx, events.NewEvent("lead.created", nil)))
	require.NoError(t, bus.Publish(ctx, events.NewEvent("lead.created", nil)))

	assert.Eventually(t, func() bool { return got.count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestWatermillEventBus_Closed(t *testing.T) {
	pub, sub := gochannel.CreateChannel(watermill.NopLogger{}, 10)
	bus := NewWatermillEventBus(pub, sub, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), events.NewEvent("x", nil))
	require.ErrorIs(t, err, ErrBusClosed)

	err = bus.Subscribe(context.Background(), "x", (&received{}).handler)
	require.ErrorIs(t, err, ErrBusClosed)
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
