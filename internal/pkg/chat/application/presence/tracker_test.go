package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/infrastructure/realtime"
	"chatcore/internal/pkg/chat/persistence/repository/memory"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func startFabric(t *testing.T, hub *realtime.Hub, client string) (*realtime.Fabric, *realtime.HubEndpoint) {
	t.Helper()
	endpoint := hub.Endpoint(client)
	f := realtime.NewFabric(endpoint, realtime.WithBackoff(5*time.Millisecond, 20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = f.Close()
	})
	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	require.NoError(t, f.WaitConnected(wctx))
	return f, endpoint
}

func TestMarkOnlineOfflinePropagates(t *testing.T) {
	store := memory.NewStore(nil)
	hub := realtime.NewHub(64)
	clk := &stepClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}

	fabA, _ := startFabric(t, hub, "a")
	fabB, _ := startFabric(t, hub, "b")
	server := NewTracker(store, fabA, WithNow(clk.now))
	fabA.HandleSnapshots(realtime.PresenceTopic, server.Snapshot)
	fabB.HandleSnapshots(realtime.PresenceTopic, server.Snapshot)

	observer := NewTracker(store, fabB)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = observer.Run(ctx) }()
	require.Eventually(t, func() bool { return hub.Subscribers(realtime.PresenceTopic) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, server.MarkOnline(ctx, "alice"))
	require.Eventually(t, func() bool { return observer.IsOnline("alice") }, 2*time.Second, time.Millisecond)

	require.NoError(t, server.MarkOffline(ctx, "alice"))
	require.Eventually(t, func() bool { return !observer.IsOnline("alice") }, 2*time.Second, time.Millisecond)

	seen, ok := observer.LastSeen("alice")
	require.True(t, ok)
	assert.True(t, clk.t.Equal(seen))

	_, ok = observer.LastSeen("nobody")
	assert.False(t, ok)
}

func TestResyncMarksMissingUsersOffline(t *testing.T) {
	store := memory.NewStore(nil)
	hub := realtime.NewHub(64)
	clk := &stepClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}

	fabA, _ := startFabric(t, hub, "a")
	fabB, endpointB := startFabric(t, hub, "b")
	server := NewTracker(store, fabA, WithNow(clk.now))
	fabB.HandleSnapshots(realtime.PresenceTopic, server.Snapshot)

	observer := NewTracker(store, fabB)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = observer.Run(ctx) }()
	require.Eventually(t, func() bool { return hub.Subscribers(realtime.PresenceTopic) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, server.MarkOnline(ctx, "alice"))
	require.NoError(t, server.MarkOnline(ctx, "carol"))
	require.Eventually(t, func() bool { return observer.IsOnline("alice") && observer.IsOnline("carol") }, 2*time.Second, time.Millisecond)

	// alice leaves while the observer is partitioned; the leave is missed
	endpointB.Drop()
	require.Eventually(t, func() bool { return !fabB.Connected() }, time.Second, time.Millisecond)
	require.NoError(t, server.MarkOffline(ctx, "alice"))
	assert.True(t, observer.IsOnline("alice"))

	endpointB.Restore()
	require.Eventually(t, func() bool { return !observer.IsOnline("alice") }, 2*time.Second, time.Millisecond)
	assert.True(t, observer.IsOnline("carol"))
}

func TestMarkOnlineSurvivesDisconnectedFabric(t *testing.T) {
	store := memory.NewStore(nil)
	tracker := NewTracker(store, realtime.NewFabric(realtime.NewHub(1).Endpoint("x")))

	require.NoError(t, tracker.MarkOnline(context.Background(), "alice"))
	assert.True(t, tracker.IsOnline("alice"))

	p, err := tracker.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, p.IsOnline)
}
