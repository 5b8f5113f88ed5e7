package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheAdapter "chatcore/internal/infrastructure/cache/adapter"
	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
)

type recordingFabric struct {
	mu     sync.Mutex
	states []chat.TypingState
}

func (f *recordingFabric) Subscribe(context.Context, string) (*realtime.Subscription, error) {
	return nil, realtime.ErrClosed
}

func (f *recordingFabric) Publish(_ context.Context, ev realtime.Event) error {
	var st chat.TypingState
	if err := ev.Decode(&st); err != nil {
		return err
	}
	f.mu.Lock()
	f.states = append(f.states, st)
	f.mu.Unlock()
	return nil
}

func (f *recordingFabric) published() []chat.TypingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.TypingState(nil), f.states...)
}

func TestSetTypingThrottlesRepublish(t *testing.T) {
	clk := clock.NewMock()
	fab := &recordingFabric{}
	bus := NewBus(fab, WithClock(clk))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.SetTyping(ctx, "c1", "alice"))
	}
	assert.Len(t, fab.published(), 1)

	clk.Add(time.Second)
	require.NoError(t, bus.SetTyping(ctx, "c1", "alice"))
	assert.Len(t, fab.published(), 2)
	assert.True(t, bus.IsTyping("c1", "alice"))
}

func TestOwnSignalExpiresAfterTTL(t *testing.T) {
	clk := clock.NewMock()
	fab := &recordingFabric{}
	cache := cacheAdapter.NewMemoryCache(clk)
	bus := NewBus(fab, WithClock(clk), WithCache(cache))
	ctx := context.Background()

	require.NoError(t, bus.SetTyping(ctx, "c1", "alice"))
	_, err := cache.Get(ctx, CacheKey("c1", "alice"))
	require.NoError(t, err)

	clk.Add(2 * time.Second)
	// a keystroke restarts the countdown
	require.NoError(t, bus.SetTyping(ctx, "c1", "alice"))
	clk.Add(2 * time.Second)
	assert.True(t, bus.IsTyping("c1", "alice"))

	clk.Add(time.Second)
	require.Eventually(t, func() bool { return !bus.IsTyping("c1", "alice") }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		states := fab.published()
		return len(states) > 0 && !states[len(states)-1].IsTyping
	}, time.Second, time.Millisecond)
}

func TestClearTypingCancelsTimer(t *testing.T) {
	clk := clock.NewMock()
	fab := &recordingFabric{}
	bus := NewBus(fab, WithClock(clk))
	ctx := context.Background()

	require.NoError(t, bus.SetTyping(ctx, "c1", "alice"))
	require.NoError(t, bus.ClearTyping(ctx, "c1", "alice"))
	assert.False(t, bus.IsTyping("c1", "alice"))

	clk.Add(10 * time.Second)
	states := fab.published()
	require.Len(t, states, 2)
	assert.False(t, states[1].IsTyping)
}

func TestPeerSignalNeverOutlivesTTLPlusMargin(t *testing.T) {
	clk := clock.NewMock()
	bus := NewBus(&recordingFabric{}, WithClock(clk))

	bus.observe(chat.TypingState{ConversationID: "c1", UserID: "alice", IsTyping: true})
	assert.Equal(t, []string{"alice"}, bus.Typing("c1"))

	clk.Add(chat.TypingTTL)
	assert.Equal(t, []string{"alice"}, bus.Typing("c1"))

	clk.Add(chat.TypingMargin)
	assert.Empty(t, bus.Typing("c1"))
}

func startFabric(t *testing.T, hub *realtime.Hub, client string) *realtime.Fabric {
	t.Helper()
	f := realtime.NewFabric(hub.Endpoint(client), realtime.WithBackoff(5*time.Millisecond, 20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = f.Close()
	})
	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	require.NoError(t, f.WaitConnected(wctx))
	return f
}

// A types once and goes quiet; its clear never reaches B. B still stops
// showing the indicator once TTL plus margin has elapsed.
func TestTypingClearsWithoutExplicitClearEvent(t *testing.T) {
	clk := clock.NewMock()
	hub := realtime.NewHub(64)
	endpointA := hub.Endpoint("a")
	fabA := realtime.NewFabric(endpointA, realtime.WithBackoff(5*time.Millisecond, 20*time.Millisecond))
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	go func() { _ = fabA.Run(ctxA) }()
	defer fabA.Close()
	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	require.NoError(t, fabA.WaitConnected(wctx))

	fabB := startFabric(t, hub, "b")

	changes := make(chan []string, 16)
	busA := NewBus(fabA, WithClock(clk))
	busB := NewBus(fabB, WithClock(clk), OnChange(func(_ string, users []string) { changes <- users }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = busB.Watch(ctx, "c1", "bob") }()

	// initial sync
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("no sync")
	}

	require.NoError(t, busA.SetTyping(ctx, "c1", "alice"))
	require.Eventually(t, func() bool { return len(busB.Typing("c1")) == 1 }, 2*time.Second, time.Millisecond)

	// A loses connectivity so its expiry clear is never delivered.
	endpointA.Drop()
	require.Eventually(t, func() bool { return !fabA.Connected() }, time.Second, time.Millisecond)

	clk.Add(chat.TypingTTL)
	require.Eventually(t, func() bool { return !busA.IsTyping("c1", "alice") }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"alice"}, busB.Typing("c1"))

	clk.Add(chat.TypingMargin)
	assert.Empty(t, busB.Typing("c1"))
}

// A countdown that already fired must not clear a signal renewed before it
// got the lock.
func TestStaleExpiryKeepsRenewedSignal(t *testing.T) {
	clk := clock.NewMock()
	fab := &recordingFabric{}
	bus := NewBus(fab, WithClock(clk))
	ctx := context.Background()
	k := key{"c1", "alice"}

	require.NoError(t, bus.SetTyping(ctx, "c1", "alice"))
	bus.mu.Lock()
	stale := bus.own[k]
	bus.mu.Unlock()

	require.NoError(t, bus.SetTyping(ctx, "c1", "alice"))
	bus.expire(k, stale)

	assert.True(t, bus.IsTyping("c1", "alice"))
	for _, st := range fab.published() {
		assert.True(t, st.IsTyping)
	}
}
