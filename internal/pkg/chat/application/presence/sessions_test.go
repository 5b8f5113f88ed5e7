package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheAdapter "chatcore/internal/infrastructure/cache/adapter"
	"chatcore/internal/infrastructure/realtime"
	"chatcore/internal/pkg/chat/persistence/repository/memory"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func online(t *testing.T, tr *Tracker, userID string) bool {
	t.Helper()
	p, err := tr.Get(context.Background(), userID)
	require.NoError(t, err)
	return p.IsOnline
}

func TestSessionsOfflineOnlyAfterLastInstance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	fab, _ := startFabric(t, realtime.NewHub(64), "api")
	tracker := NewTracker(store, fab)
	set := cacheAdapter.NewMemorySessionSet()
	clk := &manualClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}

	one := NewSessions(set, tracker, WithSessionClock(clk.now))
	two := NewSessions(set, tracker, WithSessionClock(clk.now))

	require.NoError(t, one.Open(ctx, "alice", "c1"))
	require.NoError(t, two.Open(ctx, "alice", "c2"))
	require.NoError(t, one.Close(ctx, "alice", "c1"))
	assert.True(t, online(t, tracker, "alice"), "a socket on the second instance is still open")

	require.NoError(t, two.Close(ctx, "alice", "c2"))
	assert.False(t, online(t, tracker, "alice"))
}

func TestSessionsOfDeadInstanceLapse(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	fab, _ := startFabric(t, realtime.NewHub(64), "api")
	tracker := NewTracker(store, fab)
	set := cacheAdapter.NewMemorySessionSet()
	clk := &manualClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	ttl := 30 * time.Second

	dead := NewSessions(set, tracker, WithSessionClock(clk.now), WithSessionTTL(ttl))
	live := NewSessions(set, tracker, WithSessionClock(clk.now), WithSessionTTL(ttl))

	require.NoError(t, dead.Open(ctx, "alice", "c1"))
	require.NoError(t, live.Open(ctx, "bob", "c2"))

	// only the live instance keeps sweeping
	for i := 0; i < 3; i++ {
		clk.t = clk.t.Add(ttl / 2)
		require.NoError(t, live.Sweep(ctx))
	}

	assert.False(t, online(t, tracker, "alice"))
	assert.True(t, online(t, tracker, "bob"))
	n, err := set.Count(ctx, "bob", clk.now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
