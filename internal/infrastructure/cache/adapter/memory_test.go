package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/infrastructure/cache/port"
)

func TestMemoryCacheExpiry(t *testing.T) {
	clk := clock.NewMock()
	c := NewMemoryCache(clk)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "typing:c1:a", "1", 3*time.Second))
	require.NoError(t, c.Set(ctx, "typing:c1:b", "1", 0))
	require.NoError(t, c.Set(ctx, "typing:c2:a", "1", 3*time.Second))

	got, err := c.Scan(ctx, "typing:c1:")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	clk.Add(3 * time.Second)

	_, err = c.Get(ctx, "typing:c1:a")
	assert.ErrorIs(t, err, port.ErrMiss)
	got, err = c.Scan(ctx, "typing:c1:")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"typing:c1:b": "1"}, got)

	n, err := c.Del(ctx, "typing:c1:b", "missing")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMemorySessionSetReapsOnce(t *testing.T) {
	ctx := context.Background()
	set := NewMemorySessionSet()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	n, err := set.Add(ctx, port.Session{UserID: "alice", ConnID: "c1"}, now, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = set.Add(ctx, port.Session{UserID: "alice", ConnID: "c2"}, now, 2*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	later := now.Add(90 * time.Second)
	n, err = set.Count(ctx, "alice", later)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	reaped, err := set.Reap(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, []port.Session{{UserID: "alice", ConnID: "c1"}}, reaped)
	reaped, err = set.Reap(ctx, later)
	require.NoError(t, err)
	assert.Empty(t, reaped)

	n, err = set.Remove(ctx, port.Session{UserID: "alice", ConnID: "c2"}, later)
	require.NoError(t, err)
	assert.Zero(t, n)
}
