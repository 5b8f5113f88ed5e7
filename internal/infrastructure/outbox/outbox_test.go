package outbox

import (
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueOrderAndRemove(t *testing.T) {
	ob, err := Open("", 10)
	require.NoError(t, err)
	defer ob.Close()

	for _, p := range []string{"a", "b", "c"} {
		_, err := ob.Enqueue([]byte(p))
		require.NoError(t, err)
	}
	pending, err := ob.Pending(0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "a", string(pending[0].Payload))
	assert.Equal(t, "c", string(pending[2].Payload))

	require.NoError(t, ob.Remove(pending[0].Seq))
	require.NoError(t, ob.Remove(pending[0].Seq))
	assert.Equal(t, 2, ob.Len())

	first, err := ob.Pending(1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "b", string(first[0].Payload))
}

func TestCapacity(t *testing.T) {
	ob, err := Open("", 2)
	require.NoError(t, err)
	defer ob.Close()

	_, err = ob.Enqueue([]byte("1"))
	require.NoError(t, err)
	_, err = ob.Enqueue([]byte("2"))
	require.NoError(t, err)
	_, err = ob.Enqueue([]byte("3"))
	assert.ErrorIs(t, err, ErrFull)
}

func TestSurvivesReopen(t *testing.T) {
	fs := vfs.NewMem()
	withFS := func(o *options) { o.fs = fs }

	ob, err := Open("box", 10, withFS)
	require.NoError(t, err)
	_, err = ob.Enqueue([]byte("x"))
	require.NoError(t, err)
	seq, err := ob.Enqueue([]byte("y"))
	require.NoError(t, err)
	require.NoError(t, ob.Close())

	ob, err = Open("box", 10, withFS)
	require.NoError(t, err)
	defer ob.Close()
	assert.Equal(t, 2, ob.Len())

	next, err := ob.Enqueue([]byte("z"))
	require.NoError(t, err)
	assert.Greater(t, next, seq)
}
