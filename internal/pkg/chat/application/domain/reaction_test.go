package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveReactionToggles(t *testing.T) {
	assert.Equal(t, ReactionInsert, ResolveReaction(nil, "👍"))
	assert.Equal(t, ReactionRemove, ResolveReaction(&Reaction{Emoji: "👍"}, "👍"))
	assert.Equal(t, ReactionReplace, ResolveReaction(&Reaction{Emoji: "👍"}, "❤️"))
}

func TestValidateEmoji(t *testing.T) {
	e, err := ValidateEmoji("  🎉 ")
	require.NoError(t, err)
	assert.Equal(t, "🎉", e)

	_, err = ValidateEmoji("   ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGroupReactions(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rs := []Reaction{
		{MessageID: "m1", UserID: "carol", Emoji: "❤️", CreatedAt: t0},
		{MessageID: "m1", UserID: "bob", Emoji: "👍", CreatedAt: t0.Add(time.Second)},
		{MessageID: "m1", UserID: "alice", Emoji: "👍", CreatedAt: t0.Add(2 * time.Second)},
		{MessageID: "m1", UserID: "dave", Emoji: "🎉", CreatedAt: t0.Add(3 * time.Second)},
		// duplicate pair is counted once
		{MessageID: "m1", UserID: "bob", Emoji: "👍", CreatedAt: t0.Add(4 * time.Second)},
	}

	groups := GroupReactions(rs)
	require.Len(t, groups, 3)

	assert.Equal(t, "👍", groups[0].Emoji)
	assert.Equal(t, 2, groups[0].Count)
	assert.Equal(t, []string{"alice", "bob"}, groups[0].Reactors)

	// equal counts fall back to first reaction time
	assert.Equal(t, "❤️", groups[1].Emoji)
	assert.Equal(t, "🎉", groups[2].Emoji)
}

func TestGroupReactionsEmpty(t *testing.T) {
	assert.Empty(t, GroupReactions(nil))
}
