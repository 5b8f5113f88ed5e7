package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chat "chatcore/internal/pkg/chat/application/domain"
	"chatcore/internal/pkg/chat/persistence/repository/memory"
)

func reactionFixture(t *testing.T) (*memory.Store, *recordingPublisher, chat.Message, *SetReactionUseCase) {
	t.Helper()
	store := memory.NewStore(nil)
	pub := &recordingPublisher{}
	conv := newConversation(t, store, "alice", "bob")
	msg := appendText(t, NewAppendMessageUseCase(store, nil), conv.ID, "bob", "hello")
	return store, pub, msg, NewSetReactionUseCase(store, store, pub)
}

func TestSetReactionSameEmojiTogglesOff(t *testing.T) {
	store, pub, msg, uc := reactionFixture(t)
	ctx := context.Background()

	r, err := uc.Execute(ctx, SetReactionInput{MessageID: msg.ID, UserID: "alice", Emoji: "❤️"})
	require.NoError(t, err)
	require.NotNil(t, r)

	r, err = uc.Execute(ctx, SetReactionInput{MessageID: msg.ID, UserID: "alice", Emoji: "❤️"})
	require.NoError(t, err)
	assert.Nil(t, r)

	_, err = store.GetReaction(ctx, msg.ID, "alice")
	assert.ErrorIs(t, err, chat.ErrNotFound)

	events := pub.byEntity(EntityReaction)
	require.Len(t, events, 2)
	var last chat.ReactionChange
	require.NoError(t, events[1].Decode(&last))
	assert.Empty(t, last.Emoji)
}

func TestSetReactionDifferentEmojiReplaces(t *testing.T) {
	store, _, msg, uc := reactionFixture(t)
	ctx := context.Background()

	_, err := uc.Execute(ctx, SetReactionInput{MessageID: msg.ID, UserID: "alice", Emoji: "👍"})
	require.NoError(t, err)
	_, err = uc.Execute(ctx, SetReactionInput{MessageID: msg.ID, UserID: "alice", Emoji: "🔥"})
	require.NoError(t, err)

	rs, err := store.ListReactions(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "🔥", rs[0].Emoji)
}

func TestListReactionsGroups(t *testing.T) {
	store, _, msg, uc := reactionFixture(t)
	ctx := context.Background()
	_, err := uc.Execute(ctx, SetReactionInput{MessageID: msg.ID, UserID: "alice", Emoji: "🔥"})
	require.NoError(t, err)
	_, err = uc.Execute(ctx, SetReactionInput{MessageID: msg.ID, UserID: "bob", Emoji: "🔥"})
	require.NoError(t, err)

	groups, err := NewListReactionsUseCase(store).Execute(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Count)
	assert.ElementsMatch(t, []string{"alice", "bob"}, groups[0].Reactors)
}

func TestSetReactionRejectsOutsiders(t *testing.T) {
	_, _, msg, uc := reactionFixture(t)
	_, err := uc.Execute(context.Background(), SetReactionInput{MessageID: msg.ID, UserID: "mallory", Emoji: "👍"})
	assert.ErrorIs(t, err, chat.ErrNotParticipant)
	_, err = uc.Execute(context.Background(), SetReactionInput{MessageID: msg.ID, UserID: "alice", Emoji: " "})
	assert.ErrorIs(t, err, chat.ErrValidation)
}
