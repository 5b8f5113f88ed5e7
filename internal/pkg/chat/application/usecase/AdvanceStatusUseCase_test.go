package usecase

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chat "chatcore/internal/pkg/chat/application/domain"
	"chatcore/internal/pkg/chat/persistence/repository/memory"
)

func TestAdvanceStatusIsMonotonic(t *testing.T) {
	store := memory.NewStore(nil)
	conv := newConversation(t, store, "alice", "bob")
	appendUC := NewAppendMessageUseCase(store, nil)
	uc := NewAdvanceStatusUseCase(store, nil)
	statuses := []string{"sent", "delivered", "read"}
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 50; run++ {
		msg := appendText(t, appendUC, conv.ID, "alice", "m")
		prev := chat.StatusSent
		for step := 0; step < 20; step++ {
			target := statuses[rng.Intn(len(statuses))]
			res, err := uc.Execute(context.Background(), AdvanceStatusInput{MessageID: msg.ID, Target: target, ActorID: "bob"})
			require.NoError(t, err)

			cur := res.Message.Status
			assert.GreaterOrEqual(t, cur.Rank(), prev.Rank(), "status went backwards")
			assert.Equal(t, chat.CanAdvance(prev, chat.Status(target)), res.Advanced)
			prev = cur
		}
	}
}

func TestAdvanceStatusNoops(t *testing.T) {
	store := memory.NewStore(nil)
	pub := &recordingPublisher{}
	conv := newConversation(t, store, "alice", "bob")
	msg := appendText(t, NewAppendMessageUseCase(store, nil), conv.ID, "alice", "hi")
	uc := NewAdvanceStatusUseCase(store, pub)
	ctx := context.Background()

	res, err := uc.Execute(ctx, AdvanceStatusInput{MessageID: msg.ID, Target: "read", ActorID: "alice"})
	require.NoError(t, err)
	assert.False(t, res.Advanced, "sender cannot advance own message")

	res, err = uc.Execute(ctx, AdvanceStatusInput{MessageID: msg.ID, Target: "sent", ActorID: "bob"})
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	assert.Empty(t, pub.byEntity(EntityStatus))

	res, err = uc.Execute(ctx, AdvanceStatusInput{MessageID: msg.ID, Target: "read", ActorID: "bob"})
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	res, err = uc.Execute(ctx, AdvanceStatusInput{MessageID: msg.ID, Target: "delivered", ActorID: "bob"})
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	assert.Equal(t, chat.StatusRead, res.Message.Status)

	events := pub.byEntity(EntityStatus)
	require.Len(t, events, 1)
	var change chat.StatusChange
	require.NoError(t, events[0].Decode(&change))
	assert.Equal(t, chat.StatusRead, change.Status)
	assert.Equal(t, "bob", change.ActorID)
}

func TestAdvanceStatusErrors(t *testing.T) {
	store := memory.NewStore(nil)
	conv := newConversation(t, store, "alice", "bob")
	msg := appendText(t, NewAppendMessageUseCase(store, nil), conv.ID, "alice", "hi")
	uc := NewAdvanceStatusUseCase(store, nil)
	ctx := context.Background()

	_, err := uc.Execute(ctx, AdvanceStatusInput{MessageID: msg.ID, Target: "seen", ActorID: "bob"})
	assert.ErrorIs(t, err, chat.ErrValidation)

	_, err = uc.Execute(ctx, AdvanceStatusInput{MessageID: msg.ID, Target: "delivered", ActorID: "mallory"})
	assert.ErrorIs(t, err, chat.ErrNotParticipant)

	_, err = uc.Execute(ctx, AdvanceStatusInput{MessageID: "missing", Target: "delivered", ActorID: "bob"})
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestMarkConversationRead(t *testing.T) {
	store := memory.NewStore(nil)
	pub := &recordingPublisher{}
	conv := newConversation(t, store, "alice", "bob")
	appendUC := NewAppendMessageUseCase(store, nil)
	m1 := appendText(t, appendUC, conv.ID, "alice", "one")
	own := appendText(t, appendUC, conv.ID, "bob", "mine")
	m2 := appendText(t, appendUC, conv.ID, "alice", "two")
	m3 := appendText(t, appendUC, conv.ID, "alice", "three")

	uc := NewMarkConversationReadUseCase(store, pub)
	changed, err := uc.Execute(context.Background(), MarkConversationReadInput{ConversationID: conv.ID, ReaderID: "bob", UptoSeq: m2.Seq})
	require.NoError(t, err)
	require.Len(t, changed, 2)
	assert.Equal(t, m1.ID, changed[0].ID)
	assert.Equal(t, m2.ID, changed[1].ID)
	assert.Len(t, pub.byEntity(EntityStatus), 2)

	for id, want := range map[string]chat.Status{m1.ID: chat.StatusRead, own.ID: chat.StatusSent, m3.ID: chat.StatusSent} {
		got, err := store.GetMessage(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}

	again, err := uc.Execute(context.Background(), MarkConversationReadInput{ConversationID: conv.ID, ReaderID: "bob", UptoSeq: m2.Seq})
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = uc.Execute(context.Background(), MarkConversationReadInput{ConversationID: conv.ID, ReaderID: "bob", UptoSeq: 1, Target: chat.StatusSent})
	assert.ErrorIs(t, err, chat.ErrValidation)
}
