package view

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
	"chatcore/internal/pkg/chat/application/usecase"
	"chatcore/internal/pkg/chat/persistence/repository/memory"
)

const wait = 2 * time.Second

func startFabric(t *testing.T, endpoint *realtime.HubEndpoint) *realtime.Fabric {
	t.Helper()
	f := realtime.NewFabric(endpoint, realtime.WithBackoff(5*time.Millisecond, 20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = f.Close()
	})
	wctx, wcancel := context.WithTimeout(context.Background(), wait)
	defer wcancel()
	require.NoError(t, f.WaitConnected(wctx))
	return f
}

func newLedger(store *memory.Store, pub usecase.Publisher) Ledger {
	return Ledger{
		List:      usecase.NewListMessagesUseCase(store),
		Advance:   usecase.NewAdvanceStatusUseCase(store, pub),
		MarkRead:  usecase.NewMarkConversationReadUseCase(store, pub),
		Send:      usecase.NewSendMessageUseCase(usecase.NewAppendMessageUseCase(store, pub), nil),
		Reactions: usecase.NewListReactionsUseCase(store),
	}
}

func startView(t *testing.T, v *View) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = v.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return v.Snapshot().Synced }, wait, time.Millisecond)
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

// A messages B for the first time; B's client marks it delivered on
// receipt and read once the thread is visible.
func TestFirstMessageDeliveredThenRead(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	hub := realtime.NewHub(64)
	aliceFab := startFabric(t, hub.Endpoint("alice-phone"))
	bobFab := startFabric(t, hub.Endpoint("bob-phone"))

	conv, err := usecase.NewCreateConversationUseCase(store).Execute(ctx, usecase.CreateConversationInput{UserA: "alice", UserB: "bob"})
	require.NoError(t, err)
	convs, err := store.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	msgs, err := store.ListMessages(ctx, conv.ID, chat.Cursor{}, 10)
	require.NoError(t, err)
	require.Empty(t, msgs)

	alice := New(conv.ID, "alice", aliceFab, newLedger(store, aliceFab))
	bob := New(conv.ID, "bob", bobFab, newLedger(store, bobFab))
	startView(t, alice)
	startView(t, bob)

	res, err := alice.Send(ctx, "hi", nil)
	require.NoError(t, err)
	require.False(t, res.Pending)
	require.NotNil(t, res.Message)
	assert.Equal(t, chat.StatusSent, res.Message.Status)
	assert.Empty(t, alice.Snapshot().Pending)

	id := res.Message.ID
	require.Eventually(t, func() bool { return len(bob.Snapshot().Messages) == 1 }, wait, time.Millisecond)
	require.Eventually(t, func() bool {
		m, err := store.GetMessage(ctx, id)
		return err == nil && m.Status == chat.StatusDelivered
	}, wait, time.Millisecond)

	require.NoError(t, bob.SetForeground(ctx, true))
	require.Eventually(t, func() bool {
		m, err := store.GetMessage(ctx, id)
		return err == nil && m.Status == chat.StatusRead
	}, wait, time.Millisecond)

	require.Eventually(t, func() bool {
		msgs := alice.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Status == chat.StatusRead
	}, wait, time.Millisecond)
	assert.Equal(t, chat.StatusRead, bob.Snapshot().Messages[0].Status)
}

// B drops off while A sends three messages. The gap is exactly what a list
// from B's cursor returns, and B's view ends up identical to the ledger.
func TestCatchUpAfterDisconnect(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	hub := realtime.NewHub(64)
	aliceFab := startFabric(t, hub.Endpoint("alice-phone"))
	bobEndpoint := hub.Endpoint("bob-phone")
	bobFab := startFabric(t, bobEndpoint)

	conv, err := usecase.NewCreateConversationUseCase(store).Execute(ctx, usecase.CreateConversationInput{UserA: "alice", UserB: "bob"})
	require.NoError(t, err)

	send := usecase.NewAppendMessageUseCase(store, aliceFab)
	bob := New(conv.ID, "bob", bobFab, newLedger(store, bobFab), WithPageSize(2))
	startView(t, bob)

	first, err := send.Execute(ctx, usecase.AppendMessageInput{ConversationID: conv.ID, SenderID: "alice", Content: "before"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return bob.Snapshot().Cursor.Seq == first.Seq }, wait, time.Millisecond)
	cursor := bob.Snapshot().Cursor

	bobEndpoint.Drop()
	require.Eventually(t, func() bool { return !bobFab.Connected() }, wait, time.Millisecond)

	var missed []string
	for _, text := range []string{"one", "two", "three"} {
		m, err := send.Execute(ctx, usecase.AppendMessageInput{ConversationID: conv.ID, SenderID: "alice", Content: text})
		require.NoError(t, err)
		missed = append(missed, m.ID)
	}

	gap, err := usecase.NewListMessagesUseCase(store).Execute(ctx, usecase.ListMessagesInput{ConversationID: conv.ID, ReaderID: "bob", After: cursor})
	require.NoError(t, err)
	assert.Equal(t, missed, ids(gap.Messages))
	assert.Len(t, bob.Snapshot().Messages, 1)

	bobEndpoint.Restore()
	require.Eventually(t, func() bool { return len(bob.Snapshot().Messages) == 4 }, wait, time.Millisecond)

	all, err := usecase.NewListMessagesUseCase(store).Execute(ctx, usecase.ListMessagesInput{ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Equal(t, ids(all.Messages), ids(bob.Snapshot().Messages))
	assert.Equal(t, all.Next.Seq, bob.Snapshot().Cursor.Seq)
}

// A peer message lands while B is offline and B then sends one of its own.
// B's send must not hide the missed message from the next catch-up.
func TestOwnSendDoesNotSkipMissedMessages(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	hub := realtime.NewHub(64)
	aliceFab := startFabric(t, hub.Endpoint("alice-phone"))
	bobEndpoint := hub.Endpoint("bob-phone")
	bobFab := startFabric(t, bobEndpoint)

	conv, err := usecase.NewCreateConversationUseCase(store).Execute(ctx, usecase.CreateConversationInput{UserA: "alice", UserB: "bob"})
	require.NoError(t, err)
	bob := New(conv.ID, "bob", bobFab, newLedger(store, bobFab))
	startView(t, bob)

	bobEndpoint.Drop()
	require.Eventually(t, func() bool { return !bobFab.Connected() }, wait, time.Millisecond)

	m1, err := usecase.NewAppendMessageUseCase(store, aliceFab).Execute(ctx, usecase.AppendMessageInput{ConversationID: conv.ID, SenderID: "alice", Content: "m1"})
	require.NoError(t, err)
	res, err := bob.Send(ctx, "m2", nil)
	require.NoError(t, err)
	require.NotNil(t, res.Message)
	assert.Equal(t, []string{res.Message.ID}, ids(bob.Snapshot().Messages))

	bobEndpoint.Restore()
	require.Eventually(t, func() bool { return len(bob.Snapshot().Messages) == 2 }, wait, time.Millisecond)
	assert.Equal(t, []string{m1.ID, res.Message.ID}, ids(bob.Snapshot().Messages))
}

// A's message is read and reacted to while A is offline. The resync brings
// both the status and the reaction into A's view.
func TestResyncReconcilesStatusAndReactions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	hub := realtime.NewHub(64)
	aliceEndpoint := hub.Endpoint("alice-phone")
	aliceFab := startFabric(t, aliceEndpoint)
	bobFab := startFabric(t, hub.Endpoint("bob-phone"))

	conv, err := usecase.NewCreateConversationUseCase(store).Execute(ctx, usecase.CreateConversationInput{UserA: "alice", UserB: "bob"})
	require.NoError(t, err)
	alice := New(conv.ID, "alice", aliceFab, newLedger(store, aliceFab))
	startView(t, alice)

	res, err := alice.Send(ctx, "hi", nil)
	require.NoError(t, err)
	id := res.Message.ID
	require.Len(t, alice.Snapshot().Messages, 1)

	aliceEndpoint.Drop()
	require.Eventually(t, func() bool { return !aliceFab.Connected() }, wait, time.Millisecond)

	advance := usecase.NewAdvanceStatusUseCase(store, bobFab)
	for _, target := range []chat.Status{chat.StatusDelivered, chat.StatusRead} {
		_, err := advance.Execute(ctx, usecase.AdvanceStatusInput{MessageID: id, Target: string(target), ActorID: "bob"})
		require.NoError(t, err)
	}
	_, err = usecase.NewSetReactionUseCase(store, store, bobFab).Execute(ctx, usecase.SetReactionInput{MessageID: id, UserID: "bob", Emoji: "🔥"})
	require.NoError(t, err)

	snap := alice.Snapshot()
	assert.Equal(t, chat.StatusSent, snap.Messages[0].Status)
	assert.Empty(t, snap.Reactions(id))

	aliceEndpoint.Restore()
	require.Eventually(t, func() bool {
		snap := alice.Snapshot()
		groups := snap.Reactions(id)
		return snap.Messages[0].Status == chat.StatusRead && len(groups) == 1 && groups[0].Emoji == "🔥"
	}, wait, time.Millisecond)
	assert.Equal(t, []string{"bob"}, alice.Snapshot().Reactions(id)[0].Reactors)
}

func TestReactionsFollowEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	hub := realtime.NewHub(64)
	aliceFab := startFabric(t, hub.Endpoint("alice-phone"))
	bobFab := startFabric(t, hub.Endpoint("bob-phone"))

	conv, err := usecase.NewCreateConversationUseCase(store).Execute(ctx, usecase.CreateConversationInput{UserA: "alice", UserB: "bob"})
	require.NoError(t, err)
	bob := New(conv.ID, "bob", bobFab, newLedger(store, bobFab))
	startView(t, bob)

	m, err := usecase.NewAppendMessageUseCase(store, aliceFab).Execute(ctx, usecase.AppendMessageInput{ConversationID: conv.ID, SenderID: "alice", Content: "look"})
	require.NoError(t, err)

	react := usecase.NewSetReactionUseCase(store, store, aliceFab)
	_, err = react.Execute(ctx, usecase.SetReactionInput{MessageID: m.ID, UserID: "alice", Emoji: "👍"})
	require.NoError(t, err)
	_, err = react.Execute(ctx, usecase.SetReactionInput{MessageID: m.ID, UserID: "alice", Emoji: "🔥"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		groups := bob.Snapshot().Reactions(m.ID)
		return len(groups) == 1 && groups[0].Emoji == "🔥" && groups[0].Count == 1
	}, wait, time.Millisecond)

	_, err = react.Execute(ctx, usecase.SetReactionInput{MessageID: m.ID, UserID: "alice", Emoji: "🔥"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(bob.Snapshot().Reactions(m.ID)) == 0 }, wait, time.Millisecond)
}

func TestCallsAfterStopFail(t *testing.T) {
	hub := realtime.NewHub(8)
	v := New("c1", "bob", realtime.NewFabric(hub.Endpoint("x")), Ledger{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = v.Run(ctx)

	assert.ErrorIs(t, v.SetForeground(context.Background(), true), ErrStopped)
	_, err := v.Send(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrStopped)
}
