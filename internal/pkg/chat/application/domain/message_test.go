package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	m, err := NewMessage(Message{ConversationID: "c1", SenderID: "alice", Content: "  hi  ", Status: StatusRead})
	require.NoError(t, err)
	assert.Equal(t, "hi", m.Content)
	assert.Equal(t, StatusSent, m.Status)
	assert.False(t, m.CreatedAt.IsZero())
	assert.Equal(t, time.UTC, m.CreatedAt.Location())
}

func TestNewMessageRequiresContentOrAttachment(t *testing.T) {
	_, err := NewMessage(Message{ConversationID: "c1", SenderID: "alice", Content: "   "})
	require.ErrorIs(t, err, ErrValidation)

	// an attachment without a url counts as none
	_, err = NewMessage(Message{ConversationID: "c1", SenderID: "alice", Attachment: &Attachment{Name: "a.png"}})
	require.ErrorIs(t, err, ErrValidation)

	m, err := NewMessage(Message{ConversationID: "c1", SenderID: "alice", Attachment: &Attachment{URL: "https://x/a.png"}})
	require.NoError(t, err)
	assert.Equal(t, "Sent an attachment", m.Excerpt(10))
}

func TestExcerptTruncatesRunes(t *testing.T) {
	m := Message{Content: "héllo wörld"}
	assert.Equal(t, "héllo…", m.Excerpt(5))
	assert.Equal(t, "héllo wörld", m.Excerpt(0))
}

func TestPostMessage(t *testing.T) {
	conv := Conversation{ID: "c1", ParticipantA: "alice", ParticipantB: "bob"}
	last := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := &Chat{Conversation: conv, LastMessageAt: &last}

	_, err := c.PostMessage(Message{ConversationID: "c1", SenderID: "mallory", Content: "x"}, last)
	require.ErrorIs(t, err, ErrNotParticipant)

	_, err = c.PostMessage(Message{ConversationID: "c2", SenderID: "alice", Content: "x"}, last)
	require.ErrorIs(t, err, ErrValidation)

	// a clock behind the ledger is clamped forward
	m, err := c.PostMessage(Message{ConversationID: "c1", SenderID: "alice", Content: "x"}, last.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, m.CreatedAt.Equal(last))
	assert.True(t, c.LastMessageAt.Equal(last))
}

func TestNewMessageNotification(t *testing.T) {
	m := Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hello"}
	now := time.Now()

	_, ok := NewMessageNotification(m, "alice", "Alice", now)
	assert.False(t, ok)

	n, ok := NewMessageNotification(m, "bob", "", now)
	require.True(t, ok)
	assert.Equal(t, "m1:bob", n.ID)
	assert.Equal(t, "alice", n.Title)
	assert.Equal(t, "hello", n.Body)
	assert.Equal(t, "c1", n.Data["conversation_id"])
}
