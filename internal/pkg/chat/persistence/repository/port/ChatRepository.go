package repository

import (
	"context"

	chat "chatcore/internal/pkg/chat/application/domain"
)

// ChatRepository defines persistence operations for conversations and the message ledger.
//
// Implementations enforce the store-level invariants: one conversation per
// unordered pair, one message per (conversation, dedupe key), and monotonic
// status transitions. Infrastructure failures worth retrying are wrapped with
// chat.ErrTransient.
type ChatRepository interface {
	// FindConversationByPair returns chat.ErrNotFound when no conversation exists.
	FindConversationByPair(ctx context.Context, userA, userB string) (chat.Conversation, error)
	// InsertConversation returns chat.ErrConflict when the pair already has a conversation.
	InsertConversation(ctx context.Context, c chat.Conversation) (chat.Conversation, error)
	GetConversation(ctx context.Context, id string) (chat.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error)

	// InsertMessage appends m, assigning ID, Seq and CreatedAt, and bumps the
	// conversation's last activity. If the dedupe key was already stored the
	// existing row is returned with created=false.
	InsertMessage(ctx context.Context, m chat.Message) (msg chat.Message, created bool, err error)
	GetMessage(ctx context.Context, id string) (chat.Message, error)
	// ListMessages returns messages strictly after the cursor, ascending.
	ListMessages(ctx context.Context, conversationID string, after chat.Cursor, limit int) ([]chat.Message, error)
	// AdvanceStatus moves the message to target only if target ranks higher.
	AdvanceStatus(ctx context.Context, messageID string, target chat.Status) (msg chat.Message, advanced bool, err error)
	// AdvanceConversationStatus advances every message not sent by readerID with
	// Seq <= uptoSeq and returns the ones that changed.
	AdvanceConversationStatus(ctx context.Context, conversationID, readerID string, uptoSeq int64, target chat.Status) ([]chat.Message, error)
}

// ReactionRepository stores at most one reaction per (message, user).
type ReactionRepository interface {
	GetReaction(ctx context.Context, messageID, userID string) (chat.Reaction, error)
	// PutReaction inserts or replaces the reaction for the pair.
	PutReaction(ctx context.Context, r chat.Reaction) error
	// DeleteReaction removes the pair's reaction only if it still carries emoji.
	DeleteReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageID string) ([]chat.Reaction, error)
}

// PresenceRepository stores per-user presence; writes never move LastSeenAt backwards.
type PresenceRepository interface {
	SetPresence(ctx context.Context, p chat.Presence) error
	GetPresence(ctx context.Context, userID string) (chat.Presence, error)
	ListOnline(ctx context.Context) ([]chat.Presence, error)
}
