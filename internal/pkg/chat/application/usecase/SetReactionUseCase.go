package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/infrastructure/metrics"
	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
)

type SetReactionInput struct {
	MessageID string
	UserID    string
	Emoji     string
}

// SetReactionUseCase applies toggle semantics for one (message, user) pair.
type SetReactionUseCase struct {
	Chats     repository.ChatRepository
	Reactions repository.ReactionRepository
	Publisher Publisher
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func NewSetReactionUseCase(chats repository.ChatRepository, reactions repository.ReactionRepository, pub Publisher) *SetReactionUseCase {
	return &SetReactionUseCase{Chats: chats, Reactions: reactions, Publisher: pub, Log: zap.NewNop(), Now: time.Now}
}

// Execute returns the net state for the pair: nil when the reaction was
// toggled off. Exactly one reaction-changed event is fanned out.
func (uc *SetReactionUseCase) Execute(ctx context.Context, in SetReactionInput) (*chat.Reaction, error) {
	emoji, err := chat.ValidateEmoji(in.Emoji)
	if err != nil {
		return nil, err
	}
	msg, err := uc.Chats.GetMessage(ctx, in.MessageID)
	if err != nil {
		return nil, persistence(err)
	}
	conv, err := uc.Chats.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, persistence(err)
	}
	if !conv.HasParticipant(in.UserID) {
		return nil, chat.ErrNotParticipant
	}

	var existing *chat.Reaction
	cur, err := uc.Reactions.GetReaction(ctx, msg.ID, in.UserID)
	switch {
	case err == nil:
		existing = &cur
	case !errors.Is(err, chat.ErrNotFound):
		return nil, persistence(err)
	}

	var result *chat.Reaction
	op := chat.ResolveReaction(existing, emoji)
	switch op {
	case chat.ReactionRemove:
		if _, err := uc.Reactions.DeleteReaction(ctx, msg.ID, in.UserID, emoji); err != nil {
			return nil, persistence(err)
		}
	default:
		r := chat.Reaction{MessageID: msg.ID, UserID: in.UserID, Emoji: emoji, CreatedAt: uc.Now().UTC()}
		if err := uc.Reactions.PutReaction(ctx, r); err != nil {
			return nil, persistence(err)
		}
		result = &r
	}

	uc.Metrics.Reaction(opName(op))
	change := chat.ReactionChange{MessageID: msg.ID, ConversationID: msg.ConversationID, UserID: in.UserID}
	if result != nil {
		change.Emoji = result.Emoji
	}
	fanOut(ctx, uc.Publisher, uc.Log, realtime.MessagesTopic(msg.ConversationID), realtime.KindUpdate, EntityReaction, change)
	return result, nil
}

func opName(op chat.ReactionOp) string {
	switch op {
	case chat.ReactionInsert:
		return "insert"
	case chat.ReactionReplace:
		return "replace"
	default:
		return "remove"
	}
}
