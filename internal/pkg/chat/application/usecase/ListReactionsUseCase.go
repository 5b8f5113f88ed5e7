package usecase

import (
	"context"

	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
)

// ListReactionsUseCase groups a message's reactions by emoji. Groups are
// recomputed from the full set on every call.
type ListReactionsUseCase struct {
	Reactions repository.ReactionRepository
}

func NewListReactionsUseCase(reactions repository.ReactionRepository) *ListReactionsUseCase {
	return &ListReactionsUseCase{Reactions: reactions}
}

func (uc *ListReactionsUseCase) Execute(ctx context.Context, messageID string) ([]chat.ReactionGroup, error) {
	if messageID == "" {
		return nil, &chat.ValidationError{Field: "message_id", Reason: "is required"}
	}
	rs, err := uc.Reactions.ListReactions(ctx, messageID)
	if err != nil {
		return nil, persistence(err)
	}
	return chat.GroupReactions(rs), nil
}
