package usecase

import (
	"context"

	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
)

// ListConversationsUseCase returns the conversations a user participates in,
// most recently active first.
type ListConversationsUseCase struct {
	Repo repository.ChatRepository
}

func NewListConversationsUseCase(repo repository.ChatRepository) *ListConversationsUseCase {
	return &ListConversationsUseCase{Repo: repo}
}

func (uc *ListConversationsUseCase) Execute(ctx context.Context, userID string) ([]chat.Conversation, error) {
	if userID == "" {
		return nil, &chat.ValidationError{Field: "user_id", Reason: "is required"}
	}
	convs, err := uc.Repo.ListConversations(ctx, userID)
	if err != nil {
		return nil, persistence(err)
	}
	return convs, nil
}
