package usecase

import (
	"context"
	"errors"
	"time"

	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
)

// CreateConversationInput names the two participants; order does not matter.
type CreateConversationInput struct {
	UserA string
	UserB string
}

// CreateConversationUseCase returns the single conversation for a pair,
// creating it on first use.
type CreateConversationUseCase struct {
	Repo repository.ChatRepository
	Now  func() time.Time
}

func NewCreateConversationUseCase(repo repository.ChatRepository) *CreateConversationUseCase {
	return &CreateConversationUseCase{Repo: repo, Now: time.Now}
}

// Execute is idempotent. Two concurrent calls for the same pair race on the
// store's unique pair index; the loser re-reads and returns the winner's row.
func (uc *CreateConversationUseCase) Execute(ctx context.Context, in CreateConversationInput) (*chat.Conversation, error) {
	conv, err := chat.NewConversation(in.UserA, in.UserB, uc.Now())
	if err != nil {
		return nil, err
	}

	existing, err := uc.Repo.FindConversationByPair(ctx, conv.ParticipantA, conv.ParticipantB)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, chat.ErrNotFound) {
		return nil, persistence(err)
	}

	created, err := uc.Repo.InsertConversation(ctx, conv)
	if errors.Is(err, chat.ErrConflict) {
		existing, err = uc.Repo.FindConversationByPair(ctx, conv.ParticipantA, conv.ParticipantB)
		if err != nil {
			return nil, persistence(err)
		}
		return &existing, nil
	}
	if err != nil {
		return nil, persistence(err)
	}
	return &created, nil
}
