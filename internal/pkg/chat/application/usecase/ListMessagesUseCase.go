package usecase

import (
	"context"

	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ListMessagesInput pages through a conversation ascending from After.
// ReaderID is optional; when set it must be a participant.
type ListMessagesInput struct {
	ConversationID string
	ReaderID       string
	After          chat.Cursor
	Limit          int
}

// ListMessagesPage is one page of the ledger. Next resumes after the last item.
type ListMessagesPage struct {
	Messages []chat.Message
	Next     chat.Cursor
}

// ListMessagesUseCase serves catch-up reads in server order.
type ListMessagesUseCase struct {
	Repo repository.ChatRepository
}

func NewListMessagesUseCase(repo repository.ChatRepository) *ListMessagesUseCase {
	return &ListMessagesUseCase{Repo: repo}
}

func (uc *ListMessagesUseCase) Execute(ctx context.Context, in ListMessagesInput) (*ListMessagesPage, error) {
	if in.ConversationID == "" {
		return nil, &chat.ValidationError{Field: "conversation_id", Reason: "is required"}
	}
	if in.ReaderID != "" {
		conv, err := uc.Repo.GetConversation(ctx, in.ConversationID)
		if err != nil {
			return nil, persistence(err)
		}
		if !conv.HasParticipant(in.ReaderID) {
			return nil, chat.ErrNotParticipant
		}
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	msgs, err := uc.Repo.ListMessages(ctx, in.ConversationID, in.After, limit)
	if err != nil {
		return nil, persistence(err)
	}
	page := &ListMessagesPage{Messages: msgs, Next: in.After}
	if len(msgs) > 0 {
		page.Next = msgs[len(msgs)-1].Cursor()
	}
	return page, nil
}
