package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/infrastructure/metrics"
	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
)

// AppendMessageInput carries a message draft.
type AppendMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Attachment     *chat.Attachment
	DedupeKey      string
}

// AppendMessageUseCase writes a message to the ledger and fans out the insert.
type AppendMessageUseCase struct {
	Repo      repository.ChatRepository
	Publisher Publisher
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func NewAppendMessageUseCase(repo repository.ChatRepository, pub Publisher) *AppendMessageUseCase {
	return &AppendMessageUseCase{Repo: repo, Publisher: pub, Log: zap.NewNop(), Now: time.Now}
}

// Execute validates, persists with status sent, and publishes an insert on
// the conversation's messages topic. A replay with an already stored
// dedupe key returns the stored message without publishing again.
func (uc *AppendMessageUseCase) Execute(ctx context.Context, in AppendMessageInput) (*chat.Message, error) {
	draft, err := chat.NewMessage(chat.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Attachment:     in.Attachment,
		DedupeKey:      in.DedupeKey,
	})
	if err != nil {
		return nil, err
	}

	conv, err := uc.Repo.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, persistence(err)
	}
	agg := chat.Chat{Conversation: conv}
	msg, err := agg.PostMessage(*draft, uc.Now())
	if err != nil {
		return nil, err
	}

	stored, created, err := uc.Repo.InsertMessage(ctx, msg)
	if err != nil {
		return nil, persistence(err)
	}
	if created {
		uc.Metrics.Appended()
		fanOut(ctx, uc.Publisher, uc.Log, realtime.MessagesTopic(stored.ConversationID), realtime.KindInsert, EntityMessage, stored)
	}
	return &stored, nil
}
