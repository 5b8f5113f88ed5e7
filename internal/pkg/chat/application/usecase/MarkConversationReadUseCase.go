package usecase

import (
	"context"

	"go.uber.org/zap"

	"chatcore/internal/infrastructure/metrics"
	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
)

// MarkConversationReadInput advances everything the reader received up to UptoSeq.
type MarkConversationReadInput struct {
	ConversationID string
	ReaderID       string
	UptoSeq        int64
	Target         chat.Status // delivered or read; defaults to read
}

// MarkConversationReadUseCase is the watermark form of AdvanceStatus.
type MarkConversationReadUseCase struct {
	Repo      repository.ChatRepository
	Publisher Publisher
	Log       *zap.Logger
	Metrics   *metrics.Metrics
}

func NewMarkConversationReadUseCase(repo repository.ChatRepository, pub Publisher) *MarkConversationReadUseCase {
	return &MarkConversationReadUseCase{Repo: repo, Publisher: pub, Log: zap.NewNop()}
}

// Execute returns the messages that advanced. One update event is fanned out per message.
func (uc *MarkConversationReadUseCase) Execute(ctx context.Context, in MarkConversationReadInput) ([]chat.Message, error) {
	target := in.Target
	if target == "" {
		target = chat.StatusRead
	}
	if target != chat.StatusDelivered && target != chat.StatusRead {
		return nil, &chat.ValidationError{Field: "status", Reason: "watermark target must be delivered or read"}
	}
	conv, err := uc.Repo.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, persistence(err)
	}
	if !conv.HasParticipant(in.ReaderID) {
		return nil, chat.ErrNotParticipant
	}
	if in.UptoSeq <= 0 {
		return nil, nil
	}

	changed, err := uc.Repo.AdvanceConversationStatus(ctx, conv.ID, in.ReaderID, in.UptoSeq, target)
	if err != nil {
		return nil, persistence(err)
	}
	for _, m := range changed {
		uc.Metrics.StatusAdvanced(string(m.Status))
		fanOut(ctx, uc.Publisher, uc.Log, realtime.MessagesTopic(m.ConversationID), realtime.KindUpdate, EntityStatus,
			chat.StatusChange{MessageID: m.ID, ConversationID: m.ConversationID, Status: m.Status, ActorID: in.ReaderID})
	}
	return changed, nil
}
