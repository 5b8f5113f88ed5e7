package usecase

import (
	"context"

	"go.uber.org/zap"

	"chatcore/internal/infrastructure/metrics"
	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
	repository "chatcore/internal/pkg/chat/persistence/repository/port"
)

type AdvanceStatusInput struct {
	MessageID string
	Target    string
	ActorID   string
}

// AdvanceStatusResult reports the message after the call and whether it moved.
type AdvanceStatusResult struct {
	Message  chat.Message
	Advanced bool
}

// AdvanceStatusUseCase moves a message forward through sent -> delivered -> read.
type AdvanceStatusUseCase struct {
	Repo      repository.ChatRepository
	Publisher Publisher
	Log       *zap.Logger
	Metrics   *metrics.Metrics
}

func NewAdvanceStatusUseCase(repo repository.ChatRepository, pub Publisher) *AdvanceStatusUseCase {
	return &AdvanceStatusUseCase{Repo: repo, Publisher: pub, Log: zap.NewNop()}
}

// Execute rejects unknown status names. A request by the sender, or for a
// target that does not rank above the current status, is a silent no-op.
// The compare-and-set happens in the store so concurrent requests never
// move a message backwards.
func (uc *AdvanceStatusUseCase) Execute(ctx context.Context, in AdvanceStatusInput) (*AdvanceStatusResult, error) {
	target, err := chat.ParseStatus(in.Target)
	if err != nil {
		return nil, err
	}
	msg, err := uc.Repo.GetMessage(ctx, in.MessageID)
	if err != nil {
		return nil, persistence(err)
	}
	if in.ActorID == msg.SenderID || !chat.CanAdvance(msg.Status, target) {
		return &AdvanceStatusResult{Message: msg}, nil
	}

	conv, err := uc.Repo.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, persistence(err)
	}
	if !conv.HasParticipant(in.ActorID) {
		return nil, chat.ErrNotParticipant
	}

	updated, advanced, err := uc.Repo.AdvanceStatus(ctx, msg.ID, target)
	if err != nil {
		return nil, persistence(err)
	}
	if advanced {
		uc.Metrics.StatusAdvanced(string(updated.Status))
		fanOut(ctx, uc.Publisher, uc.Log, realtime.MessagesTopic(updated.ConversationID), realtime.KindUpdate, EntityStatus,
			chat.StatusChange{MessageID: updated.ID, ConversationID: updated.ConversationID, Status: updated.Status, ActorID: in.ActorID})
	}
	return &AdvanceStatusResult{Message: updated, Advanced: advanced}, nil
}
