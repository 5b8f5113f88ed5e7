package usecase

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/infrastructure/metrics"
	chat "chatcore/internal/pkg/chat/application/domain"
)

// FlushOutboxResult summarizes one relay pass.
type FlushOutboxResult struct {
	Sent      []chat.Message
	Dropped   int
	Remaining int
}

// FlushOutboxUseCase replays queued sends in enqueue order.
type FlushOutboxUseCase struct {
	Ledger    Appender
	Outbox    Outbox
	BatchSize int
	Log       *zap.Logger
	Metrics   *metrics.Metrics
}

func NewFlushOutboxUseCase(ledger Appender, ob Outbox) *FlushOutboxUseCase {
	return &FlushOutboxUseCase{Ledger: ledger, Outbox: ob, BatchSize: 100, Log: zap.NewNop()}
}

// Execute stops at the first transient failure so later entries never
// overtake earlier ones. Entries the ledger rejects permanently are dropped.
func (uc *FlushOutboxUseCase) Execute(ctx context.Context) (*FlushOutboxResult, error) {
	entries, err := uc.Outbox.Pending(uc.BatchSize)
	if err != nil {
		return nil, persistence(err)
	}
	res := &FlushOutboxResult{}
	defer func() {
		res.Remaining = uc.Outbox.Len()
		uc.Metrics.SetOutboxDepth(res.Remaining)
	}()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var p pendingMessage
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			uc.Log.Warn("dropping undecodable outbox entry", zap.Uint64("seq", e.Seq), zap.Error(err))
			if err := uc.Outbox.Remove(e.Seq); err != nil {
				return res, persistence(err)
			}
			res.Dropped++
			continue
		}

		msg, err := uc.Ledger.Execute(ctx, AppendMessageInput{
			ConversationID: p.ConversationID,
			SenderID:       p.SenderID,
			Content:        p.Content,
			Attachment:     p.Attachment,
			DedupeKey:      p.DedupeKey,
		})
		if err != nil {
			if chat.IsTransient(err) {
				uc.Log.Debug("outbox flush paused", zap.Uint64("seq", e.Seq), zap.Error(err))
				return res, nil
			}
			uc.Log.Warn("dropping rejected outbox entry", zap.Uint64("seq", e.Seq), zap.String("dedupe_key", p.DedupeKey), zap.Error(err))
			res.Dropped++
		} else {
			res.Sent = append(res.Sent, *msg)
		}
		if err := uc.Outbox.Remove(e.Seq); err != nil {
			return res, persistence(err)
		}
	}
	return res, nil
}

// Run flushes every interval until ctx is done.
func (uc *FlushOutboxUseCase) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if res, err := uc.Execute(ctx); err != nil {
				uc.Log.Warn("outbox flush failed", zap.Error(err))
			} else if len(res.Sent) > 0 {
				uc.Log.Info("outbox flushed", zap.Int("sent", len(res.Sent)), zap.Int("remaining", res.Remaining))
			}
		}
	}
}
