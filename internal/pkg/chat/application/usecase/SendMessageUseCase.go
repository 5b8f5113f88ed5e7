package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatcore/internal/infrastructure/metrics"
	"chatcore/internal/infrastructure/outbox"
	chat "chatcore/internal/pkg/chat/application/domain"
)

// Appender is the ledger write SendMessage retries. *AppendMessageUseCase satisfies it.
type Appender interface {
	Execute(ctx context.Context, in AppendMessageInput) (*chat.Message, error)
}

// Outbox is the local durable queue of sends awaiting the ledger.
type Outbox interface {
	Enqueue(payload []byte) (uint64, error)
	Pending(limit int) ([]outbox.Entry, error)
	Remove(seq uint64) error
	Len() int
}

// SendMessageInput is a user's send intent. DedupeKey is generated when empty
// and makes retries and outbox replays idempotent.
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Attachment     *chat.Attachment
	DedupeKey      string
}

// SendMessageResult is either the acknowledged message or a pending marker.
type SendMessageResult struct {
	Message   *chat.Message
	Pending   bool
	DedupeKey string
}

// pendingMessage is the outbox record.
type pendingMessage struct {
	ConversationID string           `json:"conversation_id"`
	SenderID       string           `json:"sender_id"`
	Content        string           `json:"content"`
	Attachment     *chat.Attachment `json:"attachment,omitempty"`
	DedupeKey      string           `json:"dedupe_key"`
	QueuedAt       time.Time        `json:"queued_at"`
}

// SendMessageUseCase appends with bounded exponential retry and falls back
// to the outbox when transient failures exhaust the attempts.
type SendMessageUseCase struct {
	Ledger         Appender
	Outbox         Outbox
	MaxAttempts    int
	InitialBackoff time.Duration
	Log            *zap.Logger
	Metrics        *metrics.Metrics
}

func NewSendMessageUseCase(ledger Appender, ob Outbox) *SendMessageUseCase {
	return &SendMessageUseCase{
		Ledger:         ledger,
		Outbox:         ob,
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		Log:            zap.NewNop(),
	}
}

func (uc *SendMessageUseCase) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = uc.InitialBackoff
	b.MaxElapsedTime = 0
	attempts := uc.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Execute never reports a transient failure: after retries the message is
// queued and the result is Pending. A send whose conversation still has
// queued messages is queued behind them without touching the ledger.
// Validation errors and ErrOutboxFull are the only user-visible failures.
func (uc *SendMessageUseCase) Execute(ctx context.Context, in SendMessageInput) (*SendMessageResult, error) {
	if _, err := chat.NewMessage(chat.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Attachment:     in.Attachment,
	}); err != nil {
		return nil, err
	}
	if in.DedupeKey == "" {
		in.DedupeKey = uuid.NewString()
	}
	req := AppendMessageInput{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Attachment:     in.Attachment,
		DedupeKey:      in.DedupeKey,
	}

	queued, err := uc.queuedFor(in.ConversationID)
	if err != nil {
		return nil, err
	}
	if queued {
		if err := uc.enqueue(in); err != nil {
			return nil, err
		}
		uc.Log.Debug("message queued behind pending sends", zap.String("conversation_id", in.ConversationID), zap.String("dedupe_key", in.DedupeKey))
		return &SendMessageResult{Pending: true, DedupeKey: in.DedupeKey}, nil
	}

	var msg *chat.Message
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		m, err := uc.Ledger.Execute(ctx, req)
		if err == nil {
			msg = m
			return nil
		}
		if chat.IsTransient(err) {
			uc.Log.Debug("append failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}, uc.newBackOff(ctx))

	if err == nil {
		return &SendMessageResult{Message: msg, DedupeKey: in.DedupeKey}, nil
	}
	if !chat.IsTransient(err) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	if err := uc.enqueue(in); err != nil {
		return nil, err
	}
	uc.Log.Info("message queued in outbox", zap.String("conversation_id", in.ConversationID), zap.String("dedupe_key", in.DedupeKey))
	return &SendMessageResult{Pending: true, DedupeKey: in.DedupeKey}, nil
}

// queuedFor reports whether the outbox holds a send for conversationID.
func (uc *SendMessageUseCase) queuedFor(conversationID string) (bool, error) {
	if uc.Outbox == nil || uc.Outbox.Len() == 0 {
		return false, nil
	}
	entries, err := uc.Outbox.Pending(uc.Outbox.Len())
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	for _, e := range entries {
		var p pendingMessage
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			continue
		}
		if p.ConversationID == conversationID {
			return true, nil
		}
	}
	return false, nil
}

func (uc *SendMessageUseCase) enqueue(in SendMessageInput) error {
	if uc.Outbox == nil {
		return chat.ErrOutboxFull
	}
	payload, err := json.Marshal(pendingMessage{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Attachment:     in.Attachment,
		DedupeKey:      in.DedupeKey,
		QueuedAt:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode outbox entry: %w", err)
	}
	if _, err := uc.Outbox.Enqueue(payload); err != nil {
		if errors.Is(err, outbox.ErrFull) {
			return chat.ErrOutboxFull
		}
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	uc.Metrics.SetOutboxDepth(uc.Outbox.Len())
	return nil
}
