package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	qport "chatcore/internal/infrastructure/queue/port"
	chat "chatcore/internal/pkg/chat/application/domain"
)

// PersistNotificationTaskType is the queue task name for storing a notification.
const PersistNotificationTaskType = "notification:persist"

// NotificationStore is where persisted notifications land.
type NotificationStore interface {
	Save(ctx context.Context, n chat.NotificationEvent) error
}

// NewPersistNotificationTask encodes n for the queue.
func NewPersistNotificationTask(n chat.NotificationEvent) (qport.Task, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return qport.Task{}, err
	}
	return qport.Task{Type: PersistNotificationTaskType, Payload: b}, nil
}

// RegisterPersistNotificationTask binds the handler to srv. Failures are
// logged and never retried: notifications are best-effort.
func RegisterPersistNotificationTask(srv qport.Server, store NotificationStore, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	srv.Register(PersistNotificationTaskType, func(ctx context.Context, t qport.Task) error {
		var n chat.NotificationEvent
		if err := json.Unmarshal(t.Payload, &n); err != nil {
			return fmt.Errorf("%w: decode notification: %v", qport.ErrSkipRetry, err)
		}

		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := store.Save(ctx, n); err != nil {
			log.Warn("notification persist failed",
				zap.String("notification_id", n.ID),
				zap.String("recipient_id", n.RecipientID),
				zap.Error(err))
			return fmt.Errorf("%w: %v", qport.ErrSkipRetry, err)
		}
		return nil
	})
}
