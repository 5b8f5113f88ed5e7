package notify

import (
	"context"
	"time"

	qport "chatcore/internal/infrastructure/queue/port"
	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
	"chatcore/internal/pkg/chat/application/task"
)

// Sink delivers a notification one way. Each sink fails on its own.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n chat.NotificationEvent) error
}

// QueueSink hands the notification to the persistence worker. The task id
// is the notification id so duplicate dispatches collapse in the queue, for
// Retention after the task finished.
type QueueSink struct {
	Client    qport.Client
	Queue     string
	Retention time.Duration
}

func (s QueueSink) Name() string { return "persist" }

func (s QueueSink) Deliver(ctx context.Context, n chat.NotificationEvent) error {
	t, err := task.NewPersistNotificationTask(n)
	if err != nil {
		return err
	}
	_, err = s.Client.Enqueue(ctx, t, qport.EnqueueOption{Queue: s.Queue, MaxRetry: 0, TaskID: n.ID, Retention: s.Retention})
	return err
}

// Pusher is the platform push boundary.
type Pusher interface {
	Push(ctx context.Context, n chat.NotificationEvent) error
}

type PushSink struct {
	Pusher Pusher
}

func (s PushSink) Name() string { return "push" }

func (s PushSink) Deliver(ctx context.Context, n chat.NotificationEvent) error {
	return s.Pusher.Push(ctx, n)
}

// ToastSink presents the notification in-app on the recipient's
// notifications topic.
type ToastSink struct {
	Fabric interface {
		Publish(ctx context.Context, ev realtime.Event) error
	}
}

func (s ToastSink) Name() string { return "toast" }

func (s ToastSink) Deliver(ctx context.Context, n chat.NotificationEvent) error {
	ev, err := realtime.NewEvent(realtime.NotificationsTopic(n.RecipientID), realtime.KindInsert, "notification", n)
	if err != nil {
		return err
	}
	return s.Fabric.Publish(ctx, ev)
}
