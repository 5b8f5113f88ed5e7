package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qport "chatcore/internal/infrastructure/queue/port"
	chat "chatcore/internal/pkg/chat/application/domain"
)

type captureServer struct {
	handlers map[string]qport.Handler
}

func (s *captureServer) Register(taskType string, h qport.Handler) {
	if s.handlers == nil {
		s.handlers = make(map[string]qport.Handler)
	}
	s.handlers[taskType] = h
}

func (s *captureServer) Run(context.Context) error  { return nil }
func (s *captureServer) Stop(context.Context) error { return nil }

type storeFunc func(ctx context.Context, n chat.NotificationEvent) error

func (f storeFunc) Save(ctx context.Context, n chat.NotificationEvent) error { return f(ctx, n) }

func TestPersistNotificationTask(t *testing.T) {
	var saved []chat.NotificationEvent
	srv := &captureServer{}
	RegisterPersistNotificationTask(srv, storeFunc(func(_ context.Context, n chat.NotificationEvent) error {
		saved = append(saved, n)
		return nil
	}), nil)

	h := srv.handlers[PersistNotificationTaskType]
	require.NotNil(t, h)

	n := chat.NotificationEvent{ID: "m1:bob", RecipientID: "bob", Title: "Alice", Body: "hi", Type: chat.NotificationTypeMessage, CreatedAt: time.Now().UTC()}
	task, err := NewPersistNotificationTask(n)
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), task))
	require.Len(t, saved, 1)
	assert.Equal(t, "m1:bob", saved[0].ID)
	assert.Equal(t, "hi", saved[0].Body)
}

func TestPersistNotificationTaskNeverRetries(t *testing.T) {
	srv := &captureServer{}
	RegisterPersistNotificationTask(srv, storeFunc(func(context.Context, chat.NotificationEvent) error {
		return errors.New("mongo down")
	}), nil)
	h := srv.handlers[PersistNotificationTaskType]

	task, err := NewPersistNotificationTask(chat.NotificationEvent{ID: "x"})
	require.NoError(t, err)
	assert.ErrorIs(t, h(context.Background(), task), qport.ErrSkipRetry)

	err = h(context.Background(), qport.Task{Type: PersistNotificationTaskType, Payload: []byte("{")})
	assert.ErrorIs(t, err, qport.ErrSkipRetry)
}
