package usecase

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
	"chatcore/internal/pkg/chat/persistence/repository/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) byEntity(entity string) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Event
	for _, ev := range p.events {
		if ev.Entity == entity {
			out = append(out, ev)
		}
	}
	return out
}

func newConversation(t *testing.T, store *memory.Store, a, b string) chat.Conversation {
	t.Helper()
	conv, err := NewCreateConversationUseCase(store).Execute(context.Background(), CreateConversationInput{UserA: a, UserB: b})
	require.NoError(t, err)
	return *conv
}

func appendText(t *testing.T, uc *AppendMessageUseCase, convID, sender, content string) chat.Message {
	t.Helper()
	m, err := uc.Execute(context.Background(), AppendMessageInput{ConversationID: convID, SenderID: sender, Content: content})
	require.NoError(t, err)
	return *m
}
