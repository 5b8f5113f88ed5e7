package controller

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheAdapter "chatcore/internal/infrastructure/cache/adapter"
	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
	"chatcore/internal/pkg/chat/application/presence"
	"chatcore/internal/pkg/chat/application/usecase"
	"chatcore/internal/pkg/chat/persistence/repository/memory"
)

type presenceLog struct {
	mu     sync.Mutex
	events []string
}

func (p *presenceLog) MarkOnline(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "online:"+userID)
	return nil
}

func (p *presenceLog) MarkOffline(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "offline:"+userID)
	return nil
}

func (p *presenceLog) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type typingLog struct {
	mu  sync.Mutex
	set int
}

func (t *typingLog) SetTyping(context.Context, string, string) error {
	t.mu.Lock()
	t.set++
	t.mu.Unlock()
	return nil
}

func (t *typingLog) ClearTyping(context.Context, string, string) error { return nil }

type wireFrame struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Code  string          `json:"code"`
	Ref   string          `json:"ref"`
	Data  json.RawMessage `json:"data"`
	Event realtime.Event  `json:"event"`
}

type socketEnv struct {
	server   *httptest.Server
	conv     chat.Conversation
	presence *presenceLog
	typing   *typingLog
}

func newSocketEnv(t *testing.T) *socketEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore(nil)
	conv, err := usecase.NewCreateConversationUseCase(store).Execute(context.Background(),
		usecase.CreateConversationInput{UserA: "alice", UserB: "bob"})
	require.NoError(t, err)

	hub := realtime.NewHub(64)
	fabric := realtime.NewFabric(hub.Endpoint("api"), realtime.WithBackoff(5*time.Millisecond, 20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = fabric.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = fabric.Close()
	})

	appendUC := usecase.NewAppendMessageUseCase(store, fabric)
	env := &socketEnv{conv: *conv, presence: &presenceLog{}, typing: &typingLog{}}
	ctl := NewChatSocketController(SocketDeps{
		Fabric:        fabric,
		Conversations: store,
		Sessions:      presence.NewSessions(cacheAdapter.NewMemorySessionSet(), env.presence),
		Typing:        env.typing,
		Send:          usecase.NewSendMessageUseCase(appendUC, nil),
		Advance:       usecase.NewAdvanceStatusUseCase(store, fabric),
		React:         usecase.NewSetReactionUseCase(store, store, fabric),
	})

	r := gin.New()
	r.GET("/ws", ctl.Handle())
	env.server = httptest.NewServer(r)
	t.Cleanup(env.server.Close)
	return env
}

func (e *socketEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?user_id=" + userID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	expectFrame(t, ws, frameConnected)
	return ws
}

// expectFrame reads until a frame of typ arrives.
func expectFrame(t *testing.T, ws *websocket.Conn, typ string) wireFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f wireFrame
		require.NoError(t, ws.ReadJSON(&f))
		if f.Type == typ {
			return f
		}
	}
}

func TestSocketDeliversPeerMessages(t *testing.T) {
	env := newSocketEnv(t)
	topic := realtime.MessagesTopic(env.conv.ID)

	bob := env.dial(t, "bob")
	require.NoError(t, bob.WriteJSON(gin.H{"type": frameSubscribe, "topic": topic}))
	synced := expectFrame(t, bob, frameSync)
	assert.Equal(t, topic, synced.Topic)

	alice := env.dial(t, "alice")
	require.NoError(t, alice.WriteJSON(gin.H{"type": frameMessage, "conversation_id": env.conv.ID, "content": "hi bob"}))
	ack := expectFrame(t, alice, frameAck)
	assert.Equal(t, frameMessage, ack.Ref)

	ev := expectFrame(t, bob, frameEvent)
	assert.Equal(t, usecase.EntityMessage, ev.Event.Entity)
	var m chat.Message
	require.NoError(t, ev.Event.Decode(&m))
	assert.Equal(t, "hi bob", m.Content)
	assert.Equal(t, "alice", m.SenderID)
}

func TestSocketRejectsOutsiders(t *testing.T) {
	env := newSocketEnv(t)

	mallory := env.dial(t, "mallory")
	require.NoError(t, mallory.WriteJSON(gin.H{"type": frameSubscribe, "topic": realtime.MessagesTopic(env.conv.ID)}))
	assert.Equal(t, "forbidden", expectFrame(t, mallory, frameError).Code)

	require.NoError(t, mallory.WriteJSON(gin.H{"type": frameSubscribe, "topic": realtime.NotificationsTopic("bob")}))
	assert.Equal(t, "bad_request", expectFrame(t, mallory, frameError).Code)

	require.NoError(t, mallory.WriteJSON(gin.H{"type": frameTyping, "conversation_id": env.conv.ID}))
	assert.Equal(t, "forbidden", expectFrame(t, mallory, frameError).Code)
	assert.Zero(t, env.typing.set)
}

func TestSocketPresenceCountsSessions(t *testing.T) {
	env := newSocketEnv(t)

	first := env.dial(t, "bob")
	second := env.dial(t, "bob")
	assert.Equal(t, []string{"online:bob"}, env.presence.snapshot())

	require.NoError(t, first.Close())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"online:bob"}, env.presence.snapshot())

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool {
		got := env.presence.snapshot()
		return len(got) == 2 && got[1] == "offline:bob"
	}, 2*time.Second, 10*time.Millisecond)
}

// Two instances share one session set, as they share redis in production.
func TestSessionsSpanInstances(t *testing.T) {
	log := &presenceLog{}
	set := cacheAdapter.NewMemorySessionSet()
	ctl1 := NewChatSocketController(SocketDeps{Sessions: presence.NewSessions(set, log)})
	ctl2 := NewChatSocketController(SocketDeps{Sessions: presence.NewSessions(set, log)})

	ctl1.attach("alice", "conn-1")
	ctl2.attach("alice", "conn-2")
	ctl1.detach("alice", "conn-1")
	assert.Equal(t, []string{"online:alice"}, log.snapshot())

	ctl2.detach("alice", "conn-2")
	assert.Equal(t, []string{"online:alice", "offline:alice"}, log.snapshot())
}
