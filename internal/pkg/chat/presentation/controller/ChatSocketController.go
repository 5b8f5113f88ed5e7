package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
	"chatcore/internal/pkg/chat/application/usecase"
)

// SocketFabric is the subset of *realtime.Fabric a socket session needs.
type SocketFabric interface {
	Subscribe(ctx context.Context, topic string) (*realtime.Subscription, error)
}

// SessionRegistry is satisfied by *presence.Sessions. It decides when a user
// goes online or offline across every instance.
type SessionRegistry interface {
	Open(ctx context.Context, userID, connID string) error
	Close(ctx context.Context, userID, connID string) error
}

// TypingSignals is satisfied by *typing.Bus.
type TypingSignals interface {
	SetTyping(ctx context.Context, conversationID, userID string) error
	ClearTyping(ctx context.Context, conversationID, userID string) error
}

// ConversationReader authorizes conversation-scoped frames.
type ConversationReader interface {
	GetConversation(ctx context.Context, id string) (chat.Conversation, error)
}

// Runner is a per-user background task started with the first session, e.g.
// a notification dispatcher.
type Runner interface {
	Run(ctx context.Context) error
}

// SocketDeps wires the websocket endpoint.
type SocketDeps struct {
	Fabric        SocketFabric
	Conversations ConversationReader
	Sessions      SessionRegistry
	Typing        TypingSignals
	Send          *usecase.SendMessageUseCase
	Advance       *usecase.AdvanceStatusUseCase
	React         *usecase.SetReactionUseCase
	// Background, when set, builds the per-user task run while the user has
	// at least one open session.
	Background func(userID string) Runner
	Log        *zap.Logger
}

// ChatSocketController handles the websocket endpoint for realtime chat traffic.
type ChatSocketController struct {
	deps            SocketDeps
	log             *zap.Logger
	inflightTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*userSessions
}

type userSessions struct {
	count  int
	cancel context.CancelFunc
}

func NewChatSocketController(deps SocketDeps) *ChatSocketController {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatSocketController{
		deps:            deps,
		log:             log,
		inflightTimeout: 5 * time.Second,
		sessions:        make(map[string]*userSessions),
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now; plug a proper checker when auth is added.
		return true
	},
}

// Frame types.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameTyping      = "typing"
	frameMessage     = "message"
	frameStatus      = "status"
	frameReaction    = "reaction"

	frameConnected = "connected"
	frameSync      = "sync"
	frameEvent     = "event"
	frameError     = "error"
	frameAck       = "ack"
)

type inboundFrame struct {
	Type           string           `json:"type"`
	RequestID      string           `json:"request_id,omitempty"`
	Topic          string           `json:"topic,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	MessageID      string           `json:"message_id,omitempty"`
	Content        string           `json:"content,omitempty"`
	Attachment     *chat.Attachment `json:"attachment,omitempty"`
	DedupeKey      string           `json:"dedupe_key,omitempty"`
	Status         string           `json:"status,omitempty"`
	Emoji          string           `json:"emoji,omitempty"`
	Typing         *bool            `json:"typing,omitempty"`
}

type errorFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

type ackFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Ref       string `json:"ref"`
	Topic     string `json:"topic,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type syncFrame struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type eventFrame struct {
	Type  string         `json:"type"`
	Topic string         `json:"topic"`
	Event realtime.Event `json:"event"`
}

const defaultReadTimeout = 60 * time.Second

// Handle upgrades HTTP connections to websocket and processes frames until the client disconnects.
func (ctl *ChatSocketController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response; just log and return.
			ctl.log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}

		conn := realtime.NewConnection(userID, ws)
		conn.Start()
		// the session context outlives the upgrade request
		ctx, cancel := context.WithCancel(context.Background())
		ctl.attach(userID, conn.ID)
		defer func() {
			cancel()
			conn.Close(websocket.CloseNormalClosure, "session closed")
			ctl.detach(userID, conn.ID)
		}()

		ws.SetReadLimit(1 << 20) // 1MB payload cap
		_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		})

		_ = conn.SendJSON(ackFrame{Type: frameConnected, Ref: conn.ID})

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
					errors.Is(err, websocket.ErrCloseSent) {
					return
				}
				ctl.replyError(conn, "", "read_error", err.Error())
				return
			}

			var frame inboundFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				ctl.replyError(conn, "", "bad_request", "invalid payload")
				continue
			}

			switch frame.Type {
			case frameSubscribe:
				ctl.handleSubscribe(ctx, conn, frame)
			case frameUnsubscribe:
				conn.Untrack(frame.Topic)
				ctl.ack(conn, frame, nil)
			case frameTyping:
				ctl.handleTyping(ctx, conn, frame)
			case frameMessage:
				ctl.handleMessage(ctx, conn, frame)
			case frameStatus:
				ctl.handleStatus(ctx, conn, frame)
			case frameReaction:
				ctl.handleReaction(ctx, conn, frame)
			default:
				ctl.replyError(conn, frame.RequestID, "unsupported_type", "unknown frame type")
			}
		}
	}
}

// attach registers the session and starts the per-user background task with
// the first session in this process.
func (ctl *ChatSocketController) attach(userID, connID string) {
	ctl.mu.Lock()
	s := ctl.sessions[userID]
	if s == nil {
		s = &userSessions{}
		ctl.sessions[userID] = s
	}
	s.count++
	first := s.count == 1
	if first && ctl.deps.Background != nil {
		bgCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		runner := ctl.deps.Background(userID)
		go func() {
			if err := runner.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				ctl.log.Warn("session background task stopped", zap.String("user_id", userID), zap.Error(err))
			}
		}()
	}
	ctl.mu.Unlock()

	if ctl.deps.Sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ctl.inflightTimeout)
		defer cancel()
		if err := ctl.deps.Sessions.Open(ctx, userID, connID); err != nil {
			ctl.log.Warn("session open failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

func (ctl *ChatSocketController) detach(userID, connID string) {
	ctl.mu.Lock()
	if s := ctl.sessions[userID]; s != nil {
		s.count--
		if s.count <= 0 {
			delete(ctl.sessions, userID)
			if s.cancel != nil {
				s.cancel()
			}
		}
	}
	ctl.mu.Unlock()

	if ctl.deps.Sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ctl.inflightTimeout)
		defer cancel()
		if err := ctl.deps.Sessions.Close(ctx, userID, connID); err != nil {
			ctl.log.Warn("session close failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// authorize checks that the connection's user may use topic.
func (ctl *ChatSocketController) authorize(ctx context.Context, userID, topic string) error {
	_, id := realtime.TopicID(topic)
	switch topic {
	case realtime.PresenceTopic, realtime.NotificationsTopic(userID):
		return nil
	case realtime.MessagesTopic(id), realtime.TypingTopic(id):
		return ctl.checkParticipant(ctx, userID, id)
	default:
		return &chat.ValidationError{Field: "topic", Reason: "unknown topic " + topic}
	}
}

func (ctl *ChatSocketController) checkParticipant(ctx context.Context, userID, conversationID string) error {
	if conversationID == "" {
		return &chat.ValidationError{Field: "conversation_id", Reason: "is required"}
	}
	ctx, cancel := context.WithTimeout(ctx, ctl.inflightTimeout)
	defer cancel()
	conv, err := ctl.deps.Conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return chat.ErrNotParticipant
	}
	return nil
}

func (ctl *ChatSocketController) handleSubscribe(ctx context.Context, conn *realtime.Connection, frame inboundFrame) {
	if err := ctl.authorize(ctx, conn.UserID, frame.Topic); err != nil {
		ctl.handleUseCaseError(conn, frame.RequestID, err)
		return
	}
	sub, err := ctl.deps.Fabric.Subscribe(ctx, frame.Topic)
	if err != nil {
		ctl.handleUseCaseError(conn, frame.RequestID, err)
		return
	}
	if !conn.Track(sub) {
		sub.Close()
		ctl.ack(conn, frame, nil)
		return
	}
	ctl.ack(conn, frame, nil)

	go realtime.Consume(ctx, sub, realtime.Handlers{
		OnSync: func(topic string, snapshot json.RawMessage) {
			_ = conn.SendJSON(syncFrame{Type: frameSync, Topic: topic, Data: snapshot})
		},
		OnEvent: func(ev realtime.Event) {
			_ = conn.SendJSON(eventFrame{Type: frameEvent, Topic: ev.Topic, Event: ev})
		},
		OnError: func(topic string, err error) {
			_ = conn.SendJSON(errorFrame{Type: frameError, Topic: topic, Code: "sync_failed", Error: err.Error()})
		},
	})
}

func (ctl *ChatSocketController) handleTyping(ctx context.Context, conn *realtime.Connection, frame inboundFrame) {
	if err := ctl.checkParticipant(ctx, conn.UserID, frame.ConversationID); err != nil {
		ctl.handleUseCaseError(conn, frame.RequestID, err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, ctl.inflightTimeout)
	defer cancel()

	var err error
	if frame.Typing == nil || *frame.Typing {
		err = ctl.deps.Typing.SetTyping(ctx, frame.ConversationID, conn.UserID)
	} else {
		err = ctl.deps.Typing.ClearTyping(ctx, frame.ConversationID, conn.UserID)
	}
	if err != nil {
		ctl.handleUseCaseError(conn, frame.RequestID, err)
	}
}

func (ctl *ChatSocketController) handleMessage(ctx context.Context, conn *realtime.Connection, frame inboundFrame) {
	if frame.ConversationID == "" {
		ctl.replyError(conn, frame.RequestID, "bad_request", "conversation_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, ctl.inflightTimeout)
	defer cancel()

	res, err := ctl.deps.Send.Execute(ctx, usecase.SendMessageInput{
		ConversationID: frame.ConversationID,
		SenderID:       conn.UserID,
		Content:        frame.Content,
		Attachment:     frame.Attachment,
		DedupeKey:      frame.DedupeKey,
	})
	if err != nil {
		ctl.handleUseCaseError(conn, frame.RequestID, err)
		return
	}
	if ctl.deps.Typing != nil {
		// sending ends the typing burst
		_ = ctl.deps.Typing.ClearTyping(ctx, frame.ConversationID, conn.UserID)
	}
	if res.Pending {
		ctl.ack(conn, frame, gin.H{"status": "pending", "dedupe_key": res.DedupeKey})
		return
	}
	ctl.ack(conn, frame, res.Message)
}

func (ctl *ChatSocketController) handleStatus(ctx context.Context, conn *realtime.Connection, frame inboundFrame) {
	ctx, cancel := context.WithTimeout(ctx, ctl.inflightTimeout)
	defer cancel()

	res, err := ctl.deps.Advance.Execute(ctx, usecase.AdvanceStatusInput{
		MessageID: frame.MessageID,
		Target:    frame.Status,
		ActorID:   conn.UserID,
	})
	if err != nil {
		ctl.handleUseCaseError(conn, frame.RequestID, err)
		return
	}
	ctl.ack(conn, frame, gin.H{"message": res.Message, "advanced": res.Advanced})
}

func (ctl *ChatSocketController) handleReaction(ctx context.Context, conn *realtime.Connection, frame inboundFrame) {
	ctx, cancel := context.WithTimeout(ctx, ctl.inflightTimeout)
	defer cancel()

	r, err := ctl.deps.React.Execute(ctx, usecase.SetReactionInput{
		MessageID: frame.MessageID,
		UserID:    conn.UserID,
		Emoji:     frame.Emoji,
	})
	if err != nil {
		ctl.handleUseCaseError(conn, frame.RequestID, err)
		return
	}
	ctl.ack(conn, frame, gin.H{"reaction": r})
}

func (ctl *ChatSocketController) ack(conn *realtime.Connection, frame inboundFrame, data any) {
	_ = conn.SendJSON(ackFrame{Type: frameAck, RequestID: frame.RequestID, Ref: frame.Type, Topic: frame.Topic, Data: data})
}

func (ctl *ChatSocketController) handleUseCaseError(conn *realtime.Connection, requestID string, err error) {
	switch {
	case errors.Is(err, usecase.ErrPersistence):
		ctl.log.Error("socket request failed", zap.String("user_id", conn.UserID), zap.Error(err))
		ctl.replyError(conn, requestID, "internal_error", "unexpected persistence error")
	case errors.Is(err, chat.ErrNotParticipant):
		ctl.replyError(conn, requestID, "forbidden", "user is not a participant in this conversation")
	case errors.Is(err, chat.ErrNotFound):
		ctl.replyError(conn, requestID, "not_found", err.Error())
	case errors.Is(err, chat.ErrOutboxFull):
		ctl.replyError(conn, requestID, "outbox_full", err.Error())
	default:
		ctl.replyError(conn, requestID, "bad_request", err.Error())
	}
}

func (ctl *ChatSocketController) replyError(conn *realtime.Connection, requestID, code, message string) {
	_ = conn.SendJSON(errorFrame{
		Type:      frameError,
		RequestID: requestID,
		Code:      code,
		Error:     message,
	})
}
