package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatcore/internal/pkg/chat/application/presence"
	"chatcore/internal/pkg/chat/application/typing"
	"chatcore/internal/pkg/chat/application/usecase"
	"chatcore/internal/pkg/chat/presentation/controller"
)

// Services carries everything the chat routes are built from.
type Services struct {
	CreateConversation *usecase.CreateConversationUseCase
	ListConversations  *usecase.ListConversationsUseCase
	SendMessage        *usecase.SendMessageUseCase
	ListMessages       *usecase.ListMessagesUseCase
	MarkRead           *usecase.MarkConversationReadUseCase
	AdvanceStatus      *usecase.AdvanceStatusUseCase
	SetReaction        *usecase.SetReactionUseCase
	ListReactions      *usecase.ListReactionsUseCase

	Conversations controller.ConversationReader
	Fabric        controller.SocketFabric
	Presence      *presence.Tracker
	Sessions      *presence.Sessions
	Typing        *typing.Bus
	Background    func(userID string) controller.Runner
	Log           *zap.Logger
}

// RegisterRoutes registers chat-related HTTP endpoints under the given router group
// It constructs per-endpoint controllers and binds them directly to routes.
func RegisterRoutes(g *gin.RouterGroup, s Services) {
	createCtl := controller.NewCreateConversationController(s.CreateConversation)
	listConvCtl := controller.NewListConversationsController(s.ListConversations)
	sendMsgCtl := controller.NewSendMessageController(s.SendMessage)
	listMsgCtl := controller.NewListMessagesController(s.ListMessages)
	markReadCtl := controller.NewMarkReadController(s.MarkRead)
	statusCtl := controller.NewAdvanceStatusController(s.AdvanceStatus)
	setReactionCtl := controller.NewSetReactionController(s.SetReaction)
	listReactionsCtl := controller.NewListReactionsController(s.ListReactions)
	presenceCtl := controller.NewPresenceController(s.Presence)
	deps := controller.SocketDeps{
		Fabric:        s.Fabric,
		Conversations: s.Conversations,
		Typing:        s.Typing,
		Send:          s.SendMessage,
		Advance:       s.AdvanceStatus,
		React:         s.SetReaction,
		Background:    s.Background,
		Log:           s.Log,
	}
	if s.Sessions != nil {
		deps.Sessions = s.Sessions
	}
	socketCtl := controller.NewChatSocketController(deps)

	// POST /api/v1/conversations -> create (or return) the pair's conversation
	g.POST("/conversations", createCtl.Handle())

	// GET /api/v1/users/:userId/conversations -> a user's conversations
	g.GET("/users/:userId/conversations", listConvCtl.Handle())

	// POST /api/v1/conversations/:conversationId/messages -> send a message
	g.POST("/conversations/:conversationId/messages", sendMsgCtl.Handle())

	// GET /api/v1/conversations/:conversationId/messages?after=&limit= -> catch-up page
	g.GET("/conversations/:conversationId/messages", listMsgCtl.Handle())

	// POST /api/v1/conversations/:conversationId/read -> read watermark
	g.POST("/conversations/:conversationId/read", markReadCtl.Handle())

	// POST /api/v1/messages/:messageId/status -> advance one message
	g.POST("/messages/:messageId/status", statusCtl.Handle())

	// PUT/GET /api/v1/messages/:messageId/reactions
	g.PUT("/messages/:messageId/reactions", setReactionCtl.Handle())
	g.GET("/messages/:messageId/reactions", listReactionsCtl.Handle())

	// GET /api/v1/presence/:userId
	g.GET("/presence/:userId", presenceCtl.Handle())

	// GET /api/v1/chat/ws?user_id= -> websocket endpoint for realtime chat
	g.GET("/chat/ws", socketCtl.Handle())
}
