package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	chat "chatcore/internal/pkg/chat/application/domain"
	"chatcore/internal/pkg/chat/application/usecase"
)

// SendMessageController handles the send-message endpoint only (one controller per endpoint)
type SendMessageController struct {
	UC *usecase.SendMessageUseCase
}

func NewSendMessageController(uc *usecase.SendMessageUseCase) *SendMessageController {
	return &SendMessageController{UC: uc}
}

// sendMessageRequest is the DTO for the HTTP request body
type sendMessageRequest struct {
	SenderID   string           `json:"sender_id" binding:"required"`
	Content    string           `json:"content"`
	Attachment *chat.Attachment `json:"attachment"`
	DedupeKey  string           `json:"dedupe_key"`
}

// Handle answers 201 with the stored message, or 202 when the message is
// waiting in the outbox.
func (h *SendMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}

		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		res, err := h.UC.Execute(ctx, usecase.SendMessageInput{
			ConversationID: conversationID,
			SenderID:       req.SenderID,
			Content:        req.Content,
			Attachment:     req.Attachment,
			DedupeKey:      req.DedupeKey,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		if res.Pending {
			c.JSON(http.StatusAccepted, gin.H{
				"status":     "pending",
				"dedupe_key": res.DedupeKey,
			})
			return
		}
		c.JSON(http.StatusCreated, res.Message)
	}
}
