package controller

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	chat "chatcore/internal/pkg/chat/application/domain"
	"chatcore/internal/pkg/chat/application/usecase"
)

// ListMessagesController pages through a conversation from a cursor (one controller per endpoint)
type ListMessagesController struct {
	UC *usecase.ListMessagesUseCase
}

func NewListMessagesController(uc *usecase.ListMessagesUseCase) *ListMessagesController {
	return &ListMessagesController{UC: uc}
}

func (h *ListMessagesController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}

		after, err := chat.ParseCursor(c.Query("after"))
		if err != nil {
			respondError(c, err)
			return
		}
		limit := 0
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		page, err := h.UC.Execute(ctx, usecase.ListMessagesInput{
			ConversationID: conversationID,
			ReaderID:       c.Query("reader_id"),
			After:          after,
			Limit:          limit,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		msgs := page.Messages
		if msgs == nil {
			msgs = []chat.Message{}
		}
		c.JSON(http.StatusOK, gin.H{
			"messages": msgs,
			"next":     page.Next.String(),
			"count":    len(msgs),
		})
	}
}
