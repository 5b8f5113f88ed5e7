package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	chat "chatcore/internal/pkg/chat/application/domain"
	"chatcore/internal/pkg/chat/application/usecase"
)

type ListConversationsController struct {
	UC *usecase.ListConversationsUseCase
}

func NewListConversationsController(uc *usecase.ListConversationsUseCase) *ListConversationsController {
	return &ListConversationsController{UC: uc}
}

func (h *ListConversationsController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		convs, err := h.UC.Execute(ctx, c.Param("userId"))
		if err != nil {
			respondError(c, err)
			return
		}
		if convs == nil {
			convs = []chat.Conversation{}
		}
		c.JSON(http.StatusOK, gin.H{"conversations": convs})
	}
}
