package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatcore/internal/pkg/chat/application/usecase"
)

// CreateConversationController handles the conversation creation endpoint
// One controller per endpoint

type CreateConversationController struct {
	UC *usecase.CreateConversationUseCase
}

func NewCreateConversationController(uc *usecase.CreateConversationUseCase) *CreateConversationController {
	return &CreateConversationController{UC: uc}
}

type createConversationRequest struct {
	UserA string `json:"user_a" binding:"required"`
	UserB string `json:"user_b" binding:"required"`
}

// Handle returns the existing conversation when the pair already has one.
func (h *CreateConversationController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createConversationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		conv, err := h.UC.Execute(ctx, usecase.CreateConversationInput{UserA: req.UserA, UserB: req.UserB})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, conv)
	}
}
