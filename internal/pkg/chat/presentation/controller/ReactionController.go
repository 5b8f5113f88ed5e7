package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatcore/internal/pkg/chat/application/usecase"
)

// SetReactionController toggles a user's reaction on a message.
type SetReactionController struct {
	UC *usecase.SetReactionUseCase
}

func NewSetReactionController(uc *usecase.SetReactionUseCase) *SetReactionController {
	return &SetReactionController{UC: uc}
}

type setReactionRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Emoji  string `json:"emoji" binding:"required"`
}

func (h *SetReactionController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req setReactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		r, err := h.UC.Execute(ctx, usecase.SetReactionInput{MessageID: c.Param("messageId"), UserID: req.UserID, Emoji: req.Emoji})
		if err != nil {
			respondError(c, err)
			return
		}
		// nil reaction: toggled off
		c.JSON(http.StatusOK, gin.H{"reaction": r})
	}
}

// ListReactionsController returns a message's reactions grouped by emoji.
type ListReactionsController struct {
	UC *usecase.ListReactionsUseCase
}

func NewListReactionsController(uc *usecase.ListReactionsUseCase) *ListReactionsController {
	return &ListReactionsController{UC: uc}
}

func (h *ListReactionsController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		groups, err := h.UC.Execute(ctx, c.Param("messageId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reactions": groups})
	}
}
