package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatcore/internal/pkg/chat/application/usecase"
)

type AdvanceStatusController struct {
	UC *usecase.AdvanceStatusUseCase
}

func NewAdvanceStatusController(uc *usecase.AdvanceStatusUseCase) *AdvanceStatusController {
	return &AdvanceStatusController{UC: uc}
}

type advanceStatusRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Status  string `json:"status" binding:"required"`
}

// Handle always answers 200 for a known message; "advanced" is false for no-ops.
func (h *AdvanceStatusController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req advanceStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		res, err := h.UC.Execute(ctx, usecase.AdvanceStatusInput{
			MessageID: c.Param("messageId"),
			Target:    req.Status,
			ActorID:   req.ActorID,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":  res.Message,
			"advanced": res.Advanced,
		})
	}
}
