package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	chat "chatcore/internal/pkg/chat/application/domain"
	"chatcore/internal/pkg/chat/application/usecase"
)

type MarkReadController struct {
	UC *usecase.MarkConversationReadUseCase
}

func NewMarkReadController(uc *usecase.MarkConversationReadUseCase) *MarkReadController {
	return &MarkReadController{UC: uc}
}

type markReadRequest struct {
	ReaderID string `json:"reader_id" binding:"required"`
	UptoSeq  int64  `json:"upto_seq" binding:"required"`
	Status   string `json:"status"`
}

func (h *MarkReadController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req markReadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var target chat.Status
		if req.Status != "" {
			s, err := chat.ParseStatus(req.Status)
			if err != nil {
				respondError(c, err)
				return
			}
			target = s
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		changed, err := h.UC.Execute(ctx, usecase.MarkConversationReadInput{
			ConversationID: c.Param("conversationId"),
			ReaderID:       req.ReaderID,
			UptoSeq:        req.UptoSeq,
			Target:         target,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"advanced": len(changed)})
	}
}
