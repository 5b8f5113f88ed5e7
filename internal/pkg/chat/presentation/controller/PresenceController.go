package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	chat "chatcore/internal/pkg/chat/application/domain"
)

// PresenceReader is satisfied by *presence.Tracker.
type PresenceReader interface {
	Get(ctx context.Context, userID string) (chat.Presence, error)
}

type PresenceController struct {
	Presence PresenceReader
}

func NewPresenceController(p PresenceReader) *PresenceController {
	return &PresenceController{Presence: p}
}

func (h *PresenceController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		p, err := h.Presence.Get(ctx, c.Param("userId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}
