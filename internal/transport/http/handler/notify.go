package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// notificationQueue is the subset of notify.Queue the handler needs.
type notificationQueue interface {
	PutNowait(ctx context.Context, repoID string)
}

type NotifyHandler struct {
	queue  notificationQueue
	logger *slog.Logger
}

func NewNotifyHandler(queue notificationQueue, logger *slog.Logger) *NotifyHandler {
	return &NotifyHandler{queue: queue, logger: logger.With("component", "notify_handler")}
}

type notifyRequest struct {
	ID string `json:"id" binding:"required"`
}

// Create handles POST /notifications. It never blocks and never reports a
// full queue to the caller — overflow is dropped silently by the queue
// itself (§4.2).
func (h *NotifyHandler) Create(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}

	h.queue.PutNowait(c.Request.Context(), req.ID)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
