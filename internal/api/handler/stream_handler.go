package handler

import (
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kyunghyuncho/neurips-whisper/internal/api/middleware"
	"github.com/kyunghyuncho/neurips-whisper/internal/service"
	"github.com/kyunghyuncho/neurips-whisper/pkg/logger"
)

// Stream is the live-update endpoint: one SSE connection per viewer,
// backed by its own hub subscription. The session ends when the client
// disconnects (request context cancels) or the server shuts down.
func (h *Handler) Stream(c *gin.Context) {
	viewer := middleware.Viewer(c)
	filters := service.Filters{
		Tags:   c.QueryArray("tags"),
		Search: c.Query("search"),
	}

	ctx := c.Request.Context()
	events, stop := h.hub.Subscribe(ctx)
	sess := service.NewLiveSession(viewer, filters, events, stop)
	go sess.Run(ctx)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	logger.Debug("stream opened", zap.String("session", sess.ID()))
	c.Stream(func(w io.Writer) bool {
		u, ok := <-sess.Updates()
		if !ok {
			return false
		}
		c.SSEvent(u.Event, u.Data)
		return true
	})
	logger.Debug("stream closed", zap.String("session", sess.ID()))
}
