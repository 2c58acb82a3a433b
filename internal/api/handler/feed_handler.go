package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kyunghyuncho/neurips-whisper/internal/api/middleware"
	"github.com/kyunghyuncho/neurips-whisper/internal/cache"
	"github.com/kyunghyuncho/neurips-whisper/internal/repository"
	"github.com/kyunghyuncho/neurips-whisper/internal/service"
	"github.com/kyunghyuncho/neurips-whisper/pkg/logger"
	"github.com/kyunghyuncho/neurips-whisper/pkg/response"
)

type postRequest struct {
	Content  string `form:"content" json:"content" binding:"required,min=1"`
	ParentID *int64 `form:"parent_id" json:"parent_id"`
}

// Post creates a message or reply.
func (h *Handler) Post(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBind(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	viewer := middleware.Viewer(c)
	msg, err := h.feed.PostMessage(c.Request.Context(), viewer, req.Content, req.ParentID)
	switch {
	case errors.Is(err, service.ErrMessageTooLong),
		errors.Is(err, service.ErrURLNotAllowed),
		errors.Is(err, service.ErrParentNotFound):
		response.BadRequest(c, err.Error())
	case err != nil:
		response.InternalError(c, err)
	default:
		response.Success(c, gin.H{"id": msg.ID})
	}
}

// Star toggles the viewer's star on a message.
func (h *Handler) Star(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	starred, err := h.feed.ToggleStar(c.Request.Context(), middleware.Viewer(c), id)
	switch {
	case errors.Is(err, service.ErrMessageNotFound):
		response.NotFound(c, err.Error())
	case err != nil:
		response.InternalError(c, err)
	default:
		response.Success(c, gin.H{"id": id, "is_starred": starred})
	}
}

// Delete removes a message tree. Superusers only.
func (h *Handler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	err = h.feed.DeleteMessage(c.Request.Context(), middleware.Viewer(c), id)
	switch {
	case errors.Is(err, service.ErrNotAuthorized):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrMessageNotFound):
		response.NotFound(c, err.Error())
	case err != nil:
		response.InternalError(c, err)
	default:
		response.Success(c, nil)
	}
}

// Ban blacklists a user's email and removes the account. Superusers only.
func (h *Handler) Ban(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	err = h.feed.BanUser(c.Request.Context(), middleware.Viewer(c), id)
	switch {
	case errors.Is(err, service.ErrNotAuthorized):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		response.NotFound(c, err.Error())
	case err != nil:
		response.InternalError(c, err)
	default:
		response.Success(c, nil)
	}
}

// Hashtags serves the trending sidebar. A cache outage degrades to an
// empty list rather than an error.
func (h *Handler) Hashtags(c *gin.Context) {
	selected := c.QueryArray("tags")
	tags, err := h.activity.ListHashtags(c.Request.Context(), time.Now(), selected)
	if err != nil {
		logger.Warn("hashtag listing degraded", zap.Error(err))
		tags = []cache.TagCount{}
	}
	response.Success(c, gin.H{"hashtags": tags, "selected_tags": selected})
}

func feedFilter(c *gin.Context, defaultView string) repository.FeedFilter {
	return repository.FeedFilter{
		Tags:         c.QueryArray("tags"),
		Search:       c.Query("search"),
		TopLevelOnly: c.DefaultQuery("view", defaultView) == "threaded",
	}
}

// Container serves the first feed page for the current filters. The view
// defaults to unrolled: every message shown flat, replies included.
func (h *Handler) Container(c *gin.Context) {
	items, next, err := h.threads.ListFeed(c.Request.Context(), feedFilter(c, "unrolled"), 0, middleware.Viewer(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"messages": items, "next_cursor": next})
}

// History pages backwards through the feed for infinite scroll.
func (h *Handler) History(c *gin.Context) {
	cursor, err := strconv.ParseInt(c.Query("cursor"), 10, 64)
	if err != nil || cursor <= 0 {
		// No cursor means nothing older to load.
		response.Success(c, gin.H{"messages": []*service.ThreadNode{}, "next_cursor": nil})
		return
	}
	items, next, err := h.threads.ListFeed(c.Request.Context(), feedFilter(c, "threaded"), cursor, middleware.Viewer(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"messages": items, "next_cursor": next})
}

// Thread returns the full conversation around a message, the requested
// node flagged as focused.
func (h *Handler) Thread(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	node, err := h.threads.GetThread(c.Request.Context(), id, middleware.Viewer(c))
	switch {
	case errors.Is(err, service.ErrMessageNotFound):
		response.NotFound(c, err.Error())
	case err != nil:
		response.InternalError(c, err)
	default:
		response.Success(c, gin.H{"message": node})
	}
}

// MyMessages lists the viewer's posts and starred messages.
func (h *Handler) MyMessages(c *gin.Context) {
	own, starred, err := h.feed.MyMessages(c.Request.Context(), middleware.Viewer(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"my_messages": own, "starred_messages": starred})
}

// Notifications lists the viewer's stored reply notifications.
func (h *Handler) Notifications(c *gin.Context) {
	viewer := middleware.Viewer(c)
	items, err := h.notifications.ListForUser(c.Request.Context(), viewer.ID, 50)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	type rendered struct {
		ID        int64  `json:"id"`
		MessageID int64  `json:"message_id"`
		Content   string `json:"content"`
		Author    string `json:"author"`
		CreatedAt string `json:"created_at"`
		IsRead    bool   `json:"is_read"`
	}
	out := make([]rendered, 0, len(items))
	for _, n := range items {
		if n.Message == nil {
			continue
		}
		r := rendered{
			ID:        n.ID,
			MessageID: n.MessageID,
			Content:   snippetOf(n.Message.Content, 50),
			CreatedAt: n.CreatedAt.Format("15:04"),
			IsRead:    n.IsRead,
		}
		if n.Message.User != nil {
			r.Author = n.Message.User.Email
		}
		out = append(out, r)
	}
	response.Success(c, gin.H{"notifications": out})
}

// MarkNotificationRead marks one of the viewer's notifications as read.
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}
	viewer := middleware.Viewer(c)
	if err := h.notifications.MarkRead(c.Request.Context(), id, viewer.ID); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, nil)
}

// Download exports the viewer's data (or everything, for superusers) as a
// JSON attachment.
func (h *Handler) Download(c *gin.Context) {
	data, err := h.feed.Export(c.Request.Context(), middleware.Viewer(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=neurips_whisper_data.json")
	c.JSON(200, data)
}

// AuditLogs lists recent audit entries. Superusers only.
func (h *Handler) AuditLogs(c *gin.Context) {
	viewer := middleware.Viewer(c)
	if !h.feed.IsSuperuser(viewer) {
		response.Forbidden(c, "not authorized")
		return
	}
	logs, err := h.audit.List(c.Request.Context(), 0)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if err := h.audit.Log(c.Request.Context(), "audit_logs_downloaded", viewer.Email, nil); err != nil {
		logger.Warn("audit write failed", zap.Error(err))
	}
	response.Success(c, gin.H{"logs": logs})
}

func snippetOf(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "..."
}
