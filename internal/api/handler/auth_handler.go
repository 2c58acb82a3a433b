package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kyunghyuncho/neurips-whisper/internal/api/middleware"
	"github.com/kyunghyuncho/neurips-whisper/internal/repository"
	"github.com/kyunghyuncho/neurips-whisper/pkg/logger"
	"github.com/kyunghyuncho/neurips-whisper/pkg/response"
)

type requestLinkRequest struct {
	Email string `form:"email" json:"email" binding:"required,email"`
}

// RequestLink mints a login token for the address and hands it to the link
// sender. The response never reveals whether the address exists.
func (h *Handler) RequestLink(c *gin.Context) {
	var req requestLinkRequest
	if err := c.ShouldBind(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	token, err := h.authMgr.MintLoginToken(req.Email)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if err := h.links.SendLoginLink(req.Email, token); err != nil {
		logger.Error("login link delivery failed", zap.Error(err))
	}
	response.Success(c, gin.H{"message": "check your email"})
}

// VerifyLink exchanges a valid login token for a session cookie, creating
// the account on first sign-in.
func (h *Handler) VerifyLink(c *gin.Context) {
	email, err := h.authMgr.VerifyLoginToken(c.Query("token"))
	if err != nil {
		response.Unauthorized(c, "invalid or expired link")
		return
	}
	user, err := h.users.GetOrCreateByEmail(c.Request.Context(), email)
	if errors.Is(err, repository.ErrEmailBlacklisted) {
		response.Forbidden(c, "account is banned")
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	session, err := h.authMgr.MintSession(user.Email)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	c.SetCookie(middleware.SessionCookie, session, 7*24*3600, "/", "", false, true)
	response.Success(c, gin.H{"email": user.Email})
}

// Logout clears the session cookie.
func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", false, true)
	response.Success(c, nil)
}

// Me reports the current viewer.
func (h *Handler) Me(c *gin.Context) {
	viewer := middleware.Viewer(c)
	if viewer == nil {
		response.Success(c, gin.H{"authenticated": false})
		return
	}
	response.Success(c, gin.H{
		"authenticated": true,
		"email":         viewer.Email,
		"is_superuser":  h.feed.IsSuperuser(viewer),
	})
}
