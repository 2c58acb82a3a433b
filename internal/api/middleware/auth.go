package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/kyunghyuncho/neurips-whisper/internal/auth"
	"github.com/kyunghyuncho/neurips-whisper/internal/model"
	"github.com/kyunghyuncho/neurips-whisper/internal/repository"
	"github.com/kyunghyuncho/neurips-whisper/pkg/response"
)

const viewerKey = "viewer"

// SessionCookie is the cookie the session token travels in.
const SessionCookie = "session"

// ResolveViewer loads the current viewer from the session cookie, if any.
// It never fails the request: a missing or invalid cookie just means an
// anonymous viewer.
func ResolveViewer(mgr *auth.Manager, users repository.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookie)
		if err != nil || token == "" {
			c.Next()
			return
		}
		email, err := mgr.VerifySession(token)
		if err != nil {
			c.Next()
			return
		}
		user, err := users.GetByEmail(c.Request.Context(), email)
		if err == nil && user != nil {
			c.Set(viewerKey, user)
		}
		c.Next()
	}
}

// RequireViewer aborts with 401 unless ResolveViewer found a user.
func RequireViewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Viewer(c) == nil {
			response.Unauthorized(c, "sign in required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// Viewer returns the resolved user, or nil for anonymous requests.
func Viewer(c *gin.Context) *model.User {
	if v, ok := c.Get(viewerKey); ok {
		if u, ok := v.(*model.User); ok {
			return u
		}
	}
	return nil
}
