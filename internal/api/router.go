package api

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/kyunghyuncho/neurips-whisper/internal/api/handler"
	"github.com/kyunghyuncho/neurips-whisper/internal/api/middleware"
	"github.com/kyunghyuncho/neurips-whisper/internal/auth"
	"github.com/kyunghyuncho/neurips-whisper/internal/config"
	"github.com/kyunghyuncho/neurips-whisper/internal/repository"
)

// NewRouter wires every endpoint. The stream endpoint skips gzip so events
// flush immediately.
func NewRouter(cfg *config.Config, h *handler.Handler, mgr *auth.Manager, users repository.UserRepository) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("neurips-whisper"))
	if cfg.SentryDSN != "" {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	r.Use(middleware.ResolveViewer(mgr, users))

	readLimit := middleware.RateLimit(cfg.ReadRatePerMinute)
	postLimit := middleware.RateLimit(cfg.PostRatePerMinute)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/request_link", postLimit, h.RequestLink)
		authGroup.GET("/verify", h.VerifyLink)
		authGroup.POST("/logout", h.Logout)
		authGroup.GET("/me", h.Me)
	}

	feed := r.Group("/feed")
	{
		feed.POST("/post", postLimit, middleware.RequireViewer(), h.Post)
		feed.POST("/star/:id", readLimit, middleware.RequireViewer(), h.Star)
		feed.DELETE("/message/:id", middleware.RequireViewer(), h.Delete)
		feed.POST("/ban/:id", middleware.RequireViewer(), h.Ban)

		feed.GET("/stream", h.Stream)

		compressed := feed.Group("", gzip.Gzip(gzip.DefaultCompression))
		compressed.GET("/hashtags", readLimit, h.Hashtags)
		compressed.GET("/container", readLimit, h.Container)
		compressed.GET("/history", readLimit, h.History)
		compressed.GET("/thread/:id", readLimit, h.Thread)
		compressed.GET("/my_messages", readLimit, middleware.RequireViewer(), h.MyMessages)
		compressed.GET("/notifications", readLimit, middleware.RequireViewer(), h.Notifications)
		compressed.POST("/notifications/:id/read", middleware.RequireViewer(), h.MarkNotificationRead)
		compressed.GET("/download", middleware.RequireViewer(), h.Download)
		compressed.GET("/audit_logs", middleware.RequireViewer(), h.AuditLogs)
	}

	return r
}
