package handler

import (
	"github.com/kyunghyuncho/neurips-whisper/internal/auth"
	"github.com/kyunghyuncho/neurips-whisper/internal/cache"
	"github.com/kyunghyuncho/neurips-whisper/internal/repository"
	"github.com/kyunghyuncho/neurips-whisper/internal/service"
)

// LinkSender delivers a magic sign-in link. Email delivery lives outside
// this service; the default implementation just logs the link.
type LinkSender interface {
	SendLoginLink(email, token string) error
}

// Handler bundles the collaborators every endpoint needs.
type Handler struct {
	feed          *service.FeedService
	threads       *service.ThreadService
	activity      *cache.ActivityCache
	hub           *service.Hub
	notifications repository.NotificationRepository
	audit         repository.AuditRepository
	users         repository.UserRepository
	authMgr       *auth.Manager
	links         LinkSender
}

func New(
	feed *service.FeedService,
	threads *service.ThreadService,
	activity *cache.ActivityCache,
	hub *service.Hub,
	notifications repository.NotificationRepository,
	audit repository.AuditRepository,
	users repository.UserRepository,
	authMgr *auth.Manager,
	links LinkSender,
) *Handler {
	return &Handler{
		feed:          feed,
		threads:       threads,
		activity:      activity,
		hub:           hub,
		notifications: notifications,
		audit:         audit,
		users:         users,
		authMgr:       authMgr,
		links:         links,
	}
}
