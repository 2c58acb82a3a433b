package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kyunghyuncho/neurips-whisper/internal/model"
	"github.com/kyunghyuncho/neurips-whisper/internal/repository"
	"github.com/kyunghyuncho/neurips-whisper/pkg/logger"
	"github.com/kyunghyuncho/neurips-whisper/pkg/textutil"
)

// MaxMessageLength is the weighted content limit; URLs weigh one character.
const MaxMessageLength = 140

// FeedService orchestrates the write path: validate, persist, record
// activity, notify the parent author, broadcast. Persistence failures abort
// before broadcast; cache and notification failures are isolated and never
// undo a committed message.
type FeedService struct {
	messages      repository.MessageRepository
	users         repository.UserRepository
	notifications repository.NotificationRepository
	audit         repository.AuditRepository
	recorder      *ActivityRecorder
	hub           *Hub
	superUsers    map[string]struct{}
}

func NewFeedService(
	messages repository.MessageRepository,
	users repository.UserRepository,
	notifications repository.NotificationRepository,
	audit repository.AuditRepository,
	recorder *ActivityRecorder,
	hub *Hub,
	superUsers map[string]struct{},
) *FeedService {
	return &FeedService{
		messages:      messages,
		users:         users,
		notifications: notifications,
		audit:         audit,
		recorder:      recorder,
		hub:           hub,
		superUsers:    superUsers,
	}
}

func (s *FeedService) IsSuperuser(u *model.User) bool {
	if u == nil {
		return false
	}
	_, ok := s.superUsers[strings.ToLower(u.Email)]
	return ok
}

// PostMessage creates a top-level post or a reply and fans it out.
func (s *FeedService) PostMessage(ctx context.Context, user *model.User, content string, parentID *int64) (*model.Message, error) {
	if textutil.WeightedLength(content) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	for _, word := range strings.Fields(content) {
		if strings.HasPrefix(word, "http") && !textutil.IsAllowedURL(word) {
			return nil, fmt.Errorf("%w: %s", ErrURLNotAllowed, word)
		}
	}

	var parent *model.Message
	if parentID != nil {
		var err error
		parent, err = s.messages.GetByID(ctx, *parentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, ErrParentNotFound
		}
	}

	msg := &model.Message{UserID: user.ID, Content: content, ParentID: parentID}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	msg.User = user

	// Activity recording is asynchronous; the write already committed and
	// cache health must not hold up the response.
	s.recorder.Enqueue(
		textutil.ExtractHashtags(content),
		textutil.ExtractTerms(content),
		msg.ID, msg.CreatedAt,
	)

	ev := CanonicalEvent{
		ID:          msg.ID,
		Content:     msg.Content,
		CreatedAt:   msg.CreatedAt,
		AuthorID:    user.ID,
		AuthorEmail: user.Email,
		ParentID:    parentID,
	}
	if parent != nil {
		ev.ParentAuthorID = &parent.UserID
		if parent.UserID != user.ID {
			n := &model.Notification{UserID: parent.UserID, MessageID: msg.ID}
			if err := s.notifications.Create(ctx, n); err != nil {
				logger.Warn("notification write failed",
					zap.Int64("message", msg.ID), zap.Error(err))
			}
		}
	}

	if err := s.hub.Publish(ctx, ev); err != nil {
		logger.Error("broadcast failed", zap.Int64("message", msg.ID), zap.Error(err))
	}
	return msg, nil
}

// ToggleStar flips the viewer's star on a message and reports the new state.
func (s *FeedService) ToggleStar(ctx context.Context, user *model.User, messageID int64) (bool, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, ErrMessageNotFound
	}
	return s.users.ToggleStar(ctx, user.ID, messageID)
}

// DeleteMessage removes a message and its descendants. Superusers only; the
// action is audit-logged.
func (s *FeedService) DeleteMessage(ctx context.Context, actor *model.User, messageID int64) error {
	if !s.IsSuperuser(actor) {
		return ErrNotAuthorized
	}
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrMessageNotFound
	}
	if err := s.messages.DeleteTree(ctx, messageID); err != nil {
		return err
	}
	if err := s.audit.Log(ctx, "message_deleted", actor.Email, map[string]interface{}{
		"message_id":      messageID,
		"content_snippet": snippet(msg.Content, 50),
	}); err != nil {
		logger.Warn("audit write failed", zap.Error(err))
	}
	return nil
}

// BanUser blacklists a user's email and deletes the account with all its
// messages. Superusers only; the action is audit-logged. A banned address
// can no longer sign back in.
func (s *FeedService) BanUser(ctx context.Context, actor *model.User, userID int64) error {
	if !s.IsSuperuser(actor) {
		return ErrNotAuthorized
	}
	target, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrUserNotFound
	}
	if err := s.users.Blacklist(ctx, target.Email, "Banned by superuser"); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	if err := s.audit.Log(ctx, "user_banned", actor.Email, map[string]interface{}{
		"banned_user_id":    userID,
		"banned_user_email": target.Email,
	}); err != nil {
		logger.Warn("audit write failed", zap.Error(err))
	}
	return nil
}

// MyMessages returns the viewer's own posts and starred messages, both
// newest first, with star state resolved against one starred-id set.
func (s *FeedService) MyMessages(ctx context.Context, user *model.User) (own, starredOut []*ThreadNode, err error) {
	posts, err := s.messages.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	starredMsgs, err := s.users.ListStarred(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	starredIDs, err := s.users.StarredIDs(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	render := func(msgs []*model.Message) []*ThreadNode {
		out := make([]*ThreadNode, len(msgs))
		for i, m := range msgs {
			out[i] = renderMessage(m, starredIDs, 0)
		}
		return out
	}
	return render(posts), render(starredMsgs), nil
}

// ExportMessage is the flat serialization used by the data download.
type ExportMessage struct {
	ID          int64  `json:"id"`
	Content     string `json:"content"`
	CreatedAt   string `json:"created_at"`
	AuthorEmail string `json:"author_email"`
	ParentID    *int64 `json:"parent_id"`
}

// Export returns the viewer's posts and starred messages; superusers get
// the entire message table. Both variants are audit-logged.
func (s *FeedService) Export(ctx context.Context, user *model.User) (map[string][]ExportMessage, error) {
	data := make(map[string][]ExportMessage)
	if s.IsSuperuser(user) {
		var all []ExportMessage
		err := s.messages.ForEachMessage(ctx, 500, func(m *model.Message) error {
			all = append(all, exportMessage(m))
			return nil
		})
		if err != nil {
			return nil, err
		}
		data["all_messages"] = all
		s.logExport(ctx, user, "full system download by superuser")
		return data, nil
	}

	posts, err := s.messages.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	starred, err := s.users.ListStarred(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	data["my_messages"] = exportMessages(posts)
	data["starred_messages"] = exportMessages(starred)
	s.logExport(ctx, user, "user data download")
	return data, nil
}

func (s *FeedService) logExport(ctx context.Context, user *model.User, detail string) {
	if err := s.audit.Log(ctx, "data_downloaded", user.Email, detail); err != nil {
		logger.Warn("audit write failed", zap.Error(err))
	}
}

func exportMessage(m *model.Message) ExportMessage {
	out := ExportMessage{
		ID:        m.ID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		ParentID:  m.ParentID,
	}
	if m.User != nil {
		out.AuthorEmail = m.User.Email
	}
	return out
}

func exportMessages(msgs []*model.Message) []ExportMessage {
	out := make([]ExportMessage, len(msgs))
	for i, m := range msgs {
		out[i] = exportMessage(m)
	}
	return out
}
