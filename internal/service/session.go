package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kyunghyuncho/neurips-whisper/internal/model"
	"github.com/kyunghyuncho/neurips-whisper/pkg/logger"
	"github.com/kyunghyuncho/neurips-whisper/pkg/textutil"
)

// Filters are the viewer-supplied stream filters. Tags match if the content
// contains any selected "#tag"; Search is a case-insensitive substring.
// Both empty means everything passes.
type Filters struct {
	Tags   []string
	Search string
}

func (f Filters) Match(content string) bool {
	if len(f.Tags) > 0 {
		hit := false
		for _, tag := range f.Tags {
			if strings.Contains(content, "#"+tag) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if f.Search != "" {
		if !strings.Contains(strings.ToLower(content), strings.ToLower(f.Search)) {
			return false
		}
	}
	return true
}

// Notification intent types derived per event per session.
const (
	NotificationNewReply   = "new_reply"
	NotificationNewMessage = "new_message"
)

// Notification is the per-viewer intent pushed alongside fragments. At most
// one per event per session.
type Notification struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Fragment is the render-ready payload for one event: linkified content,
// formatted time, author, and - for replies - the parent node the client
// should insert under instead of prepending to the top of the stream.
type Fragment struct {
	ID           int64  `json:"id"`
	Content      string `json:"content"`
	CreatedAt    string `json:"created_at"`
	CreatedAtISO string `json:"created_at_iso"`
	Author       string `json:"author"`
	AuthorID     int64  `json:"author_id"`
	ParentID     *int64 `json:"parent_id,omitempty"`
}

// Update is one server-sent event: a named event with a JSON payload.
type Update struct {
	Event string
	Data  string
}

// LiveSession is the per-connection state machine. It owns one hub
// subscription, applies the viewer's filters, derives notification intents,
// and pushes updates until the context is cancelled or the subscription
// closes. Sessions share no mutable state with each other.
type LiveSession struct {
	id       string
	viewer   *model.User // nil for anonymous viewers
	filters  Filters
	events   <-chan CanonicalEvent
	stopSub  func()
	updates  chan Update
}

func NewLiveSession(viewer *model.User, filters Filters, events <-chan CanonicalEvent, stopSub func()) *LiveSession {
	return &LiveSession{
		id:      uuid.NewString(),
		viewer:  viewer,
		filters: filters,
		events:  events,
		stopSub: stopSub,
		updates: make(chan Update, 16),
	}
}

func (s *LiveSession) ID() string { return s.id }

// Updates is the stream consumed by the transport. It closes when the
// session terminates.
func (s *LiveSession) Updates() <-chan Update { return s.updates }

// Run processes events sequentially until disconnect or shutdown. The
// subscription is torn down on exit so the hub never fans out to a dead
// connection.
func (s *LiveSession) Run(ctx context.Context) {
	defer func() {
		s.stopSub()
		close(s.updates)
	}()
	logger.Debug("live session started", zap.String("session", s.id))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			if !s.handle(ctx, ev) {
				return
			}
		}
	}
}

func (s *LiveSession) handle(ctx context.Context, ev CanonicalEvent) bool {
	if n := s.notificationFor(ev); n != nil {
		if !s.push(ctx, Update{Event: "notification", Data: marshal(n)}) {
			return false
		}
	}
	if !s.filters.Match(ev.Content) {
		return true
	}
	frag := Fragment{
		ID:           ev.ID,
		Content:      textutil.Linkify(ev.Content),
		CreatedAt:    ev.CreatedAt.Format("15:04"),
		CreatedAtISO: ev.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Author:       ev.AuthorEmail,
		AuthorID:     ev.AuthorID,
		ParentID:     ev.ParentID,
	}
	return s.push(ctx, Update{Event: "message", Data: marshal(frag)})
}

// notificationFor derives at most one intent per event: a reply to the
// viewer's own message wins over the generic new-top-level-post signal, and
// the author never gets notified about their own post.
func (s *LiveSession) notificationFor(ev CanonicalEvent) *Notification {
	if s.viewer != nil && ev.AuthorID == s.viewer.ID {
		return nil
	}
	if ev.ParentAuthorID != nil && s.viewer != nil && *ev.ParentAuthorID == s.viewer.ID {
		return &Notification{
			Type:  NotificationNewReply,
			Title: "New Reply",
			Body:  fmt.Sprintf("New reply from %s: %s", ev.AuthorEmail, snippet(ev.Content, 50)),
		}
	}
	if ev.ParentID == nil {
		return &Notification{
			Type:  NotificationNewMessage,
			Title: "New Message",
			Body:  fmt.Sprintf("New message from %s", ev.AuthorEmail),
		}
	}
	return nil
}

func (s *LiveSession) push(ctx context.Context, u Update) bool {
	select {
	case s.updates <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

func snippet(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "..."
}

func marshal(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
