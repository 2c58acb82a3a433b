package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kyunghyuncho/neurips-whisper/pkg/logger"
)

// FeedChannel is the single logical channel every message-created event
// goes out on.
const FeedChannel = "neurips_feed"

// CanonicalEvent is the broadcast payload for "a message now exists". It is
// ephemeral: transmitted to live sessions, never persisted.
type CanonicalEvent struct {
	ID             int64     `json:"id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	AuthorID       int64     `json:"user_id"`
	AuthorEmail    string    `json:"user_email"`
	ParentID       *int64    `json:"parent_id"`
	ParentAuthorID *int64    `json:"parent_author_id"`
}

// Hub publishes canonical events over redis pub/sub. Delivery is
// fire-and-forget: no acknowledgment, no retry, and events published with
// no subscribers are dropped.
type Hub struct {
	rdb     *redis.Client
	channel string
}

func NewHub(rdb *redis.Client) *Hub {
	return &Hub{rdb: rdb, channel: FeedChannel}
}

func (h *Hub) Publish(ctx context.Context, ev CanonicalEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return h.rdb.Publish(ctx, h.channel, payload).Err()
}

// Subscribe opens an independent event stream for one session. Every
// subscriber receives every event in publish order. The returned stop
// function tears the subscription down; after calling it the channel
// closes once drained.
func (h *Hub) Subscribe(ctx context.Context) (<-chan CanonicalEvent, func()) {
	ps := h.rdb.Subscribe(ctx, h.channel)
	out := make(chan CanonicalEvent, 16)

	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev CanonicalEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("hub: drop malformed event", zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = ps.Close() }
}
