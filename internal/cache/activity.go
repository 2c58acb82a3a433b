// Package cache maintains the hashtag/term activity projection in redis.
// The relational store stays the source of truth; everything here is
// derived state that Rebuild can reconstruct from scratch.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kyunghyuncho/neurips-whisper/internal/model"
	"github.com/kyunghyuncho/neurips-whisper/pkg/textutil"
)

// ErrUnavailable wraps every store-adapter I/O failure. Callers degrade to
// "no trending data" instead of failing the operation that triggered the
// cache write.
var ErrUnavailable = errors.New("activity cache unavailable")

const (
	keyHashtagActivity = "hashtag_activity"
	keyTermActivity    = "term_activity"
	keyAllHashtags     = "all_hashtags"
	keyAllTerms        = "all_terms"
	keyHashtagCounts   = "hashtag_counts"

	// TrendingWindow is how far back hashtag activity counts as trending.
	TrendingWindow = time.Hour
	// TermRetention is the separate horizon for recent-search terms.
	TermRetention = 24 * time.Hour

	rebuildBatch = 500
)

// TagCount pairs a hashtag with its lifetime usage count.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

// MessageSource streams the durable message table for Rebuild.
type MessageSource interface {
	ForEachMessage(ctx context.Context, batchSize int, fn func(*model.Message) error) error
}

// ActivityCache tracks hashtag and term usage on redis: time-ordered
// activity sorted sets, all-time membership sets, and a lifetime counter
// hash. All operations are safe for concurrent use; the backing primitives
// are atomic per command.
type ActivityCache struct {
	rdb *redis.Client
}

func NewActivityCache(rdb *redis.Client) *ActivityCache {
	return &ActivityCache{rdb: rdb}
}

func score(ts time.Time) float64 {
	return float64(ts.UnixNano()) / float64(time.Second)
}

// member encodes a ZSET entry as "tag:messageID". Tags are word characters
// only, so the first colon always splits cleanly.
func member(tag string, messageID int64) string {
	return fmt.Sprintf("%s:%d", tag, messageID)
}

func memberTag(m string) string {
	if i := strings.IndexByte(m, ':'); i >= 0 {
		return m[:i]
	}
	return m
}

// RecordActivity registers one message's tags and terms at the given
// timestamp. Duplicate tags within a call are harmless (set semantics);
// the only failure mode is adapter I/O, surfaced as ErrUnavailable.
func (c *ActivityCache) RecordActivity(ctx context.Context, tags, terms []string, messageID int64, ts time.Time) error {
	pipe := c.rdb.Pipeline()
	s := score(ts)
	for _, tag := range tags {
		pipe.ZAdd(ctx, keyHashtagActivity, redis.Z{Score: s, Member: member(tag, messageID)})
		pipe.SAdd(ctx, keyAllHashtags, tag)
		pipe.HIncrBy(ctx, keyHashtagCounts, tag, 1)
	}
	for _, term := range terms {
		pipe.ZAdd(ctx, keyTermActivity, redis.Z{Score: s, Member: member(term, messageID)})
		pipe.SAdd(ctx, keyAllTerms, term)
	}
	// Opportunistic horizon cleanup keeps the term set from growing
	// unbounded between reads.
	pipe.ZRemRangeByScore(ctx, keyTermActivity, "-inf", formatScore(score(ts.Add(-TermRetention))))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Prune drops activity entries that fell out of their window: one hour for
// hashtags, 24 hours for terms. There is no background sweep; every
// trending read calls this first.
func (c *ActivityCache) Prune(ctx context.Context, now time.Time) error {
	pipe := c.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, keyHashtagActivity, "-inf", formatScore(score(now.Add(-TrendingWindow))))
	pipe.ZRemRangeByScore(ctx, keyTermActivity, "-inf", formatScore(score(now.Add(-TermRetention))))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// TrendingCounts prunes, then counts surviving hashtag activity entries per
// tag. The scan is bounded by the window, not by table size.
func (c *ActivityCache) TrendingCounts(ctx context.Context, now time.Time) (map[string]int64, error) {
	if err := c.Prune(ctx, now); err != nil {
		return nil, err
	}
	members, err := c.rdb.ZRange(ctx, keyHashtagActivity, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	counts := make(map[string]int64)
	for _, m := range members {
		counts[memberTag(m)]++
	}
	return counts, nil
}

// ListHashtags combines lifetime and trending counts into the sidebar
// ordering: trending desc, lifetime desc, then tag name for determinism.
// Selected tags move to the front in their original relative order and
// appear even with zero recorded usage.
func (c *ActivityCache) ListHashtags(ctx context.Context, now time.Time, selected []string) ([]TagCount, error) {
	trending, err := c.TrendingCounts(ctx, now)
	if err != nil {
		return nil, err
	}
	allTags, err := c.rdb.SMembers(ctx, keyAllHashtags).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	totals, err := c.rdb.HGetAll(ctx, keyHashtagCounts).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	type tagStat struct {
		tag      string
		total    int64
		trending int64
	}
	stats := make([]tagStat, 0, len(allTags))
	for _, tag := range allTags {
		var total int64
		fmt.Sscanf(totals[tag], "%d", &total)
		stats = append(stats, tagStat{tag: tag, total: total, trending: trending[tag]})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].trending != stats[j].trending {
			return stats[i].trending > stats[j].trending
		}
		if stats[i].total != stats[j].total {
			return stats[i].total > stats[j].total
		}
		return stats[i].tag < stats[j].tag
	})

	if len(selected) == 0 {
		out := make([]TagCount, len(stats))
		for i, s := range stats {
			out[i] = TagCount{Tag: s.tag, Count: s.total}
		}
		return out, nil
	}

	selSet := make(map[string]int64, len(selected))
	for _, tag := range selected {
		selSet[tag] = 0
	}
	var rest []TagCount
	for _, s := range stats {
		if _, ok := selSet[s.tag]; ok {
			selSet[s.tag] = s.total
		} else {
			rest = append(rest, TagCount{Tag: s.tag, Count: s.total})
		}
	}
	out := make([]TagCount, 0, len(stats)+len(selected))
	for _, tag := range selected {
		out = append(out, TagCount{Tag: tag, Count: selSet[tag]})
	}
	return append(out, rest...), nil
}

// Rebuild resets every cache collection and repopulates it from the durable
// store. Lifetime counters and all-time sets cover the entire history;
// activity sorted sets only get entries still inside their window. The call
// is idempotent and must complete before the process serves trending reads.
func (c *ActivityCache) Rebuild(ctx context.Context, source MessageSource, now time.Time) error {
	err := c.rdb.Del(ctx, keyHashtagActivity, keyTermActivity, keyAllHashtags, keyAllTerms, keyHashtagCounts).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	tagCutoff := now.Add(-TrendingWindow)
	termCutoff := now.Add(-TermRetention)
	counts := make(map[string]int64)

	pipe := c.rdb.Pipeline()
	queued := 0
	flush := func() error {
		if queued == 0 {
			return nil
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		pipe = c.rdb.Pipeline()
		queued = 0
		return nil
	}

	err = source.ForEachMessage(ctx, rebuildBatch, func(msg *model.Message) error {
		s := score(msg.CreatedAt)
		for _, tag := range textutil.ExtractHashtags(msg.Content) {
			pipe.SAdd(ctx, keyAllHashtags, tag)
			counts[tag]++
			queued++
			if !msg.CreatedAt.Before(tagCutoff) {
				pipe.ZAdd(ctx, keyHashtagActivity, redis.Z{Score: s, Member: member(tag, msg.ID)})
				queued++
			}
		}
		for _, term := range textutil.ExtractTerms(msg.Content) {
			pipe.SAdd(ctx, keyAllTerms, term)
			queued++
			if !msg.CreatedAt.Before(termCutoff) {
				pipe.ZAdd(ctx, keyTermActivity, redis.Z{Score: s, Member: member(term, msg.ID)})
				queued++
			}
		}
		if queued >= 1000 {
			return flush()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return fmt.Errorf("rebuild: scan messages: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}

	if len(counts) > 0 {
		fields := make(map[string]interface{}, len(counts))
		for tag, n := range counts {
			fields[tag] = n
		}
		if err := c.rdb.HSet(ctx, keyHashtagCounts, fields).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func formatScore(s float64) string {
	return fmt.Sprintf("%f", s)
}
