// feedseed populates a local database with conference chatter, rebuilds the
// activity cache against a local redis, and prints the resulting trending
// sidebar. Useful for demoing the feed without real traffic.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kyunghyuncho/neurips-whisper/internal/cache"
	"github.com/kyunghyuncho/neurips-whisper/internal/model"
	"github.com/kyunghyuncho/neurips-whisper/internal/repository"
)

var topics = []string{
	"#ml new results on scaling laws",
	"#posters session B is packed, come by booth 42",
	"#coffee queue at the west hall is short right now",
	"#ml #transformers ablation surprises in our paper https://arxiv.org/abs/2301.00001",
	"anyone around for dinner near the venue? #social",
	"#workshops schedule changed, check the app",
	"great keynote this morning #keynote",
	"looking for collaborators on alignment evals #ml",
}

func main() {
	ctx := context.Background()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "file:whisper_seed.db"
	}
	db := must(gorm.Open(sqlite.Open(dsn), &gorm.Config{}))
	mustDo(db.AutoMigrate(&model.User{}, &model.Message{}, &model.Notification{}, &model.AuditLog{}, &model.BlacklistedEmail{}))

	const (
		userCount    = 50
		messageCount = 400
		replyRatio   = 0.4
	)

	fmt.Println("Seeding users and messages...")
	users := make([]model.User, userCount)
	for i := range users {
		users[i] = model.User{
			Email:           fmt.Sprintf("attendee_%02d@example.edu", i),
			TermsAcceptedAt: time.Now().UTC(),
		}
	}
	mustDo(db.CreateInBatches(&users, 100).Error)

	now := time.Now()
	var posted []model.Message
	for i := 0; i < messageCount; i++ {
		msg := model.Message{
			UserID:    users[rand.Intn(userCount)].ID,
			Content:   topics[rand.Intn(len(topics))],
			CreatedAt: now.Add(-time.Duration(rand.Intn(48*3600)) * time.Second),
		}
		if len(posted) > 0 && rand.Float64() < replyRatio {
			parent := posted[rand.Intn(len(posted))]
			msg.ParentID = &parent.ID
			if msg.CreatedAt.Before(parent.CreatedAt) {
				msg.CreatedAt = parent.CreatedAt.Add(time.Minute)
			}
		}
		mustDo(db.Create(&msg).Error)
		posted = append(posted, msg)
	}
	fmt.Printf("Seeded %d users, %d messages\n", userCount, messageCount)

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	activity := cache.NewActivityCache(rdb)
	messages := repository.NewMessageRepository(db)

	start := time.Now()
	mustDo(activity.Rebuild(ctx, messages, time.Now()))
	fmt.Printf("Cache rebuilt in %v\n", time.Since(start))

	tags := must(activity.ListHashtags(ctx, time.Now(), nil))
	fmt.Println("Trending sidebar:")
	for _, t := range tags {
		fmt.Printf("  #%-14s %d\n", t.Tag, t.Count)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
