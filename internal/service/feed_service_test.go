package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kyunghyuncho/neurips-whisper/internal/cache"
	"github.com/kyunghyuncho/neurips-whisper/internal/model"
	"github.com/kyunghyuncho/neurips-whisper/internal/repository"
)

type feedEnv struct {
	db       *gorm.DB
	activity *cache.ActivityCache
	feed     *FeedService
	hub      *Hub
	notifs   repository.NotificationRepository
	audit    repository.AuditRepository
	users    repository.UserRepository
}

func newFeedEnv(t *testing.T) *feedEnv {
	t.Helper()
	db := setupDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	activity := cache.NewActivityCache(rdb)
	recorder := NewActivityRecorder(activity, 100)
	stop := recorder.Start(1)
	t.Cleanup(func() { _ = stop(context.Background()) })

	messages := repository.NewMessageRepository(db)
	users := repository.NewUserRepository(db)
	notifs := repository.NewNotificationRepository(db)
	audit := repository.NewAuditRepository(db)
	hub := NewHub(rdb)
	superUsers := map[string]struct{}{"root@lab.edu": {}}

	return &feedEnv{
		db:       db,
		activity: activity,
		feed:     NewFeedService(messages, users, notifs, audit, recorder, hub, superUsers),
		hub:      hub,
		notifs:   notifs,
		audit:    audit,
		users:    users,
	}
}

func TestPostMessageValidation(t *testing.T) {
	env := newFeedEnv(t)
	ctx := context.Background()
	u := seedUser(t, env.db, "u@lab.edu")

	// A long URL weighs one character, so this stays exactly at the limit.
	long := strings.Repeat("a", 138) + " https://arxiv.org/abs/2401.00001"
	_, err := env.feed.PostMessage(ctx, u, long, nil)
	require.NoError(t, err)

	_, err = env.feed.PostMessage(ctx, u, strings.Repeat("a", 141), nil)
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = env.feed.PostMessage(ctx, u, "see https://example.com/spam", nil)
	assert.ErrorIs(t, err, ErrURLNotAllowed)

	missing := int64(9999)
	_, err = env.feed.PostMessage(ctx, u, "orphan reply", &missing)
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestPostMessageRecordsActivity(t *testing.T) {
	env := newFeedEnv(t)
	ctx := context.Background()
	u := seedUser(t, env.db, "u@lab.edu")

	_, err := env.feed.PostMessage(ctx, u, "poster session on #diffusion models", nil)
	require.NoError(t, err)

	// The recorder works off the post path; wait for the counter to land.
	require.Eventually(t, func() bool {
		counts, err := env.activity.TrendingCounts(ctx, time.Now())
		return err == nil && counts["diffusion"] == 1
	}, 2*time.Second, 20*time.Millisecond)

	tags, err := env.activity.ListHashtags(ctx, time.Now(), nil)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "diffusion", tags[0].Tag)
	assert.Equal(t, int64(1), tags[0].Count)
}

func TestPostReplyPersistsNotification(t *testing.T) {
	env := newFeedEnv(t)
	ctx := context.Background()
	author := seedUser(t, env.db, "author@lab.edu")
	replier := seedUser(t, env.db, "replier@lab.edu")

	root, err := env.feed.PostMessage(ctx, author, "anyone at the workshop?", nil)
	require.NoError(t, err)

	_, err = env.feed.PostMessage(ctx, replier, "yes, hall B", &root.ID)
	require.NoError(t, err)

	ns, err := env.notifs.ListForUser(ctx, author.ID, 10)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.False(t, ns[0].IsRead)

	// Replying to yourself does not notify.
	_, err = env.feed.PostMessage(ctx, author, "bumping my own post", &root.ID)
	require.NoError(t, err)
	ns, err = env.notifs.ListForUser(ctx, author.ID, 10)
	require.NoError(t, err)
	assert.Len(t, ns, 1)
}

func TestPostMessageReachesLiveSession(t *testing.T) {
	env := newFeedEnv(t)
	ctx := context.Background()
	author := seedUser(t, env.db, "author@lab.edu")
	watcher := seedUser(t, env.db, "watcher@lab.edu")

	events, stop := env.hub.Subscribe(ctx)
	sess := NewLiveSession(watcher, Filters{}, events, stop)
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sess.Run(sessCtx)

	_, err := env.feed.PostMessage(ctx, author, "keynote starting #neurips", nil)
	require.NoError(t, err)

	u := recvUpdate(t, sess)
	assert.Equal(t, "notification", u.Event)
	assert.Contains(t, u.Data, NotificationNewMessage)

	u = recvUpdate(t, sess)
	assert.Equal(t, "message", u.Event)
	assert.Contains(t, u.Data, "author@lab.edu")
	assert.Contains(t, u.Data, `toggleHashtag('neurips')`)
}

func TestReplyNotifiesParentAuthorSession(t *testing.T) {
	env := newFeedEnv(t)
	ctx := context.Background()
	author := seedUser(t, env.db, "author@lab.edu")
	replier := seedUser(t, env.db, "replier@lab.edu")

	root, err := env.feed.PostMessage(ctx, author, "thoughts on the tutorial?", nil)
	require.NoError(t, err)

	events, stop := env.hub.Subscribe(ctx)
	sess := NewLiveSession(author, Filters{}, events, stop)
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sess.Run(sessCtx)

	_, err = env.feed.PostMessage(ctx, replier, "loved the second half", &root.ID)
	require.NoError(t, err)

	u := recvUpdate(t, sess)
	assert.Equal(t, "notification", u.Event)
	assert.Contains(t, u.Data, NotificationNewReply)
	assert.Contains(t, u.Data, "replier@lab.edu")

	u = recvUpdate(t, sess)
	assert.Equal(t, "message", u.Event)
}

func TestToggleStar(t *testing.T) {
	env := newFeedEnv(t)
	ctx := context.Background()
	u := seedUser(t, env.db, "u@lab.edu")

	msg, err := env.feed.PostMessage(ctx, u, "star me", nil)
	require.NoError(t, err)

	starred, err := env.feed.ToggleStar(ctx, u, msg.ID)
	require.NoError(t, err)
	assert.True(t, starred)

	starred, err = env.feed.ToggleStar(ctx, u, msg.ID)
	require.NoError(t, err)
	assert.False(t, starred)

	_, err = env.feed.ToggleStar(ctx, u, 9999)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestDeleteMessageAuthorization(t *testing.T) {
	env := newFeedEnv(t)
	ctx := context.Background()
	root := seedUser(t, env.db, "root@lab.edu")
	u := seedUser(t, env.db, "u@lab.edu")

	msg, err := env.feed.PostMessage(ctx, u, "to be removed", nil)
	require.NoError(t, err)
	reply, err := env.feed.PostMessage(ctx, root, "child goes too", &msg.ID)
	require.NoError(t, err)

	err = env.feed.DeleteMessage(ctx, u, msg.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	require.NoError(t, env.feed.DeleteMessage(ctx, root, msg.ID))

	var cnt int64
	require.NoError(t, env.db.Model(&model.Message{}).
		Where("id IN ?", []int64{msg.ID, reply.ID}).Count(&cnt).Error)
	assert.Zero(t, cnt)

	logs, err := env.audit.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "message_deleted", logs[0].Action)
	assert.Equal(t, "root@lab.edu", logs[0].UserEmail)
	assert.Contains(t, logs[0].Details, "to be removed")

	err = env.feed.DeleteMessage(ctx, root, msg.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestBanUser(t *testing.T) {
	env := newFeedEnv(t)
	ctx := context.Background()
	root := seedUser(t, env.db, "root@lab.edu")
	troll := seedUser(t, env.db, "troll@lab.edu")
	bystander := seedUser(t, env.db, "bystander@lab.edu")

	msg, err := env.feed.PostMessage(ctx, troll, "spam spam spam", nil)
	require.NoError(t, err)
	_, err = env.feed.ToggleStar(ctx, troll, msg.ID)
	require.NoError(t, err)

	err = env.feed.BanUser(ctx, bystander, troll.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	err = env.feed.BanUser(ctx, root, 9999)
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, env.feed.BanUser(ctx, root, troll.ID))

	// Account and its messages are gone.
	gone, err := env.users.GetByID(ctx, troll.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	var cnt int64
	require.NoError(t, env.db.Model(&model.Message{}).
		Where("user_id = ?", troll.ID).Count(&cnt).Error)
	assert.Zero(t, cnt)

	// The address cannot sign back in.
	_, err = env.users.GetOrCreateByEmail(ctx, "troll@lab.edu")
	assert.ErrorIs(t, err, repository.ErrEmailBlacklisted)

	logs, err := env.audit.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "user_banned", logs[0].Action)
	assert.Equal(t, "root@lab.edu", logs[0].UserEmail)
	assert.Contains(t, logs[0].Details, "troll@lab.edu")

	// Banning twice reports the account as already gone.
	err = env.feed.BanUser(ctx, root, troll.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMyMessages(t *testing.T) {
	env := newFeedEnv(t)
	ctx := context.Background()
	u := seedUser(t, env.db, "u@lab.edu")
	v := seedUser(t, env.db, "v@lab.edu")

	mine, err := env.feed.PostMessage(ctx, u, "my own post", nil)
	require.NoError(t, err)
	theirs, err := env.feed.PostMessage(ctx, v, "someone else's post", nil)
	require.NoError(t, err)

	_, err = env.feed.ToggleStar(ctx, u, theirs.ID)
	require.NoError(t, err)

	own, starred, err := env.feed.MyMessages(ctx, u)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.ID, own[0].ID)
	assert.False(t, own[0].IsStarred)
	require.Len(t, starred, 1)
	assert.Equal(t, theirs.ID, starred[0].ID)
	assert.True(t, starred[0].IsStarred)
}

func TestExport(t *testing.T) {
	env := newFeedEnv(t)
	ctx := context.Background()
	root := seedUser(t, env.db, "root@lab.edu")
	u := seedUser(t, env.db, "u@lab.edu")

	_, err := env.feed.PostMessage(ctx, u, "post one", nil)
	require.NoError(t, err)
	other, err := env.feed.PostMessage(ctx, root, "post two", nil)
	require.NoError(t, err)
	_, err = env.feed.ToggleStar(ctx, u, other.ID)
	require.NoError(t, err)

	data, err := env.feed.Export(ctx, u)
	require.NoError(t, err)
	assert.Len(t, data["my_messages"], 1)
	assert.Len(t, data["starred_messages"], 1)
	assert.Equal(t, "u@lab.edu", data["my_messages"][0].AuthorEmail)

	data, err = env.feed.Export(ctx, root)
	require.NoError(t, err)
	assert.Len(t, data["all_messages"], 2)

	logs, err := env.audit.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, "data_downloaded", l.Action)
	}
}
