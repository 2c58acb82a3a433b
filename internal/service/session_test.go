package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyunghyuncho/neurips-whisper/internal/model"
)

func runSession(t *testing.T, viewer *model.User, filters Filters) (chan CanonicalEvent, *LiveSession, context.CancelFunc) {
	t.Helper()
	events := make(chan CanonicalEvent, 8)
	sess := NewLiveSession(viewer, filters, events, func() {})
	ctx, cancel := context.WithCancel(context.Background())
	go sess.Run(ctx)
	return events, sess, cancel
}

func recvUpdate(t *testing.T, sess *LiveSession) Update {
	t.Helper()
	select {
	case u, ok := <-sess.Updates():
		require.True(t, ok, "updates closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func expectNoUpdate(t *testing.T, sess *LiveSession) {
	t.Helper()
	select {
	case u := <-sess.Updates():
		t.Fatalf("unexpected update: %s %s", u.Event, u.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFiltersMatch(t *testing.T) {
	assert.True(t, Filters{}.Match("anything at all"))

	tagged := Filters{Tags: []string{"ml"}}
	assert.False(t, tagged.Match("no tags here"))
	assert.True(t, tagged.Match("#ml rocks"))

	search := Filters{Search: "neurips"}
	assert.False(t, search.Match("hello world"))
	assert.True(t, search.Match("see you at NeurIPS"))

	both := Filters{Tags: []string{"ml"}, Search: "poster"}
	assert.False(t, both.Match("#ml but nothing else"))
	assert.True(t, both.Match("#ml poster session"))
}

func TestSessionTagFilterSuppression(t *testing.T) {
	events, sess, cancel := runSession(t, nil, Filters{Tags: []string{"ml"}})
	defer cancel()

	// Replies bypass the notification path entirely for anonymous viewers,
	// so use replies to probe filtering in isolation.
	parent := int64(1)
	events <- CanonicalEvent{ID: 2, Content: "no tags here", ParentID: &parent, ParentAuthorID: &parent}
	expectNoUpdate(t, sess)

	events <- CanonicalEvent{ID: 3, Content: "#ml rocks", ParentID: &parent, ParentAuthorID: &parent, CreatedAt: time.Now()}
	u := recvUpdate(t, sess)
	assert.Equal(t, "message", u.Event)

	var frag Fragment
	require.NoError(t, json.Unmarshal([]byte(u.Data), &frag))
	assert.Equal(t, int64(3), frag.ID)
	require.NotNil(t, frag.ParentID)
	assert.Equal(t, parent, *frag.ParentID)
	assert.Contains(t, frag.Content, "toggleHashtag('ml')")
}

func TestSessionSearchFilter(t *testing.T) {
	events, sess, cancel := runSession(t, nil, Filters{Search: "neurips"})
	defer cancel()

	parent := int64(1)
	events <- CanonicalEvent{ID: 2, Content: "hello world", ParentID: &parent, ParentAuthorID: &parent}
	expectNoUpdate(t, sess)

	events <- CanonicalEvent{ID: 3, Content: "see you at NeurIPS", ParentID: &parent, ParentAuthorID: &parent}
	u := recvUpdate(t, sess)
	assert.Equal(t, "message", u.Event)
}

func TestSessionNotificationIntents(t *testing.T) {
	viewer := &model.User{ID: 10, Email: "u@lab.edu"}
	events, sess, cancel := runSession(t, viewer, Filters{})
	defer cancel()

	// A reply to the viewer's message: new_reply, then the fragment.
	viewerID := int64(10)
	parentID := int64(5)
	events <- CanonicalEvent{ID: 6, Content: "replying to you", AuthorID: 20, AuthorEmail: "v@lab.edu", ParentID: &parentID, ParentAuthorID: &viewerID}

	u := recvUpdate(t, sess)
	require.Equal(t, "notification", u.Event)
	var n Notification
	require.NoError(t, json.Unmarshal([]byte(u.Data), &n))
	assert.Equal(t, NotificationNewReply, n.Type)
	assert.Contains(t, n.Body, "v@lab.edu")

	u = recvUpdate(t, sess)
	assert.Equal(t, "message", u.Event)

	// A top-level post by someone else: new_message.
	events <- CanonicalEvent{ID: 7, Content: "hello all", AuthorID: 20, AuthorEmail: "v@lab.edu"}
	u = recvUpdate(t, sess)
	require.Equal(t, "notification", u.Event)
	require.NoError(t, json.Unmarshal([]byte(u.Data), &n))
	assert.Equal(t, NotificationNewMessage, n.Type)

	recvUpdate(t, sess) // fragment

	// The viewer's own post produces no notification.
	events <- CanonicalEvent{ID: 8, Content: "my own post", AuthorID: 10, AuthorEmail: "u@lab.edu"}
	u = recvUpdate(t, sess)
	assert.Equal(t, "message", u.Event)

	// A reply to a third party: no notification at all.
	otherID := int64(30)
	events <- CanonicalEvent{ID: 9, Content: "side conversation", AuthorID: 20, ParentID: &parentID, ParentAuthorID: &otherID}
	u = recvUpdate(t, sess)
	assert.Equal(t, "message", u.Event)
}

func TestSessionClosesOnCancel(t *testing.T) {
	_, sess, cancel := runSession(t, nil, Filters{})
	cancel()
	select {
	case _, ok := <-sess.Updates():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("updates not closed after cancel")
	}
}

func TestSessionClosesWhenSubscriptionEnds(t *testing.T) {
	events := make(chan CanonicalEvent)
	stopped := false
	sess := NewLiveSession(nil, Filters{}, events, func() { stopped = true })
	go sess.Run(context.Background())

	close(events)
	select {
	case _, ok := <-sess.Updates():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("updates not closed after subscription ended")
	}
	assert.True(t, stopped)
}
