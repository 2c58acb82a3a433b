package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kyunghyuncho/neurips-whisper/internal/model"
	"github.com/kyunghyuncho/neurips-whisper/internal/repository"
	"github.com/kyunghyuncho/neurips-whisper/pkg/textutil"
)

const (
	// ThreadDepth is how many reply levels are eagerly assembled. Deeper
	// replies are omitted; callers re-issue the assembler at a deeper node.
	ThreadDepth = 4
	// FeedPageSize is the fixed page size for feed and history queries.
	FeedPageSize = 30

	// maxAncestorWalk bounds root resolution. Any chain longer than this is
	// treated as corrupt rather than walked forever.
	maxAncestorWalk = 10000
)

// ThreadNode is one rendered message in a reply tree: messages stored flat
// by id, materialized into a tree by explicit bounded-depth traversal.
type ThreadNode struct {
	ID           int64         `json:"id"`
	Content      string        `json:"content"`
	CreatedAt    string        `json:"created_at"`
	CreatedAtISO string        `json:"created_at_iso"`
	Author       string        `json:"author"`
	AuthorID     int64         `json:"author_id"`
	ParentID     *int64        `json:"parent_id,omitempty"`
	ParentAuthor string        `json:"parent_author,omitempty"`
	IsStarred    bool          `json:"is_starred"`
	IsFocused    bool          `json:"is_focused"`
	Replies      []*ThreadNode `json:"replies"`
}

// ThreadService reconstructs conversation trees and feed pages from the
// durable store.
type ThreadService struct {
	messages repository.MessageRepository
	users    repository.UserRepository
}

func NewThreadService(messages repository.MessageRepository, users repository.UserRepository) *ThreadService {
	return &ThreadService{messages: messages, users: users}
}

// ResolveRoot walks parent references up from id until a top-level message
// is found. The walk is iterative; a cycle in storage surfaces as
// ErrThreadIntegrity instead of looping.
func (s *ThreadService) ResolveRoot(ctx context.Context, id int64) (*model.Message, error) {
	seen := make(map[int64]struct{})
	current := id
	for steps := 0; steps < maxAncestorWalk; steps++ {
		if _, ok := seen[current]; ok {
			return nil, fmt.Errorf("%w: cycle at message %d", ErrThreadIntegrity, current)
		}
		seen[current] = struct{}{}

		msg, err := s.messages.GetByID(ctx, current)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			if current == id {
				return nil, ErrMessageNotFound
			}
			return nil, fmt.Errorf("%w: dangling parent %d", ErrThreadIntegrity, current)
		}
		if msg.ParentID == nil {
			return msg, nil
		}
		current = *msg.ParentID
	}
	return nil, fmt.Errorf("%w: ancestor chain exceeds %d", ErrThreadIntegrity, maxAncestorWalk)
}

// GetThread resolves the thread root for id and assembles the tree down to
// ThreadDepth reply levels, flagging the originally requested message.
func (s *ThreadService) GetThread(ctx context.Context, id int64, viewer *model.User) (*ThreadNode, error) {
	root, err := s.ResolveRoot(ctx, id)
	if err != nil {
		return nil, err
	}
	starred, err := s.starredFor(ctx, viewer)
	if err != nil {
		return nil, err
	}
	nodes, err := s.assemble(ctx, []*model.Message{root}, starred, id)
	if err != nil {
		return nil, err
	}
	return nodes[0], nil
}

// ListFeed returns one page of the feed, newest first, each top-level item
// carrying its reply tree. nextCursor is the last item's id, or nil when
// the page came up short of the limit.
func (s *ThreadService) ListFeed(ctx context.Context, filter repository.FeedFilter, cursor int64, viewer *model.User) ([]*ThreadNode, *int64, error) {
	msgs, err := s.messages.ListFeed(ctx, filter, cursor, FeedPageSize)
	if err != nil {
		return nil, nil, err
	}
	starred, err := s.starredFor(ctx, viewer)
	if err != nil {
		return nil, nil, err
	}
	nodes, err := s.assemble(ctx, msgs, starred, 0)
	if err != nil {
		return nil, nil, err
	}
	var nextCursor *int64
	if len(msgs) == FeedPageSize {
		last := msgs[len(msgs)-1].ID
		nextCursor = &last
	}
	return nodes, nextCursor, nil
}

func (s *ThreadService) starredFor(ctx context.Context, viewer *model.User) (map[int64]struct{}, error) {
	if viewer == nil {
		return nil, nil
	}
	return s.users.StarredIDs(ctx, viewer.ID)
}

// assemble renders the given messages and eagerly loads ThreadDepth levels
// of replies beneath them, one query per level.
func (s *ThreadService) assemble(ctx context.Context, roots []*model.Message, starred map[int64]struct{}, focusID int64) ([]*ThreadNode, error) {
	byID := make(map[int64]*ThreadNode)
	out := make([]*ThreadNode, 0, len(roots))
	frontier := make([]int64, 0, len(roots))
	for _, msg := range roots {
		node := renderMessage(msg, starred, focusID)
		byID[msg.ID] = node
		out = append(out, node)
		frontier = append(frontier, msg.ID)
	}
	for depth := 0; depth < ThreadDepth && len(frontier) > 0; depth++ {
		children, err := s.messages.ListByParentIDs(ctx, frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, child := range children {
			parent, ok := byID[*child.ParentID]
			if !ok {
				continue
			}
			node := renderMessage(child, starred, focusID)
			node.ParentAuthor = parent.Author
			parent.Replies = append(parent.Replies, node)
			byID[child.ID] = node
			frontier = append(frontier, child.ID)
		}
	}
	return out, nil
}

func renderMessage(msg *model.Message, starred map[int64]struct{}, focusID int64) *ThreadNode {
	node := &ThreadNode{
		ID:           msg.ID,
		Content:      textutil.Linkify(msg.Content),
		CreatedAt:    msg.CreatedAt.Format("15:04"),
		CreatedAtISO: msg.CreatedAt.Format(time.RFC3339),
		AuthorID:     msg.UserID,
		ParentID:     msg.ParentID,
		IsFocused:    focusID != 0 && msg.ID == focusID,
		Replies:      []*ThreadNode{},
	}
	if msg.User != nil {
		node.Author = msg.User.Email
	}
	if msg.Parent != nil && msg.Parent.User != nil {
		node.ParentAuthor = msg.Parent.User.Email
	}
	if starred != nil {
		_, node.IsStarred = starred[msg.ID]
	}
	return node
}
