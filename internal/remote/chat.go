package remote

import (
	"context"
	"slices"
	"sync"

	"github.com/coramini/relay-server-go/internal/config"
	"github.com/coramini/relay-server-go/internal/model"
	"github.com/coramini/relay-server-go/internal/relayclient"
)

// ChatCallback receives the messages newer than the cursor, oldest first,
// and the whole window as read, newest first.
type ChatCallback func(newer []model.ChatMessage, window []model.ChatMessage)

// ChatCursor follows one anchor's chat by the highest message id seen. Ids
// may have gaps; only their order matters. A message that becomes visible
// after a newer one (ids are assigned before the insert commits) is still
// delivered on the next poll that fires, provided it is inside the window by
// then.
type ChatCursor struct {
	client   *relayclient.Client
	anchorID string
	limit    int

	mu        sync.Mutex
	lastID    int64
	floor     int64
	delivered map[int64]struct{}
}

// NewChatCursor starts after lastSeenID; zero delivers the current window on
// the first poll.
func NewChatCursor(client *relayclient.Client, anchorID string, lastSeenID int64, limit int) *ChatCursor {
	if limit <= 0 {
		limit = config.DefaultChatLimit
	}
	return &ChatCursor{
		client:    client,
		anchorID:  anchorID,
		limit:     limit,
		lastID:    lastSeenID,
		floor:     lastSeenID,
		delivered: make(map[int64]struct{}),
	}
}

func (c *ChatCursor) LastSeenID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID
}

// Prime moves the cursor to the newest message without delivering anything.
func (c *ChatCursor) Prime(ctx context.Context) error {
	window, err := c.client.GetChat(ctx, c.anchorID, 1)
	if err != nil {
		return err
	}
	if len(window) > 0 {
		c.mu.Lock()
		c.lastID = max(c.lastID, window[0].ID)
		c.floor = c.lastID
		clear(c.delivered)
		c.mu.Unlock()
	}
	return nil
}

// PollNew re-reads the window and calls callback only when the newest id
// moved past the cursor. It reports whether callback ran.
func (c *ChatCursor) PollNew(ctx context.Context, callback ChatCallback) (bool, error) {
	window, err := c.client.GetChat(ctx, c.anchorID, c.limit)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if len(window) == 0 || window[0].ID <= c.lastID {
		c.mu.Unlock()
		return false, nil
	}
	c.lastID = window[0].ID

	var newer []model.ChatMessage
	visible := make(map[int64]struct{}, len(window))
	for _, msg := range window {
		visible[msg.ID] = struct{}{}
		if _, done := c.delivered[msg.ID]; done || msg.ID <= c.floor {
			continue
		}
		c.delivered[msg.ID] = struct{}{}
		newer = append(newer, msg)
	}
	// An id that left the window can never come back into it.
	for id := range c.delivered {
		if _, ok := visible[id]; !ok {
			delete(c.delivered, id)
		}
	}
	c.mu.Unlock()

	slices.Reverse(newer)

	callback(newer, window)
	return true, nil
}

// Post appends a message as sender to the session's anchor.
func (s *Session) Post(ctx context.Context, sender, message string, msgType model.ChatMessageType) (int64, error) {
	return s.client.PostChat(ctx, s.anchorID, sender, message, msgType)
}

func (s *Session) ChatCursor(lastSeenID int64, limit int) *ChatCursor {
	return NewChatCursor(s.client, s.anchorID, lastSeenID, limit)
}
