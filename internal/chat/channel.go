package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/npezzotti/go-roomsync/internal/stats"
	"github.com/npezzotti/go-roomsync/internal/store"
)

// Channel streams and appends messages for one room at a time. It holds
// at most one live subscription: subscribing to a new room closes the
// previous feed first, so snapshots from two rooms can never interleave.
type Channel struct {
	store store.RoomSyncStore
	log   *log.Logger
	stats stats.StatsProvider

	mu     sync.Mutex
	feed   *store.MessageFeed
	roomId string
}

func NewChannel(st store.RoomSyncStore, logger *log.Logger, sp stats.StatsProvider) *Channel {
	return &Channel{store: st, log: logger, stats: sp}
}

// Subscribe opens a live subscription on the room's message sequence,
// ordered by server-assigned timestamp ascending. Each emission is the
// full current sequence. Any previously active subscription is closed
// before the new one opens.
func (c *Channel) Subscribe(ctx context.Context, roomId string) (*store.MessageFeed, error) {
	if roomId == "" {
		return nil, NewValidationError("room id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.feed != nil {
		c.log.Printf("switching message subscription from %q to %q", c.roomId, roomId)
		c.feed.Close()
		c.feed = nil
		c.stats.Decr(stats.ActiveMessageWatches)
	}

	feed, err := c.store.WatchMessages(ctx, roomId)
	if err != nil {
		return nil, fmt.Errorf("subscribe to room %q: %w", roomId, err)
	}

	c.feed = feed
	c.roomId = roomId
	c.stats.Incr(stats.ActiveMessageWatches)
	return feed, nil
}

// Room returns the id of the currently subscribed room, if any.
func (c *Channel) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomId
}

// Append persists a message with a server-assigned timestamp. Empty or
// whitespace-only text is rejected locally and never submitted; store
// rejections (non-member sender, missing room) are surfaced, never
// swallowed.
func (c *Channel) Append(ctx context.Context, roomId, senderId, text string) (store.Message, error) {
	if roomId == "" {
		return store.Message{}, NewValidationError("room id is required")
	}
	if senderId == "" {
		return store.Message{}, NewValidationError("sender id is required")
	}
	if strings.TrimSpace(text) == "" {
		return store.Message{}, NewValidationError("message text is empty")
	}

	msg, err := c.store.AppendMessage(ctx, roomId, senderId, text)
	if err != nil {
		return store.Message{}, fmt.Errorf("append to room %q: %w", roomId, err)
	}

	c.stats.Incr(stats.MessagesAppended)
	return msg, nil
}

// Close releases the active subscription, if any.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.feed != nil {
		c.feed.Close()
		c.feed = nil
		c.roomId = ""
		c.stats.Decr(stats.ActiveMessageWatches)
	}
}
