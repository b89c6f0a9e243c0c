package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/npezzotti/go-roomsync/internal/stats"
	"github.com/npezzotti/go-roomsync/internal/store"
	"github.com/redis/go-redis/v9"
)

// Notification is the title/body pair shown to a user whose room
// received a message while they were away.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Relay delivers a notification to a single user. Implementations own
// the actual transport; the notifier only decides who gets notified.
type Relay interface {
	Push(ctx context.Context, uid string, n Notification) error
}

// LogRelay writes notifications to the process log. Used in development
// and in tests.
type LogRelay struct {
	log *log.Logger
}

func NewLogRelay(logger *log.Logger) *LogRelay {
	return &LogRelay{log: logger}
}

func (r *LogRelay) Push(_ context.Context, uid string, n Notification) error {
	r.log.Printf("notify %q: %s: %s", uid, n.Title, n.Body)
	return nil
}

// RedisRelay publishes notifications to a per-user Redis channel, where
// an external delivery worker picks them up.
type RedisRelay struct {
	client *redis.Client
	prefix string
}

func NewRedisRelay(addr string) *RedisRelay {
	return &RedisRelay{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: "roomsync:notify:",
	}
}

func (r *RedisRelay) Push(ctx context.Context, uid string, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := r.client.Publish(ctx, r.prefix+uid, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	return nil
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}

// Notifier observes the store's append feed and pushes a notification to
// every room member except the sender. It is fully decoupled from the
// synchronization core: it consumes the same store contract and nothing
// else.
type Notifier struct {
	store store.RoomSyncStore
	relay Relay
	log   *log.Logger
	stats stats.StatsProvider

	mu   sync.Mutex
	feed *store.AppendFeed
}

func NewNotifier(st store.RoomSyncStore, relay Relay, logger *log.Logger, sp stats.StatsProvider) *Notifier {
	return &Notifier{store: st, relay: relay, log: logger, stats: sp}
}

// Run consumes the append feed until Stop is called, the feed ends, or
// ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	feed, err := n.store.WatchAppends(ctx)
	if err != nil {
		return fmt.Errorf("watch appends: %w", err)
	}

	n.mu.Lock()
	n.feed = feed
	n.mu.Unlock()

	for {
		select {
		case msg, ok := <-feed.Events:
			if !ok {
				return nil
			}
			n.dispatch(ctx, msg)
		case <-ctx.Done():
			feed.Close()
			return ctx.Err()
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, msg store.Message) {
	room, err := n.store.GetRoom(ctx, msg.RoomId)
	if err != nil {
		n.log.Printf("notify: get room %q: %v", msg.RoomId, err)
		return
	}

	title := room.Name
	if title == "" {
		title = "New message"
	}

	for _, member := range room.Members {
		if member == msg.SenderId {
			continue
		}

		if err := n.relay.Push(ctx, member, Notification{Title: title, Body: msg.Text}); err != nil {
			n.log.Printf("notify %q for room %q: %v", member, room.Id, err)
			continue
		}

		n.stats.Incr(stats.NotificationsPushed)
	}
}

// Stop releases the append feed, unblocking Run.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.feed != nil {
		n.feed.Close()
		n.feed = nil
	}
}
