package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced room does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied is returned when a write is rejected because the
	// acting user is not in the room's member set.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTransient is returned when the backing store is temporarily
	// unavailable. Live watches recover from transient errors on their own.
	ErrTransient = errors.New("store unavailable")
)

type Room struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerId   string    `json:"owner_id,omitempty"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// HasMember reports whether uid is in the room's member set.
func (r Room) HasMember(uid string) bool {
	for _, m := range r.Members {
		if m == uid {
			return true
		}
	}
	return false
}

type Message struct {
	Id        string    `json:"id"`
	RoomId    string    `json:"room_id"`
	SenderId  string    `json:"sender_id"`
	Text      string    `json:"text"`
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateRoomParams struct {
	Name    string `json:"name"`
	OwnerId string `json:"-"`
}

// RoomFeed is a live subscription on the set of rooms a user belongs to.
// Snapshots delivers the full matching room set after every underlying
// change, most recent snapshot only. Close releases the listener; the
// channel is closed afterwards.
type RoomFeed struct {
	Snapshots <-chan []Room
	close     func()
}

func NewRoomFeed(ch <-chan []Room, close func()) *RoomFeed {
	return &RoomFeed{Snapshots: ch, close: close}
}

func (f *RoomFeed) Close() { f.close() }

// MessageFeed is a live subscription on one room's message sequence,
// ordered by server-assigned timestamp ascending. Each emission replaces
// the previous one.
type MessageFeed struct {
	Snapshots <-chan []Message
	close     func()
}

func NewMessageFeed(ch <-chan []Message, close func()) *MessageFeed {
	return &MessageFeed{Snapshots: ch, close: close}
}

func (f *MessageFeed) Close() { f.close() }

// AppendFeed delivers every newly appended message across all rooms.
// Delivery is best effort; slow consumers may miss events.
type AppendFeed struct {
	Events <-chan Message
	close  func()
}

func NewAppendFeed(ch <-chan Message, close func()) *AppendFeed {
	return &AppendFeed{Events: ch, close: close}
}

func (f *AppendFeed) Close() { f.close() }

// RoomSyncStore is the storage contract the synchronization core is built
// against. Implementations own all persisted state; callers never cache
// writable copies. All mutations surface ErrNotFound and
// ErrPermissionDenied rather than silently dropping the write.
type RoomSyncStore interface {
	Ping() error
	GetRoom(ctx context.Context, roomId string) (Room, error)
	// CreateRoom persists a new room with a store-generated id,
	// members = {owner} and a server-assigned creation time.
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	// EnsureRoom idempotently creates a room with a caller-derived id.
	// If the id already exists the stored room is returned unchanged.
	EnsureRoom(ctx context.Context, room Room) (Room, error)
	// AddMember adds uid to the room's member set via a set-union update.
	// The member set only ever grows; adding an existing member is a no-op.
	AddMember(ctx context.Context, roomId, uid string) error
	ListRooms(ctx context.Context, uid string) ([]Room, error)
	// AppendMessage persists a message with a store-assigned id, per-room
	// sequence number and commit timestamp. Fails with
	// ErrPermissionDenied if sender is not a member.
	AppendMessage(ctx context.Context, roomId, senderId, text string) (Message, error)
	// Messages returns the room's full message sequence ordered by
	// server-assigned timestamp ascending.
	Messages(ctx context.Context, roomId string, limit int) ([]Message, error)
	WatchRooms(ctx context.Context, uid string) (*RoomFeed, error)
	WatchMessages(ctx context.Context, roomId string) (*MessageFeed, error)
	WatchAppends(ctx context.Context) (*AppendFeed, error)
	Close() error
}
