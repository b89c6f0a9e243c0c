package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/npezzotti/go-roomsync/internal/stats"
	"github.com/npezzotti/go-roomsync/internal/store"
)

// Directory maintains the live set of rooms a user belongs to and owns
// the room-level write path: create, join, and deterministic two-party
// rooms. All persisted state lives in the store; the directory never
// caches room records.
type Directory struct {
	store store.RoomSyncStore
	log   *log.Logger
	stats stats.StatsProvider
}

func NewDirectory(st store.RoomSyncStore, logger *log.Logger, sp stats.StatsProvider) *Directory {
	return &Directory{store: st, log: logger, stats: sp}
}

// Rooms opens a live subscription on the set of rooms containing uid.
// The feed re-emits the full matching set on every membership change and
// must be closed by the caller when the session ends.
func (d *Directory) Rooms(ctx context.Context, uid string) (*store.RoomFeed, error) {
	if uid == "" {
		return nil, NewValidationError("user id is required")
	}

	return d.store.WatchRooms(ctx, uid)
}

// List is the one-shot variant of Rooms.
func (d *Directory) List(ctx context.Context, uid string) ([]store.Room, error) {
	if uid == "" {
		return nil, NewValidationError("user id is required")
	}

	return d.store.ListRooms(ctx, uid)
}

// Create persists a new room owned by creatorId with members={creatorId}.
func (d *Directory) Create(ctx context.Context, name, creatorId string) (store.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Room{}, NewValidationError("room name is required")
	}
	if creatorId == "" {
		return store.Room{}, NewValidationError("user id is required")
	}

	room, err := d.store.CreateRoom(ctx, store.CreateRoomParams{Name: name, OwnerId: creatorId})
	if err != nil {
		return store.Room{}, fmt.Errorf("create room: %w", err)
	}

	d.log.Printf("user %q created room %q", creatorId, room.Id)
	d.stats.Incr(stats.RoomsCreated)
	return room, nil
}

// Join adds uid to the room's member set. The update is a set-union: it
// never replaces the member set and joining twice has no further effect.
// Fails with store.ErrNotFound if no such room exists.
func (d *Directory) Join(ctx context.Context, roomId, uid string) error {
	if roomId == "" {
		return NewValidationError("room id is required")
	}
	if uid == "" {
		return NewValidationError("user id is required")
	}

	if err := d.store.AddMember(ctx, roomId, uid); err != nil {
		return fmt.Errorf("join room %q: %w", roomId, err)
	}

	return nil
}

// EnsureDirect opens the deterministic two-party room between uid and
// peerId, creating it on first use. Both participants derive the same
// room id, so either side may call this first.
func (d *Directory) EnsureDirect(ctx context.Context, uid, peerId string) (store.Room, error) {
	if uid == "" || peerId == "" {
		return store.Room{}, NewValidationError("both participant ids are required")
	}
	if uid == peerId {
		return store.Room{}, NewValidationError("cannot open a direct room with yourself")
	}

	room, err := d.store.EnsureRoom(ctx, store.Room{
		Id:      DirectRoomId(uid, peerId),
		OwnerId: uid,
		Members: []string{uid, peerId},
	})
	if err != nil {
		return store.Room{}, fmt.Errorf("ensure direct room: %w", err)
	}

	return room, nil
}

// DirectRoomId derives the room id shared by exactly two participants:
// the sorted join of both ids. The scheme does not generalize past two
// members; group rooms always use store-generated ids.
func DirectRoomId(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
