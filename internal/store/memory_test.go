package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitRooms(t *testing.T, feed *RoomFeed) []Room {
	t.Helper()
	select {
	case snap, ok := <-feed.Snapshots:
		require.True(t, ok, "expected feed to be open")
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for room snapshot")
		return nil
	}
}

func waitMessages(t *testing.T, feed *MessageFeed) []Message {
	t.Helper()
	select {
	case snap, ok := <-feed.Snapshots:
		require.True(t, ok, "expected feed to be open")
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message snapshot")
		return nil
	}
}

func TestMemoryStoreCreateRoom(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	room, err := s.CreateRoom(context.Background(), CreateRoomParams{Name: "Test", OwnerId: "user-a"})
	require.NoError(t, err)

	assert.NotEmpty(t, room.Id, "expected a store-generated id")
	assert.Equal(t, "Test", room.Name)
	assert.Equal(t, "user-a", room.OwnerId)
	assert.Equal(t, []string{"user-a"}, room.Members, "expected members to contain only the creator")
	assert.False(t, room.CreatedAt.IsZero(), "expected a server-assigned creation time")
}

func TestMemoryStoreEnsureRoomIdempotent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	want := Room{
		Id:      "user-a:user-b",
		Members: []string{"user-a", "user-b"},
	}

	first, err := s.EnsureRoom(context.Background(), want)
	require.NoError(t, err)

	second, err := s.EnsureRoom(context.Background(), want)
	require.NoError(t, err)

	assert.Equal(t, first, second, "expected ensure to return the stored room unchanged")
	assert.Equal(t, first.CreatedAt, second.CreatedAt, "expected creation time to be assigned once")
}

func TestMemoryStoreAddMember(t *testing.T) {
	t.Run("adds to existing member set", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()

		room, err := s.CreateRoom(context.Background(), CreateRoomParams{Name: "Test", OwnerId: "user-a"})
		require.NoError(t, err)

		require.NoError(t, s.AddMember(context.Background(), room.Id, "user-b"))

		got, err := s.GetRoom(context.Background(), room.Id)
		require.NoError(t, err)
		assert.Equal(t, []string{"user-a", "user-b"}, got.Members, "expected join to grow the member set")
	})

	t.Run("idempotent", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()

		room, err := s.CreateRoom(context.Background(), CreateRoomParams{Name: "Test", OwnerId: "user-a"})
		require.NoError(t, err)

		require.NoError(t, s.AddMember(context.Background(), room.Id, "user-b"))
		require.NoError(t, s.AddMember(context.Background(), room.Id, "user-b"))

		got, err := s.GetRoom(context.Background(), room.Id)
		require.NoError(t, err)
		assert.Equal(t, []string{"user-a", "user-b"}, got.Members, "expected joining twice to equal joining once")
	})

	t.Run("not found", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()

		err := s.AddMember(context.Background(), "missing", "user-b")
		assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

		rooms, err := s.ListRooms(context.Background(), "user-b")
		require.NoError(t, err)
		assert.Empty(t, rooms, "expected no room created as a side effect")
	})
}

func TestMemoryStoreAppendMessage(t *testing.T) {
	t.Run("assigns sequence and timestamp", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()

		room, err := s.CreateRoom(context.Background(), CreateRoomParams{Name: "Test", OwnerId: "user-a"})
		require.NoError(t, err)

		first, err := s.AppendMessage(context.Background(), room.Id, "user-a", "hi")
		require.NoError(t, err)
		second, err := s.AppendMessage(context.Background(), room.Id, "user-a", "there")
		require.NoError(t, err)

		assert.Equal(t, 1, first.Seq)
		assert.Equal(t, 2, second.Seq)
		assert.True(t, second.CreatedAt.After(first.CreatedAt), "expected commit timestamps to be strictly increasing")
	})

	t.Run("rejects non-members", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()

		room, err := s.CreateRoom(context.Background(), CreateRoomParams{Name: "Test", OwnerId: "user-a"})
		require.NoError(t, err)

		_, err = s.AppendMessage(context.Background(), room.Id, "user-b", "hi")
		assert.True(t, errors.Is(err, ErrPermissionDenied), "expected ErrPermissionDenied, got %v", err)

		msgs, err := s.Messages(context.Background(), room.Id, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs, "expected rejected write to persist nothing")
	})

	t.Run("unknown room", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()

		_, err := s.AppendMessage(context.Background(), "missing", "user-a", "hi")
		assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
	})
}

func TestMemoryStoreWatchRooms(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	feed, err := s.WatchRooms(context.Background(), "user-b")
	require.NoError(t, err)
	defer feed.Close()

	assert.Empty(t, waitRooms(t, feed), "expected initial snapshot to be empty")

	room, err := s.CreateRoom(context.Background(), CreateRoomParams{Name: "Test", OwnerId: "user-a"})
	require.NoError(t, err)

	// user-b is not a member yet, so joining is the first change that
	// should surface on their feed
	require.NoError(t, s.AddMember(context.Background(), room.Id, "user-b"))

	snap := waitRooms(t, feed)
	require.Len(t, snap, 1)
	assert.Equal(t, room.Id, snap[0].Id)
	assert.Equal(t, []string{"user-a", "user-b"}, snap[0].Members)
}

func TestMemoryStoreWatchRoomsCoalesces(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	feed, err := s.WatchRooms(context.Background(), "user-a")
	require.NoError(t, err)
	defer feed.Close()

	waitRooms(t, feed)

	// several changes without the consumer draining: only the latest
	// snapshot must be pending
	for _, name := range []string{"one", "two", "three"} {
		_, err := s.CreateRoom(context.Background(), CreateRoomParams{Name: name, OwnerId: "user-a"})
		require.NoError(t, err)
	}

	snap := waitRooms(t, feed)
	require.Len(t, snap, 3, "expected the pending snapshot to be the full latest set")
	assert.Equal(t, "three", snap[2].Name)
}

func TestMemoryStoreWatchMessages(t *testing.T) {
	t.Run("snapshot replace in order", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()

		room, err := s.CreateRoom(context.Background(), CreateRoomParams{Name: "Test", OwnerId: "user-a"})
		require.NoError(t, err)
		require.NoError(t, s.AddMember(context.Background(), room.Id, "user-b"))

		feed, err := s.WatchMessages(context.Background(), room.Id)
		require.NoError(t, err)
		defer feed.Close()

		assert.Empty(t, waitMessages(t, feed), "expected initial snapshot to be empty")

		_, err = s.AppendMessage(context.Background(), room.Id, "user-a", "hi")
		require.NoError(t, err)

		snap := waitMessages(t, feed)
		require.Len(t, snap, 1)
		assert.Equal(t, "hi", snap[0].Text)
		assert.Equal(t, "user-a", snap[0].SenderId)

		_, err = s.AppendMessage(context.Background(), room.Id, "user-b", "hello")
		require.NoError(t, err)

		snap = waitMessages(t, feed)
		require.Len(t, snap, 2, "expected a full snapshot, not a delta")
		assert.Equal(t, "hi", snap[0].Text)
		assert.Equal(t, "hello", snap[1].Text)
	})

	t.Run("unknown room", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()

		_, err := s.WatchMessages(context.Background(), "missing")
		assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
	})

	t.Run("close ends the feed", func(t *testing.T) {
		s := NewMemoryStore()
		defer s.Close()

		room, err := s.CreateRoom(context.Background(), CreateRoomParams{Name: "Test", OwnerId: "user-a"})
		require.NoError(t, err)

		feed, err := s.WatchMessages(context.Background(), room.Id)
		require.NoError(t, err)

		waitMessages(t, feed)
		feed.Close()
		feed.Close() // closing twice must be safe

		_, ok := <-feed.Snapshots
		assert.False(t, ok, "expected channel to be closed after Close")
	})
}

func TestMemoryStoreWatchAppends(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	feed, err := s.WatchAppends(context.Background())
	require.NoError(t, err)
	defer feed.Close()

	room, err := s.CreateRoom(context.Background(), CreateRoomParams{Name: "Test", OwnerId: "user-a"})
	require.NoError(t, err)

	_, err = s.AppendMessage(context.Background(), room.Id, "user-a", "hi")
	require.NoError(t, err)

	select {
	case msg := <-feed.Events:
		assert.Equal(t, room.Id, msg.RoomId)
		assert.Equal(t, "hi", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for append event")
	}
}

func TestMemoryStoreConcurrentCreates(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	done := make(chan Room, 2)
	for _, p := range []CreateRoomParams{
		{Name: "alpha", OwnerId: "user-a"},
		{Name: "beta", OwnerId: "user-b"},
	} {
		go func(params CreateRoomParams) {
			room, err := s.CreateRoom(context.Background(), params)
			assert.NoError(t, err)
			done <- room
		}(p)
	}

	first, second := <-done, <-done
	assert.NotEqual(t, first.Id, second.Id, "expected distinct room ids")
	require.Len(t, first.Members, 1)
	require.Len(t, second.Members, 1)
	assert.NotEqual(t, first.Members[0], second.Members[0], "expected no cross-contamination of members")
}
