package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements RoomSyncStore entirely in process. It is used by
// the test suites and the "memory" backend for single-process deployments.
// Watch semantics match the Postgres implementation: every change produces
// a fresh full snapshot, and a slow consumer only ever sees the latest one.
type MemoryStore struct {
	mu        sync.Mutex
	rooms     map[string]Room
	roomOrder []string
	messages  map[string][]Message
	lastTime  time.Time

	nextWatchId  int
	roomWatches  map[int]*memRoomWatch
	msgWatches   map[int]*memMsgWatch
	appendFeeds  map[int]chan Message
	closed       bool
}

type memRoomWatch struct {
	uid string
	ch  chan []Room
}

type memMsgWatch struct {
	roomId string
	ch     chan []Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:       make(map[string]Room),
		messages:    make(map[string][]Message),
		roomWatches: make(map[int]*memRoomWatch),
		msgWatches:  make(map[int]*memMsgWatch),
		appendFeeds: make(map[int]chan Message),
	}
}

func (s *MemoryStore) Ping() error { return nil }

// now returns a strictly increasing server timestamp so the commit time
// remains a usable total order even for back-to-back appends.
func (s *MemoryStore) now() time.Time {
	t := time.Now().UTC()
	if !t.After(s.lastTime) {
		t = s.lastTime.Add(time.Millisecond)
	}
	s.lastTime = t
	return t
}

func (s *MemoryStore) GetRoom(_ context.Context, roomId string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomId]
	if !ok {
		return Room{}, ErrNotFound
	}
	return copyRoom(room), nil
}

func (s *MemoryStore) CreateRoom(_ context.Context, params CreateRoomParams) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := Room{
		Id:        uuid.NewString(),
		Name:      params.Name,
		OwnerId:   params.OwnerId,
		Members:   []string{params.OwnerId},
		CreatedAt: s.now(),
	}
	s.rooms[room.Id] = room
	s.roomOrder = append(s.roomOrder, room.Id)

	s.notifyRoomWatches(room.Members)
	return copyRoom(room), nil
}

func (s *MemoryStore) EnsureRoom(_ context.Context, room Room) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.rooms[room.Id]; ok {
		return copyRoom(existing), nil
	}

	stored := copyRoom(room)
	stored.CreatedAt = s.now()
	s.rooms[stored.Id] = stored
	s.roomOrder = append(s.roomOrder, stored.Id)

	s.notifyRoomWatches(stored.Members)
	return copyRoom(stored), nil
}

func (s *MemoryStore) AddMember(_ context.Context, roomId, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomId]
	if !ok {
		return ErrNotFound
	}

	if room.HasMember(uid) {
		return nil
	}

	room.Members = append(slices.Clone(room.Members), uid)
	s.rooms[roomId] = room

	s.notifyRoomWatches(room.Members)
	return nil
}

func (s *MemoryStore) ListRooms(_ context.Context, uid string) ([]Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.roomsForUser(uid), nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, roomId, senderId, text string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomId]
	if !ok {
		return Message{}, ErrNotFound
	}

	if !room.HasMember(senderId) {
		return Message{}, ErrPermissionDenied
	}

	msg := Message{
		Id:        uuid.NewString(),
		RoomId:    roomId,
		SenderId:  senderId,
		Text:      text,
		Seq:       len(s.messages[roomId]) + 1,
		CreatedAt: s.now(),
	}
	s.messages[roomId] = append(s.messages[roomId], msg)

	s.notifyMsgWatches(roomId)
	for _, ch := range s.appendFeeds {
		select {
		case ch <- msg:
		default:
		}
	}

	return msg, nil
}

func (s *MemoryStore) Messages(_ context.Context, roomId string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomId]; !ok {
		return nil, ErrNotFound
	}

	return s.messageSnapshot(roomId, limit), nil
}

func (s *MemoryStore) WatchRooms(_ context.Context, uid string) (*RoomFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextWatchId
	s.nextWatchId++

	w := &memRoomWatch{uid: uid, ch: make(chan []Room, 1)}
	s.roomWatches[id] = w
	w.ch <- s.roomsForUser(uid)

	return NewRoomFeed(w.ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.roomWatches[id]; ok {
			delete(s.roomWatches, id)
			close(w.ch)
		}
	}), nil
}

func (s *MemoryStore) WatchMessages(_ context.Context, roomId string) (*MessageFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomId]; !ok {
		return nil, ErrNotFound
	}

	id := s.nextWatchId
	s.nextWatchId++

	w := &memMsgWatch{roomId: roomId, ch: make(chan []Message, 1)}
	s.msgWatches[id] = w
	w.ch <- s.messageSnapshot(roomId, 0)

	return NewMessageFeed(w.ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.msgWatches[id]; ok {
			delete(s.msgWatches, id)
			close(w.ch)
		}
	}), nil
}

func (s *MemoryStore) WatchAppends(_ context.Context) (*AppendFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextWatchId
	s.nextWatchId++

	ch := make(chan Message, 256)
	s.appendFeeds[id] = ch

	return NewAppendFeed(ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.appendFeeds[id]; ok {
			delete(s.appendFeeds, id)
			close(ch)
		}
	}), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for id, w := range s.roomWatches {
		delete(s.roomWatches, id)
		close(w.ch)
	}
	for id, w := range s.msgWatches {
		delete(s.msgWatches, id)
		close(w.ch)
	}
	for id, ch := range s.appendFeeds {
		delete(s.appendFeeds, id)
		close(ch)
	}

	return nil
}

// roomsForUser returns the rooms containing uid in creation order.
// Callers must hold s.mu.
func (s *MemoryStore) roomsForUser(uid string) []Room {
	rooms := make([]Room, 0)
	for _, id := range s.roomOrder {
		if room := s.rooms[id]; room.HasMember(uid) {
			rooms = append(rooms, copyRoom(room))
		}
	}
	return rooms
}

// messageSnapshot returns the most recent limit messages in ascending
// order, or the full sequence when limit <= 0. Callers must hold s.mu.
func (s *MemoryStore) messageSnapshot(roomId string, limit int) []Message {
	msgs := s.messages[roomId]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs)
}

// notifyRoomWatches pushes a fresh snapshot to every watcher whose user is
// affected by a membership change. The single-slot channel is drained
// first so pending snapshots are replaced, never queued. Callers must
// hold s.mu.
func (s *MemoryStore) notifyRoomWatches(members []string) {
	for _, w := range s.roomWatches {
		if !slices.Contains(members, w.uid) {
			continue
		}

		replace(w.ch, s.roomsForUser(w.uid))
	}
}

func (s *MemoryStore) notifyMsgWatches(roomId string) {
	for _, w := range s.msgWatches {
		if w.roomId != roomId {
			continue
		}

		replace(w.ch, s.messageSnapshot(roomId, 0))
	}
}

func copyRoom(r Room) Room {
	r.Members = slices.Clone(r.Members)
	return r
}
