package store

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRoomSyncStore struct {
	mock.Mock
}

func (m *MockRoomSyncStore) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRoomSyncStore) GetRoom(ctx context.Context, roomId string) (Room, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRoomSyncStore) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRoomSyncStore) EnsureRoom(ctx context.Context, room Room) (Room, error) {
	args := m.Called(ctx, room)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRoomSyncStore) AddMember(ctx context.Context, roomId, uid string) error {
	args := m.Called(ctx, roomId, uid)
	return args.Error(0)
}
func (m *MockRoomSyncStore) ListRooms(ctx context.Context, uid string) ([]Room, error) {
	args := m.Called(ctx, uid)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockRoomSyncStore) AppendMessage(ctx context.Context, roomId, senderId, text string) (Message, error) {
	args := m.Called(ctx, roomId, senderId, text)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRoomSyncStore) Messages(ctx context.Context, roomId string, limit int) ([]Message, error) {
	args := m.Called(ctx, roomId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRoomSyncStore) WatchRooms(ctx context.Context, uid string) (*RoomFeed, error) {
	args := m.Called(ctx, uid)
	if feed, ok := args.Get(0).(*RoomFeed); ok {
		return feed, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRoomSyncStore) WatchMessages(ctx context.Context, roomId string) (*MessageFeed, error) {
	args := m.Called(ctx, roomId)
	if feed, ok := args.Get(0).(*MessageFeed); ok {
		return feed, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRoomSyncStore) WatchAppends(ctx context.Context) (*AppendFeed, error) {
	args := m.Called(ctx)
	if feed, ok := args.Get(0).(*AppendFeed); ok {
		return feed, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRoomSyncStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
