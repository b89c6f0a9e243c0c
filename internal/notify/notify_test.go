package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-roomsync/internal/stats"
	"github.com/npezzotti/go-roomsync/internal/store"
	"github.com/npezzotti/go-roomsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	mu     sync.Mutex
	pushed map[string][]Notification
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{pushed: make(map[string][]Notification)}
}

func (r *fakeRelay) Push(_ context.Context, uid string, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushed[uid] = append(r.pushed[uid], n)
	return nil
}

func (r *fakeRelay) get(uid string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.pushed[uid]...)
}

func newTestStats() *stats.MockStatsUpdater {
	m := &stats.MockStatsUpdater{}
	m.On("Incr", mock.Anything).Return()
	m.On("Decr", mock.Anything).Return()
	return m
}

func TestNotifierPushesToMembersExceptSender(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	relay := newFakeRelay()
	n := NewNotifier(s, relay, testutil.TestLogger(t), newTestStats())

	done := make(chan error, 1)
	go func() {
		done <- n.Run(context.Background())
	}()
	// give Run a moment to open the append feed
	time.Sleep(20 * time.Millisecond)

	room, err := s.CreateRoom(context.Background(), store.CreateRoomParams{Name: "Test", OwnerId: "user-a"})
	require.NoError(t, err)
	require.NoError(t, s.AddMember(context.Background(), room.Id, "user-b"))

	_, err = s.AppendMessage(context.Background(), room.Id, "user-a", "hi")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(relay.get("user-b")) == 1
	}, time.Second, 10*time.Millisecond, "expected user-b to be notified")

	got := relay.get("user-b")[0]
	assert.Equal(t, "Test", got.Title)
	assert.Equal(t, "hi", got.Body)
	assert.Empty(t, relay.get("user-a"), "expected the sender not to be notified")

	n.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notifier to stop")
	}
}

func TestNotifierUsesFallbackTitle(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	relay := newFakeRelay()
	n := NewNotifier(s, relay, testutil.TestLogger(t), newTestStats())

	go n.Run(context.Background())
	defer n.Stop()
	time.Sleep(20 * time.Millisecond)

	// direct rooms have no display name
	room, err := s.EnsureRoom(context.Background(), store.Room{
		Id:      "user-a:user-b",
		Members: []string{"user-a", "user-b"},
	})
	require.NoError(t, err)

	_, err = s.AppendMessage(context.Background(), room.Id, "user-b", "ping")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(relay.get("user-a")) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "New message", relay.get("user-a")[0].Title)
}

func TestNotifierRunCancelled(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()

	n := NewNotifier(s, newFakeRelay(), testutil.TestLogger(t), newTestStats())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- n.Run(ctx)
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notifier to exit")
	}
}
