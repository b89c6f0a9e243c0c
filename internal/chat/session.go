package chat

import (
	"context"
	"log"
	"sync"

	"github.com/npezzotti/go-roomsync/internal/identity"
	"github.com/npezzotti/go-roomsync/internal/stats"
	"github.com/npezzotti/go-roomsync/internal/store"
)

// Session ties a directory and a channel to one resolved identity. The
// identity provider may still be pending at construction time; the
// session defers all activity until it resolves, then activates exactly
// once.
type Session struct {
	provider identity.Provider
	store    store.RoomSyncStore
	log      *log.Logger
	stats    stats.StatsProvider

	mu        sync.Mutex
	uid       string
	directory *Directory
	channel   *Channel
	ready     chan struct{}
}

func NewSession(p identity.Provider, st store.RoomSyncStore, logger *log.Logger, sp stats.StatsProvider) *Session {
	return &Session{
		provider: p,
		store:    st,
		log:      logger,
		stats:    sp,
		ready:    make(chan struct{}),
	}
}

// Run blocks until the identity provider resolves or ctx ends, then
// activates the session. It is a no-op if the session already activated.
func (s *Session) Run(ctx context.Context) error {
	if uid, ok := s.provider.Current(); ok {
		s.activate(uid)
		return nil
	}

	select {
	case uid := <-s.provider.Changes():
		s.activate(uid)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) activate(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uid != "" {
		return
	}

	s.log.Printf("session activated for user %q", uid)
	s.uid = uid
	s.directory = NewDirectory(s.store, s.log, s.stats)
	s.channel = NewChannel(s.store, s.log, s.stats)
	s.stats.Incr(stats.OpenSessions)
	close(s.ready)
}

// Ready is closed once the identity has resolved and the session is
// usable.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// UserId returns the resolved identity, or "" while still pending.
func (s *Session) UserId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

// Directory returns nil until the session is ready.
func (s *Session) Directory() *Directory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directory
}

// Channel returns nil until the session is ready.
func (s *Session) Channel() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Close releases the session's live subscriptions.
func (s *Session) Close() {
	s.mu.Lock()
	channel := s.channel
	activated := s.uid != ""
	s.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
	if activated {
		s.stats.Decr(stats.OpenSessions)
	}
}
