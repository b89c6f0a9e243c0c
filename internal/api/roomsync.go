package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-roomsync/internal/chat"
	"github.com/npezzotti/go-roomsync/internal/config"
	"github.com/npezzotti/go-roomsync/internal/identity"
	"github.com/npezzotti/go-roomsync/internal/stats"
	"github.com/npezzotti/go-roomsync/internal/store"
)

type RoomSyncApp struct {
	log            *log.Logger
	store          store.RoomSyncStore
	ids            *identity.Service
	directory      *chat.Directory
	stats          stats.StatsProvider
	mux            *http.Server
	allowedOrigins []string
}

func NewRoomSyncApp(mux *http.ServeMux, logger *log.Logger, st store.RoomSyncStore, ids *identity.Service, sp stats.StatsProvider, cfg *config.Config) *RoomSyncApp {
	s := &RoomSyncApp{
		log:            logger,
		store:          st,
		ids:            ids,
		directory:      chat.NewDirectory(st, logger, sp),
		stats:          sp,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/session", s.createSession)
	mux.Handle("GET /api/session", s.authMiddleware(s.session))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("POST /api/rooms/join", s.authMiddleware(s.joinRoom))
	mux.Handle("POST /api/rooms/direct", s.authMiddleware(s.directRoom))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.getRooms))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *RoomSyncApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RoomSyncApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
