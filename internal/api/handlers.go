package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomsync/internal/identity"
)

type SessionResponse struct {
	UserId string `json:"user_id"`
}

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type JoinRoomRequest struct {
	RoomId string `json:"room_id"`
}

type DirectRoomRequest struct {
	PeerId string `json:"peer_id"`
}

func (s *RoomSyncApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// createSession resolves the caller's anonymous identity. A valid
// existing session cookie yields the same identity; otherwise a fresh
// one is minted and set.
func (s *RoomSyncApp) createSession(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(identity.TokenCookieKey); err == nil {
		if uid, err := s.ids.Verify(cookie.Value); err == nil {
			s.writeJson(w, http.StatusOK, SessionResponse{UserId: uid})
			return
		}
	}

	uid, token, err := s.ids.Issue()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, s.ids.Cookie(token))
	s.writeJson(w, http.StatusCreated, SessionResponse{UserId: uid})
}

func (s *RoomSyncApp) session(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, SessionResponse{UserId: uid})
}

func (s *RoomSyncApp) createRoom(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.directory.Create(r.Context(), req.Name, uid)
	if err != nil {
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, room)
}

func (s *RoomSyncApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.directory.Join(r.Context(), req.RoomId, uid); err != nil {
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.store.GetRoom(r.Context(), req.RoomId)
	if err != nil {
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *RoomSyncApp) directRoom(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req DirectRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.directory.EnsureDirect(r.Context(), uid, req.PeerId)
	if err != nil {
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *RoomSyncApp) getRooms(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms, err := s.directory.List(r.Context(), uid)
	if err != nil {
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *RoomSyncApp) getMessages(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.URL.Query().Get("room_id")
	if roomId == "" {
		errResp := NewValidationError("room_id is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit := 0
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 0 {
			errResp := NewValidationError("limit must be a non-negative integer")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		limit = parsed
	}

	room, err := s.store.GetRoom(r.Context(), roomId)
	if err != nil {
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// only members may read the room's messages
	if !room.HasMember(uid) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages, err := s.store.Messages(r.Context(), roomId, limit)
	if err != nil {
		errResp := fromError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *RoomSyncApp) serveWs(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	sess, err := s.newWsSession(uid, conn)
	if err != nil {
		s.log.Printf("ws session for %q: %v", uid, err)
		conn.Close()
		return
	}

	go sess.Write()
	go sess.Read()
}
