package api

import (
	"net/http"
	"time"

	"github.com/npezzotti/go-roomsync/internal/store"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is one request frame on the websocket. Exactly one of
// the operation fields is set.
type ClientMessage struct {
	BaseMessage
	Subscribe  *Subscribe  `json:"subscribe,omitempty"`
	Publish    *Publish    `json:"publish,omitempty"`
	Join       *Join       `json:"join,omitempty"`
	CreateRoom *CreateRoom `json:"create_room,omitempty"`
}

// Subscribe switches the connection's live message subscription to the
// given room, closing the previous one.
type Subscribe struct {
	RoomId string `json:"room_id"`
}

type Publish struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

type Join struct {
	RoomId string `json:"room_id"`
}

type CreateRoom struct {
	Name string `json:"name"`
}

type ServerMessage struct {
	BaseMessage
	Response *Response        `json:"response,omitempty"`
	Rooms    *RoomSnapshot    `json:"rooms,omitempty"`
	Messages *MessageSnapshot `json:"messages,omitempty"`
}

// RoomSnapshot carries the full current set of rooms the user belongs
// to. An empty set is still a meaningful emission.
type RoomSnapshot struct {
	Rooms []store.Room `json:"rooms"`
}

// MessageSnapshot carries the full current message sequence of a room.
// Each snapshot replaces the previous one on the client.
type MessageSnapshot struct {
	RoomId   string          `json:"room_id"`
	Messages []store.Message `json:"messages"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrResponse(id int, apiErr *ApiError) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: apiErr.StatusCode,
			Error:        apiErr.Message,
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
