package api

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomsync/internal/chat"
	"github.com/npezzotti/go-roomsync/internal/identity"
	"github.com/npezzotti/go-roomsync/internal/stats"
	"github.com/npezzotti/go-roomsync/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// wsSession is one websocket connection bound to a resolved identity.
// It carries the user's live room-list subscription for its whole
// lifetime and at most one live message subscription, switched with
// Subscribe frames.
type wsSession struct {
	conn     *websocket.Conn
	app      *RoomSyncApp
	log      *log.Logger
	uid      string
	session  *chat.Session
	roomFeed *store.RoomFeed
	send     chan *ServerMessage
	stop     chan struct{}
	stopOnce sync.Once
}

func (s *RoomSyncApp) newWsSession(uid string, conn *websocket.Conn) (*wsSession, error) {
	session := chat.NewSession(identity.NewStatic(uid), s.store, s.log, s.stats)
	if err := session.Run(context.Background()); err != nil {
		return nil, err
	}

	roomFeed, err := session.Directory().Rooms(context.Background(), uid)
	if err != nil {
		session.Close()
		return nil, err
	}
	s.stats.Incr(stats.ActiveRoomWatches)

	ws := &wsSession{
		conn:     conn,
		app:      s,
		log:      s.log,
		uid:      uid,
		session:  session,
		roomFeed: roomFeed,
		send:     make(chan *ServerMessage, 256),
		stop:     make(chan struct{}),
	}

	go ws.forwardRooms(roomFeed)
	return ws, nil
}

func (c *wsSession) forwardRooms(feed *store.RoomFeed) {
	for snap := range feed.Snapshots {
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Rooms:       &RoomSnapshot{Rooms: snap},
		})
	}
}

func (c *wsSession) forwardMessages(feed *store.MessageFeed, roomId string) {
	for snap := range feed.Snapshots {
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Messages:    &MessageSnapshot{RoomId: roomId, Messages: snap},
		})
	}
}

func (c *wsSession) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *wsSession) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		switch {
		case msg.Subscribe != nil:
			c.handleSubscribe(&msg)
		case msg.Publish != nil:
			c.handlePublish(&msg)
		case msg.Join != nil:
			c.handleJoin(&msg)
		case msg.CreateRoom != nil:
			c.handleCreateRoom(&msg)
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	}
}

func (c *wsSession) handleSubscribe(msg *ClientMessage) {
	room, err := c.app.store.GetRoom(context.Background(), msg.Subscribe.RoomId)
	if err != nil {
		c.queueMessage(ErrResponse(msg.Id, fromError(err)))
		return
	}

	// read access is limited to the member set
	if !room.HasMember(c.uid) {
		c.queueMessage(ErrResponse(msg.Id, NewForbiddenError()))
		return
	}

	// the previous subscription (if any) closes first, which ends its
	// forward goroutine before the new room's snapshots start flowing
	feed, err := c.session.Channel().Subscribe(context.Background(), room.Id)
	if err != nil {
		c.queueMessage(ErrResponse(msg.Id, fromError(err)))
		return
	}

	go c.forwardMessages(feed, room.Id)
	c.queueMessage(NoErrOK(msg.Id, room))
}

func (c *wsSession) handlePublish(msg *ClientMessage) {
	_, err := c.session.Channel().Append(context.Background(), msg.Publish.RoomId, c.uid, msg.Publish.Content)
	if err != nil {
		c.queueMessage(ErrResponse(msg.Id, fromError(err)))
		return
	}

	c.queueMessage(NoErrAccepted(msg.Id))
}

func (c *wsSession) handleJoin(msg *ClientMessage) {
	if err := c.session.Directory().Join(context.Background(), msg.Join.RoomId, c.uid); err != nil {
		c.queueMessage(ErrResponse(msg.Id, fromError(err)))
		return
	}

	room, err := c.app.store.GetRoom(context.Background(), msg.Join.RoomId)
	if err != nil {
		c.queueMessage(ErrResponse(msg.Id, fromError(err)))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, room))
}

func (c *wsSession) handleCreateRoom(msg *ClientMessage) {
	room, err := c.session.Directory().Create(context.Background(), msg.CreateRoom.Name, c.uid)
	if err != nil {
		c.queueMessage(ErrResponse(msg.Id, fromError(err)))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, room))
}

func (c *wsSession) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *wsSession) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// cleanup releases every live subscription owned by this connection.
// Leaving a feed open would leak the listener and duplicate emissions on
// reconnect.
func (c *wsSession) cleanup() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.roomFeed.Close()
		c.session.Close()
		c.app.stats.Decr(stats.ActiveRoomWatches)
	})
}
