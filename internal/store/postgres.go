package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	roomChannel    = "roomsync_room_changes"
	messageChannel = "roomsync_message_appends"

	listenerMinReconnect = time.Second
	listenerMaxReconnect = time.Minute
)

// PostgresStore implements RoomSyncStore on Postgres. Live watches are
// driven by LISTEN/NOTIFY: triggers installed by the migrations emit an
// event for every room change and message append, and each watch re-reads
// its full snapshot when woken. The listener reconnects on its own, so a
// watch survives transient connection loss with at most a delayed
// emission.
type PostgresStore struct {
	conn *sql.DB
	dsn  string
	log  *log.Logger
}

func NewPostgresStore(dsn string, logger *log.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	return &PostgresStore{conn: db, dsn: dsn, log: logger}, nil
}

// Migrate applies all pending schema migrations from sourceURL, e.g.
// "file://migrations".
func (s *PostgresStore) Migrate(sourceURL string) error {
	m, err := migrate.New(sourceURL, s.dsn)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

func (s *PostgresStore) Ping() error {
	if err := s.conn.Ping(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomId string) (Room, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, name, owner_id, members, created_at FROM rooms "+
			"WHERE id = $1 LIMIT 1",
		roomId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.Name,
		&room.OwnerId,
		pq.Array(&room.Members),
		&room.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}

	return room, err
}

func (s *PostgresStore) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	room := Room{
		Id:      uuid.NewString(),
		Name:    params.Name,
		OwnerId: params.OwnerId,
		Members: []string{params.OwnerId},
	}

	row := s.conn.QueryRowContext(ctx,
		"INSERT INTO rooms (id, name, owner_id, members) "+
			"VALUES ($1, $2, $3, ARRAY[$3::text]) RETURNING created_at",
		room.Id,
		room.Name,
		room.OwnerId,
	)

	if err := row.Scan(&room.CreatedAt); err != nil {
		return Room{}, fmt.Errorf("create room: %w", err)
	}

	return room, nil
}

func (s *PostgresStore) EnsureRoom(ctx context.Context, room Room) (Room, error) {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO rooms (id, name, owner_id, members) "+
			"VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING",
		room.Id,
		room.Name,
		room.OwnerId,
		pq.Array(room.Members),
	)
	if err != nil {
		return Room{}, fmt.Errorf("ensure room: %w", err)
	}

	return s.GetRoom(ctx, room.Id)
}

func (s *PostgresStore) AddMember(ctx context.Context, roomId, uid string) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE rooms SET members = array_append(members, $2) "+
			"WHERE id = $1 AND NOT (members @> ARRAY[$2::text])",
		roomId,
		uid,
	)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		// either the room is missing or uid is already a member
		if _, err := s.GetRoom(ctx, roomId); err != nil {
			return err
		}
	}

	return nil
}

func (s *PostgresStore) ListRooms(ctx context.Context, uid string) ([]Room, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, name, owner_id, members, created_at FROM rooms "+
			"WHERE members @> ARRAY[$1::text] ORDER BY created_at, id",
		uid,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.Id, &room.Name, &room.OwnerId, pq.Array(&room.Members), &room.CreatedAt); err != nil {
			return nil, err
		}

		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (s *PostgresStore) AppendMessage(ctx context.Context, roomId, senderId, text string) (Message, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// allocate the per-room sequence number and enforce membership in the
	// same statement, so a non-member can never commit a message
	var seq int
	err = tx.QueryRowContext(ctx,
		"UPDATE rooms SET seq = seq + 1 "+
			"WHERE id = $1 AND members @> ARRAY[$2::text] RETURNING seq",
		roomId,
		senderId,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if scanErr := tx.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)", roomId,
		).Scan(&exists); scanErr != nil {
			err = scanErr
			return Message{}, scanErr
		}

		if !exists {
			return Message{}, ErrNotFound
		}
		return Message{}, ErrPermissionDenied
	} else if err != nil {
		return Message{}, err
	}

	msg := Message{
		RoomId:   roomId,
		SenderId: senderId,
		Text:     text,
		Seq:      seq,
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		"INSERT INTO messages (room_id, sender_id, content, seq) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, created_at",
		roomId,
		senderId,
		text,
		seq,
	).Scan(&id, &msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	msg.Id = strconv.FormatInt(id, 10)
	return msg, nil
}

func (s *PostgresStore) Messages(ctx context.Context, roomId string, limit int) ([]Message, error) {
	if _, err := s.GetRoom(ctx, roomId); err != nil {
		return nil, err
	}

	query := "SELECT id, room_id, sender_id, content, seq, created_at FROM messages " +
		"WHERE room_id = $1 ORDER BY seq"
	args := []any{roomId}
	if limit > 0 {
		query = "SELECT id, room_id, sender_id, content, seq, created_at FROM " +
			"(SELECT id, room_id, sender_id, content, seq, created_at FROM messages " +
			"WHERE room_id = $1 ORDER BY seq DESC LIMIT $2) latest ORDER BY seq"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var (
			id  int64
			msg Message
		)
		if err := rows.Scan(&id, &msg.RoomId, &msg.SenderId, &msg.Text, &msg.Seq, &msg.CreatedAt); err != nil {
			return nil, err
		}

		msg.Id = strconv.FormatInt(id, 10)
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (s *PostgresStore) WatchRooms(ctx context.Context, uid string) (*RoomFeed, error) {
	listener, err := s.listen(roomChannel)
	if err != nil {
		return nil, err
	}

	ch := make(chan []Room, 1)
	done := make(chan struct{})

	go func() {
		defer close(ch)
		defer listener.Close()

		var last []Room
		emit := func() {
			rooms, err := s.ListRooms(ctx, uid)
			if err != nil {
				s.log.Printf("room watch for %q: %v", uid, err)
				return
			}

			if reflect.DeepEqual(rooms, last) {
				return
			}
			last = rooms
			replace(ch, rooms)
		}

		emit()
		for {
			select {
			case <-listener.Notify:
				// a nil notification signals a listener reconnect, which
				// may have dropped events; re-read either way
				emit()
			case <-time.After(listenerMaxReconnect):
				if err := listener.Ping(); err != nil {
					s.log.Printf("room watch ping: %v", err)
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return NewRoomFeed(ch, func() { once.Do(func() { close(done) }) }), nil
}

func (s *PostgresStore) WatchMessages(ctx context.Context, roomId string) (*MessageFeed, error) {
	if _, err := s.GetRoom(ctx, roomId); err != nil {
		return nil, err
	}

	listener, err := s.listen(messageChannel)
	if err != nil {
		return nil, err
	}

	ch := make(chan []Message, 1)
	done := make(chan struct{})

	go func() {
		defer close(ch)
		defer listener.Close()

		var last []Message
		emit := func() {
			msgs, err := s.Messages(ctx, roomId, 0)
			if err != nil {
				s.log.Printf("message watch for %q: %v", roomId, err)
				return
			}

			if reflect.DeepEqual(msgs, last) {
				return
			}
			last = msgs
			replace(ch, msgs)
		}

		emit()
		for {
			select {
			case <-listener.Notify:
				emit()
			case <-time.After(listenerMaxReconnect):
				if err := listener.Ping(); err != nil {
					s.log.Printf("message watch ping: %v", err)
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return NewMessageFeed(ch, func() { once.Do(func() { close(done) }) }), nil
}

func (s *PostgresStore) WatchAppends(ctx context.Context) (*AppendFeed, error) {
	listener, err := s.listen(messageChannel)
	if err != nil {
		return nil, err
	}

	ch := make(chan Message, 256)
	done := make(chan struct{})

	go func() {
		defer close(ch)
		defer listener.Close()

		for {
			select {
			case n := <-listener.Notify:
				if n == nil {
					continue
				}

				msg, err := s.messageById(ctx, n.Extra)
				if err != nil {
					s.log.Printf("append watch: fetch message %q: %v", n.Extra, err)
					continue
				}

				select {
				case ch <- msg:
				default:
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return NewAppendFeed(ch, func() { once.Do(func() { close(done) }) }), nil
}

func (s *PostgresStore) messageById(ctx context.Context, id string) (Message, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, room_id, sender_id, content, seq, created_at FROM messages "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var (
		rawId int64
		msg   Message
	)
	err := row.Scan(&rawId, &msg.RoomId, &msg.SenderId, &msg.Text, &msg.Seq, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}

	msg.Id = strconv.FormatInt(rawId, 10)
	return msg, err
}

func (s *PostgresStore) listen(channel string) (*pq.Listener, error) {
	listener := pq.NewListener(s.dsn, listenerMinReconnect, listenerMaxReconnect,
		func(_ pq.ListenerEventType, err error) {
			if err != nil {
				s.log.Printf("listener on %q: %v", channel, err)
			}
		})

	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("%w: listen %s: %v", ErrTransient, channel, err)
	}

	return listener, nil
}

// replace delivers the latest snapshot on a single-slot channel, dropping
// any pending one. Only the owning watch goroutine sends on ch.
func replace[T any](ch chan T, snap T) {
	select {
	case ch <- snap:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
