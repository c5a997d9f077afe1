package memory

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/easyclase/liveclass/internal/application/constant"
	"github.com/easyclase/liveclass/internal/application/metric"
)

// Conn is the slice of a websocket connection the relay needs. Concrete
// gorilla connections satisfy it; tests use fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// RoomRepository tracks the live lesson rooms: at most the two booked
// participants per lesson, each with one connection. Messages addressed to
// a participant who has not connected yet are held back and flushed when
// they join, so a teacher's offer cannot be lost to a join race.
type RoomRepository interface {
	Add(lessonID, userID uuid.UUID, conn Conn)
	Remove(lessonID, userID uuid.UUID)

	// Write delivers to one participant, queueing while they are absent.
	Write(lessonID, userID uuid.UUID, payload any) error

	// CloseRoom pushes a final payload to everyone present and tears the
	// room down.
	CloseRoom(lessonID uuid.UUID, payload any)

	HasParticipant(lessonID, userID uuid.UUID) bool
	RoomCount() int
}

type safeConn struct {
	conn Conn
	mu   sync.Mutex
}

func (s *safeConn) writeJSON(payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(payload)
}

type room struct {
	conns   map[uuid.UUID]*safeConn
	backlog map[uuid.UUID][]any
}

type roomRepository struct {
	rooms map[uuid.UUID]*room
	mu    sync.RWMutex
}

func NewRoomRepository() RoomRepository {
	return &roomRepository{
		rooms: make(map[uuid.UUID]*room),
	}
}

func (r *roomRepository) Add(lessonID, userID uuid.UUID, conn Conn) {
	r.mu.Lock()

	rm, ok := r.rooms[lessonID]
	if !ok {
		rm = &room{
			conns:   make(map[uuid.UUID]*safeConn, 2),
			backlog: make(map[uuid.UUID][]any),
		}
		r.rooms[lessonID] = rm
	}

	if old, ok := rm.conns[userID]; ok {
		// Reconnect replaces the previous transport.
		old.conn.Close()
	}

	sc := &safeConn{conn: conn}
	rm.conns[userID] = sc

	backlog := rm.backlog[userID]
	delete(rm.backlog, userID)

	metric.SetActiveRooms(len(r.rooms))
	r.mu.Unlock()

	for _, payload := range backlog {
		if err := sc.writeJSON(payload); err != nil {
			slog.Warn("flush room backlog",
				slog.Any(constant.Error, err),
				slog.Any(constant.UserID, userID),
			)
			return
		}
	}
}

func (r *roomRepository) Remove(lessonID, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[lessonID]
	if !ok {
		return
	}

	delete(rm.conns, userID)

	if len(rm.conns) == 0 {
		delete(r.rooms, lessonID)
	}

	metric.SetActiveRooms(len(r.rooms))
}

func (r *roomRepository) Write(lessonID, userID uuid.UUID, payload any) error {
	r.mu.Lock()

	rm, ok := r.rooms[lessonID]
	if !ok {
		rm = &room{
			conns:   make(map[uuid.UUID]*safeConn, 2),
			backlog: make(map[uuid.UUID][]any),
		}
		r.rooms[lessonID] = rm
	}

	sc, present := rm.conns[userID]
	if !present {
		rm.backlog[userID] = append(rm.backlog[userID], payload)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	return sc.writeJSON(payload)
}

func (r *roomRepository) CloseRoom(lessonID uuid.UUID, payload any) {
	r.mu.Lock()
	rm, ok := r.rooms[lessonID]
	if ok {
		delete(r.rooms, lessonID)
	}
	metric.SetActiveRooms(len(r.rooms))
	r.mu.Unlock()

	if !ok {
		return
	}

	for userID, sc := range rm.conns {
		if payload != nil {
			if err := sc.writeJSON(payload); err != nil {
				slog.Warn("notify room close",
					slog.Any(constant.Error, err),
					slog.Any(constant.UserID, userID),
				)
			}
		}
		sc.conn.Close()
	}
}

func (r *roomRepository) HasParticipant(lessonID, userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[lessonID]
	if !ok {
		return false
	}

	_, ok = rm.conns[userID]
	return ok
}

func (r *roomRepository) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
