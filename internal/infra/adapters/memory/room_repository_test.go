package memory

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	mu       sync.Mutex
	payloads []any
	closed   bool
}

func (c *stubConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, v)
	return nil
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestRoomBacklogFlushesOnJoin(t *testing.T) {
	rooms := NewRoomRepository()
	lessonID := uuid.New()
	userID := uuid.New()

	require.NoError(t, rooms.Write(lessonID, userID, "first"))
	require.NoError(t, rooms.Write(lessonID, userID, "second"))

	conn := &stubConn{}
	rooms.Add(lessonID, userID, conn)

	assert.Equal(t, []any{"first", "second"}, conn.payloads)
}

func TestRoomReconnectReplacesConnection(t *testing.T) {
	rooms := NewRoomRepository()
	lessonID := uuid.New()
	userID := uuid.New()

	first := &stubConn{}
	second := &stubConn{}
	rooms.Add(lessonID, userID, first)
	rooms.Add(lessonID, userID, second)

	assert.True(t, first.closed)
	require.NoError(t, rooms.Write(lessonID, userID, "hello"))
	assert.Empty(t, first.payloads)
	assert.Equal(t, []any{"hello"}, second.payloads)
}

func TestRoomCloseNotifiesEveryone(t *testing.T) {
	rooms := NewRoomRepository()
	lessonID := uuid.New()

	a := &stubConn{}
	b := &stubConn{}
	rooms.Add(lessonID, uuid.New(), a)
	rooms.Add(lessonID, uuid.New(), b)
	require.Equal(t, 1, rooms.RoomCount())

	rooms.CloseRoom(lessonID, "bye")

	assert.Equal(t, 0, rooms.RoomCount())
	for _, conn := range []*stubConn{a, b} {
		assert.True(t, conn.closed)
		assert.Equal(t, []any{"bye"}, conn.payloads)
	}
}

func TestRoomRemoveLastParticipantDropsRoom(t *testing.T) {
	rooms := NewRoomRepository()
	lessonID := uuid.New()
	userID := uuid.New()

	rooms.Add(lessonID, userID, &stubConn{})
	require.True(t, rooms.HasParticipant(lessonID, userID))

	rooms.Remove(lessonID, userID)

	assert.False(t, rooms.HasParticipant(lessonID, userID))
	assert.Equal(t, 0, rooms.RoomCount())
}
