package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/easyclase/liveclass/internal/application/constant"
	"github.com/easyclase/liveclass/internal/domain"
)

var ErrChannelClosed = errors.New("signaling channel closed")

const (
	readWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Transport is the call session's view of the signaling channel. One call
// owns exactly one transport; it is never shared between sessions.
type Transport interface {
	// Connect establishes the room connection and announces presence.
	// Failure is terminal for the caller; the channel does not retry.
	Connect(ctx context.Context, lessonID uuid.UUID, identity domain.Participant) error

	// Send is best-effort. While disconnected, messages queue and flush on
	// the next Connect rather than being dropped.
	Send(msg Message) error

	// Messages delivers inbound room traffic to the single consumer.
	Messages() <-chan Message

	Close() error
}

// Channel implements Transport over a websocket to the relay server.
type Channel struct {
	serverURL string
	token     string
	dialer    *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	pending []Message

	seenMu sync.Mutex
	seen   map[uuid.UUID]struct{}

	inbound   chan Message
	done      chan struct{}
	closeOnce sync.Once
}

var _ Transport = (*Channel)(nil)

func NewChannel(serverURL, token string) *Channel {
	return &Channel{
		serverURL: serverURL,
		token:     token,
		dialer:    websocket.DefaultDialer,
		seen:      make(map[uuid.UUID]struct{}),
		inbound:   make(chan Message, 32),
		done:      make(chan struct{}),
	}
}

func (c *Channel) Connect(ctx context.Context, lessonID uuid.UUID, identity domain.Participant) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	endpoint, err := c.endpoint(lessonID)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return fmt.Errorf("dial signaling server: %w", err)
	}

	join, err := NewMessage(TypeJoin, JoinEvent{
		LessonID: lessonID,
		UserID:   identity.UserID,
		Role:     identity.Role,
	})
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.conn != nil {
		// Reconnect after a transient drop replaces the old transport.
		c.conn.Close()
	}
	c.conn = conn

	if err := conn.WriteJSON(join); err != nil {
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("announce presence: %w", err)
	}

	flush := c.pending
	c.pending = nil
	for _, msg := range flush {
		if err := conn.WriteJSON(msg); err != nil {
			slog.Warn("flush queued signaling message", slog.Any(constant.Error, err))
			c.pending = append(c.pending, msg)
			break
		}
	}
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	return nil
}

func (c *Channel) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.pending = append(c.pending, msg)
		return nil
	}

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write signaling message: %w", err)
	}

	return nil
}

func (c *Channel) Messages() <-chan Message {
	return c.inbound
}

func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	})

	return nil
}

func (c *Channel) endpoint(lessonID uuid.UUID) (string, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	u.Path = "/api/v1/ws"
	q := u.Query()
	q.Set("lesson_id", lessonID.String())
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				slog.Warn("signaling read error", slog.Any(constant.Error, err))
			}

			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()

			return
		}

		conn.SetReadDeadline(time.Now().Add(readWait))

		if c.duplicate(msg.ID) {
			continue
		}

		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn == conn
			if current {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					slog.Warn("signaling ping failed", slog.Any(constant.Error, err))
					current = false
				}
			}
			c.mu.Unlock()

			if !current {
				return
			}
		case <-c.done:
			return
		}
	}
}

// duplicate records and detects message ids so that an at-least-once
// transport never delivers the same message to the session twice.
func (c *Channel) duplicate(id uuid.UUID) bool {
	if id == uuid.Nil {
		return false
	}

	c.seenMu.Lock()
	defer c.seenMu.Unlock()

	if _, ok := c.seen[id]; ok {
		return true
	}
	c.seen[id] = struct{}{}

	return false
}
