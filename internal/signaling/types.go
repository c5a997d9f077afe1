// Package signaling carries the wire protocol of a lesson room: connection
// negotiation payloads, screen-share authorization, chat, and call
// termination between exactly two participants.
package signaling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/easyclase/liveclass/internal/domain"
)

type Type string

const (
	TypeJoin          Type = "join"
	TypeNegotiation   Type = "negotiation"
	TypeShareRequest  Type = "share_request"
	TypeShareResponse Type = "share_response"
	TypeChat          Type = "chat"
	TypeEndCall       Type = "end_call"
)

// Message is the envelope every room event travels in. ID makes redelivery
// after a transport reconnect detectable; Data is the type-specific payload.
type Message struct {
	ID   uuid.UUID       `json:"id"`
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinEvent announces presence in the lesson room.
type JoinEvent struct {
	LessonID uuid.UUID   `json:"lesson_id"`
	UserID   uuid.UUID   `json:"user_id"`
	Role     domain.Role `json:"role"`
}

// NegotiationEvent wraps an opaque offer/answer/ICE-candidate blob. The relay
// passes it through verbatim; only the two call sessions interpret it.
type NegotiationEvent struct {
	Payload json.RawMessage `json:"payload"`
}

type ShareRequestEvent struct {
	FromUserID uuid.UUID   `json:"from_user_id"`
	FromRole   domain.Role `json:"from_role"`
}

type ShareResponseEvent struct {
	ToUserID uuid.UUID `json:"to_user_id"`
	Allowed  bool      `json:"allowed"`
}

type ChatEvent struct {
	ID         uuid.UUID   `json:"id"`
	SenderID   uuid.UUID   `json:"sender_id"`
	SenderRole domain.Role `json:"sender_role"`
	Text       string      `json:"text"`
	Timestamp  time.Time   `json:"timestamp"`
}

type EndCallEvent struct{}

// NewMessage wraps an event payload in a fresh envelope.
func NewMessage(t Type, event any) (Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s event: %w", t, err)
	}

	return Message{
		ID:   uuid.New(),
		Type: t,
		Data: data,
	}, nil
}

func ChatEntryEvent(entry domain.ChatEntry) ChatEvent {
	return ChatEvent{
		ID:         entry.ID,
		SenderID:   entry.SenderID,
		SenderRole: entry.Role,
		Text:       entry.Text,
		Timestamp:  entry.SentAt,
	}
}

func (e ChatEvent) Entry(lessonID uuid.UUID) domain.ChatEntry {
	return domain.ChatEntry{
		ID:       e.ID,
		LessonID: lessonID,
		SenderID: e.SenderID,
		Role:     e.SenderRole,
		Text:     e.Text,
		SentAt:   e.Timestamp,
	}
}
