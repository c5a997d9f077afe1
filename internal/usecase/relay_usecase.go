package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easyclase/liveclass/internal/accessgate"
	"github.com/easyclase/liveclass/internal/application/constant"
	"github.com/easyclase/liveclass/internal/application/metric"
	"github.com/easyclase/liveclass/internal/domain"
	"github.com/easyclase/liveclass/internal/infra/adapters/memory"
	"github.com/easyclase/liveclass/internal/infra/adapters/postgres/repository"
	"github.com/easyclase/liveclass/internal/infra/appctx"
	"github.com/easyclase/liveclass/internal/signaling"
)

var ErrAccessDenied = errors.New("user is not a participant of this lesson")

// JoinDeniedError carries the gate decision so the handler can tell the
// client whether to retry later (too early) or give up (too late).
type JoinDeniedError struct {
	Decision accessgate.JoinDecision
}

func (e *JoinDeniedError) Error() string {
	return fmt.Sprintf("join denied: %s", e.Decision.Verdict)
}

// RelayUsecase pairs the two participants of a lesson into a room, gates
// entry through the access window, relays signaling traffic verbatim,
// persists chat, and ejects everyone once the window closes.
type RelayUsecase interface {
	Join(ctx context.Context, lessonID uuid.UUID, ident appctx.Identity, conn memory.Conn) (*domain.Lesson, error)
	Leave(ctx context.Context, lessonID, userID uuid.UUID)
	HandleMessage(ctx context.Context, lesson *domain.Lesson, ident appctx.Identity, msg signaling.Message) error
}

type relayUsecase struct {
	lessonRepo repository.LessonRepository
	chatRepo   repository.ChatRepository
	rooms      memory.RoomRepository

	now func() time.Time

	closersMu sync.Mutex
	closers   map[uuid.UUID]*time.Timer
}

func NewRelayUsecase(
	lessonRepo repository.LessonRepository,
	chatRepo repository.ChatRepository,
	rooms memory.RoomRepository,
) RelayUsecase {
	return &relayUsecase{
		lessonRepo: lessonRepo,
		chatRepo:   chatRepo,
		rooms:      rooms,
		now:        time.Now,
		closers:    make(map[uuid.UUID]*time.Timer),
	}
}

func (u *relayUsecase) Join(ctx context.Context, lessonID uuid.UUID, ident appctx.Identity, conn memory.Conn) (*domain.Lesson, error) {
	lesson, err := u.lessonRepo.GetByID(ctx, lessonID)
	if err != nil {
		return nil, err
	}

	if !accessgate.CanAccess(lesson, ident.UserID, ident.Role) {
		metric.RecordJoinRejection("access_denied")
		return nil, ErrAccessDenied
	}

	decision := accessgate.CanJoinNow(lesson, u.now())
	if !decision.Joinable() {
		metric.RecordJoinRejection(string(decision.Verdict))
		return nil, &JoinDeniedError{Decision: decision}
	}

	u.rooms.Add(lessonID, ident.UserID, conn)
	u.scheduleClose(lesson, decision.WindowEnd)

	slog.Info("participant joined lesson room",
		slog.Any(constant.UserID, ident.UserID),
		slog.String(constant.Role, string(ident.Role)),
		slog.String(constant.LessonID, lessonID.String()),
	)

	return lesson, nil
}

func (u *relayUsecase) Leave(ctx context.Context, lessonID, userID uuid.UUID) {
	u.rooms.Remove(lessonID, userID)

	slog.Info("participant left lesson room",
		slog.Any(constant.UserID, userID),
		slog.String(constant.LessonID, lessonID.String()),
	)
}

func (u *relayUsecase) HandleMessage(ctx context.Context, lesson *domain.Lesson, ident appctx.Identity, msg signaling.Message) error {
	peer, ok := lesson.PeerOf(ident.UserID)
	if !ok {
		return ErrAccessDenied
	}

	metric.RecordRelayedMessage(string(msg.Type))

	switch msg.Type {
	case signaling.TypeChat:
		var ev signaling.ChatEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmt.Errorf("unmarshal chat event: %w", err)
		}
		if ev.SenderID != ident.UserID {
			return fmt.Errorf("chat sender %s does not match caller", ev.SenderID)
		}

		if err := u.chatRepo.Save(ctx, ev.Entry(lesson.ID)); err != nil {
			// Transcript is best-effort; the call goes on.
			slog.Error("persist chat message", slog.Any(constant.Error, err))
		} else {
			metric.RecordChatPersisted()
		}

		return u.rooms.Write(lesson.ID, peer.UserID, msg)

	case signaling.TypeEndCall:
		if err := u.rooms.Write(lesson.ID, peer.UserID, msg); err != nil {
			slog.Warn("forward end of call", slog.Any(constant.Error, err))
		}
		u.rooms.CloseRoom(lesson.ID, nil)
		u.cancelClose(lesson.ID)
		return nil

	default:
		// Negotiation payloads, share requests/responses and presence are
		// passed through verbatim; only the two sessions interpret them.
		return u.rooms.Write(lesson.ID, peer.UserID, msg)
	}
}

// scheduleClose arms the room ejection at the end of the join window. One
// timer per lesson; the first joiner arms it.
func (u *relayUsecase) scheduleClose(lesson *domain.Lesson, windowEnd time.Time) {
	u.closersMu.Lock()
	defer u.closersMu.Unlock()

	if _, ok := u.closers[lesson.ID]; ok {
		return
	}

	lessonID := lesson.ID
	u.closers[lessonID] = time.AfterFunc(windowEnd.Sub(u.now()), func() {
		slog.Info("lesson window ended, closing room",
			slog.String(constant.LessonID, lessonID.String()))

		endMsg, err := signaling.NewMessage(signaling.TypeEndCall, signaling.EndCallEvent{})
		if err != nil {
			u.rooms.CloseRoom(lessonID, nil)
		} else {
			u.rooms.CloseRoom(lessonID, endMsg)
		}

		u.cancelClose(lessonID)
	})
}

func (u *relayUsecase) cancelClose(lessonID uuid.UUID) {
	u.closersMu.Lock()
	defer u.closersMu.Unlock()

	if timer, ok := u.closers[lessonID]; ok {
		timer.Stop()
		delete(u.closers, lessonID)
	}
}
