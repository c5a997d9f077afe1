package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyclase/liveclass/internal/accessgate"
	"github.com/easyclase/liveclass/internal/domain"
	"github.com/easyclase/liveclass/internal/infra/adapters/memory"
	"github.com/easyclase/liveclass/internal/infra/adapters/postgres/repository"
	"github.com/easyclase/liveclass/internal/infra/appctx"
	"github.com/easyclase/liveclass/internal/signaling"
)

type fakeLessonRepo struct {
	lessons map[uuid.UUID]*domain.Lesson
}

func (r *fakeLessonRepo) Create(_ context.Context, lesson *domain.Lesson) error {
	r.lessons[lesson.ID] = lesson
	return nil
}

func (r *fakeLessonRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Lesson, error) {
	lesson, ok := r.lessons[id]
	if !ok {
		return nil, repository.ErrLessonNotFound
	}
	return lesson, nil
}

func (r *fakeLessonRepo) GetByParticipant(_ context.Context, userID uuid.UUID) ([]*domain.Lesson, error) {
	var out []*domain.Lesson
	for _, lesson := range r.lessons {
		if lesson.TeacherID == userID || lesson.StudentID == userID {
			out = append(out, lesson)
		}
	}
	return out, nil
}

type fakeChatRepo struct {
	mu    sync.Mutex
	saved []domain.ChatEntry
}

func (r *fakeChatRepo) Save(_ context.Context, entry domain.ChatEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, entry)
	return nil
}

func (r *fakeChatRepo) ListByLesson(_ context.Context, lessonID uuid.UUID) ([]domain.ChatEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.ChatEntry
	for _, entry := range r.saved {
		if entry.LessonID == lessonID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *fakeChatRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

type fakeConn struct {
	mu       sync.Mutex
	payloads []any
	closed   bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.payloads))
	copy(out, c.payloads)
	return out
}

type relayFixture struct {
	usecase    *relayUsecase
	lessonRepo *fakeLessonRepo
	chatRepo   *fakeChatRepo
	rooms      memory.RoomRepository
	lesson     *domain.Lesson
	teacher    appctx.Identity
	student    appctx.Identity
}

func newRelayFixture(t *testing.T, now time.Time) *relayFixture {
	t.Helper()

	lesson := &domain.Lesson{
		ID:              uuid.New(),
		TeacherID:       uuid.New(),
		StudentID:       uuid.New(),
		ScheduledStart:  now.Add(-time.Minute),
		DurationMinutes: 60,
	}

	lessonRepo := &fakeLessonRepo{lessons: map[uuid.UUID]*domain.Lesson{lesson.ID: lesson}}
	chatRepo := &fakeChatRepo{}
	rooms := memory.NewRoomRepository()

	u := NewRelayUsecase(lessonRepo, chatRepo, rooms).(*relayUsecase)
	u.now = func() time.Time { return now }

	return &relayFixture{
		usecase:    u,
		lessonRepo: lessonRepo,
		chatRepo:   chatRepo,
		rooms:      rooms,
		lesson:     lesson,
		teacher:    appctx.Identity{UserID: lesson.TeacherID, Role: domain.RoleTeacher},
		student:    appctx.Identity{UserID: lesson.StudentID, Role: domain.RoleStudent},
	}
}

func TestRelayJoinGating(t *testing.T) {
	now := time.Now()

	t.Run("participant inside the window joins", func(t *testing.T) {
		f := newRelayFixture(t, now)

		lesson, err := f.usecase.Join(context.Background(), f.lesson.ID, f.teacher, &fakeConn{})
		require.NoError(t, err)
		assert.Equal(t, f.lesson.ID, lesson.ID)
		assert.True(t, f.rooms.HasParticipant(f.lesson.ID, f.teacher.UserID))
	})

	t.Run("stranger is rejected", func(t *testing.T) {
		f := newRelayFixture(t, now)

		stranger := appctx.Identity{UserID: uuid.New(), Role: domain.RoleStudent}
		_, err := f.usecase.Join(context.Background(), f.lesson.ID, stranger, &fakeConn{})
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("wrong role is rejected", func(t *testing.T) {
		f := newRelayFixture(t, now)

		impostor := appctx.Identity{UserID: f.lesson.StudentID, Role: domain.RoleTeacher}
		_, err := f.usecase.Join(context.Background(), f.lesson.ID, impostor, &fakeConn{})
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("too early reports minutes remaining", func(t *testing.T) {
		f := newRelayFixture(t, now)
		f.lesson.ScheduledStart = now.Add(25 * time.Minute)

		_, err := f.usecase.Join(context.Background(), f.lesson.ID, f.student, &fakeConn{})

		var denied *JoinDeniedError
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, accessgate.VerdictTooEarly, denied.Decision.Verdict)
		assert.Equal(t, 15, denied.Decision.MinutesRemaining)
	})

	t.Run("too late is final", func(t *testing.T) {
		f := newRelayFixture(t, now)
		f.lesson.ScheduledStart = now.Add(-2 * time.Hour)

		_, err := f.usecase.Join(context.Background(), f.lesson.ID, f.student, &fakeConn{})

		var denied *JoinDeniedError
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, accessgate.VerdictTooLate, denied.Decision.Verdict)
	})

	t.Run("unknown lesson", func(t *testing.T) {
		f := newRelayFixture(t, now)

		_, err := f.usecase.Join(context.Background(), uuid.New(), f.student, &fakeConn{})
		assert.ErrorIs(t, err, repository.ErrLessonNotFound)
	})
}

func TestRelayChatPersistsAndForwards(t *testing.T) {
	f := newRelayFixture(t, time.Now())
	ctx := context.Background()

	teacherConn := &fakeConn{}
	studentConn := &fakeConn{}
	_, err := f.usecase.Join(ctx, f.lesson.ID, f.teacher, teacherConn)
	require.NoError(t, err)
	_, err = f.usecase.Join(ctx, f.lesson.ID, f.student, studentConn)
	require.NoError(t, err)

	entry := domain.NewChatEntry(f.lesson.ID, domain.Participant{UserID: f.student.UserID, Role: domain.RoleStudent}, "hola")
	msg, err := signaling.NewMessage(signaling.TypeChat, signaling.ChatEntryEvent(entry))
	require.NoError(t, err)

	require.NoError(t, f.usecase.HandleMessage(ctx, f.lesson, f.student, msg))

	require.Equal(t, 1, f.chatRepo.count())
	saved, err := f.chatRepo.ListByLesson(ctx, f.lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, "hola", saved[0].Text)
	assert.Equal(t, f.student.UserID, saved[0].SenderID)

	// Only the peer receives the forwarded copy.
	require.Len(t, teacherConn.received(), 1)
	assert.Empty(t, studentConn.received())
}

func TestRelayRejectsSpoofedChatSender(t *testing.T) {
	f := newRelayFixture(t, time.Now())
	ctx := context.Background()

	entry := domain.NewChatEntry(f.lesson.ID, domain.Participant{UserID: f.teacher.UserID, Role: domain.RoleTeacher}, "spoofed")
	msg, err := signaling.NewMessage(signaling.TypeChat, signaling.ChatEntryEvent(entry))
	require.NoError(t, err)

	err = f.usecase.HandleMessage(ctx, f.lesson, f.student, msg)
	require.Error(t, err)
	assert.Equal(t, 0, f.chatRepo.count())
}

func TestRelayBacklogsOfferUntilPeerJoins(t *testing.T) {
	f := newRelayFixture(t, time.Now())
	ctx := context.Background()

	teacherConn := &fakeConn{}
	_, err := f.usecase.Join(ctx, f.lesson.ID, f.teacher, teacherConn)
	require.NoError(t, err)

	offer, err := signaling.NewMessage(signaling.TypeNegotiation, signaling.NegotiationEvent{Payload: []byte(`{"kind":"offer"}`)})
	require.NoError(t, err)
	require.NoError(t, f.usecase.HandleMessage(ctx, f.lesson, f.teacher, offer))

	// The student joins afterwards and still receives the offer.
	studentConn := &fakeConn{}
	_, err = f.usecase.Join(ctx, f.lesson.ID, f.student, studentConn)
	require.NoError(t, err)

	require.Len(t, studentConn.received(), 1)
	forwarded, ok := studentConn.received()[0].(signaling.Message)
	require.True(t, ok)
	assert.Equal(t, offer.ID, forwarded.ID)
}

func TestRelayEndCallClosesRoom(t *testing.T) {
	f := newRelayFixture(t, time.Now())
	ctx := context.Background()

	teacherConn := &fakeConn{}
	studentConn := &fakeConn{}
	_, err := f.usecase.Join(ctx, f.lesson.ID, f.teacher, teacherConn)
	require.NoError(t, err)
	_, err = f.usecase.Join(ctx, f.lesson.ID, f.student, studentConn)
	require.NoError(t, err)

	end, err := signaling.NewMessage(signaling.TypeEndCall, signaling.EndCallEvent{})
	require.NoError(t, err)
	require.NoError(t, f.usecase.HandleMessage(ctx, f.lesson, f.teacher, end))

	require.Len(t, studentConn.received(), 1)
	assert.Equal(t, 0, f.rooms.RoomCount())
	assert.True(t, studentConn.closed)
	assert.True(t, teacherConn.closed)
}

func TestRelayClosesRoomWhenWindowEnds(t *testing.T) {
	now := time.Now()
	f := newRelayFixture(t, now)

	// The window ends 50ms from the fixture clock.
	f.lesson.ScheduledStart = now.Add(50*time.Millisecond - time.Hour)
	f.lesson.DurationMinutes = 60

	ctx := context.Background()
	teacherConn := &fakeConn{}
	studentConn := &fakeConn{}
	_, err := f.usecase.Join(ctx, f.lesson.ID, f.teacher, teacherConn)
	require.NoError(t, err)
	_, err = f.usecase.Join(ctx, f.lesson.ID, f.student, studentConn)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.rooms.RoomCount() == 0
	}, 3*time.Second, 10*time.Millisecond)

	// Both participants were told the call is over before the cut.
	require.Len(t, teacherConn.received(), 1)
	final, ok := teacherConn.received()[0].(signaling.Message)
	require.True(t, ok)
	assert.Equal(t, signaling.TypeEndCall, final.Type)
	require.Len(t, studentConn.received(), 1)
}
