package callsession

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyclase/liveclass/internal/domain"
	"github.com/easyclase/liveclass/internal/signaling"
)

type fakeTransport struct {
	mu         sync.Mutex
	sent       []signaling.Message
	msgs       chan signaling.Message
	connectErr error
	closed     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{msgs: make(chan signaling.Message, 16)}
}

func (t *fakeTransport) Connect(_ context.Context, _ uuid.UUID, _ domain.Participant) error {
	return t.connectErr
}

func (t *fakeTransport) Send(msg signaling.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Messages() <-chan signaling.Message {
	return t.msgs
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) sentOfType(typ signaling.Type) []signaling.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []signaling.Message
	for _, msg := range t.sent {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

// deliver injects an inbound room message as if the relay forwarded it.
func (t *fakeTransport) deliver(tb testing.TB, typ signaling.Type, event any) {
	tb.Helper()

	msg, err := signaling.NewMessage(typ, event)
	require.NoError(tb, err)
	t.msgs <- msg
}

type fakeDevices struct {
	mu          sync.Mutex
	screenCalls int
	camCalls    int
	camErr      error
	screenErr   error

	// release, when set, blocks every Open until closed.
	release chan struct{}
}

func (d *fakeDevices) open(id string) (*Track, error) {
	if d.release != nil {
		<-d.release
	}

	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	if id == "audio" {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	}

	local, err := webrtc.NewTrackLocalStaticRTP(capability, id, "test")
	if err != nil {
		return nil, err
	}
	return NewTrack(local, nil), nil
}

func (d *fakeDevices) OpenMicrophone(context.Context) (*Track, error) {
	return d.open("audio")
}

func (d *fakeDevices) OpenCamera(context.Context) (*Track, error) {
	d.mu.Lock()
	d.camCalls++
	err := d.camErr
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return d.open("video")
}

func (d *fakeDevices) OpenScreen(context.Context) (*Track, error) {
	d.mu.Lock()
	d.screenCalls++
	err := d.screenErr
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return d.open("screen")
}

func (d *fakeDevices) screenOpened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.screenCalls
}

func testLesson() *domain.Lesson {
	return &domain.Lesson{
		ID:              uuid.New(),
		TeacherID:       uuid.New(),
		StudentID:       uuid.New(),
		ScheduledStart:  time.Now().Add(-time.Minute),
		DurationMinutes: 60,
	}
}

func newTestSession(t *testing.T, lesson *domain.Lesson, role domain.Role, transport *fakeTransport, devices Devices) *Session {
	t.Helper()

	identity := domain.Participant{UserID: lesson.TeacherID, Role: role}
	if role == domain.RoleStudent {
		identity.UserID = lesson.StudentID
	}

	s, err := NewSession(Config{
		Lesson:   lesson,
		Identity: identity,
		Channel:  transport,
		Devices:  devices,
	})
	require.NoError(t, err)
	t.Cleanup(s.End)

	return s
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == want
	}, 3*time.Second, 10*time.Millisecond, "never reached state %s", want)
}

func negotiationKind(t *testing.T, msg signaling.Message) string {
	t.Helper()

	var ev signaling.NegotiationEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))

	var payload negotiationPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	return payload.Kind
}

func TestSessionRejectsStrangers(t *testing.T) {
	lesson := testLesson()

	s, err := NewSession(Config{
		Lesson:   lesson,
		Identity: domain.Participant{UserID: uuid.New(), Role: domain.RoleStudent},
		Channel:  newFakeTransport(),
		Devices:  &fakeDevices{},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Start(context.Background()), ErrAccessDenied)
	assert.Equal(t, StateIdle, s.State())
}

func TestTeacherInitiatesOffer(t *testing.T) {
	transport := newFakeTransport()
	s := newTestSession(t, testLesson(), domain.RoleTeacher, transport, &fakeDevices{})

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateAwaitingPeer)

	require.Eventually(t, func() bool {
		return len(transport.sentOfType(signaling.TypeNegotiation)) > 0
	}, 3*time.Second, 10*time.Millisecond)

	first := transport.sentOfType(signaling.TypeNegotiation)[0]
	assert.Equal(t, "offer", negotiationKind(t, first))
}

func TestStudentNeverOffersFirst(t *testing.T) {
	transport := newFakeTransport()
	s := newTestSession(t, testLesson(), domain.RoleStudent, transport, &fakeDevices{})

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateAwaitingPeer)

	assert.Empty(t, transport.sentOfType(signaling.TypeNegotiation))
}

func TestEarlyPayloadsBufferedUntilMediaReady(t *testing.T) {
	transport := newFakeTransport()
	release := make(chan struct{})
	devices := &fakeDevices{release: release}

	s := newTestSession(t, testLesson(), domain.RoleStudent, transport, devices)
	require.NoError(t, s.Start(context.Background()))

	// The teacher's candidate arrives while local media is still pending.
	candidate := webrtc.ICECandidateInit{Candidate: "candidate:0 1 udp 1 127.0.0.1 40000 typ host"}
	blob, err := json.Marshal(negotiationPayload{Kind: "candidate", Candidate: &candidate})
	require.NoError(t, err)
	transport.deliver(t, signaling.TypeNegotiation, signaling.NegotiationEvent{Payload: blob})

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.buffered) == 1
	}, 3*time.Second, 10*time.Millisecond, "payload was not buffered")

	close(release)
	waitForState(t, s, StateAwaitingPeer)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.buffered, "buffer should be drained on media ready")
	assert.Len(t, s.pendingCandidates, 1, "candidate should wait for the remote description")
}

func TestMediaFailureFailsTheCall(t *testing.T) {
	transport := newFakeTransport()
	s := newTestSession(t, testLesson(), domain.RoleStudent, transport, &fakeDevices{camErr: context.DeadlineExceeded})

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateFailed)
}

func TestChannelFailureFailsTheCall(t *testing.T) {
	transport := newFakeTransport()
	transport.connectErr = context.DeadlineExceeded

	s := newTestSession(t, testLesson(), domain.RoleStudent, transport, &fakeDevices{})

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateFailed)
}

func TestNegotiationTimeout(t *testing.T) {
	transport := newFakeTransport()
	lesson := testLesson()

	s, err := NewSession(Config{
		Lesson:             lesson,
		Identity:           domain.Participant{UserID: lesson.StudentID, Role: domain.RoleStudent},
		Channel:            transport,
		Devices:            &fakeDevices{},
		NegotiationTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(s.End)

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateFailed)
}

func TestEndIsIdempotent(t *testing.T) {
	transport := newFakeTransport()
	s := newTestSession(t, testLesson(), domain.RoleTeacher, transport, &fakeDevices{})

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateAwaitingPeer)

	s.End()
	s.End()

	assert.Equal(t, StateEnded, s.State())
	require.Len(t, transport.sentOfType(signaling.TypeEndCall), 1)
}

func TestTogglesRequireLiveTracks(t *testing.T) {
	s := newTestSession(t, testLesson(), domain.RoleStudent, newFakeTransport(), &fakeDevices{})

	_, ok := s.ToggleVideo()
	assert.False(t, ok)
	_, ok = s.ToggleAudio()
	assert.False(t, ok)

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateAwaitingPeer)

	enabled, ok := s.ToggleVideo()
	assert.True(t, ok)
	assert.False(t, enabled)

	enabled, ok = s.ToggleVideo()
	assert.True(t, ok)
	assert.True(t, enabled)
}

func TestChatIsOptimisticAndMerged(t *testing.T) {
	transport := newFakeTransport()
	lesson := testLesson()
	s := newTestSession(t, lesson, domain.RoleStudent, transport, &fakeDevices{})

	// Before the call even starts the message lands in the transcript.
	entry := s.SendChat("hola profe")
	assert.Equal(t, lesson.ID, entry.LessonID)
	require.Len(t, s.Transcript(), 1)
	require.Len(t, transport.sentOfType(signaling.TypeChat), 1)

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateAwaitingPeer)

	peer := domain.NewChatEntry(lesson.ID, domain.Participant{UserID: lesson.TeacherID, Role: domain.RoleTeacher}, "hola")
	transport.deliver(t, signaling.TypeChat, signaling.ChatEntryEvent(peer))

	require.Eventually(t, func() bool {
		return len(s.Transcript()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	transcript := s.Transcript()
	assert.Equal(t, "hola profe", transcript[0].Text)
	assert.Equal(t, "hola", transcript[1].Text)
}

func TestTeacherSharesImmediately(t *testing.T) {
	transport := newFakeTransport()
	devices := &fakeDevices{}
	s := newTestSession(t, testLesson(), domain.RoleTeacher, transport, devices)

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateAwaitingPeer)
	s.dispatch(Event{Kind: eventRemoteStream})
	waitForState(t, s, StateConnected)

	require.NoError(t, s.RequestScreenShare(context.Background()))
	assert.True(t, s.IsScreenSharing())
	assert.Equal(t, 1, devices.screenOpened())
	assert.Empty(t, transport.sentOfType(signaling.TypeShareRequest))

	require.NoError(t, s.StopScreenShare(context.Background()))
	assert.False(t, s.IsScreenSharing())
}

func TestStudentShareNeedsApproval(t *testing.T) {
	transport := newFakeTransport()
	devices := &fakeDevices{}
	lesson := testLesson()
	s := newTestSession(t, lesson, domain.RoleStudent, transport, devices)

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateAwaitingPeer)
	s.dispatch(Event{Kind: eventRemoteStream})
	waitForState(t, s, StateConnected)

	t.Run("denied", func(t *testing.T) {
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.RequestScreenShare(context.Background())
		}()

		require.Eventually(t, func() bool {
			return len(transport.sentOfType(signaling.TypeShareRequest)) == 1
		}, 3*time.Second, 10*time.Millisecond)

		// Capture must not start before the teacher answers.
		assert.Equal(t, 0, devices.screenOpened())

		transport.deliver(t, signaling.TypeShareResponse, signaling.ShareResponseEvent{
			ToUserID: lesson.StudentID,
			Allowed:  false,
		})

		assert.ErrorIs(t, <-errCh, ErrScreenShareDenied)
		assert.Equal(t, 0, devices.screenOpened())
		assert.False(t, s.IsScreenSharing())
	})

	t.Run("approved", func(t *testing.T) {
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.RequestScreenShare(context.Background())
		}()

		require.Eventually(t, func() bool {
			return len(transport.sentOfType(signaling.TypeShareRequest)) == 2
		}, 3*time.Second, 10*time.Millisecond)

		transport.deliver(t, signaling.TypeShareResponse, signaling.ShareResponseEvent{
			ToUserID: lesson.StudentID,
			Allowed:  true,
		})

		require.NoError(t, <-errCh)
		assert.True(t, s.IsScreenSharing())
		assert.Equal(t, 1, devices.screenOpened())
	})
}

func TestTeacherAnswersShareRequests(t *testing.T) {
	transport := newFakeTransport()
	lesson := testLesson()

	s, err := NewSession(Config{
		Lesson:   lesson,
		Identity: domain.Participant{UserID: lesson.TeacherID, Role: domain.RoleTeacher},
		Channel:  transport,
		Devices:  &fakeDevices{},
		ApproveShare: func(ev signaling.ShareRequestEvent) bool {
			return ev.FromRole == domain.RoleStudent
		},
	})
	require.NoError(t, err)
	t.Cleanup(s.End)

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateAwaitingPeer)

	transport.deliver(t, signaling.TypeShareRequest, signaling.ShareRequestEvent{
		FromUserID: lesson.StudentID,
		FromRole:   domain.RoleStudent,
	})

	require.Eventually(t, func() bool {
		return len(transport.sentOfType(signaling.TypeShareResponse)) == 1
	}, 3*time.Second, 10*time.Millisecond)

	var resp signaling.ShareResponseEvent
	require.NoError(t, json.Unmarshal(transport.sentOfType(signaling.TypeShareResponse)[0].Data, &resp))
	assert.Equal(t, lesson.StudentID, resp.ToUserID)
	assert.True(t, resp.Allowed)
}

func TestRemoteEndClosesTheSession(t *testing.T) {
	transport := newFakeTransport()
	s := newTestSession(t, testLesson(), domain.RoleStudent, transport, &fakeDevices{})

	require.NoError(t, s.Start(context.Background()))
	waitForState(t, s, StateAwaitingPeer)

	transport.deliver(t, signaling.TypeEndCall, signaling.EndCallEvent{})
	waitForState(t, s, StateEnded)

	// The remote end already knows; only teardown happens locally.
	assert.Empty(t, transport.sentOfType(signaling.TypeEndCall))
}
