// Package callsession orchestrates one peer-to-peer lesson call: local
// media acquisition, role-fixed offer/answer negotiation over the signaling
// channel, track toggles, teacher-gated screen sharing and the optimistic
// chat log.
package callsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/easyclase/liveclass/internal/accessgate"
	"github.com/easyclase/liveclass/internal/application/constant"
	"github.com/easyclase/liveclass/internal/domain"
	"github.com/easyclase/liveclass/internal/signaling"
)

const DefaultNegotiationTimeout = 30 * time.Second

var (
	ErrAccessDenied        = errors.New("caller is not a participant of this lesson")
	ErrNotConnected        = errors.New("call is not connected")
	ErrSessionEnded        = errors.New("call session has ended")
	ErrScreenShareDenied   = errors.New("screen share request denied")
	ErrShareRequestPending = errors.New("a screen share request is already pending")
)

// negotiationPayload is the shape inside the opaque Negotiation blob. The
// relay never sees it; both sessions agree on it.
type negotiationPayload struct {
	Kind      string                   `json:"kind"` // offer, answer, candidate
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

type Config struct {
	Lesson   *domain.Lesson
	Identity domain.Participant

	Channel signaling.Transport
	Devices Devices

	ICEServers         []webrtc.ICEServer
	NegotiationTimeout time.Duration

	// ApproveShare is the teacher-side approval prompt for a student's
	// screen-share request. It runs on its own goroutine so a slow human
	// answer never blocks other inbound traffic. Nil means deny.
	ApproveShare func(signaling.ShareRequestEvent) bool
}

// Session owns the local media tracks and the peer connection for one call.
// One lesson, one session, one channel handle.
type Session struct {
	cfg     Config
	machine Machine

	mu    sync.Mutex
	state State

	pc          *webrtc.PeerConnection
	videoSender *webrtc.RTPSender

	audio  *Track
	video  *Track
	screen *Track

	sharing    bool
	mediaReady bool

	// Negotiation payloads arriving before local media is ready are
	// buffered and replayed; dropping them would stall the call for good.
	buffered          []negotiationPayload
	pendingCandidates []webrtc.ICECandidateInit

	remoteAudio bool
	remoteVideo bool
	remoteOnce  sync.Once

	shareWaiter chan bool

	transcript []domain.ChatEntry

	negotiationTimer *time.Timer

	events chan LifecycleEvent

	ctx    context.Context
	cancel context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
}

func NewSession(cfg Config) (*Session, error) {
	switch {
	case cfg.Lesson == nil:
		return nil, errors.New("callsession: lesson is required")
	case cfg.Channel == nil:
		return nil, errors.New("callsession: signaling channel is required")
	case cfg.Devices == nil:
		return nil, errors.New("callsession: media devices are required")
	}

	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}

	return &Session{
		cfg:     cfg,
		machine: Machine{Role: cfg.Identity.Role},
		state:   StateIdle,
		events:  make(chan LifecycleEvent, 16),
		done:    make(chan struct{}),
	}, nil
}

// Start begins the call. The join window is the caller's concern (polled
// against the access gate before mounting the call); participant identity is
// still re-checked here so a session can never start for a stranger.
func (s *Session) Start(ctx context.Context) error {
	if !accessgate.CanAccess(s.cfg.Lesson, s.cfg.Identity.UserID, s.cfg.Identity.Role) {
		return ErrAccessDenied
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("call already started (state %s)", s.state)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.dispatch(Event{Kind: eventStart})
	return nil
}

// End is idempotent and callable from any state, including mid-suspension:
// pending media or approval waits observe the done channel and abandon
// cleanly.
func (s *Session) End() {
	s.dispatch(Event{Kind: eventHangup})
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events exposes the lifecycle stream for the hosting UI and audit log.
func (s *Session) Events() <-chan LifecycleEvent {
	return s.events
}

func (s *Session) IsScreenSharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sharing
}

// ToggleVideo flips the local video track's enabled flag. Purely local, no
// signaling. Reports the new value; no-op (false) without a live track.
func (s *Session) ToggleVideo() (enabled, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.video == nil {
		return false, false
	}
	return s.video.Toggle(), true
}

func (s *Session) ToggleAudio() (enabled, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.audio == nil {
		return false, false
	}
	return s.audio.Toggle(), true
}

// RemoteMedia reports which remote track kinds have been observed. Purely
// informational.
func (s *Session) RemoteMedia() (audio, video bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAudio, s.remoteVideo
}

// SendChat appends to the local transcript immediately and sends
// best-effort; while the channel is down the message queues and flushes on
// reconnect instead of being dropped.
func (s *Session) SendChat(text string) domain.ChatEntry {
	entry := domain.NewChatEntry(s.cfg.Lesson.ID, s.cfg.Identity, text)

	s.mu.Lock()
	s.transcript = append(s.transcript, entry)
	s.mu.Unlock()

	msg, err := signaling.NewMessage(signaling.TypeChat, signaling.ChatEntryEvent(entry))
	if err == nil {
		err = s.cfg.Channel.Send(msg)
	}
	if err != nil {
		slog.Warn("send chat message", slog.Any(constant.Error, err))
	}

	return entry
}

// Transcript returns the chat log in local-receipt order.
func (s *Session) Transcript() []domain.ChatEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ChatEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// RequestScreenShare switches the outgoing video to screen capture. The
// teacher switches immediately; the student first asks the teacher and only
// captures after an explicit approval, so a denial leaves the camera stream
// untouched.
func (s *Session) RequestScreenShare(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}

	if s.cfg.Identity.Role == domain.RoleTeacher {
		defer s.mu.Unlock()
		return s.startScreenShareLocked(ctx)
	}

	if s.shareWaiter != nil {
		s.mu.Unlock()
		return ErrShareRequestPending
	}
	waiter := make(chan bool, 1)
	s.shareWaiter = waiter
	s.mu.Unlock()

	msg, err := signaling.NewMessage(signaling.TypeShareRequest, signaling.ShareRequestEvent{
		FromUserID: s.cfg.Identity.UserID,
		FromRole:   s.cfg.Identity.Role,
	})
	if err == nil {
		err = s.cfg.Channel.Send(msg)
	}
	if err != nil {
		s.clearShareWaiter()
		return fmt.Errorf("send share request: %w", err)
	}

	select {
	case allowed := <-waiter:
		s.mu.Lock()
		s.shareWaiter = nil
		if !allowed {
			s.mu.Unlock()
			s.emit(errorEvent(ErrorScreenShareDenied, "teacher declined the request"))
			return ErrScreenShareDenied
		}
		defer s.mu.Unlock()
		return s.startScreenShareLocked(ctx)
	case <-ctx.Done():
		s.clearShareWaiter()
		return ctx.Err()
	case <-s.done:
		s.clearShareWaiter()
		return ErrSessionEnded
	}
}

// StopScreenShare swaps back to a freshly reacquired camera track; the
// original one was torn down when sharing started. Reacquisition failure is
// non-fatal: the call continues with video off.
func (s *Session) StopScreenShare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sharing {
		return nil
	}

	if s.screen != nil {
		s.screen.Close()
		s.screen = nil
	}
	s.sharing = false

	camera, err := s.cfg.Devices.OpenCamera(ctx)
	if err != nil {
		s.video = nil
		s.replaceOutgoingVideoLocked(nil)
		s.emit(errorEvent(ErrorScreenShareCaptureFailed, err.Error()))
		return nil
	}

	if err := s.replaceOutgoingVideoLocked(camera); err != nil {
		camera.Close()
		return err
	}
	s.video = camera
	return nil
}

func (s *Session) startScreenShareLocked(ctx context.Context) error {
	if s.sharing {
		return nil
	}

	screen, err := s.cfg.Devices.OpenScreen(ctx)
	if err != nil {
		s.emit(errorEvent(ErrorScreenShareCaptureFailed, err.Error()))
		return fmt.Errorf("open screen capture: %w", err)
	}

	if s.video != nil {
		s.video.Close()
		s.video = nil
	}

	if err := s.replaceOutgoingVideoLocked(screen); err != nil {
		screen.Close()
		return err
	}

	s.screen = screen
	s.sharing = true
	return nil
}

// replaceOutgoingVideoLocked is the single mutation point for outgoing
// video: camera to screen and screen to camera swaps both funnel through
// here so two replacements can never interleave. The peer observes the
// track change directly; no renegotiation, no signaling.
func (s *Session) replaceOutgoingVideoLocked(t *Track) error {
	if s.videoSender == nil {
		return nil
	}

	var local webrtc.TrackLocal
	if t != nil {
		local = t.Local()
	}
	if err := s.videoSender.ReplaceTrack(local); err != nil {
		return fmt.Errorf("replace outgoing video track: %w", err)
	}
	return nil
}

func (s *Session) clearShareWaiter() {
	s.mu.Lock()
	s.shareWaiter = nil
	s.mu.Unlock()
}

// emit never blocks: a slow lifecycle consumer loses events rather than
// stalling the call.
func (s *Session) emit(ev LifecycleEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Session) dispatch(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, effects := s.machine.Reduce(s.state, ev)
	if next != s.state {
		slog.Info("call state transition",
			slog.String(constant.State, string(next)),
			slog.String("event", string(ev.Kind)),
			slog.String(constant.LessonID, s.cfg.Lesson.ID.String()),
		)
	}
	s.state = next

	for _, eff := range effects {
		s.applyLocked(eff)
	}
}

func (s *Session) applyLocked(eff Effect) {
	switch eff.Kind {
	case EffectEmit:
		s.emit(eff.Emit)

	case EffectOpenChannel:
		go s.openChannel()

	case EffectAcquireMedia:
		go s.acquireMedia()

	case EffectSendOffer:
		if err := s.sendOfferLocked(); err != nil {
			slog.Error("send offer", slog.Any(constant.Error, err))
			go s.dispatch(Event{Kind: eventPeerFailed, Detail: err.Error()})
		}

	case EffectReplayBuffered:
		buffered := s.buffered
		s.buffered = nil
		for _, payload := range buffered {
			if err := s.handleNegotiationLocked(payload); err != nil {
				slog.Error("replay buffered negotiation", slog.Any(constant.Error, err))
			}
		}

	case EffectArmTimeout:
		s.negotiationTimer = time.AfterFunc(s.cfg.NegotiationTimeout, func() {
			s.dispatch(Event{Kind: eventNegotiationTimeout})
		})

	case EffectDisarmTimeout:
		if s.negotiationTimer != nil {
			s.negotiationTimer.Stop()
			s.negotiationTimer = nil
		}

	case EffectNotifyEnd:
		if msg, err := signaling.NewMessage(signaling.TypeEndCall, signaling.EndCallEvent{}); err == nil {
			if err := s.cfg.Channel.Send(msg); err != nil {
				slog.Warn("notify end of call", slog.Any(constant.Error, err))
			}
		}

	case EffectTeardown:
		s.teardownLocked()
	}
}

func (s *Session) openChannel() {
	ctx := s.context()

	err := s.cfg.Channel.Connect(ctx, s.cfg.Lesson.ID, s.cfg.Identity)
	if err != nil {
		s.dispatch(Event{Kind: eventChannelFailed, Detail: err.Error()})
		return
	}

	go s.readPump()
}

func (s *Session) acquireMedia() {
	ctx := s.context()

	audio, err := s.cfg.Devices.OpenMicrophone(ctx)
	if err != nil {
		s.dispatch(Event{Kind: eventMediaFailed, Detail: err.Error()})
		return
	}

	video, err := s.cfg.Devices.OpenCamera(ctx)
	if err != nil {
		audio.Close()
		s.dispatch(Event{Kind: eventMediaFailed, Detail: err.Error()})
		return
	}

	s.mu.Lock()
	if s.state.Terminal() {
		// Ended while the permission prompt was open.
		s.mu.Unlock()
		audio.Close()
		video.Close()
		return
	}
	s.audio = audio
	s.video = video
	s.mediaReady = true
	s.mu.Unlock()

	s.dispatch(Event{Kind: eventMediaReady})
}

func (s *Session) readPump() {
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.cfg.Channel.Messages():
			if !ok {
				return
			}
			s.handleMessage(msg)
		}
	}
}

func (s *Session) handleMessage(msg signaling.Message) {
	switch msg.Type {
	case signaling.TypeNegotiation:
		var ev signaling.NegotiationEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("unmarshal negotiation event", slog.Any(constant.Error, err))
			return
		}
		s.handleNegotiation(ev)

	case signaling.TypeChat:
		var ev signaling.ChatEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("unmarshal chat event", slog.Any(constant.Error, err))
			return
		}
		s.mu.Lock()
		s.transcript = append(s.transcript, ev.Entry(s.cfg.Lesson.ID))
		s.mu.Unlock()

	case signaling.TypeShareRequest:
		var ev signaling.ShareRequestEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("unmarshal share request", slog.Any(constant.Error, err))
			return
		}
		if s.cfg.Identity.Role == domain.RoleTeacher {
			// Approval runs off the read loop so chat and negotiation
			// keep flowing while the teacher decides.
			go s.answerShareRequest(ev)
		}

	case signaling.TypeShareResponse:
		var ev signaling.ShareResponseEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("unmarshal share response", slog.Any(constant.Error, err))
			return
		}
		if ev.ToUserID != s.cfg.Identity.UserID {
			return
		}
		s.mu.Lock()
		if s.shareWaiter != nil {
			select {
			case s.shareWaiter <- ev.Allowed:
			default:
			}
		}
		s.mu.Unlock()

	case signaling.TypeEndCall:
		s.dispatch(Event{Kind: eventEndReceived})

	case signaling.TypeJoin:
		slog.Info("peer joined lesson room", slog.String(constant.LessonID, s.cfg.Lesson.ID.String()))
	}
}

func (s *Session) answerShareRequest(ev signaling.ShareRequestEvent) {
	allowed := false
	if s.cfg.ApproveShare != nil {
		allowed = s.cfg.ApproveShare(ev)
	}

	msg, err := signaling.NewMessage(signaling.TypeShareResponse, signaling.ShareResponseEvent{
		ToUserID: ev.FromUserID,
		Allowed:  allowed,
	})
	if err == nil {
		err = s.cfg.Channel.Send(msg)
	}
	if err != nil {
		slog.Error("send share response", slog.Any(constant.Error, err))
	}
}

func (s *Session) handleNegotiation(ev signaling.NegotiationEvent) {
	var payload negotiationPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		slog.Warn("unmarshal negotiation payload", slog.Any(constant.Error, err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}

	if !s.mediaReady {
		// Offer raced our media acquisition; replayed on media-ready.
		s.buffered = append(s.buffered, payload)
		return
	}

	if err := s.handleNegotiationLocked(payload); err != nil {
		slog.Error("handle negotiation payload", slog.Any(constant.Error, err))
	}
}

func (s *Session) handleNegotiationLocked(payload negotiationPayload) error {
	switch payload.Kind {
	case "offer":
		if s.cfg.Identity.Role == domain.RoleTeacher {
			return errors.New("unexpected offer: teacher is the initiator")
		}
		if s.pc == nil {
			if err := s.createPeerLocked(); err != nil {
				return err
			}
		}
		if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  payload.SDP,
		}); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		s.drainCandidatesLocked()

		answer, err := s.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := s.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		return s.sendNegotiationLocked(negotiationPayload{Kind: "answer", SDP: answer.SDP})

	case "answer":
		if s.pc == nil {
			return errors.New("answer without a local offer")
		}
		if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  payload.SDP,
		}); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		s.drainCandidatesLocked()
		return nil

	case "candidate":
		if payload.Candidate == nil {
			return nil
		}
		if s.pc == nil || s.pc.RemoteDescription() == nil {
			s.pendingCandidates = append(s.pendingCandidates, *payload.Candidate)
			return nil
		}
		if err := s.pc.AddICECandidate(*payload.Candidate); err != nil {
			return fmt.Errorf("add ice candidate: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown negotiation payload kind %q", payload.Kind)
	}
}

func (s *Session) drainCandidatesLocked() {
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	for _, candidate := range pending {
		if err := s.pc.AddICECandidate(candidate); err != nil {
			slog.Warn("add buffered ice candidate", slog.Any(constant.Error, err))
		}
	}
}

func (s *Session) sendOfferLocked() error {
	if err := s.createPeerLocked(); err != nil {
		return err
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}

	return s.sendNegotiationLocked(negotiationPayload{Kind: "offer", SDP: offer.SDP})
}

func (s *Session) sendNegotiationLocked(payload negotiationPayload) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal negotiation payload: %w", err)
	}

	msg, err := signaling.NewMessage(signaling.TypeNegotiation, signaling.NegotiationEvent{Payload: blob})
	if err != nil {
		return err
	}

	return s.cfg.Channel.Send(msg)
}

func (s *Session) createPeerLocked() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: s.cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	if s.audio != nil {
		if _, err := pc.AddTrack(s.audio.Local()); err != nil {
			pc.Close()
			return fmt.Errorf("add audio track: %w", err)
		}
	}
	if s.video != nil {
		sender, err := pc.AddTrack(s.video.Local())
		if err != nil {
			pc.Close()
			return fmt.Errorf("add video track: %w", err)
		}
		s.videoSender = sender
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.mu.Lock()
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			s.remoteAudio = true
		case webrtc.RTPCodecTypeVideo:
			s.remoteVideo = true
		}
		s.mu.Unlock()

		s.remoteOnce.Do(func() {
			go s.dispatch(Event{Kind: eventRemoteStream})
		})
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		candidate := c.ToJSON()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state.Terminal() {
			return
		}
		if err := s.sendNegotiationLocked(negotiationPayload{Kind: "candidate", Candidate: &candidate}); err != nil {
			slog.Warn("send ice candidate", slog.Any(constant.Error, err))
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed:
			go s.dispatch(Event{Kind: eventPeerFailed, Detail: "peer connection failed"})
		case webrtc.PeerConnectionStateDisconnected:
			slog.Warn("peer connection disconnected",
				slog.String(constant.LessonID, s.cfg.Lesson.ID.String()))
		default:
		}
	})

	s.pc = pc
	return nil
}

func (s *Session) teardownLocked() {
	s.doneOnce.Do(func() {
		close(s.done)
	})

	if s.negotiationTimer != nil {
		s.negotiationTimer.Stop()
		s.negotiationTimer = nil
	}

	for _, t := range []*Track{s.audio, s.video, s.screen} {
		if t != nil {
			t.Close()
		}
	}
	s.audio, s.video, s.screen = nil, nil, nil
	s.sharing = false

	if s.pc != nil {
		s.pc.Close()
		s.pc = nil
	}
	s.videoSender = nil

	s.cfg.Channel.Close()

	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
