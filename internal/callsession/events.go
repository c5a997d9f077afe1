package callsession

import "time"

// State is the call lifecycle, owned exclusively by the Session.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingLocalMedia State = "awaiting_local_media"
	StateAwaitingPeer       State = "awaiting_peer"
	StateConnected          State = "connected"
	StateEnded              State = "ended"
	StateFailed             State = "failed"
)

func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// ErrorKind classifies call errors richly enough for the UI to render an
// actionable message instead of a generic failure.
type ErrorKind string

const (
	// Terminal: the call never starts or stops for good.
	ErrorMediaAccessDenied     ErrorKind = "media_access_denied"
	ErrorSignalingUnavailable  ErrorKind = "signaling_unavailable"
	ErrorPeerNegotiationFailed ErrorKind = "peer_negotiation_failed"

	// Non-terminal: reported, call continues.
	ErrorScreenShareDenied        ErrorKind = "screen_share_denied"
	ErrorScreenShareCaptureFailed ErrorKind = "screen_share_capture_failed"
)

// Terminal reports whether the error ends the call.
func (k ErrorKind) Terminal() bool {
	switch k {
	case ErrorMediaAccessDenied, ErrorSignalingUnavailable, ErrorPeerNegotiationFailed:
		return true
	}
	return false
}

type LifecycleKind string

const (
	LifecycleStarted   LifecycleKind = "started"
	LifecycleConnected LifecycleKind = "connected"
	LifecycleEnded     LifecycleKind = "ended"
	LifecycleError     LifecycleKind = "error"
)

// LifecycleEvent is what the session exposes to the hosting UI and any
// audit consumer.
type LifecycleEvent struct {
	Kind      LifecycleKind `json:"kind"`
	Reason    string        `json:"reason,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	At        time.Time     `json:"at"`
}

func startedEvent() LifecycleEvent {
	return LifecycleEvent{Kind: LifecycleStarted, At: time.Now()}
}

func connectedEvent() LifecycleEvent {
	return LifecycleEvent{Kind: LifecycleConnected, At: time.Now()}
}

func endedEvent(reason string) LifecycleEvent {
	return LifecycleEvent{Kind: LifecycleEnded, Reason: reason, At: time.Now()}
}

func errorEvent(kind ErrorKind, detail string) LifecycleEvent {
	return LifecycleEvent{Kind: LifecycleError, ErrorKind: kind, Detail: detail, At: time.Now()}
}
