package callsession

import "github.com/easyclase/liveclass/internal/domain"

// The negotiation flow is an explicit state machine: Reduce is a pure
// function from (state, event) to the next state plus a list of side
// effects for the executor. Races (early negotiation payloads, concurrent
// teardown) are therefore testable without a network or media stack.

type EventKind string

const (
	eventStart              EventKind = "start"
	eventMediaReady         EventKind = "media_ready"
	eventMediaFailed        EventKind = "media_failed"
	eventChannelFailed      EventKind = "channel_failed"
	eventRemoteStream       EventKind = "remote_stream"
	eventPeerFailed         EventKind = "peer_failed"
	eventNegotiationTimeout EventKind = "negotiation_timeout"
	eventEndReceived        EventKind = "end_received"
	eventHangup             EventKind = "hangup"
)

type Event struct {
	Kind   EventKind
	Detail string
}

type EffectKind string

const (
	EffectOpenChannel    EffectKind = "open_channel"
	EffectAcquireMedia   EffectKind = "acquire_media"
	EffectSendOffer      EffectKind = "send_offer"
	EffectReplayBuffered EffectKind = "replay_buffered"
	EffectArmTimeout     EffectKind = "arm_timeout"
	EffectDisarmTimeout  EffectKind = "disarm_timeout"
	EffectNotifyEnd      EffectKind = "notify_end"
	EffectTeardown       EffectKind = "teardown"
	EffectEmit           EffectKind = "emit"
)

type Effect struct {
	Kind EffectKind
	Emit LifecycleEvent
}

func emit(ev LifecycleEvent) Effect {
	return Effect{Kind: EffectEmit, Emit: ev}
}

// Machine carries the one piece of static knowledge the reducer needs: the
// local role. The teacher side always initiates the offer; the student side
// replays negotiation payloads buffered while its media was not yet ready.
type Machine struct {
	Role domain.Role
}

// Reduce never errors: events that make no sense in the current state are
// absorbed with no effects, which is what makes late callbacks for an
// already-ended call safe no-ops.
func (m Machine) Reduce(state State, ev Event) (State, []Effect) {
	if state.Terminal() {
		return state, nil
	}

	switch ev.Kind {
	case eventStart:
		if state != StateIdle {
			return state, nil
		}
		return StateAwaitingLocalMedia, []Effect{
			emit(startedEvent()),
			{Kind: EffectOpenChannel},
			{Kind: EffectAcquireMedia},
		}

	case eventMediaReady:
		if state != StateAwaitingLocalMedia {
			return state, nil
		}
		effects := []Effect{{Kind: EffectArmTimeout}}
		if m.Role == domain.RoleTeacher {
			effects = append(effects, Effect{Kind: EffectSendOffer})
		} else {
			effects = append(effects, Effect{Kind: EffectReplayBuffered})
		}
		return StateAwaitingPeer, effects

	case eventMediaFailed:
		if state != StateAwaitingLocalMedia {
			return state, nil
		}
		return StateFailed, []Effect{
			emit(errorEvent(ErrorMediaAccessDenied, ev.Detail)),
			{Kind: EffectTeardown},
		}

	case eventChannelFailed:
		if state == StateConnected {
			return StateEnded, []Effect{
				emit(endedEvent("signaling connection lost")),
				{Kind: EffectTeardown},
			}
		}
		return StateFailed, []Effect{
			emit(errorEvent(ErrorSignalingUnavailable, ev.Detail)),
			{Kind: EffectTeardown},
		}

	case eventRemoteStream:
		if state != StateAwaitingPeer {
			return state, nil
		}
		return StateConnected, []Effect{
			{Kind: EffectDisarmTimeout},
			emit(connectedEvent()),
		}

	case eventPeerFailed:
		if state == StateConnected {
			return StateEnded, []Effect{
				emit(endedEvent("connection lost")),
				{Kind: EffectTeardown},
			}
		}
		return StateFailed, []Effect{
			emit(errorEvent(ErrorPeerNegotiationFailed, ev.Detail)),
			{Kind: EffectTeardown},
		}

	case eventNegotiationTimeout:
		if state != StateAwaitingPeer {
			return state, nil
		}
		return StateFailed, []Effect{
			emit(errorEvent(ErrorPeerNegotiationFailed, "peer unreachable")),
			{Kind: EffectTeardown},
		}

	case eventEndReceived:
		return StateEnded, []Effect{
			emit(endedEvent("peer ended the call")),
			{Kind: EffectTeardown},
		}

	case eventHangup:
		return StateEnded, []Effect{
			emit(endedEvent("hangup")),
			{Kind: EffectNotifyEnd},
			{Kind: EffectTeardown},
		}
	}

	return state, nil
}
