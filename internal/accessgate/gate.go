// Package accessgate decides whether a (user, lesson) pair may open a call
// right now. Pure functions of the lesson schedule and wall-clock time:
// callers poll CanJoinNow on a timer while waiting, so it must never panic
// or return an error, only a decision value.
package accessgate

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/easyclase/liveclass/internal/domain"
)

// EarlyJoinWindow is how long before the scheduled start participants may
// enter the room to test equipment. It also absorbs clock skew between
// client and server.
const EarlyJoinWindow = 10 * time.Minute

type Verdict string

const (
	VerdictTooEarly    Verdict = "too_early"
	VerdictJoinable    Verdict = "joinable"
	VerdictTooLate     Verdict = "too_late"
	VerdictUnavailable Verdict = "unavailable"
)

// JoinDecision is the outcome of a CanJoinNow evaluation. TooEarly is not a
// permanent state; callers re-evaluate until the window opens.
type JoinDecision struct {
	Verdict Verdict `json:"verdict"`

	// MinutesRemaining until the window opens; set for TooEarly only.
	MinutesRemaining int `json:"minutes_remaining,omitempty"`

	// Window bounds; set for Joinable only.
	WindowStart time.Time `json:"window_start,omitzero"`
	WindowEnd   time.Time `json:"window_end,omitzero"`

	// Reason explains an Unavailable verdict.
	Reason string `json:"reason,omitempty"`
}

func (d JoinDecision) Joinable() bool {
	return d.Verdict == VerdictJoinable
}

// CanAccess reports whether (userID, role) exactly matches one of the
// lesson's two participant tuples. A matching id with the wrong role is a
// mismatch.
func CanAccess(lesson *domain.Lesson, userID uuid.UUID, role domain.Role) bool {
	if lesson == nil {
		return false
	}

	for _, p := range lesson.Participants() {
		if p.UserID == userID && p.Role == role {
			return true
		}
	}

	return false
}

// CanJoinNow evaluates the join window [start-EarlyJoinWindow, start+duration]
// against now. Malformed lessons yield Unavailable rather than an error so
// that every poll tick receives a decision.
func CanJoinNow(lesson *domain.Lesson, now time.Time) JoinDecision {
	if reason, ok := validate(lesson); !ok {
		return JoinDecision{Verdict: VerdictUnavailable, Reason: reason}
	}

	windowStart := lesson.ScheduledStart.Add(-EarlyJoinWindow)
	windowEnd := lesson.ScheduledEnd()

	switch {
	case now.Before(windowStart):
		remaining := int(math.Ceil(windowStart.Sub(now).Minutes()))
		return JoinDecision{
			Verdict:          VerdictTooEarly,
			MinutesRemaining: remaining,
		}
	case now.After(windowEnd):
		return JoinDecision{Verdict: VerdictTooLate}
	default:
		return JoinDecision{
			Verdict:     VerdictJoinable,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		}
	}
}

func validate(lesson *domain.Lesson) (string, bool) {
	switch {
	case lesson == nil:
		return "lesson missing", false
	case lesson.ID == uuid.Nil:
		return "lesson id missing", false
	case lesson.TeacherID == uuid.Nil || lesson.StudentID == uuid.Nil:
		return "lesson participants missing", false
	case lesson.ScheduledStart.IsZero():
		return "lesson schedule missing", false
	case lesson.DurationMinutes <= 0:
		return "lesson duration invalid", false
	}

	return "", true
}
