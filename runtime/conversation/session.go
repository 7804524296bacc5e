package conversation

import (
	"strings"
	"time"
)

// Mode is the transport a session runs on.
type Mode string

// Modes.
const (
	ModeNone      Mode = ""
	ModeRealtime  Mode = "realtime"
	ModeStreaming Mode = "streaming"
)

// State is the top-level orchestrator state.
type State int

// States.
const (
	StateIdle State = iota
	StateNegotiating
	StateActive
	StateEnding
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// End reasons reported in session.ended events.
const (
	EndReasonUser        = "end"
	EndReasonMaxDuration = "max_duration"
	EndReasonFatal       = "transport_lost"
)

// RealtimeSessionPrefix marks ids the orchestrator issues for realtime
// sessions. Streaming sessions carry the relay's id unchanged.
const RealtimeSessionPrefix = "realtime-"

// IsRealtimeID reports whether id was issued for a realtime session.
func IsRealtimeID(id string) bool {
	return strings.HasPrefix(id, RealtimeSessionPrefix)
}

// Session describes the active conversation. It is a snapshot; the
// orchestrator owns the live state.
type Session struct {
	ID          string
	Mode        Mode
	Transport   string
	Model       string
	StartedAt   time.Time
	MaxDuration time.Duration
}

// Elapsed returns the time since the session became active.
func (s Session) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}
