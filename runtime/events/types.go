package events

import (
	"time"
)

// EventType identifies the type of event emitted by a conversation.
type EventType string

const (
	// EventSessionNegotiating marks the start of negotiation.
	EventSessionNegotiating EventType = "session.negotiating"
	// EventSessionStarted marks a session becoming active in a mode.
	EventSessionStarted EventType = "session.started"
	// EventSessionFallback marks a realtime failure that moved the session to streaming.
	EventSessionFallback EventType = "session.fallback"
	// EventSessionFailed marks a start where every transport failed.
	EventSessionFailed EventType = "session.failed"
	// EventSessionEnded marks session teardown.
	EventSessionEnded EventType = "session.ended"

	// EventNegotiationCompleted reports one transport negotiation attempt.
	EventNegotiationCompleted EventType = "negotiation.completed"

	// EventVADTransition marks a speech start or stop.
	EventVADTransition EventType = "vad.transition"
	// EventSegmentSent marks a recorded segment leaving for the relay.
	EventSegmentSent EventType = "segment.sent"
	// EventResponseTimeout marks a segment that got no reply in time.
	EventResponseTimeout EventType = "response.timeout"
	// EventBargeIn marks the user interrupting agent output.
	EventBargeIn EventType = "barge_in"
	// EventPlaybackChanged marks agent audio starting or stopping.
	EventPlaybackChanged EventType = "playback.changed"

	// EventTranscription carries a user transcript update.
	EventTranscription EventType = "transcription.updated"
	// EventAgentMessage carries agent text, turn boundaries and control prompts.
	EventAgentMessage EventType = "agent.message"
	// EventFeedback carries inline feedback scores.
	EventFeedback EventType = "feedback.received"

	// EventProtocolDrop marks an inbound event that was discarded.
	EventProtocolDrop EventType = "protocol.dropped"
	// EventError carries a categorized error surfaced to the UI.
	EventError EventType = "error"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a conversation event delivered to listeners.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// baseEventData provides a shared marker implementation for all event payloads.
type baseEventData struct{}

func (baseEventData) eventData() {}

// SessionData describes a session lifecycle change.
type SessionData struct {
	baseEventData
	Transport string        `json:"transport,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// NegotiationData reports one negotiation attempt.
type NegotiationData struct {
	baseEventData
	Transport string        `json:"transport"`
	OK        bool          `json:"ok"`
	Reason    string        `json:"reason,omitempty"`
	Model     string        `json:"model,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// VADData describes a voice activity transition.
type VADData struct {
	baseEventData
	Speaking bool          `json:"speaking"`
	Level    int           `json:"level"`
	Frame    int           `json:"frame"`
	Held     time.Duration `json:"held"`
}

// SegmentData describes a sent segment.
type SegmentData struct {
	baseEventData
	SegmentID string `json:"segment_id"`
	Reason    string `json:"reason"`
	Bytes     int    `json:"bytes"`
	Final     bool   `json:"final"`
}

// PlaybackData describes a playback state change.
type PlaybackData struct {
	baseEventData
	Playing bool `json:"playing"`
}

// TranscriptionData carries a user transcript.
type TranscriptionData struct {
	baseEventData
	ItemID     string `json:"item_id,omitempty"`
	Transcript string `json:"transcript"`
	IsPartial  bool   `json:"is_partial"`
}

// AgentMessageData carries an agent message.
type AgentMessageData struct {
	baseEventData
	MessageType string         `json:"message_type"`
	Text        string         `json:"text"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// FeedbackData carries inline feedback.
type FeedbackData struct {
	baseEventData
	Scores  map[string]any `json:"scores"`
	Comment string         `json:"comment,omitempty"`
}

// DropData names why an inbound event was discarded.
type DropData struct {
	baseEventData
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// ErrorData carries a surfaced error.
type ErrorData struct {
	baseEventData
	Category    string `json:"category"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}
