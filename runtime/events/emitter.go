package events

import (
	"time"

	pkgerrors "github.com/AltairaLabs/VoiceKit/pkg/errors"
)

// Emitter provides helpers for publishing conversation events with shared metadata.
type Emitter struct {
	bus       *EventBus
	sessionID string
	mode      string
}

// NewEmitter creates a new event emitter.
func NewEmitter(bus *EventBus, sessionID, mode string) *Emitter {
	return &Emitter{bus: bus, sessionID: sessionID, mode: mode}
}

// WithSession returns an emitter stamped with a new session id and mode.
func (e *Emitter) WithSession(sessionID, mode string) *Emitter {
	if e == nil {
		return nil
	}
	return &Emitter{bus: e.bus, sessionID: sessionID, mode: mode}
}

// emit publishes an event with shared context fields.
func (e *Emitter) emit(eventType EventType, data EventData) {
	if e == nil || e.bus == nil {
		return
	}
	e.bus.Publish(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Mode:      e.mode,
		Data:      data,
	})
}

// SessionNegotiating emits the session.negotiating event.
func (e *Emitter) SessionNegotiating() {
	e.emit(EventSessionNegotiating, SessionData{})
}

// SessionStarted emits the session.started event.
func (e *Emitter) SessionStarted(transport string) {
	e.emit(EventSessionStarted, SessionData{Transport: transport})
}

// SessionFallback emits the session.fallback event.
func (e *Emitter) SessionFallback(reason string) {
	e.emit(EventSessionFallback, SessionData{Reason: reason})
}

// SessionFailed emits the session.failed event.
func (e *Emitter) SessionFailed(err error) {
	e.emit(EventSessionFailed, SessionData{Reason: string(pkgerrors.CategoryOf(err))})
}

// SessionEnded emits the session.ended event.
func (e *Emitter) SessionEnded(reason string, duration time.Duration) {
	e.emit(EventSessionEnded, SessionData{Reason: reason, Duration: duration})
}

// NegotiationCompleted emits the negotiation.completed event.
func (e *Emitter) NegotiationCompleted(data NegotiationData) {
	e.emit(EventNegotiationCompleted, data)
}

// VADTransition emits the vad.transition event.
func (e *Emitter) VADTransition(speaking bool, level, frame int, held time.Duration) {
	e.emit(EventVADTransition, VADData{Speaking: speaking, Level: level, Frame: frame, Held: held})
}

// SegmentSent emits the segment.sent event.
func (e *Emitter) SegmentSent(id, reason string, bytes int, final bool) {
	e.emit(EventSegmentSent, SegmentData{SegmentID: id, Reason: reason, Bytes: bytes, Final: final})
}

// ResponseTimeout emits the response.timeout event.
func (e *Emitter) ResponseTimeout() {
	e.emit(EventResponseTimeout, SessionData{Reason: string(pkgerrors.CategoryNoResponse)})
}

// BargeIn emits the barge_in event.
func (e *Emitter) BargeIn() {
	e.emit(EventBargeIn, SessionData{})
}

// PlaybackChanged emits the playback.changed event.
func (e *Emitter) PlaybackChanged(playing bool) {
	e.emit(EventPlaybackChanged, PlaybackData{Playing: playing})
}

// Transcription emits the transcription.updated event.
func (e *Emitter) Transcription(itemID, transcript string, partial bool) {
	e.emit(EventTranscription, TranscriptionData{ItemID: itemID, Transcript: transcript, IsPartial: partial})
}

// AgentMessage emits the agent.message event.
func (e *Emitter) AgentMessage(msgType, text string, meta map[string]any) {
	e.emit(EventAgentMessage, AgentMessageData{MessageType: msgType, Text: text, Meta: meta})
}

// Feedback emits the feedback.received event.
func (e *Emitter) Feedback(scores map[string]any, comment string) {
	e.emit(EventFeedback, FeedbackData{Scores: scores, Comment: comment})
}

// ProtocolDrop emits the protocol.dropped event.
func (e *Emitter) ProtocolDrop(source, reason string) {
	e.emit(EventProtocolDrop, DropData{Source: source, Reason: reason})
}

// Error emits the error event with the user-facing description of err.
func (e *Emitter) Error(err error) {
	msg := pkgerrors.Describe(err)
	e.emit(EventError, ErrorData{
		Category:    string(msg.Category),
		Message:     msg.Message,
		Remediation: msg.Hint,
	})
}
