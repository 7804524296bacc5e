package statestore

import (
	"context"
	"time"

	"github.com/AltairaLabs/VoiceKit/runtime/events"
	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

const defaultWriteTimeout = 2 * time.Second

// KindTranscription marks user entries recorded from transcription events.
const KindTranscription = "transcription"

// TranscriptRecorder writes conversation events into a Store. Partial
// transcriptions are skipped; only final user utterances, agent messages
// and feedback are kept.
type TranscriptRecorder struct {
	store   Store
	timeout time.Duration
}

// NewTranscriptRecorder creates a recorder writing to store.
func NewTranscriptRecorder(store Store) *TranscriptRecorder {
	return &TranscriptRecorder{store: store, timeout: defaultWriteTimeout}
}

// Attach subscribes the recorder to bus and returns the unsubscribe func.
func (r *TranscriptRecorder) Attach(bus *events.EventBus) func() {
	return bus.SubscribeAll(r.OnEvent)
}

// OnEvent records a single event. Store errors are logged, not returned:
// the bus is synchronous and a slow store must not stall the conversation.
func (r *TranscriptRecorder) OnEvent(evt *events.Event) {
	if evt.SessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var err error
	//nolint:exhaustive // Only transcript-bearing events are recorded
	switch evt.Type {
	case events.EventSessionStarted:
		err = r.store.Begin(ctx, evt.SessionID, evt.Mode, evt.Timestamp)
	case events.EventTranscription:
		data, ok := evt.Data.(events.TranscriptionData)
		if !ok || data.IsPartial || data.Transcript == "" {
			return
		}
		err = r.store.Append(ctx, evt.SessionID, Entry{
			Role:      RoleUser,
			Kind:      KindTranscription,
			ItemID:    data.ItemID,
			Text:      data.Transcript,
			Timestamp: evt.Timestamp,
		})
	case events.EventAgentMessage:
		data, ok := evt.Data.(events.AgentMessageData)
		if !ok {
			return
		}
		err = r.store.Append(ctx, evt.SessionID, Entry{
			Role:      RoleAgent,
			Kind:      data.MessageType,
			Text:      data.Text,
			Meta:      data.Meta,
			Timestamp: evt.Timestamp,
		})
	case events.EventFeedback:
		data, ok := evt.Data.(events.FeedbackData)
		if !ok {
			return
		}
		err = r.store.Append(ctx, evt.SessionID, Entry{
			Role:      RoleFeedback,
			Text:      data.Comment,
			Meta:      data.Scores,
			Timestamp: evt.Timestamp,
		})
	case events.EventSessionEnded:
		reason := ""
		if data, ok := evt.Data.(events.SessionData); ok {
			reason = data.Reason
		}
		err = r.store.Complete(ctx, evt.SessionID, reason, evt.Timestamp)
	default:
		return
	}
	if err != nil {
		logger.Warn("Transcript write failed",
			"session_id", evt.SessionID,
			"event", string(evt.Type),
			"error", err,
		)
	}
}
