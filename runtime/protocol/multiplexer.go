package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

// Agent message types delivered through Handlers.OnAgentMessage.
const (
	MessageAgentTurn  = "agent_turn"
	MessageAgentDelta = "agent_delta"
	MessagePartChange = "part_change"
	MessageQuestion   = "question"
	MessageCueCard    = "cue_card"
	MessageFeedback   = "feedback"
)

// AgentMessage is what the UI collaborator sees of agent output and control prompts.
type AgentMessage struct {
	Type string
	Text string
	Meta map[string]any
}

// Handlers are the optional per-category callbacks of a Multiplexer.
// A nil handler drops its category silently.
type Handlers struct {
	OnTranscription func(TranscriptionUpdate)
	OnAgentMessage  func(AgentMessage)
	OnFeedback      func(scores map[string]any, comment string)
	// OnControl receives response boundaries and structured control events.
	OnControl   func(Event)
	OnAudio     func(Event)
	OnLifecycle func(*LifecycleEvent)
	OnDrop      func(reason string)
}

// Multiplexer decodes inbound control-channel payloads and routes them to
// handlers by category. Dispatch never returns an error and never panics:
// unknown, malformed and handler-crashing events are logged and dropped.
type Multiplexer struct {
	source      string
	handlers    Handlers
	turns       *TurnAccumulator
	transcripts *TranscriptionTracker
}

// NewMultiplexer creates a multiplexer. source names the channel in logs.
func NewMultiplexer(source string, h Handlers) *Multiplexer {
	m := &Multiplexer{
		source:      source,
		handlers:    h,
		transcripts: NewTranscriptionTracker(),
	}
	m.turns = NewTurnAccumulator(m.flushTurn)
	return m
}

// Turns exposes the agent turn accumulator.
func (m *Multiplexer) Turns() *TurnAccumulator {
	return m.turns
}

// Dispatch decodes one payload and routes it.
func (m *Multiplexer) Dispatch(ctx context.Context, data []byte) {
	ev, err := Decode(data)
	if err != nil {
		reason := "malformed"
		var de *DecodeError
		if errors.As(err, &de) {
			reason = de.Reason()
		}
		m.drop(ctx, reason, data)
		return
	}
	m.Route(ctx, ev, data)
}

// Route delivers an already decoded event. raw is used only for drop logs.
func (m *Multiplexer) Route(ctx context.Context, ev Event, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "protocol handler panicked",
				"source", m.source,
				"type", ev.EventType(),
				"panic", fmt.Sprint(r),
			)
			m.drop(ctx, "handler_panic", raw)
		}
	}()

	switch e := ev.(type) {
	case *TranscriptionDelta:
		m.transcription(m.transcripts.Delta(e.ItemID, e.Delta))
	case *TranscriptionCompleted:
		m.transcription(m.transcripts.Complete(e.ItemID, e.Transcript))
	case *TranscriptionFailed:
		m.transcripts.Discard(e.ItemID)
		logger.WarnContext(ctx, "transcription failed",
			"item_id", e.ItemID, "code", e.Error.Code, "message", e.Error.Message)

	case *ResponseCreated:
		logger.DebugContext(ctx, "agent response started", "response_id", e.Response.ID)
		m.control(ev)
	case *AgentDelta:
		m.turns.Delta(e.ResponseID, e.Delta, e.Source)
		if cur, ok := m.turns.Current(); ok && m.handlers.OnAgentMessage != nil {
			m.handlers.OnAgentMessage(AgentMessage{
				Type: MessageAgentDelta,
				Text: cur.Text,
				Meta: map[string]any{"response_id": cur.ResponseID, "source": string(cur.Source)},
			})
		}
	case *AgentDone:
		m.turns.Complete(e.ResponseID, e.FinalText(), e.Source)
	case *ResponseDone:
		if cur, ok := m.turns.Current(); ok && cur.ResponseID == e.Response.ID {
			m.turns.Flush()
		}
		m.control(ev)

	case *AudioDelta, *AudioDone:
		if m.handlers.OnAudio != nil {
			m.handlers.OnAudio(ev)
		}

	case *PartChange:
		m.agentMessage(AgentMessage{Type: MessagePartChange, Text: e.Part})
		m.control(ev)
	case *QuestionAsked:
		m.agentMessage(AgentMessage{Type: MessageQuestion, Text: e.Text, Meta: map[string]any{"part": e.Part}})
		m.control(ev)
	case *CueCard:
		m.agentMessage(AgentMessage{Type: MessageCueCard, Text: e.Topic, Meta: map[string]any{"bullets": e.Bullets}})
		m.control(ev)
	case *InlineFeedback:
		if m.handlers.OnFeedback != nil {
			m.handlers.OnFeedback(e.Scores, e.Comment)
		}
		m.control(ev)

	case *LifecycleEvent:
		if e.Type == TypeError && e.Error != nil {
			logger.WarnContext(ctx, "server reported error",
				"source", m.source, "code", e.Error.Code, "message", e.Error.Message)
		}
		if m.handlers.OnLifecycle != nil {
			m.handlers.OnLifecycle(e)
		}
	}
}

func (m *Multiplexer) flushTurn(turn AgentTurn) {
	m.agentMessage(AgentMessage{
		Type: MessageAgentTurn,
		Text: turn.Text,
		Meta: map[string]any{
			"turn_id":     turn.ID,
			"response_id": turn.ResponseID,
			"source":      string(turn.Source),
			"is_final":    turn.IsFinal,
		},
	})
}

func (m *Multiplexer) transcription(u TranscriptionUpdate) {
	if m.handlers.OnTranscription != nil {
		m.handlers.OnTranscription(u)
	}
}

func (m *Multiplexer) agentMessage(msg AgentMessage) {
	if m.handlers.OnAgentMessage != nil {
		m.handlers.OnAgentMessage(msg)
	}
}

func (m *Multiplexer) control(ev Event) {
	if m.handlers.OnControl != nil {
		m.handlers.OnControl(ev)
	}
}

func (m *Multiplexer) drop(ctx context.Context, reason string, data []byte) {
	logger.ProtocolDrop(ctx, m.source, reason, data)
	if m.handlers.OnDrop != nil {
		m.handlers.OnDrop(reason)
	}
}
