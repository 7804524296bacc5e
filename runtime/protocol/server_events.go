package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Category groups inbound events by the callback that receives them.
type Category string

// Event categories.
const (
	CategoryTranscription Category = "transcription"
	CategoryAgent         Category = "agent"
	CategoryAudio         Category = "audio"
	CategoryControl       Category = "control"
	CategoryLifecycle     Category = "lifecycle"
)

// Decode errors.
var (
	ErrMalformed    = errors.New("malformed event")
	ErrUnknownEvent = errors.New("unknown event type")
)

// DecodeError describes an inbound payload that could not be decoded.
type DecodeError struct {
	Type  string
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode event: %v", e.Cause)
	}
	return fmt.Sprintf("decode %q event: %v", e.Type, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Reason returns a short label for metrics and logs.
func (e *DecodeError) Reason() string {
	if errors.Is(e.Cause, ErrUnknownEvent) {
		return "unknown_type"
	}
	return "malformed"
}

// Event is a decoded inbound event. The set of implementations is closed.
type Event interface {
	EventType() string
	Category() Category
	isEvent()
}

// ServerEvent is the envelope every inbound event carries.
type ServerEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

// EventType returns the wire type.
func (e ServerEvent) EventType() string { return e.Type }

func (ServerEvent) isEvent() {}

// ErrorDetail contains error information from the server.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TranscriptionDelta is a partial transcript of user audio.
type TranscriptionDelta struct {
	ServerEvent
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
}

// TranscriptionCompleted is the final transcript of a user utterance.
type TranscriptionCompleted struct {
	ServerEvent
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// TranscriptionFailed reports that the server could not transcribe an utterance.
type TranscriptionFailed struct {
	ServerEvent
	ItemID string      `json:"item_id"`
	Error  ErrorDetail `json:"error"`
}

// AgentSource records which wire event carried an agent text fragment.
type AgentSource string

// Agent text sources.
const (
	SourceText            AgentSource = "text"
	SourceAudioTranscript AgentSource = "audio_transcript"
)

// ResponseCreated opens an agent response.
type ResponseCreated struct {
	ServerEvent
	Response struct {
		ID string `json:"id"`
	} `json:"response"`
}

// AgentDelta is a fragment of agent text or spoken-audio transcript.
type AgentDelta struct {
	ServerEvent
	ResponseID string      `json:"response_id"`
	ItemID     string      `json:"item_id"`
	Delta      string      `json:"delta"`
	Source     AgentSource `json:"-"`
}

// AgentDone completes agent text or spoken-audio transcript.
type AgentDone struct {
	ServerEvent
	ResponseID string      `json:"response_id"`
	ItemID     string      `json:"item_id"`
	Text       string      `json:"text"`
	Transcript string      `json:"transcript"`
	Source     AgentSource `json:"-"`
}

// FinalText returns whichever completion field the wire event used.
func (e *AgentDone) FinalText() string {
	if e.Text != "" {
		return e.Text
	}
	return e.Transcript
}

// ResponseDone closes an agent response.
type ResponseDone struct {
	ServerEvent
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
}

// AudioDelta carries base64 PCM16 agent audio on transports without a media track.
type AudioDelta struct {
	ServerEvent
	ResponseID string `json:"response_id"`
	Delta      string `json:"delta"`
}

// AudioDone ends the agent audio of a response.
type AudioDone struct {
	ServerEvent
	ResponseID string `json:"response_id"`
}

// PartChange moves the conversation to a new phase.
type PartChange struct {
	ServerEvent
	Part string `json:"part"`
}

// QuestionAsked announces a question or prompt put to the user.
type QuestionAsked struct {
	ServerEvent
	Text string `json:"text"`
	Part string `json:"part"`
}

// InlineFeedback carries scored feedback for the user's last answer.
type InlineFeedback struct {
	ServerEvent
	Scores  map[string]any  `json:"scores"`
	Comment string          `json:"comment,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// CueCard is a structured prompt card.
type CueCard struct {
	ServerEvent
	Topic   string   `json:"topic"`
	Bullets []string `json:"bullets"`
}

// LifecycleEvent covers session and media signals used only for health.
type LifecycleEvent struct {
	ServerEvent
	ItemID string       `json:"item_id,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// Category implementations.

func (*TranscriptionDelta) Category() Category     { return CategoryTranscription }
func (*TranscriptionCompleted) Category() Category { return CategoryTranscription }
func (*TranscriptionFailed) Category() Category    { return CategoryTranscription }
func (*ResponseCreated) Category() Category        { return CategoryAgent }
func (*AgentDelta) Category() Category             { return CategoryAgent }
func (*AgentDone) Category() Category              { return CategoryAgent }
func (*ResponseDone) Category() Category           { return CategoryAgent }
func (*AudioDelta) Category() Category             { return CategoryAudio }
func (*AudioDone) Category() Category              { return CategoryAudio }
func (*PartChange) Category() Category             { return CategoryControl }
func (*QuestionAsked) Category() Category          { return CategoryControl }
func (*InlineFeedback) Category() Category         { return CategoryControl }
func (*CueCard) Category() Category                { return CategoryControl }
func (*LifecycleEvent) Category() Category         { return CategoryLifecycle }

// Inbound event types.
const (
	TypeError                 = "error"
	TypeSessionCreated        = "session.created"
	TypeSessionUpdated        = "session.updated"
	TypeSpeechStarted         = "input_audio_buffer.speech_started"
	TypeSpeechStopped         = "input_audio_buffer.speech_stopped"
	TypeBufferCommitted       = "input_audio_buffer.committed"
	TypeBufferCleared         = "input_audio_buffer.cleared"
	TypeOutputAudioStarted    = "output_audio_buffer.started"
	TypeOutputAudioStopped    = "output_audio_buffer.stopped"
	TypeOutputAudioCleared    = "output_audio_buffer.cleared"
	TypeRateLimitsUpdated     = "rate_limits.updated"
	TypeConversationItem      = "conversation.item.created"
	TypeOutputItemAdded       = "response.output_item.added"
	TypeOutputItemDone        = "response.output_item.done"
	TypeContentPartAdded      = "response.content_part.added"
	TypeContentPartDone       = "response.content_part.done"
	TypeTranscriptionDelta    = "conversation.item.input_audio_transcription.delta"
	TypeTranscriptionDone     = "conversation.item.input_audio_transcription.completed"
	TypeTranscriptionFailed   = "conversation.item.input_audio_transcription.failed"
	TypeResponseCreated       = "response.created"
	TypeResponseDone          = "response.done"
	TypePartChange            = "part.change"
	TypeQuestionAsked         = "question.asked"
	TypeFeedbackInline        = "feedback.inline"
	TypeCueCard               = "cuecard.card"
	TypeAudioDelta            = "response.audio.delta"
	TypeAudioDone             = "response.audio.done"
	TypeOutputAudioDelta      = "response.output_audio.delta"
	TypeOutputAudioDone       = "response.output_audio.done"
	TypeTextDelta             = "response.text.delta"
	TypeTextDone              = "response.text.done"
	TypeOutputTextDelta       = "response.output_text.delta"
	TypeOutputTextDone        = "response.output_text.done"
	TypeTranscriptDelta       = "response.audio_transcript.delta"
	TypeTranscriptDone        = "response.audio_transcript.done"
	TypeOutputTranscriptDelta = "response.output_audio_transcript.delta"
	TypeOutputTranscriptDone  = "response.output_audio_transcript.done"
)

// Decode parses one inbound control-channel message. Both the preview and GA
// names of agent events decode to the same types, so protocol drift stays here.
func Decode(data []byte) (Event, error) {
	var base ServerEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, &DecodeError{Cause: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if base.Type == "" {
		return nil, &DecodeError{Cause: fmt.Errorf("%w: missing type", ErrMalformed)}
	}

	var ev Event
	switch base.Type {
	case TypeTranscriptionDelta:
		ev = &TranscriptionDelta{}
	case TypeTranscriptionDone:
		ev = &TranscriptionCompleted{}
	case TypeTranscriptionFailed:
		ev = &TranscriptionFailed{}

	case TypeResponseCreated:
		ev = &ResponseCreated{}
	case TypeTextDelta, TypeOutputTextDelta:
		ev = &AgentDelta{Source: SourceText}
	case TypeTranscriptDelta, TypeOutputTranscriptDelta:
		ev = &AgentDelta{Source: SourceAudioTranscript}
	case TypeTextDone, TypeOutputTextDone:
		ev = &AgentDone{Source: SourceText}
	case TypeTranscriptDone, TypeOutputTranscriptDone:
		ev = &AgentDone{Source: SourceAudioTranscript}
	case TypeResponseDone:
		ev = &ResponseDone{}

	case TypeAudioDelta, TypeOutputAudioDelta:
		ev = &AudioDelta{}
	case TypeAudioDone, TypeOutputAudioDone:
		ev = &AudioDone{}

	case TypePartChange:
		ev = &PartChange{}
	case TypeQuestionAsked:
		ev = &QuestionAsked{}
	case TypeFeedbackInline:
		ev = &InlineFeedback{Raw: append(json.RawMessage(nil), data...)}
	case TypeCueCard:
		ev = &CueCard{}

	case TypeError, TypeSessionCreated, TypeSessionUpdated,
		TypeSpeechStarted, TypeSpeechStopped, TypeBufferCommitted, TypeBufferCleared,
		TypeOutputAudioStarted, TypeOutputAudioStopped, TypeOutputAudioCleared,
		TypeRateLimitsUpdated, TypeConversationItem,
		TypeOutputItemAdded, TypeOutputItemDone, TypeContentPartAdded, TypeContentPartDone:
		ev = &LifecycleEvent{}

	default:
		return nil, &DecodeError{Type: base.Type, Cause: ErrUnknownEvent}
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, &DecodeError{Type: base.Type, Cause: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	return ev, nil
}
