// Package protocol defines the realtime control-channel wire events and turns
// inbound traffic into typed callbacks.
package protocol

// Default realtime audio configuration: 24kHz 16-bit PCM mono.
const (
	DefaultSampleRate  = 24000
	AudioFormatPCM16   = "pcm16"
	TurnDetectionVAD   = "server_vad"
	ModalityText       = "text"
	ModalityAudio      = "audio"
	defaultTranscriber = "whisper-1"
)

// Outbound event types.
const (
	TypeSessionUpdate          = "session.update"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
	TypeInputAudioBufferStart  = "input_audio_buffer.start"
	TypeInputAudioBufferAppend = "input_audio_buffer.append"
	TypeInputAudioBufferCommit = "input_audio_buffer.commit"
)

// ClientEvent is the base structure for all client-sent events.
type ClientEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

// SessionUpdateEvent configures the session. It is sent exactly once per session.
type SessionUpdateEvent struct {
	ClientEvent
	Session SessionConfig `json:"session"`
}

// SessionConfig is the session configuration payload.
type SessionConfig struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetectionConfig `json:"turn_detection"` // No omitempty - null disables server VAD
}

// TranscriptionConfig enables transcription of user audio.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// TurnDetectionConfig is the server-side silence policy.
type TurnDetectionConfig struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// ResponseCreateEvent asks the agent to produce a turn.
type ResponseCreateEvent struct {
	ClientEvent
	Response *ResponseConfig `json:"response,omitempty"`
}

// ResponseConfig overrides session settings for one response.
type ResponseConfig struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// ResponseCancelEvent cancels the in-progress response.
type ResponseCancelEvent struct {
	ClientEvent
}

// InputAudioBufferStartEvent arms server-side capture.
type InputAudioBufferStartEvent struct {
	ClientEvent
}

// InputAudioBufferAppendEvent carries base64 PCM on transports without a media track.
type InputAudioBufferAppendEvent struct {
	ClientEvent
	Audio string `json:"audio"`
}

// InputAudioBufferCommitEvent closes an utterance boundary.
type InputAudioBufferCommitEvent struct {
	ClientEvent
}

// NewSessionUpdate builds the one-time session configuration handshake.
func NewSessionUpdate(instructions, voice string, modalities []string, td TurnDetectionConfig) SessionUpdateEvent {
	if td.Type == "" {
		td.Type = TurnDetectionVAD
	}
	return SessionUpdateEvent{
		ClientEvent: ClientEvent{Type: TypeSessionUpdate},
		Session: SessionConfig{
			Modalities:              modalities,
			Instructions:            instructions,
			Voice:                   voice,
			InputAudioFormat:        AudioFormatPCM16,
			OutputAudioFormat:       AudioFormatPCM16,
			InputAudioTranscription: &TranscriptionConfig{Model: defaultTranscriber},
			TurnDetection:           &td,
		},
	}
}

// NewResponseCreate requests an agent turn, optionally with per-response instructions.
func NewResponseCreate(instructions string, modalities []string) ResponseCreateEvent {
	ev := ResponseCreateEvent{ClientEvent: ClientEvent{Type: TypeResponseCreate}}
	if instructions != "" || len(modalities) > 0 {
		ev.Response = &ResponseConfig{Modalities: modalities, Instructions: instructions}
	}
	return ev
}

// NewInputAudioBufferStart arms capture.
func NewInputAudioBufferStart() InputAudioBufferStartEvent {
	return InputAudioBufferStartEvent{ClientEvent: ClientEvent{Type: TypeInputAudioBufferStart}}
}

// NewInputAudioBufferCommit closes the current utterance.
func NewInputAudioBufferCommit() InputAudioBufferCommitEvent {
	return InputAudioBufferCommitEvent{ClientEvent: ClientEvent{Type: TypeInputAudioBufferCommit}}
}

// NewInputAudioBufferAppend wraps base64 PCM.
func NewInputAudioBufferAppend(audio string) InputAudioBufferAppendEvent {
	return InputAudioBufferAppendEvent{ClientEvent: ClientEvent{Type: TypeInputAudioBufferAppend}, Audio: audio}
}

// NewResponseCancel cancels the in-progress response.
func NewResponseCancel() ResponseCancelEvent {
	return ResponseCancelEvent{ClientEvent: ClientEvent{Type: TypeResponseCancel}}
}
