package streaming

// Outbound relay message types.
const (
	TypeStart          = "start"
	TypeStreamingAudio = "streaming-audio"
	TypeAudioChunk     = "audio-chunk"
	TypeEnd            = "end"
)

// Inbound relay message types.
const (
	TypeSessionStarted    = "session-started"
	TypeAIResponse        = "ai-response"
	TypeStreamingChunk    = "streaming-chunk"
	TypeStreamingResponse = "streaming-response"
	TypeSessionEnded      = "session-ended"
	TypeError             = "error"
)

// OutboundMessage is sent to the relay.
type OutboundMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	AudioData string `json:"audioData,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	SegmentID string `json:"segmentId,omitempty"`
}

// InboundMessage is received from the relay.
type InboundMessage struct {
	Type           string `json:"type"`
	SessionID      string `json:"sessionId,omitempty"`
	Message        string `json:"message,omitempty"`
	AudioData      string `json:"audioData,omitempty"`
	UserTranscript string `json:"userTranscript,omitempty"`
	Error          string `json:"error,omitempty"`
}
