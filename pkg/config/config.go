// Package config loads VoiceKit configuration from YAML, environment variables
// and .env files.
package config

import "time"

// Transport names accepted by RealtimeConfig.Transport.
const (
	TransportWebRTC    = "webrtc"
	TransportWebSocket = "websocket"
)

// Config is the complete VoiceKit configuration.
type Config struct {
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Streaming  StreamingConfig  `yaml:"streaming"`
	VAD        VADConfig        `yaml:"vad"`
	Recording  RecordingConfig  `yaml:"recording"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Session    SessionConfig    `yaml:"session"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Events     EventsConfig     `yaml:"events"`
}

// RealtimeConfig configures the realtime transport path.
type RealtimeConfig struct {
	Enabled bool `yaml:"enabled"`

	// TokenURL issues {clientSecret, model}. TokenMethod is GET or POST.
	TokenURL    string `yaml:"token_url"`
	TokenMethod string `yaml:"token_method"`

	// Endpoint receives the SDP offer (webrtc) or the socket upgrade (websocket).
	Endpoint   string   `yaml:"endpoint"`
	Transport  string   `yaml:"transport"`
	ICEServers []string `yaml:"ice_servers"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	Instructions         string        `yaml:"instructions"`
	GreetingInstructions string        `yaml:"greeting_instructions"`
	Modalities           []string      `yaml:"modalities"`
	Voice                string        `yaml:"voice"`
	TurnDetection        TurnDetection `yaml:"turn_detection"`
}

// TurnDetection is the server-side silence policy sent in session.update.
type TurnDetection struct {
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

// StreamingConfig configures the relay fallback path.
type StreamingConfig struct {
	Enabled         bool          `yaml:"enabled"`
	URL             string        `yaml:"url"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	// MaxSendsPerSecond paces outbound segment messages. Zero disables pacing.
	MaxSendsPerSecond float64 `yaml:"max_sends_per_second"`
}

// VADConfig tunes the frequency-energy voice activity detector.
type VADConfig struct {
	EnergyThreshold     float64 `yaml:"energy_threshold"`
	PeakThreshold       float64 `yaml:"peak_threshold"`
	SilenceFramesToStop int     `yaml:"silence_frames_to_stop"`
	FrameRate           int     `yaml:"frame_rate"`
	FFTSize             int     `yaml:"fft_size"`
}

// RecordingConfig configures capture and segmenting.
type RecordingConfig struct {
	SampleRate    int           `yaml:"sample_rate"`
	ChunkInterval time.Duration `yaml:"chunk_interval"`
	MaxSegment    time.Duration `yaml:"max_segment"`
	Device        string        `yaml:"device"`
}

// PlaybackConfig configures agent audio output.
type PlaybackConfig struct {
	SampleRate    int      `yaml:"sample_rate"`
	CodecOrder    []string `yaml:"codec_order"`
	SpeechCommand string   `yaml:"speech_command"`
	// BargeIn is one of "ignore", "immediate", "deferred".
	BargeIn string `yaml:"barge_in"`
}

// SessionConfig bounds a conversation session.
type SessionConfig struct {
	MaxDuration time.Duration `yaml:"max_duration"`
}

// LoggingConfig mirrors logger.LoggingConfigSpec.
type LoggingConfig struct {
	Level        string            `yaml:"level"`
	Format       string            `yaml:"format"`
	CommonFields map[string]string `yaml:"common_fields"`
	Modules      map[string]string `yaml:"modules"`
}

// MetricsConfig enables the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig enables OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// TranscriptConfig selects where transcripts are written.
type TranscriptConfig struct {
	// Store is "memory" or "redis".
	Store     string        `yaml:"store"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// EventsConfig forwards conversation events to NATS when URL is set and
// journals them per session when JournalDir is set.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	JournalDir    string `yaml:"journal_dir"`
}

// Defaults returns the configuration used when no file or environment overrides are given.
func Defaults() *Config {
	return &Config{
		Realtime: RealtimeConfig{
			Enabled:        true,
			TokenMethod:    "POST",
			Endpoint:       "https://api.openai.com/v1/realtime",
			Transport:      TransportWebRTC,
			ICEServers:     []string{"stun:stun.l.google.com:19302"},
			ConnectTimeout: 15 * time.Second,
			Modalities:     []string{"text", "audio"},
			Voice:          "alloy",
			TurnDetection: TurnDetection{
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 3000,
			},
		},
		Streaming: StreamingConfig{
			Enabled:           true,
			ResponseTimeout:   15 * time.Second,
			ConnectTimeout:    10 * time.Second,
			MaxSendsPerSecond: 20,
		},
		VAD: VADConfig{
			EnergyThreshold:     20,
			PeakThreshold:       50,
			SilenceFramesToStop: 8,
			FrameRate:           60,
			FFTSize:             512,
		},
		Recording: RecordingConfig{
			SampleRate:    16000,
			ChunkInterval: 200 * time.Millisecond,
			MaxSegment:    10 * time.Second,
		},
		Playback: PlaybackConfig{
			SampleRate: 24000,
			CodecOrder: []string{"wav", "mp3", "pcm16"},
			BargeIn:    "immediate",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Tracing: TracingConfig{
			ServiceName: "voicekit",
		},
		Transcript: TranscriptConfig{
			Store:  "memory",
			Prefix: "voicekit",
			TTL:    24 * time.Hour,
		},
		Events: EventsConfig{
			SubjectPrefix: "voicekit.conversation",
		},
	}
}
