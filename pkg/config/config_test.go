package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Realtime.TokenURL = "https://app.example.com/api/realtime/token"
	cfg.Streaming.URL = "wss://relay.example.com/ws"
	return cfg
}

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 20.0, cfg.VAD.EnergyThreshold)
	assert.Equal(t, 8, cfg.VAD.SilenceFramesToStop)
	assert.Equal(t, 200*time.Millisecond, cfg.Recording.ChunkInterval)
	assert.Equal(t, 10*time.Second, cfg.Recording.MaxSegment)
	assert.Equal(t, 15*time.Second, cfg.Realtime.ConnectTimeout)
	assert.Equal(t, 15*time.Second, cfg.Streaming.ResponseTimeout)
	assert.Equal(t, 3000, cfg.Realtime.TurnDetection.SilenceDurationMs)
	assert.Equal(t, []string{"wav", "mp3", "pcm16"}, cfg.Playback.CodecOrder)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "both paths disabled",
			mutate:  func(c *Config) { c.Realtime.Enabled = false; c.Streaming.Enabled = false },
			wantErr: "at least one of",
		},
		{
			name:    "missing token url",
			mutate:  func(c *Config) { c.Realtime.TokenURL = "" },
			wantErr: "realtime.token_url is required",
		},
		{
			name:    "bad transport",
			mutate:  func(c *Config) { c.Realtime.Transport = "carrier-pigeon" },
			wantErr: "realtime.transport",
		},
		{
			name:    "relay must be websocket",
			mutate:  func(c *Config) { c.Streaming.URL = "https://relay.example.com" },
			wantErr: "streaming.url",
		},
		{
			name:    "fft size power of two",
			mutate:  func(c *Config) { c.VAD.FFTSize = 500 },
			wantErr: "vad.fft_size",
		},
		{
			name:    "segment shorter than chunk",
			mutate:  func(c *Config) { c.Recording.MaxSegment = 100 * time.Millisecond },
			wantErr: "recording.max_segment",
		},
		{
			name:    "tracing without endpoint",
			mutate:  func(c *Config) { c.Tracing.Enabled = true },
			wantErr: "tracing.endpoint",
		},
		{
			name:    "redis without addr",
			mutate:  func(c *Config) { c.Transcript.Store = "redis" },
			wantErr: "transcript.redis_addr",
		},
		{
			name: "realtime disabled skips token url",
			mutate: func(c *Config) {
				c.Realtime.Enabled = false
				c.Realtime.TokenURL = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := validConfig()

	err := cfg.ApplyEnv(envMap(map[string]string{
		"VOICEKIT_REALTIME_ENABLED": "false",
		"VOICEKIT_RELAY_URL":        "ws://localhost:8081/relay",
		"VOICEKIT_RESPONSE_TIMEOUT": "5s",
		"VOICEKIT_MAX_DURATION":     "20m",
		"VOICEKIT_REDIS_ADDR":       "localhost:6379",
		"VOICEKIT_OTLP_ENDPOINT":    "http://localhost:4318/v1/traces",
		"LOG_LEVEL":                 "debug",
	}))
	require.NoError(t, err)

	assert.False(t, cfg.Realtime.Enabled)
	assert.Equal(t, "ws://localhost:8081/relay", cfg.Streaming.URL)
	assert.Equal(t, 5*time.Second, cfg.Streaming.ResponseTimeout)
	assert.Equal(t, 20*time.Minute, cfg.Session.MaxDuration)
	assert.Equal(t, "redis", cfg.Transcript.Store)
	assert.Equal(t, "localhost:6379", cfg.Transcript.RedisAddr)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyEnv_ReportsAllParseErrors(t *testing.T) {
	cfg := validConfig()

	err := cfg.ApplyEnv(envMap(map[string]string{
		"VOICEKIT_REALTIME_ENABLED": "perhaps",
		"VOICEKIT_CONNECT_TIMEOUT":  "soon",
	}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "VOICEKIT_REALTIME_ENABLED must be a boolean")
	assert.Contains(t, err.Error(), "VOICEKIT_CONNECT_TIMEOUT must be a duration")
	assert.True(t, cfg.Realtime.Enabled, "fallback value kept on parse failure")
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "voicekit.yaml", `
realtime:
  token_url: https://app.example.com/token
  transport: websocket
  endpoint: wss://api.openai.com/v1/realtime
  connect_timeout: 5s
  turn_detection:
    silence_duration_ms: 4000
streaming:
  url: wss://relay.example.com/ws
vad:
  silence_frames_to_stop: 10
session:
  max_duration: 15m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportWebSocket, cfg.Realtime.Transport)
	assert.Equal(t, 5*time.Second, cfg.Realtime.ConnectTimeout)
	assert.Equal(t, 4000, cfg.Realtime.TurnDetection.SilenceDurationMs)
	assert.Equal(t, 10, cfg.VAD.SilenceFramesToStop)
	assert.Equal(t, 15*time.Minute, cfg.Session.MaxDuration)
	// untouched defaults survive
	assert.Equal(t, 20.0, cfg.VAD.EnergyThreshold)
}

func TestLoad_SchemaRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
realtime:
  token_url: https://app.example.com/token
  tokenurl: typo
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidateSchema_Empty(t *testing.T) {
	assert.NoError(t, ValidateSchema([]byte("")))
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "VOICEKIT_TEST_DOTENV=from-file\n")
	t.Setenv("VOICEKIT_TEST_DOTENV_EXISTING", "kept")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	t.Cleanup(func() { _ = os.Unsetenv("VOICEKIT_TEST_DOTENV") })

	assert.Equal(t, "from-file", os.Getenv("VOICEKIT_TEST_DOTENV"))
	assert.Equal(t, "kept", os.Getenv("VOICEKIT_TEST_DOTENV_EXISTING"))
}
