package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load builds a Config from defaults, the optional YAML file at path, and the
// process environment, then validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply further overrides.
func Read(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are skipped and existing variables win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %q: %w", path, err)
		}
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := ValidateSchema(data); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from VOICEKIT_* environment variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	c.Realtime.Enabled = e.boolOr("VOICEKIT_REALTIME_ENABLED", c.Realtime.Enabled)
	c.Realtime.TokenURL = e.stringOr("VOICEKIT_TOKEN_URL", c.Realtime.TokenURL)
	c.Realtime.TokenMethod = e.stringOr("VOICEKIT_TOKEN_METHOD", c.Realtime.TokenMethod)
	c.Realtime.Endpoint = e.stringOr("VOICEKIT_REALTIME_ENDPOINT", c.Realtime.Endpoint)
	c.Realtime.Transport = e.stringOr("VOICEKIT_REALTIME_TRANSPORT", c.Realtime.Transport)
	c.Realtime.ConnectTimeout = e.durationOr("VOICEKIT_CONNECT_TIMEOUT", c.Realtime.ConnectTimeout)
	c.Realtime.Instructions = e.stringOr("VOICEKIT_INSTRUCTIONS", c.Realtime.Instructions)
	c.Realtime.Voice = e.stringOr("VOICEKIT_VOICE", c.Realtime.Voice)

	c.Streaming.Enabled = e.boolOr("VOICEKIT_STREAMING_ENABLED", c.Streaming.Enabled)
	c.Streaming.URL = e.stringOr("VOICEKIT_RELAY_URL", c.Streaming.URL)
	c.Streaming.ResponseTimeout = e.durationOr("VOICEKIT_RESPONSE_TIMEOUT", c.Streaming.ResponseTimeout)

	c.Session.MaxDuration = e.durationOr("VOICEKIT_MAX_DURATION", c.Session.MaxDuration)

	c.Logging.Level = e.stringOr("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = e.stringOr("LOG_FORMAT", c.Logging.Format)

	c.Metrics.Enabled = e.boolOr("VOICEKIT_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Addr = e.stringOr("VOICEKIT_METRICS_ADDR", c.Metrics.Addr)

	if endpoint := e.stringOr("VOICEKIT_OTLP_ENDPOINT", ""); endpoint != "" {
		c.Tracing.Enabled = true
		c.Tracing.Endpoint = endpoint
	}

	if addr := e.stringOr("VOICEKIT_REDIS_ADDR", ""); addr != "" {
		c.Transcript.Store = "redis"
		c.Transcript.RedisAddr = addr
	}

	c.Events.NATSURL = e.stringOr("VOICEKIT_NATS_URL", c.Events.NATSURL)
	c.Events.JournalDir = e.stringOr("VOICEKIT_JOURNAL_DIR", c.Events.JournalDir)

	return e.err()
}

// envReader collects parse failures so ApplyEnv can report all of them at once.
type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) stringOr(key, fallback string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (e *envReader) boolOr(key string, fallback bool) bool {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be a boolean: %w", key, err))
		return fallback
	}
	return b
}

func (e *envReader) durationOr(key string, fallback time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be a duration: %w", key, err))
		return fallback
	}
	return d
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}
