package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks semantic constraints the schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !c.Realtime.Enabled && !c.Streaming.Enabled {
		add("at least one of realtime.enabled or streaming.enabled must be true")
	}

	if c.Realtime.Enabled {
		if c.Realtime.TokenURL == "" {
			add("realtime.token_url is required when realtime is enabled")
		} else if err := checkURL(c.Realtime.TokenURL, "http", "https"); err != nil {
			add("realtime.token_url: %v", err)
		}
		if err := checkURL(c.Realtime.Endpoint, "http", "https", "ws", "wss"); err != nil {
			add("realtime.endpoint: %v", err)
		}
		switch c.Realtime.Transport {
		case TransportWebRTC, TransportWebSocket:
		default:
			add("realtime.transport must be one of webrtc|websocket")
		}
		if c.Realtime.ConnectTimeout <= 0 {
			add("realtime.connect_timeout must be > 0")
		}
		if c.Realtime.TurnDetection.SilenceDurationMs < 0 || c.Realtime.TurnDetection.PrefixPaddingMs < 0 {
			add("realtime.turn_detection durations must be >= 0")
		}
	}

	if c.Streaming.Enabled {
		if c.Streaming.URL == "" {
			add("streaming.url is required when streaming is enabled")
		} else if err := checkURL(c.Streaming.URL, "ws", "wss"); err != nil {
			add("streaming.url: %v", err)
		}
		if c.Streaming.ResponseTimeout <= 0 {
			add("streaming.response_timeout must be > 0")
		}
		if c.Streaming.MaxSendsPerSecond < 0 {
			add("streaming.max_sends_per_second must be >= 0")
		}
	}

	if c.VAD.SilenceFramesToStop <= 0 {
		add("vad.silence_frames_to_stop must be > 0")
	}
	if c.VAD.FrameRate <= 0 {
		add("vad.frame_rate must be > 0")
	}
	if c.VAD.FFTSize <= 0 || c.VAD.FFTSize&(c.VAD.FFTSize-1) != 0 {
		add("vad.fft_size must be a power of two")
	}

	if c.Recording.SampleRate <= 0 {
		add("recording.sample_rate must be > 0")
	}
	if c.Recording.ChunkInterval <= 0 {
		add("recording.chunk_interval must be > 0")
	}
	if c.Recording.MaxSegment < c.Recording.ChunkInterval {
		add("recording.max_segment must be >= recording.chunk_interval")
	}

	if c.Session.MaxDuration < 0 {
		add("session.max_duration must be >= 0")
	}

	if c.Tracing.Enabled {
		if err := checkURL(c.Tracing.Endpoint, "http", "https"); err != nil {
			add("tracing.endpoint: %v", err)
		}
	}

	if c.Transcript.Store == "redis" && c.Transcript.RedisAddr == "" {
		add("transcript.redis_addr is required when transcript.store is redis")
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in %q", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("scheme %q not allowed, want one of %v", u.Scheme, schemes)
}
