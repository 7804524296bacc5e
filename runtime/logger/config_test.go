package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestModuleConfig_LevelFor(t *testing.T) {
	cfg := NewModuleConfig(slog.LevelWarn)
	cfg.SetModuleLevel("runtime", slog.LevelInfo)
	cfg.SetModuleLevel("runtime.realtime", slog.LevelDebug)

	tests := []struct {
		module string
		want   slog.Level
	}{
		{"runtime.realtime", slog.LevelDebug},
		{"runtime.realtime.peer", slog.LevelDebug},
		{"runtime.audio", slog.LevelInfo},
		{"pkg.config", slog.LevelWarn},
		{"", slog.LevelWarn},
	}
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			if got := cfg.LevelFor(tt.module); got != tt.want {
				t.Errorf("LevelFor(%q) = %v, want %v", tt.module, got, tt.want)
			}
		})
	}

	if got := cfg.MinLevel(); got != slog.LevelDebug {
		t.Errorf("MinLevel() = %v, want debug", got)
	}
}

func TestModuleFromFunction(t *testing.T) {
	tests := []struct {
		fn   string
		want string
	}{
		{"github.com/AltairaLabs/VoiceKit/runtime/realtime.(*Manager).Negotiate", "runtime.realtime"},
		{"github.com/AltairaLabs/VoiceKit/runtime/audio.NewRecorder", "runtime.audio"},
		{"github.com/AltairaLabs/VoiceKit/pkg/config.Load.func1", "pkg.config"},
		{"main.main", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			if got := moduleFromFunction(tt.fn); got != tt.want {
				t.Errorf("moduleFromFunction(%q) = %q, want %q", tt.fn, got, tt.want)
			}
		})
	}
}

func TestConfigure_JSONWithCommonFields(t *testing.T) {
	buf := captureOutput(t, slog.LevelInfo)

	Configure(&LoggingConfigSpec{
		Level:        "info",
		Format:       "json",
		CommonFields: map[string]string{"service": "voicekit"},
	})
	InfoContext(WithSessionID(context.Background(), "abc"), "hello")

	out := buf.String()
	if !strings.Contains(out, `"service":"voicekit"`) {
		t.Errorf("common field missing: %s", out)
	}
	if !strings.Contains(out, `"session_id":"abc"`) {
		t.Errorf("context field missing: %s", out)
	}
}

func TestConfigure_Nil(t *testing.T) {
	before := DefaultLogger
	Configure(nil)
	if DefaultLogger != before {
		t.Error("Configure(nil) should not replace the logger")
	}
}
