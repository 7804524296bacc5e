package logger

import (
	"log/slog"
	"strings"
	"sync"
)

// ModuleConfig manages per-module logging levels. Module names are dotted and
// hierarchical: "runtime.realtime" overrides "runtime".
type ModuleConfig struct {
	mu           sync.RWMutex
	defaultLevel slog.Level
	modules      map[string]slog.Level
}

// NewModuleConfig creates a new ModuleConfig with the given default level.
func NewModuleConfig(defaultLevel slog.Level) *ModuleConfig {
	return &ModuleConfig{
		defaultLevel: defaultLevel,
		modules:      make(map[string]slog.Level),
	}
}

// SetModuleLevel sets the log level for a specific module.
func (m *ModuleConfig) SetModuleLevel(module string, level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[module] = level
}

// LevelFor returns the level for module, walking up the hierarchy until a
// configured ancestor is found.
func (m *ModuleConfig) LevelFor(module string) slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for module != "" {
		if level, ok := m.modules[module]; ok {
			return level
		}
		lastDot := strings.LastIndex(module, ".")
		if lastDot == -1 {
			break
		}
		module = module[:lastDot]
	}
	return m.defaultLevel
}

// MinLevel returns the most verbose level configured anywhere.
func (m *ModuleConfig) MinLevel() slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lowest := m.defaultLevel
	for _, level := range m.modules {
		if level < lowest {
			lowest = level
		}
	}
	return lowest
}

// Log format constants
const (
	FormatJSON = "json"
	FormatText = "text"
)

// LoggingConfigSpec defines the logging configuration for the Configure function.
// It mirrors config.LoggingConfig to avoid an import cycle.
type LoggingConfigSpec struct {
	Level        string
	Format       string
	CommonFields map[string]string
	Modules      map[string]string
}

// Configure applies a LoggingConfigSpec to the global logger.
func Configure(cfg *LoggingConfigSpec) {
	if cfg == nil {
		return
	}

	level := ParseLevel(cfg.Level)

	var commonFields []slog.Attr
	for k, v := range cfg.CommonFields {
		commonFields = append(commonFields, slog.String(k, v))
	}

	var modules *ModuleConfig
	if len(cfg.Modules) > 0 {
		modules = NewModuleConfig(level)
		for name, lvl := range cfg.Modules {
			modules.SetModuleLevel(name, ParseLevel(lvl))
		}
	}

	initLoggerWithConfig(level, commonFields, modules, strings.EqualFold(cfg.Format, FormatJSON))
}

// initLoggerWithConfig rebuilds DefaultLogger and installs it as slog's default.
func initLoggerWithConfig(level slog.Level, commonFields []slog.Attr, modules *ModuleConfig, useJSON bool) {
	outputMu.Lock()
	out := logOutput
	outputMu.Unlock()

	handlerLevel := level
	if modules != nil {
		handlerLevel = modules.MinLevel()
	}
	opts := &slog.HandlerOptions{Level: handlerLevel}

	var base slog.Handler
	if useJSON {
		base = slog.NewJSONHandler(out, opts)
	} else {
		base = slog.NewTextHandler(out, opts)
	}

	DefaultLogger = slog.New(NewContextHandler(base, modules, commonFields...))
	slog.SetDefault(DefaultLogger)
}
