package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields.
// These keys are used to store values in context.Context that will be
// automatically extracted and added to log entries.
const (
	// ContextKeySessionID identifies the conversation session.
	ContextKeySessionID contextKey = "session_id"

	// ContextKeyMode identifies the active transport mode ("realtime" or "streaming").
	ContextKeyMode contextKey = "mode"

	// ContextKeyTurnID identifies the current agent turn.
	ContextKeyTurnID contextKey = "turn_id"

	// ContextKeySegmentID identifies the audio segment in flight.
	ContextKeySegmentID contextKey = "segment_id"

	// ContextKeyTransport identifies the underlying channel ("webrtc", "websocket", "relay").
	ContextKeyTransport contextKey = "transport"

	// ContextKeyRequestID identifies an individual HTTP exchange.
	ContextKeyRequestID contextKey = "request_id"
)

// allContextKeys lists all context keys that should be extracted for logging.
var allContextKeys = []contextKey{
	ContextKeySessionID,
	ContextKeyMode,
	ContextKeyTurnID,
	ContextKeySegmentID,
	ContextKeyTransport,
	ContextKeyRequestID,
}

// WithSessionID returns a new context with the session ID set.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithMode returns a new context with the transport mode set.
func WithMode(ctx context.Context, mode string) context.Context {
	return context.WithValue(ctx, ContextKeyMode, mode)
}

// WithTurnID returns a new context with the turn ID set.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, ContextKeyTurnID, turnID)
}

// WithSegmentID returns a new context with the segment ID set.
func WithSegmentID(ctx context.Context, segmentID string) context.Context {
	return context.WithValue(ctx, ContextKeySegmentID, segmentID)
}

// WithTransport returns a new context with the transport name set.
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, ContextKeyTransport, transport)
}

// WithRequestID returns a new context with the request ID set.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// LoggingFields holds all standard logging context fields.
type LoggingFields struct {
	SessionID string
	Mode      string
	TurnID    string
	SegmentID string
	Transport string
	RequestID string
}

// WithLoggingContext returns a new context with multiple logging fields set at once.
// Only non-empty values are set.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	if fields.SessionID != "" {
		ctx = WithSessionID(ctx, fields.SessionID)
	}
	if fields.Mode != "" {
		ctx = WithMode(ctx, fields.Mode)
	}
	if fields.TurnID != "" {
		ctx = WithTurnID(ctx, fields.TurnID)
	}
	if fields.SegmentID != "" {
		ctx = WithSegmentID(ctx, fields.SegmentID)
	}
	if fields.Transport != "" {
		ctx = WithTransport(ctx, fields.Transport)
	}
	if fields.RequestID != "" {
		ctx = WithRequestID(ctx, fields.RequestID)
	}
	return ctx
}

// ExtractLoggingFields extracts all logging fields from a context.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	str := func(key contextKey) string {
		s, _ := ctx.Value(key).(string)
		return s
	}
	return LoggingFields{
		SessionID: str(ContextKeySessionID),
		Mode:      str(ContextKeyMode),
		TurnID:    str(ContextKeyTurnID),
		SegmentID: str(ContextKeySegmentID),
		Transport: str(ContextKeyTransport),
		RequestID: str(ContextKeyRequestID),
	}
}
