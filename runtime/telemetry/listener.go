package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/VoiceKit/runtime/events"
)

// Span names.
const (
	SpanConversation = "voicekit.conversation"
	SpanNegotiation  = "voicekit.negotiation"
	SpanTurn         = "voicekit.turn"
)

// conversationSpans tracks the spans of one conversation.
type conversationSpans struct {
	root        trace.Span
	ctx         context.Context //nolint:containedctx // needed to parent child spans
	negotiation trace.Span
	turn        trace.Span
}

// OTelEventListener converts conversation events into OTel spans.
//
// A conversation span opens at session.negotiating and closes at session.ended
// or session.failed. Negotiation and per-turn spans are its children. Events
// published before the relay or realtime session id is known carry no session
// id; they attach to the pending conversation until session.started rebinds it.
type OTelEventListener struct {
	tracer trace.Tracer
	parent context.Context //nolint:containedctx // parent for conversation spans

	mu       sync.Mutex
	pending  *conversationSpans
	sessions map[string]*conversationSpans
}

// NewOTelEventListener creates a listener that creates OTel spans from conversation events.
func NewOTelEventListener(tracer trace.Tracer) *OTelEventListener {
	return &OTelEventListener{
		tracer:   tracer,
		parent:   context.Background(),
		sessions: make(map[string]*conversationSpans),
	}
}

// WithParent parents conversation spans under the span in ctx.
func (l *OTelEventListener) WithParent(ctx context.Context) *OTelEventListener {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.parent = ctx
	return l
}

// OnEvent handles a single event. It can be passed to EventBus.SubscribeAll.
func (l *OTelEventListener) OnEvent(evt *events.Event) {
	//nolint:exhaustive // Only handling span-producing events
	switch evt.Type {
	case events.EventSessionNegotiating:
		l.startConversation(evt)
	case events.EventNegotiationCompleted:
		l.negotiationAttempt(evt)
	case events.EventSessionFallback:
		l.addEvent(evt, "fallback", reasonAttrs(evt)...)
	case events.EventSessionStarted:
		l.sessionStarted(evt)
	case events.EventSessionFailed:
		l.sessionFailed(evt)
	case events.EventSessionEnded:
		l.sessionEnded(evt)
	case events.EventSegmentSent:
		l.segmentSent(evt)
	case events.EventAgentMessage:
		l.endTurn(evt, "")
	case events.EventResponseTimeout:
		l.endTurn(evt, "no response")
	case events.EventBargeIn:
		l.addEvent(evt, "barge_in")
	case events.EventError:
		l.recordError(evt)
	}
}

// lookup returns the spans for an event: by session id when set, else the pending conversation.
// Callers must hold l.mu.
func (l *OTelEventListener) lookup(evt *events.Event) *conversationSpans {
	if evt.SessionID != "" {
		if cs, ok := l.sessions[evt.SessionID]; ok {
			return cs
		}
	}
	return l.pending
}

func (l *OTelEventListener) startConversation(evt *events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending != nil {
		l.pending.negotiation.End()
		l.pending.root.End()
	}
	ctx, root := l.tracer.Start(l.parent, SpanConversation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(evt.Timestamp),
	)
	_, neg := l.tracer.Start(ctx, SpanNegotiation, trace.WithTimestamp(evt.Timestamp))
	l.pending = &conversationSpans{root: root, ctx: ctx, negotiation: neg}
}

func (l *OTelEventListener) negotiationAttempt(evt *events.Event) {
	data, ok := evt.Data.(events.NegotiationData)
	if !ok {
		return
	}
	l.mu.Lock()
	cs := l.lookup(evt)
	l.mu.Unlock()
	if cs == nil || cs.negotiation == nil {
		return
	}
	cs.negotiation.AddEvent("attempt", trace.WithTimestamp(evt.Timestamp), trace.WithAttributes(
		attribute.String("transport", data.Transport),
		attribute.Bool("ok", data.OK),
		attribute.String("reason", data.Reason),
		attribute.Int64("duration_ms", data.Duration.Milliseconds()),
	))
	if data.Model != "" {
		cs.root.SetAttributes(attribute.String("model", data.Model))
	}
}

func (l *OTelEventListener) sessionStarted(evt *events.Event) {
	l.mu.Lock()
	cs := l.pending
	l.pending = nil
	if cs != nil && evt.SessionID != "" {
		l.sessions[evt.SessionID] = cs
	}
	l.mu.Unlock()
	if cs == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("session.id", evt.SessionID),
		attribute.String("mode", evt.Mode),
	}
	if data, ok := evt.Data.(events.SessionData); ok {
		attrs = append(attrs, attribute.String("transport", data.Transport))
	}
	cs.root.SetAttributes(attrs...)
	cs.negotiation.SetStatus(codes.Ok, "")
	cs.negotiation.End(trace.WithTimestamp(evt.Timestamp))
	cs.negotiation = nil
}

func (l *OTelEventListener) sessionFailed(evt *events.Event) {
	l.mu.Lock()
	cs := l.pending
	l.pending = nil
	l.mu.Unlock()
	if cs == nil {
		return
	}
	reason := ""
	if data, ok := evt.Data.(events.SessionData); ok {
		reason = data.Reason
	}
	cs.negotiation.SetStatus(codes.Error, reason)
	cs.negotiation.End(trace.WithTimestamp(evt.Timestamp))
	cs.root.SetStatus(codes.Error, reason)
	cs.root.End(trace.WithTimestamp(evt.Timestamp))
}

func (l *OTelEventListener) sessionEnded(evt *events.Event) {
	l.mu.Lock()
	cs, ok := l.sessions[evt.SessionID]
	if ok {
		delete(l.sessions, evt.SessionID)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	if cs.turn != nil {
		cs.turn.End(trace.WithTimestamp(evt.Timestamp))
	}
	if data, ok := evt.Data.(events.SessionData); ok {
		cs.root.SetAttributes(attribute.String("end.reason", data.Reason))
	}
	cs.root.SetStatus(codes.Ok, "")
	cs.root.End(trace.WithTimestamp(evt.Timestamp))
}

// segmentSent opens a turn span at the final segment of an utterance.
func (l *OTelEventListener) segmentSent(evt *events.Event) {
	data, ok := evt.Data.(events.SegmentData)
	if !ok || !data.Final {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cs := l.lookup(evt)
	if cs == nil {
		return
	}
	if cs.turn != nil {
		cs.turn.End(trace.WithTimestamp(evt.Timestamp))
	}
	_, cs.turn = l.tracer.Start(cs.ctx, SpanTurn,
		trace.WithTimestamp(evt.Timestamp),
		trace.WithAttributes(
			attribute.String("segment.id", data.SegmentID),
			attribute.String("segment.reason", data.Reason),
		),
	)
}

func (l *OTelEventListener) endTurn(evt *events.Event, errMsg string) {
	l.mu.Lock()
	cs := l.lookup(evt)
	var turn trace.Span
	if cs != nil {
		turn, cs.turn = cs.turn, nil
	}
	l.mu.Unlock()
	if turn == nil {
		return
	}
	if errMsg != "" {
		turn.SetStatus(codes.Error, errMsg)
	} else {
		turn.SetStatus(codes.Ok, "")
	}
	turn.End(trace.WithTimestamp(evt.Timestamp))
}

func (l *OTelEventListener) addEvent(evt *events.Event, name string, attrs ...attribute.KeyValue) {
	l.mu.Lock()
	cs := l.lookup(evt)
	l.mu.Unlock()
	if cs == nil {
		return
	}
	cs.root.AddEvent(name, trace.WithTimestamp(evt.Timestamp), trace.WithAttributes(attrs...))
}

func (l *OTelEventListener) recordError(evt *events.Event) {
	data, ok := evt.Data.(events.ErrorData)
	if !ok {
		return
	}
	l.addEvent(evt, "error",
		attribute.String("error.category", data.Category),
		attribute.String("error.message", data.Message),
	)
}

func reasonAttrs(evt *events.Event) []attribute.KeyValue {
	if data, ok := evt.Data.(events.SessionData); ok && data.Reason != "" {
		return []attribute.KeyValue{attribute.String("reason", data.Reason)}
	}
	return nil
}

// Close ends every open span. Spans of conversations still running are
// marked with an error status.
func (l *OTelEventListener) Close() {
	l.mu.Lock()
	open := make([]*conversationSpans, 0, len(l.sessions)+1)
	for id, cs := range l.sessions {
		open = append(open, cs)
		delete(l.sessions, id)
	}
	if l.pending != nil {
		open = append(open, l.pending)
		l.pending = nil
	}
	l.mu.Unlock()

	for _, cs := range open {
		if cs.turn != nil {
			cs.turn.End()
		}
		if cs.negotiation != nil {
			cs.negotiation.End()
		}
		cs.root.SetStatus(codes.Error, "listener closed")
		cs.root.End()
	}
}
