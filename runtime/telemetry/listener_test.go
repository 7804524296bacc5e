package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	pkgerrors "github.com/AltairaLabs/VoiceKit/pkg/errors"
	"github.com/AltairaLabs/VoiceKit/runtime/events"
)

// newTestListener returns a listener wired to a bus, an in-memory exporter, and the provider.
func newTestListener(t *testing.T) (*events.EventBus, *OTelEventListener, *tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	listener := NewOTelEventListener(tp.Tracer(InstrumentationName))
	bus := events.NewEventBus()
	bus.SubscribeAll(listener.OnEvent)
	t.Cleanup(bus.Close)
	return bus, listener, exp, tp
}

// flushAndGetSpans reads spans before Shutdown, which resets the exporter buffer.
func flushAndGetSpans(t *testing.T, tp *sdktrace.TracerProvider, exp *tracetest.InMemoryExporter) tracetest.SpanStubs {
	t.Helper()
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	spans := exp.GetSpans()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	return spans
}

func findSpan(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("span %q not found in %d spans", name, len(spans))
	return tracetest.SpanStub{}
}

func hasAttr(span tracetest.SpanStub, key, want string) bool {
	for _, a := range span.Attributes {
		if string(a.Key) == key && a.Value.Emit() == want {
			return true
		}
	}
	return false
}

func hasEvent(span tracetest.SpanStub, name string) bool {
	for _, e := range span.Events {
		if e.Name == name {
			return true
		}
	}
	return false
}

func TestOTelEventListener_FallbackConversation(t *testing.T) {
	bus, _, exp, tp := newTestListener(t)
	em := events.NewEmitter(bus, "", "")

	em.SessionNegotiating()
	em.NegotiationCompleted(events.NegotiationData{Transport: "webrtc", Reason: "token", Duration: 30 * time.Millisecond})
	em.SessionFallback("token")
	em.NegotiationCompleted(events.NegotiationData{Transport: "relay", OK: true, Duration: 80 * time.Millisecond})

	active := em.WithSession("relay-1", "streaming")
	active.SessionStarted("relay")
	active.SegmentSent("seg-1", "silence", 3200, true)
	active.AgentMessage("ai-response", "Hello there.", nil)
	active.BargeIn()
	active.SessionEnded("end", time.Minute)

	spans := flushAndGetSpans(t, tp, exp)
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}

	root := findSpan(t, spans, SpanConversation)
	if !hasAttr(root, "session.id", "relay-1") || !hasAttr(root, "mode", "streaming") {
		t.Errorf("missing session attributes: %v", root.Attributes)
	}
	if !hasAttr(root, "end.reason", "end") {
		t.Error("expected end.reason attribute")
	}
	if !hasEvent(root, "fallback") || !hasEvent(root, "barge_in") {
		t.Errorf("expected fallback and barge_in events, got %v", root.Events)
	}

	neg := findSpan(t, spans, SpanNegotiation)
	if neg.Parent.SpanID() != root.SpanContext.SpanID() {
		t.Error("negotiation span should be child of conversation span")
	}
	if len(neg.Events) != 2 {
		t.Errorf("expected 2 negotiation attempts, got %d", len(neg.Events))
	}
	if neg.Status.Code != codes.Ok {
		t.Errorf("expected Ok negotiation, got %v", neg.Status.Code)
	}

	turn := findSpan(t, spans, SpanTurn)
	if turn.Parent.SpanID() != root.SpanContext.SpanID() {
		t.Error("turn span should be child of conversation span")
	}
	if !hasAttr(turn, "segment.id", "seg-1") {
		t.Error("expected segment.id on turn span")
	}
	if turn.Status.Code != codes.Ok {
		t.Errorf("expected Ok turn, got %v", turn.Status.Code)
	}
}

func TestOTelEventListener_NoResponseTurn(t *testing.T) {
	bus, _, exp, tp := newTestListener(t)
	em := events.NewEmitter(bus, "", "")
	em.SessionNegotiating()
	active := em.WithSession("relay-1", "streaming")
	active.SessionStarted("relay")

	active.SegmentSent("seg-1", "chunk", 6400, false)
	active.SegmentSent("seg-1", "silence", 0, true)
	active.ResponseTimeout()
	active.Error(pkgerrors.New("streaming", "Await", errors.New("timer fired")).
		WithCategory(pkgerrors.CategoryNoResponse))
	active.SessionEnded("end", time.Second)

	spans := flushAndGetSpans(t, tp, exp)
	turn := findSpan(t, spans, SpanTurn)
	if turn.Status.Code != codes.Error {
		t.Errorf("expected Error turn, got %v", turn.Status.Code)
	}
	root := findSpan(t, spans, SpanConversation)
	if !hasEvent(root, "error") {
		t.Error("expected error event on conversation span")
	}
}

func TestOTelEventListener_FailedStart(t *testing.T) {
	bus, _, exp, tp := newTestListener(t)
	em := events.NewEmitter(bus, "", "")

	em.SessionNegotiating()
	em.SessionFailed(pkgerrors.New("conversation", "Start", errors.New("relay down")).
		WithCategory(pkgerrors.CategoryNegotiation))

	spans := flushAndGetSpans(t, tp, exp)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	for _, s := range spans {
		if s.Status.Code != codes.Error {
			t.Errorf("%s: expected Error status, got %v", s.Name, s.Status.Code)
		}
	}
}

func TestOTelEventListener_IgnoresUnknownSessions(t *testing.T) {
	bus, _, exp, tp := newTestListener(t)
	em := events.NewEmitter(bus, "ghost", "streaming")

	em.SegmentSent("seg-1", "silence", 100, true)
	em.AgentMessage("ai-response", "hi", nil)
	em.SessionEnded("end", time.Second)

	if spans := flushAndGetSpans(t, tp, exp); len(spans) != 0 {
		t.Errorf("expected no spans, got %d", len(spans))
	}
}

func TestOTelEventListener_CloseEndsOpenSpans(t *testing.T) {
	bus, listener, exp, tp := newTestListener(t)
	em := events.NewEmitter(bus, "", "")
	em.SessionNegotiating()
	active := em.WithSession("rt-1", "realtime")
	active.SessionStarted("webrtc")

	listener.Close()

	spans := flushAndGetSpans(t, tp, exp)
	root := findSpan(t, spans, SpanConversation)
	if root.Status.Code != codes.Error {
		t.Errorf("expected Error status for abandoned conversation, got %v", root.Status.Code)
	}
}

func TestOTelEventListener_WithParent(t *testing.T) {
	bus, listener, exp, tp := newTestListener(t)
	parentCtx, parent := tp.Tracer("test").Start(context.Background(), "cli.talk")
	listener.WithParent(parentCtx)

	em := events.NewEmitter(bus, "", "")
	em.SessionNegotiating()
	em.WithSession("rt-1", "realtime").SessionStarted("webrtc")
	em.WithSession("rt-1", "realtime").SessionEnded("end", time.Second)
	parent.End()

	spans := flushAndGetSpans(t, tp, exp)
	root := findSpan(t, spans, SpanConversation)
	if root.Parent.SpanID() != parent.SpanContext().SpanID() {
		t.Error("conversation span should be parented under the caller span")
	}
}
