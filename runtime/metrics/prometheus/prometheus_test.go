package prometheus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AltairaLabs/VoiceKit/runtime/events"
)

func TestRecordSessionStartEnd(t *testing.T) {
	sessionsActive.Reset()
	sessionsTotal.Reset()
	sessionDuration.Reset()

	RecordSessionStart("streaming")
	RecordSessionStart("streaming")
	if got := testutil.ToFloat64(sessionsActive.WithLabelValues("streaming")); got != 2 {
		t.Errorf("Expected 2 active sessions, got %f", got)
	}

	RecordSessionEnd("streaming", "end", 42)
	if got := testutil.ToFloat64(sessionsActive.WithLabelValues("streaming")); got != 1 {
		t.Errorf("Expected 1 active session after end, got %f", got)
	}
	if got := testutil.ToFloat64(sessionsTotal.WithLabelValues("streaming", statusStarted)); got != 2 {
		t.Errorf("Expected 2 started sessions, got %f", got)
	}
	if count := testutil.CollectAndCount(sessionDuration); count == 0 {
		t.Error("Expected session duration observations")
	}
}

func TestRecordSessionFailedWithoutMode(t *testing.T) {
	sessionsTotal.Reset()

	RecordSessionFailed("")

	if got := testutil.ToFloat64(sessionsTotal.WithLabelValues("none", statusFailed)); got != 1 {
		t.Errorf("Expected 1 failed session, got %f", got)
	}
}

func TestRecordSegment(t *testing.T) {
	segmentsTotal.Reset()
	before := testutil.ToFloat64(segmentBytesTotal)

	RecordSegment("chunk", false, 6400)
	RecordSegment("silence", true, 3200)
	RecordSegment("stop", true, 0)

	if got := testutil.ToFloat64(segmentsTotal.WithLabelValues("chunk", "false")); got != 1 {
		t.Errorf("Expected 1 chunk segment, got %f", got)
	}
	if got := testutil.ToFloat64(segmentsTotal.WithLabelValues("silence", "true")); got != 1 {
		t.Errorf("Expected 1 final silence segment, got %f", got)
	}
	if got := testutil.ToFloat64(segmentBytesTotal) - before; got != 9600 {
		t.Errorf("Expected 9600 bytes, got %f", got)
	}
}

func TestRecordErrorUnknownCategory(t *testing.T) {
	errorsTotal.Reset()

	RecordError("")
	RecordError("no_response")

	if got := testutil.ToFloat64(errorsTotal.WithLabelValues("unknown")); got != 1 {
		t.Errorf("Expected 1 unknown error, got %f", got)
	}
	if got := testutil.ToFloat64(errorsTotal.WithLabelValues("no_response")); got != 1 {
		t.Errorf("Expected 1 no_response error, got %f", got)
	}
}

func TestMetricsListener(t *testing.T) {
	sessionsActive.Reset()
	fallbacksTotal.Reset()
	negotiationDuration.Reset()
	vadTransitionsTotal.Reset()
	protocolDropsTotal.Reset()
	beforeBargeIns := testutil.ToFloat64(bargeInsTotal)
	beforeTimeouts := testutil.ToFloat64(responseTimeoutsTotal)

	bus := events.NewEventBus()
	defer bus.Close()
	bus.SubscribeAll(NewMetricsListener().Listener())

	em := events.NewEmitter(bus, "", "")
	em.SessionFallback("token")
	em.NegotiationCompleted(events.NegotiationData{Transport: "relay", OK: true, Duration: 120 * time.Millisecond})

	active := em.WithSession("s-1", "streaming")
	active.SessionStarted("relay")
	active.VADTransition(true, 40, 12, 0)
	active.BargeIn()
	active.ResponseTimeout()
	active.ProtocolDrop("relay", "unknown_type")

	if got := testutil.ToFloat64(fallbacksTotal.WithLabelValues("token")); got != 1 {
		t.Errorf("Expected 1 fallback, got %f", got)
	}
	if count := testutil.CollectAndCount(negotiationDuration); count != 1 {
		t.Errorf("Expected 1 negotiation series, got %d", count)
	}
	if got := testutil.ToFloat64(sessionsActive.WithLabelValues("streaming")); got != 1 {
		t.Errorf("Expected 1 active session, got %f", got)
	}
	if got := testutil.ToFloat64(vadTransitionsTotal.WithLabelValues("speaking")); got != 1 {
		t.Errorf("Expected 1 speaking transition, got %f", got)
	}
	if got := testutil.ToFloat64(bargeInsTotal) - beforeBargeIns; got != 1 {
		t.Errorf("Expected 1 barge-in, got %f", got)
	}
	if got := testutil.ToFloat64(responseTimeoutsTotal) - beforeTimeouts; got != 1 {
		t.Errorf("Expected 1 response timeout, got %f", got)
	}
	if got := testutil.ToFloat64(protocolDropsTotal.WithLabelValues("relay", "unknown_type")); got != 1 {
		t.Errorf("Expected 1 protocol drop, got %f", got)
	}

	active.SessionEnded("end", 30*time.Second)
	if got := testutil.ToFloat64(sessionsActive.WithLabelValues("streaming")); got != 0 {
		t.Errorf("Expected 0 active sessions after end, got %f", got)
	}
}

func TestNewExporter_DefaultRegistry(t *testing.T) {
	exporter := NewExporter(nil)
	RecordBargeIn()

	families, err := exporter.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"voicekit_barge_ins_total", "go_goroutines"} {
		if !names[want] {
			t.Errorf("expected %s to be registered", want)
		}
	}
}

func TestExporterServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(bargeInsTotal)
	exporter := NewExporter(reg)
	RecordBargeIn()

	rec := httptest.NewRecorder()
	exporter.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "voicekit_barge_ins_total") {
		t.Errorf("Expected voicekit_barge_ins_total in output, got %s", rec.Body.String())
	}
}

func TestExporterHealth(t *testing.T) {
	tests := []struct {
		name     string
		probe    HealthFunc
		wantCode int
		wantBody string
	}{
		{name: "no probe", wantCode: http.StatusOK, wantBody: `"state":"ok"`},
		{
			name: "healthy session",
			probe: func() HealthStatus {
				return HealthStatus{Healthy: true, State: "active", Detail: map[string]string{"mode": "realtime"}}
			},
			wantCode: http.StatusOK,
			wantBody: `"mode":"realtime"`,
		},
		{
			name: "failed transport",
			probe: func() HealthStatus {
				return HealthStatus{State: "active", Detail: map[string]string{"transport": "failed"}}
			},
			wantCode: http.StatusServiceUnavailable,
			wantBody: `"transport":"failed"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := NewExporter(prometheus.NewRegistry())
			if tt.probe != nil {
				exporter.SetHealth(tt.probe)
			}

			rec := httptest.NewRecorder()
			exporter.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected JSON content type, got %q", ct)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("Expected %s in body, got %s", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestExporterListenShutdown(t *testing.T) {
	exporter := NewExporter(prometheus.NewRegistry())
	if exporter.Addr() != "" {
		t.Fatal("Expected no address before Listen")
	}
	if err := exporter.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := exporter.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("second Listen should be a no-op: %v", err)
	}

	resp, err := http.Get("http://" + exporter.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	var status HealthStatus
	err = json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if err != nil || !status.Healthy {
		t.Fatalf("Unexpected health %+v (err %v)", status, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := exporter.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if exporter.Addr() != "" {
		t.Error("Expected address to be cleared after Shutdown")
	}
	if err := exporter.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestExporterListenBadAddr(t *testing.T) {
	exporter := NewExporter(prometheus.NewRegistry())
	if err := exporter.Listen("256.0.0.1:bad"); err == nil {
		t.Fatal("Expected an error for an unusable address")
	}
}
