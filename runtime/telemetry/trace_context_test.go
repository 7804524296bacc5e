package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestHTTPClient_InjectsTraceparent(t *testing.T) {
	orig := otel.GetTextMapPropagator()
	defer otel.SetTextMapPropagator(orig)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "token")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := HTTPClient(nil).Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if got == "" {
		t.Fatal("expected traceparent header")
	}
	if want := span.SpanContext().TraceID().String(); len(got) < 35 || got[3:35] != want {
		t.Errorf("traceparent = %q, want trace id %s", got, want)
	}
	if req.Header.Get("traceparent") != "" {
		t.Error("caller's request must not be mutated")
	}
}

func TestHTTPClient_NoSpanNoHeader(t *testing.T) {
	orig := otel.GetTextMapPropagator()
	defer otel.SetTextMapPropagator(orig)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	origTP := otel.GetTracerProvider()
	defer otel.SetTracerProvider(origTP)
	otel.SetTracerProvider(noop.NewTracerProvider())

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("traceparent")
	}))
	defer srv.Close()

	resp, err := HTTPClient(&http.Client{}).Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if got != "" {
		t.Errorf("unexpected traceparent %q", got)
	}
}

func TestHTTPClient_KeepsBaseSettings(t *testing.T) {
	base := &http.Client{Timeout: 42}
	c := HTTPClient(base)
	if c == base {
		t.Fatal("expected a copy")
	}
	if c.Timeout != 42 {
		t.Errorf("Timeout = %v", c.Timeout)
	}
	if base.Transport != nil {
		t.Error("base client must not be modified")
	}
	if c.Transport == nil {
		t.Error("expected an instrumented transport")
	}
}
