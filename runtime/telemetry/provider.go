// Package telemetry turns conversation events into OpenTelemetry spans and
// instruments the signaling HTTP calls made while a session is negotiated.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/VoiceKit/pkg/config"
	"github.com/AltairaLabs/VoiceKit/runtime/version"
)

// InstrumentationName is the scope every VoiceKit tracer is created under.
const InstrumentationName = "github.com/AltairaLabs/VoiceKit"

const defaultServiceName = "voicekit"

var errNoEndpoint = errors.New("tracing enabled without an endpoint")

// Tracing is the process tracer provider built from configuration. The zero
// value is usable and traces through whatever provider is installed globally.
type Tracing struct {
	sdk *sdktrace.TracerProvider
}

// Setup builds the OTLP/HTTP provider described by cfg and installs it, along
// with the W3C and X-Ray propagators, as the global default. Disabled tracing
// yields a Tracing that defers to the global provider.
func Setup(ctx context.Context, cfg config.TracingConfig) (*Tracing, error) {
	if !cfg.Enabled {
		return &Tracing{}, nil
	}
	if cfg.Endpoint == "" {
		return nil, errNoEndpoint
	}

	tp, err := newSDKProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(Propagator())
	return &Tracing{sdk: tp}, nil
}

// Enabled reports whether spans are exported by this process.
func (t *Tracing) Enabled() bool { return t != nil && t.sdk != nil }

// Provider returns the provider spans are created from.
func (t *Tracing) Provider() trace.TracerProvider {
	if t.Enabled() {
		return t.sdk
	}
	return otel.GetTracerProvider()
}

// Tracer returns the VoiceKit tracer, stamped with the build version.
func (t *Tracing) Tracer() trace.Tracer {
	return t.Provider().Tracer(InstrumentationName, trace.WithInstrumentationVersion(version.GetVersion()))
}

// Shutdown flushes pending spans. It is a no-op when tracing is disabled.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}
	return t.sdk.Shutdown(ctx)
}

// Propagator handles traceparent, baggage and X-Amzn-Trace-Id headers.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
		xray.Propagator{},
	)
}

func newSDKProvider(ctx context.Context, cfg config.TracingConfig) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", version.GetVersion()),
	))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}
