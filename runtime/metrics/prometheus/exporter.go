package prometheus

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

const readHeaderTimeout = 10 * time.Second

// HealthStatus is the JSON body of /health. Healthy picks the status code:
// 200 when true, 503 otherwise.
type HealthStatus struct {
	Healthy bool              `json:"healthy"`
	State   string            `json:"state"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// HealthFunc reports the live health of the process.
type HealthFunc func() HealthStatus

// Exporter serves /metrics and /health. It is an http.Handler so both
// endpoints can be mounted on a server the caller already runs.
type Exporter struct {
	registry *prometheus.Registry
	mux      *http.ServeMux

	mu     sync.Mutex
	health HealthFunc
	srv    *http.Server
	addr   net.Addr
}

// NewExporter returns an exporter gathering from reg. With a nil registry it
// builds one holding every voicekit_* collector plus the Go runtime and
// process collectors.
func NewExporter(reg *prometheus.Registry) *Exporter {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(allMetrics...)
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	e := &Exporter{registry: reg, mux: http.NewServeMux()}
	e.mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	e.mux.HandleFunc("/health", e.writeHealth)
	return e
}

// Registry returns the registry behind /metrics.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// SetHealth installs the probe behind /health. Until one is set the
// endpoint answers healthy with state "ok".
func (e *Exporter) SetHealth(fn HealthFunc) {
	e.mu.Lock()
	e.health = fn
	e.mu.Unlock()
}

func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mux.ServeHTTP(w, r)
}

// Listen binds addr and serves in the background until Shutdown. Calling it
// on a listening exporter is a no-op.
func (e *Exporter) Listen(addr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: e.mux, ReadHeaderTimeout: readHeaderTimeout}
	e.srv, e.addr = srv, ln.Addr()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics exporter stopped", "addr", ln.Addr().String(), "error", err)
		}
	}()
	logger.Debug("Metrics exporter listening", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address, or "" before Listen.
func (e *Exporter) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.addr == nil {
		return ""
	}
	return e.addr.String()
}

// Shutdown stops the listener started by Listen. The exporter can listen
// again afterwards.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	srv := e.srv
	e.srv, e.addr = nil, nil
	e.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (e *Exporter) writeHealth(w http.ResponseWriter, _ *http.Request) {
	e.mu.Lock()
	probe := e.health
	e.mu.Unlock()

	status := HealthStatus{Healthy: true, State: "ok"}
	if probe != nil {
		status = probe()
	}

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
