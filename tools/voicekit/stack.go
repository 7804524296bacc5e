package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/VoiceKit/pkg/config"
	"github.com/AltairaLabs/VoiceKit/runtime/conversation"
	"github.com/AltairaLabs/VoiceKit/runtime/events"
	"github.com/AltairaLabs/VoiceKit/runtime/metrics/prometheus"
	"github.com/AltairaLabs/VoiceKit/runtime/statestore"
	"github.com/AltairaLabs/VoiceKit/runtime/telemetry"
)

// stack is the set of process-wide services listening on the event bus.
type stack struct {
	bus      *events.EventBus
	store    statestore.Store
	exporter *prometheus.Exporter
	tracing  *telemetry.Tracing
	spans    *telemetry.OTelEventListener
	nats     *events.NATSForwarder
	journal  *events.Journal
	redis    *redis.Client

	unsubscribe []func()
}

// newStack builds the bus and attaches every enabled listener to it.
func newStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	st := &stack{bus: events.NewEventBus()}

	store, err := st.openStore(cfg.Transcript)
	if err != nil {
		return nil, err
	}
	st.store = store
	st.attach(statestore.NewTranscriptRecorder(store).Attach(st.bus))

	if cfg.Metrics.Enabled {
		st.exporter = prometheus.NewExporter(nil)
		if err := st.exporter.Listen(cfg.Metrics.Addr); err != nil {
			_ = st.Close(ctx)
			return nil, fmt.Errorf("metrics: %w", err)
		}
		st.attach(st.bus.SubscribeAll(prometheus.NewMetricsListener().Listener()))
	}

	tracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("tracing: %w", err)
	}
	st.tracing = tracing
	if tracing.Enabled() {
		st.spans = telemetry.NewOTelEventListener(tracing.Tracer())
		st.attach(st.bus.SubscribeAll(st.spans.OnEvent))
	}

	if cfg.Events.NATSURL != "" {
		fwd, err := events.DialNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			_ = st.Close(ctx)
			return nil, err
		}
		st.nats = fwd
		st.attach(fwd.Attach(st.bus))
	}

	if cfg.Events.JournalDir != "" {
		j, err := events.NewJournal(cfg.Events.JournalDir)
		if err != nil {
			_ = st.Close(ctx)
			return nil, err
		}
		st.journal = j
		st.attach(j.Attach(st.bus))
	}

	return st, nil
}

func (st *stack) openStore(cfg config.TranscriptConfig) (statestore.Store, error) {
	switch cfg.Store {
	case "", "memory":
		return statestore.NewMemoryStore(), nil
	case "redis":
		st.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		var opts []statestore.RedisOption
		if cfg.Prefix != "" {
			opts = append(opts, statestore.WithPrefix(cfg.Prefix))
		}
		if cfg.TTL > 0 {
			opts = append(opts, statestore.WithTTL(cfg.TTL))
		}
		return statestore.NewRedisStore(st.redis, opts...), nil
	default:
		return nil, fmt.Errorf("unknown transcript store %q", cfg.Store)
	}
}

func (st *stack) attach(unsubscribe func()) {
	st.unsubscribe = append(st.unsubscribe, unsubscribe)
}

// watch reports the orchestrator's state on /health.
func (st *stack) watch(orch *conversation.Orchestrator) {
	if st.exporter == nil {
		return
	}
	st.exporter.SetHealth(func() prometheus.HealthStatus {
		return healthOf(orch)
	})
}

func healthOf(orch *conversation.Orchestrator) prometheus.HealthStatus {
	status := prometheus.HealthStatus{Healthy: true, State: orch.State().String()}
	sess, ok := orch.Session()
	if !ok {
		return status
	}
	status.Detail = map[string]string{
		"session": sess.ID,
		"mode":    string(sess.Mode),
	}
	if h, ok := orch.Health(); ok {
		status.Detail["transport"] = string(h.TransportState)
		status.Detail["media"] = string(h.MediaState)
		status.Healthy = h.Healthy()
	}
	return status
}

// Close detaches listeners and shuts the services down in parallel.
func (st *stack) Close(ctx context.Context) error {
	for _, fn := range st.unsubscribe {
		fn()
	}
	st.unsubscribe = nil
	if st.spans != nil {
		st.spans.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	if st.exporter != nil {
		g.Go(func() error { return st.exporter.Shutdown(gctx) })
	}
	if st.tracing != nil {
		g.Go(func() error { return st.tracing.Shutdown(gctx) })
	}
	if st.nats != nil {
		g.Go(st.nats.Close)
	}
	if st.journal != nil {
		g.Go(st.journal.Close)
	}
	if st.redis != nil {
		g.Go(st.redis.Close)
	}
	err := g.Wait()
	st.bus.Close()
	return err
}
