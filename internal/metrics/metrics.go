// Package metrics exposes stalker counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stalker/internal/event"
	"stalker/internal/eventbus"
	logx "stalker/pkg/logx"
)

// Metrics owns its registry so several instances (tests) never collide.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal        *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	WatchedSubjects    prometheus.Gauge
	FallbackAvailable  prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stalker_events_total",
				Help: "Gateway events handled, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stalker_notifications_total",
				Help: "Notification delivery lifecycle events, by stage",
			},
			[]string{"stage"},
		),
		WatchedSubjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stalker_watched_subjects",
			Help: "Number of watched subjects",
		}),
		FallbackAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stalker_fallback_available",
			Help: "1 when the fallback message log is loaded",
		}),
	}
	reg.MustRegister(m.EventsTotal, m.NotificationsTotal, m.WatchedSubjects, m.FallbackAvailable)
	return m
}

// ObserveEvent counts one dispatched event outcome.
func (m *Metrics) ObserveEvent(kind event.Kind, outcome string) {
	m.EventsTotal.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) SetWatched(n int) { m.WatchedSubjects.Set(float64(n)) }

func (m *Metrics) SetFallbackAvailable(ok bool) {
	if ok {
		m.FallbackAvailable.Set(1)
		return
	}
	m.FallbackAvailable.Set(0)
}

// Consume counts notifier.* bus events until ctx is done or the channel closes.
func (m *Metrics) Consume(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if stage, found := strings.CutPrefix(e.Type, "notifier."); found {
				m.NotificationsTotal.WithLabelValues(stage).Inc()
			}
		}
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics (and the profiler when enabled) until ctx is done.
func (m *Metrics) Serve(ctx context.Context, cfg ServeConfig, log logx.Logger) error {
	if err := cfg.check(); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Pprof {
		mountPprof(mux, cfg.Token)
	}
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics listening", logx.String("addr", cfg.Addr), logx.Bool("pprof", cfg.Pprof))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
