package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the small, named set of counters/gauges spec.md's ambient
// observability section calls for: messages routed, actors active,
// migrations in flight, and the raft applied index. This is deliberately
// not a full dashboard/exporter — that's named out of scope.
type Metrics struct {
	MessagesRouted     prometheus.Counter
	MessagesDropped    *prometheus.CounterVec
	ActorsActive       prometheus.Gauge
	MigrationsInFlight prometheus.Gauge
	RaftAppliedIndex   prometheus.Gauge
	RPCDuration        *prometheus.HistogramVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		MessagesRouted: factory.NewCounter(prometheus.CounterOpts{
			Name: "fipa_messages_routed_total",
			Help: "Total ACL messages successfully routed, local or remote.",
		}),
		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fipa_messages_dropped_total",
			Help: "Total ACL messages dropped, labeled by fault kind.",
		}, []string{"kind"}),
		ActorsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fipa_actors_active",
			Help: "Number of agent actors currently hosted by this node.",
		}),
		MigrationsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fipa_migrations_in_flight",
			Help: "Number of migrations this node is currently a party to.",
		}),
		RaftAppliedIndex: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fipa_raft_applied_index",
			Help: "Last raft log index applied to the directory state machine.",
		}),
		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fipa_rpc_duration_seconds",
			Help:    "NodeService RPC handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// ServeMetrics starts an HTTP server exposing /metrics and blocks until
// ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, registerer *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
