package internal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics collects backend, bridge and surface counters on its own registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	listen   string
	log      zerolog.Logger
	registry *prometheus.Registry
	server   *http.Server

	backend_requests_total         *prometheus.CounterVec
	backend_request_seconds        *prometheus.HistogramVec
	bridge_messages_total          *prometheus.CounterVec
	surface_commands_sent          prometheus.Counter
	surface_connections_active     prometheus.Gauge
	surface_connections_terminated prometheus.Counter
	surface_connections_total      prometheus.Counter
	surface_messages_received      prometheus.Counter
}

func NewMetrics(listen string, log zerolog.Logger) *Metrics {
	m := &Metrics{
		listen:   listen,
		log:      log.With().Str("component", "metrics").Logger(),
		registry: prometheus.NewRegistry(),
	}
	m.init()
	return m
}

// Start serves /metrics on the configured listen address until ctx is done.
func (m *Metrics) Start(ctx context.Context) {
	if m == nil || m.listen == "" {
		return
	}
	m.log.Info().Str("listen", m.listen).Msg("Starting metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.server = &http.Server{
		Addr:    m.listen,
		Handler: mux,
	}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		m.Stop()
	}()
}

func (m *Metrics) Stop() {
	if m == nil || m.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.server.Shutdown(ctx)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Request(op, outcome string, d time.Duration) {
	if m != nil {
		m.backend_requests_total.WithLabelValues(op, outcome).Inc()
		m.backend_request_seconds.WithLabelValues(op).Observe(d.Seconds())
	}
}
func (m *Metrics) Message(kind string) {
	if m != nil {
		m.bridge_messages_total.WithLabelValues(kind).Inc()
	}
}
func (m *Metrics) Connect() {
	if m != nil {
		m.surface_connections_total.Inc()
		m.surface_connections_active.Inc()
	}
}
func (m *Metrics) Disconnect() {
	if m != nil {
		m.surface_connections_active.Dec()
	}
}
func (m *Metrics) Terminate() {
	if m != nil {
		m.surface_connections_terminated.Inc()
	}
}
func (m *Metrics) Receive() {
	if m != nil {
		m.surface_messages_received.Inc()
	}
}
func (m *Metrics) Send() {
	if m != nil {
		m.surface_commands_sent.Inc()
	}
}

func (m *Metrics) init() {
	f := promauto.With(m.registry)
	m.backend_requests_total = f.NewCounterVec(prometheus.CounterOpts{
		Name: "web2wave_backend_requests_total",
		Help: "Total number of backend requests by operation and outcome",
	}, []string{"op", "outcome"})
	m.backend_request_seconds = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "web2wave_backend_request_seconds",
		Help:    "Backend request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	m.bridge_messages_total = f.NewCounterVec(prometheus.CounterOpts{
		Name: "web2wave_bridge_messages_total",
		Help: "Total number of bridge messages by dispatch kind",
	}, []string{"kind"})
	m.surface_commands_sent = f.NewCounter(prometheus.CounterOpts{
		Name: "web2wave_surface_commands_sent",
		Help: "Total number of commands written to surface streams",
	})
	m.surface_connections_active = f.NewGauge(prometheus.GaugeOpts{
		Name: "web2wave_surface_connections_active",
		Help: "Number of active surface stream connections",
	})
	m.surface_connections_terminated = f.NewCounter(prometheus.CounterOpts{
		Name: "web2wave_surface_connections_terminated",
		Help: "Total number of surface stream connections terminated for being slow",
	})
	m.surface_connections_total = f.NewCounter(prometheus.CounterOpts{
		Name: "web2wave_surface_connections_total",
		Help: "Total number of surface stream connections created",
	})
	m.surface_messages_received = f.NewCounter(prometheus.CounterOpts{
		Name: "web2wave_surface_messages_received",
		Help: "Total number of bridge messages posted to the surface",
	})
}
