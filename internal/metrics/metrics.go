package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the relay.
type Metrics struct {
	registry              *prometheus.Registry
	framesRelayedTotal    prometheus.Counter
	viewerDropsTotal      prometheus.Counter
	framesThrottledTotal  prometheus.Counter
	authFailuresTotal     prometheus.Counter
	snapshotRequestsTotal prometheus.Counter
	activeSessions        prometheus.Gauge
	viewerConnections     prometheus.Gauge
}

// New creates and registers relay metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	framesRelayedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camrelay_frames_relayed_total",
		Help: "Total number of producer frames broadcast to viewers",
	})
	viewerDropsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camrelay_viewer_drops_total",
		Help: "Total number of per-viewer sends dropped on full transport buffers",
	})
	framesThrottledTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camrelay_frames_throttled_total",
		Help: "Total number of inbound frames dropped by the per-device rate cap",
	})
	authFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camrelay_auth_failures_total",
		Help: "Total number of failed authentication attempts",
	})
	snapshotRequestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camrelay_snapshot_requests_total",
		Help: "Total number of snapshot requests from viewers",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camrelay_active_sessions",
		Help: "Number of live producer sessions",
	})
	viewerConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camrelay_viewer_connections",
		Help: "Number of connected viewers",
	})

	registry.MustRegister(
		framesRelayedTotal,
		viewerDropsTotal,
		framesThrottledTotal,
		authFailuresTotal,
		snapshotRequestsTotal,
		activeSessions,
		viewerConnections,
	)

	return &Metrics{
		registry:              registry,
		framesRelayedTotal:    framesRelayedTotal,
		viewerDropsTotal:      viewerDropsTotal,
		framesThrottledTotal:  framesThrottledTotal,
		authFailuresTotal:     authFailuresTotal,
		snapshotRequestsTotal: snapshotRequestsTotal,
		activeSessions:        activeSessions,
		viewerConnections:     viewerConnections,
	}
}

func (m *Metrics) IncFramesRelayed() { m.framesRelayedTotal.Inc() }

func (m *Metrics) AddViewerDrops(n int) { m.viewerDropsTotal.Add(float64(n)) }

func (m *Metrics) IncFramesThrottled() { m.framesThrottledTotal.Inc() }

func (m *Metrics) IncAuthFailures() { m.authFailuresTotal.Inc() }

func (m *Metrics) IncSnapshotRequests() { m.snapshotRequestsTotal.Inc() }

func (m *Metrics) SetActiveSessions(n int) { m.activeSessions.Set(float64(n)) }

func (m *Metrics) SetViewerConnections(n int) { m.viewerConnections.Set(float64(n)) }

// Handler serves the registry. updateGauges runs before each scrape to
// refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
