// Package metrics exposes Prometheus instruments for the camera session and
// armed-state core. Every method is safe to call on a nil *Metrics so that
// components can be built without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one registry.
type Metrics struct {
	registry *prometheus.Registry

	probeAttempts    *prometheus.CounterVec
	reconnects       prometheus.Counter
	snapshotTicks    prometheus.Counter
	frameFetches     *prometheus.CounterVec
	streamActive     *prometheus.GaugeVec
	streamErrors     *prometheus.CounterVec
	armedTransitions *prometheus.CounterVec
	armed            prometheus.Gauge
	wsClients        prometheus.Gauge
}

// New creates the instruments on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kuntur_camera_probe_attempts_total",
			Help: "Camera connectivity probe attempts by endpoint path and result.",
		}, []string{"path", "result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kuntur_stream_reconnects_total",
			Help: "Automatic video reconnect attempts fired.",
		}),
		snapshotTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kuntur_stream_snapshot_refreshes_total",
			Help: "Snapshot URL regenerations.",
		}),
		frameFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kuntur_camera_frame_fetches_total",
			Help: "Snapshot frame fetches by result.",
		}, []string{"result"}),
		streamActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kuntur_stream_active",
			Help: "1 when the stream of the given kind is active.",
		}, []string{"kind"}),
		streamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kuntur_stream_errors_total",
			Help: "Stream session errors by media kind and error kind.",
		}, []string{"kind", "error"}),
		armedTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kuntur_armed_transitions_total",
			Help: "Armed-state transitions by transition and result.",
		}, []string{"transition", "result"}),
		armed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kuntur_armed",
			Help: "1 when Kuntur protection is on.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kuntur_ws_clients",
			Help: "Connected state-feed clients.",
		}),
	}

	m.registry.MustRegister(
		m.probeAttempts,
		m.reconnects,
		m.snapshotTicks,
		m.frameFetches,
		m.streamActive,
		m.streamErrors,
		m.armedTransitions,
		m.armed,
		m.wsClients,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ProbeAttempt counts one camera status request.
func (m *Metrics) ProbeAttempt(path string, ok bool) {
	if m == nil {
		return
	}
	m.probeAttempts.WithLabelValues(path, result(ok)).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) SnapshotRefresh() {
	if m == nil {
		return
	}
	m.snapshotTicks.Inc()
}

func (m *Metrics) FrameFetch(ok bool) {
	if m == nil {
		return
	}
	m.frameFetches.WithLabelValues(result(ok)).Inc()
}

// StreamActive sets the active gauge for "video" or "audio".
func (m *Metrics) StreamActive(kind string, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.streamActive.WithLabelValues(kind).Set(v)
}

func (m *Metrics) StreamError(kind, errKind string) {
	if m == nil {
		return
	}
	m.streamErrors.WithLabelValues(kind, errKind).Inc()
}

func (m *Metrics) ArmedTransition(transition string, ok bool) {
	if m == nil {
		return
	}
	m.armedTransitions.WithLabelValues(transition, result(ok)).Inc()
}

func (m *Metrics) Armed(on bool) {
	if m == nil {
		return
	}
	v := 0.0
	if on {
		v = 1
	}
	m.armed.Set(v)
}

// WSClients records the number of connected WebSocket clients.
func (m *Metrics) WSClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
