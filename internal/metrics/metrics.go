package metrics

import (
	"math"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Session lifecycle
	SessionsStarted atomic.Uint64
	SessionsStopped atomic.Uint64
	ForcedStops     atomic.Uint64
	SessionActive   atomic.Uint64 // 0 = inactive, 1 = active

	// Polling
	Ticks        atomic.Uint64
	TickErrors   atomic.Uint64
	StaleResults atomic.Uint64
	VideoErrors  atomic.Uint64

	// Alerts
	AlertsRaised atomic.Uint64

	// Latest reading
	LastPersonCount atomic.Uint64
	coverageBits    atomic.Uint64

	// Dashboard clients (SSE + WebSocket)
	ActiveClients atomic.Int64
	TotalClients  atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	counters := []struct {
		name string
		help string
		v    *atomic.Uint64
	}{
		{"safemon_sessions_started_total", "Monitoring sessions started", &m.SessionsStarted},
		{"safemon_sessions_stopped_total", "Monitoring sessions stopped", &m.SessionsStopped},
		{"safemon_forced_stops_total", "Sessions stopped by a transport or video failure", &m.ForcedStops},
		{"safemon_ticks_total", "Poll ticks applied to the display", &m.Ticks},
		{"safemon_tick_errors_total", "Poll ticks that failed to fetch a snapshot", &m.TickErrors},
		{"safemon_stale_results_total", "Poll results discarded because their session ended", &m.StaleResults},
		{"safemon_video_errors_total", "Video stream failures", &m.VideoErrors},
		{"safemon_alerts_raised_total", "Alerts raised", &m.AlertsRaised},
		{"safemon_dashboard_clients_total", "Dashboard push clients connected", &m.TotalClients},
	}
	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safemon_session_active",
			Help: "Monitoring session active (0=inactive, 1=active)",
		},
		func() float64 { return float64(m.SessionActive.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safemon_person_count",
			Help: "Person count from the latest applied snapshot",
		},
		func() float64 { return float64(m.LastPersonCount.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safemon_coverage_ratio",
			Help: "Coverage ratio from the latest applied snapshot",
		},
		m.LastCoverageRatio,
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "safemon_dashboard_clients",
			Help: "Dashboard push clients currently connected",
		},
		func() float64 { return float64(m.ActiveClients.Load()) },
	))
}

// SetActive records the session flag.
func (m *Metrics) SetActive(active bool) {
	if active {
		m.SessionActive.Store(1)
		return
	}
	m.SessionActive.Store(0)
}

// ObserveReading stores the latest applied counts.
func (m *Metrics) ObserveReading(persons int, coverage float64) {
	if persons < 0 {
		persons = 0
	}
	m.LastPersonCount.Store(uint64(persons))
	m.coverageBits.Store(math.Float64bits(coverage))
}

// LastCoverageRatio returns the coverage ratio of the latest applied reading.
func (m *Metrics) LastCoverageRatio() float64 {
	return math.Float64frombits(m.coverageBits.Load())
}

// ClientConnected tracks a dashboard push client; call the returned func on
// disconnect.
func (m *Metrics) ClientConnected() func() {
	m.ActiveClients.Add(1)
	m.TotalClients.Add(1)
	return func() { m.ActiveClients.Add(-1) }
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
