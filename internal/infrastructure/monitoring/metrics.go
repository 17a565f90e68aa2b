package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Service tool metrics
	ServiceCalls    *prometheus.CounterVec
	ServiceDuration *prometheus.HistogramVec

	// Terminal session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated *prometheus.CounterVec
	SpawnFailures   *prometheus.CounterVec
	ShellFallbacks  *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	SessionBytes    *prometheus.CounterVec

	// One-shot command metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec

	// Process tree termination
	TreeKills *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	ActiveSessions int64   `json:"active_sessions"`
	TotalRuns      int64   `json:"total_runs"`
	AvgRequestMs   float64 `json:"avg_request_ms"`
	UptimeSeconds  float64 `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics registers all collectors with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all collectors with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	durations := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ptyhost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: durations,
			},
			[]string{"method", "path"},
		),
		RequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ptyhost_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ptyhost_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		ServiceCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_service_calls_total",
				Help: "Total number of service tool calls",
			},
			[]string{"service", "method", "status"},
		),
		ServiceDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ptyhost_service_duration_seconds",
				Help:    "Service tool call duration in seconds",
				Buckets: durations,
			},
			[]string{"service", "method"},
		),

		SessionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ptyhost_sessions_active",
				Help: "Number of live terminal sessions",
			},
		),
		SessionsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_sessions_created_total",
				Help: "Terminal sessions created, by shell family",
			},
			[]string{"family"},
		),
		SpawnFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_spawn_failures_total",
				Help: "Shell spawn failures, by shell family",
			},
			[]string{"family"},
		),
		ShellFallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_shell_fallbacks_total",
				Help: "Times the fallback shell replaced the resolved one",
			},
			[]string{"reason"},
		),
		SessionsEnded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_sessions_ended_total",
				Help: "Terminal sessions ended, by reason",
			},
			[]string{"reason"},
		),
		SessionBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_session_bytes_total",
				Help: "Bytes moved through terminal sessions",
			},
			[]string{"direction"},
		),

		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_runs_total",
				Help: "One-shot command executions, by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ptyhost_run_duration_seconds",
				Help:    "One-shot command execution duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),

		TreeKills: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_tree_kills_total",
				Help: "Process tree terminations, by outcome",
			},
			[]string{"outcome"},
		),

		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ptyhost_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ptyhost_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordUpgrade counts a request that switched protocols.
func (m *Metrics) RecordUpgrade(method, path string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, "101").Inc()

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.mu.Unlock()
}

// RecordServiceCall records a service tool call
func (m *Metrics) RecordServiceCall(service, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ServiceCalls.WithLabelValues(service, method, status).Inc()
	m.ServiceDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// SessionCreated records a successful spawn.
func (m *Metrics) SessionCreated(family string) {
	if m == nil {
		return
	}
	m.SessionsCreated.WithLabelValues(family).Inc()
	m.SessionsActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveSessions++
	m.mu.Unlock()
}

// SessionEnded records a session leaving the registry ("exited" or "destroyed").
func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveSessions--
	m.mu.Unlock()
}

// SpawnFailed records a spawn attempt the OS rejected.
func (m *Metrics) SpawnFailed(family string) {
	if m == nil {
		return
	}
	m.SpawnFailures.WithLabelValues(family).Inc()
}

// ShellFallback records a switch to the fallback shell.
func (m *Metrics) ShellFallback(reason string) {
	if m == nil {
		return
	}
	m.ShellFallbacks.WithLabelValues(reason).Inc()
}

// AddSessionBytes counts bytes read from ("out") or written to ("in") sessions.
func (m *Metrics) AddSessionBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordRun records a one-shot command outcome.
func (m *Metrics) RecordRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.TotalRuns++
	m.mu.Unlock()
}

// RecordTreeKill records a process tree termination outcome.
func (m *Metrics) RecordTreeKill(outcome string) {
	if m == nil {
		return
	}
	m.TreeKills.WithLabelValues(outcome).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns current values for the JSON stats endpoint.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()

	if s.TotalRequests > 0 {
		s.AvgRequestMs = s.totalDuration / float64(s.TotalRequests) * 1000
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
