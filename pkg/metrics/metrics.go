/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */

// Package metrics exposes call metrics on a private Prometheus registry.
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/cpu"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/utils"
)

// Metrics contains the registry and the call collectors.
// It implements call.Observer.
type Metrics struct {
	registry *prometheus.Registry

	sessions             *prometheus.GaugeVec
	starts               prometheus.Counter
	startFailures        *prometheus.CounterVec
	toggles              *prometheus.CounterVec
	negotiation          prometheus.Histogram
	webSocketConnections prometheus.Gauge
	cpuUsage             prometheus.Gauge
	memoryUsage          prometheus.Gauge

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callcore_sessions",
			Help: "Current number of live sessions by state.",
		}, []string{"state"}),
		starts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callcore_session_starts_total",
			Help: "Number of session starts.",
		}),
		startFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callcore_session_start_failures_total",
			Help: "Number of failed session starts by reason.",
		}, []string{"reason"}),
		toggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callcore_control_toggles_total",
			Help: "Number of control toggles by control and resulting value.",
		}, []string{"control", "enabled"}),
		negotiation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "callcore_negotiation_seconds",
			Help:    "Time from start to both endpoints connected.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		webSocketConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "callcore_websocket_connections",
			Help: "Current number of WebSocket event subscribers.",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "callcore_cpu_usage_percentage",
			Help: "CPU usage percentage.",
		}),
		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "callcore_memory_usage_bytes",
			Help: "Current heap allocation in bytes.",
		}),
		stop: make(chan struct{}),
	}

	m.registry.MustRegister(
		m.sessions,
		m.starts,
		m.startFailures,
		m.toggles,
		m.negotiation,
		m.webSocketConnections,
		m.cpuUsage,
		m.memoryUsage,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStateChanged implements call.Observer. Ended sessions leave the gauge.
func (m *Metrics) SessionStateChanged(from, to string) {
	if from != "" && from != call.StateEnded.String() {
		m.sessions.WithLabelValues(from).Dec()
	}
	if to != call.StateEnded.String() {
		m.sessions.WithLabelValues(to).Inc()
	}
	if to == call.StateConnecting.String() {
		m.starts.Inc()
	}
}

// StartFailed implements call.Observer.
func (m *Metrics) StartFailed(reason string) {
	m.startFailures.WithLabelValues(reason).Inc()
}

// ControlToggled implements call.Observer.
func (m *Metrics) ControlToggled(control string, enabled bool) {
	m.toggles.WithLabelValues(control, strconv.FormatBool(enabled)).Inc()
}

// NegotiationCompleted implements call.Observer.
func (m *Metrics) NegotiationCompleted(d time.Duration) {
	m.negotiation.Observe(d.Seconds())
}

// IncrementWebSocketConnections increments the WebSocket subscriber count.
func (m *Metrics) IncrementWebSocketConnections() {
	m.webSocketConnections.Inc()
}

// DecrementWebSocketConnections decrements the WebSocket subscriber count.
func (m *Metrics) DecrementWebSocketConnections() {
	m.webSocketConnections.Dec()
}

// UpdateSystemMetrics samples memory and CPU once.
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.memoryUsage.Set(float64(memStats.Alloc))

	percent, err := cpu.Percent(0, false)
	if err != nil {
		utils.Debug("cpu sample failed: %v", err)
		return
	}
	if len(percent) > 0 {
		m.cpuUsage.Set(percent[0])
	}
}

// StartSystemMetrics samples system metrics every interval until Stop.
func (m *Metrics) StartSystemMetrics(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.UpdateSystemMetrics()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.UpdateSystemMetrics()
			}
		}
	}()
}

// Stop ends system sampling.
func (m *Metrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

var _ call.Observer = (*Metrics)(nil)
