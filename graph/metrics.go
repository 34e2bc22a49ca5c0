package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics exposes the engine's execution metrics under the
// "agentflow_graph_" namespace:
//
//   - step_latency_ms (histogram): per-node execution duration, labeled by
//     thread_id, node_id, status (success/error/timeout).
//   - retries_total (counter): retry attempts, labeled by thread_id, node_id,
//     reason.
//   - checkpoints_total (counter): checkpoints committed, labeled by
//     thread_id.
//   - interrupts_total (counter): runs paused at an interrupt-before node,
//     labeled by node_id.
type PrometheusMetrics struct {
	stepLatency       *prometheus.HistogramVec
	retries           *prometheus.CounterVec
	checkpointsTotal  *prometheus.CounterVec
	interruptsTotal   *prometheus.CounterVec
	registry          prometheus.Registerer
	mu                sync.RWMutex
	enabled           bool
}

// NewPrometheusMetrics registers and returns the engine's metric set against
// registry (use prometheus.DefaultRegisterer for the global registry, or a
// fresh prometheus.NewRegistry() for test isolation).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		registry: registry,
		enabled:  true,
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentflow",
			Subsystem: "graph",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"thread_id", "node_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Subsystem: "graph",
			Name:      "retries_total",
			Help:      "Node retry attempts.",
		}, []string{"thread_id", "node_id", "reason"}),
		checkpointsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Subsystem: "graph",
			Name:      "checkpoints_total",
			Help:      "Checkpoints committed.",
		}, []string{"thread_id"}),
		interruptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Subsystem: "graph",
			Name:      "interrupts_total",
			Help:      "Runs paused at an interrupt-before node.",
		}, []string{"node_id"}),
	}
}

func (pm *PrometheusMetrics) RecordStepLatency(threadID, nodeID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(threadID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

func (pm *PrometheusMetrics) IncrementRetries(threadID, nodeID, reason string) {
	if !pm.isEnabled() {
		return
	}
	pm.retries.WithLabelValues(threadID, nodeID, reason).Inc()
}

func (pm *PrometheusMetrics) IncrementCheckpoints(threadID string) {
	if !pm.isEnabled() {
		return
	}
	pm.checkpointsTotal.WithLabelValues(threadID).Inc()
}

func (pm *PrometheusMetrics) IncrementInterrupts(nodeID string) {
	if !pm.isEnabled() {
		return
	}
	pm.interruptsTotal.WithLabelValues(nodeID).Inc()
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
