package lifecycle

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the instrumentation seam the transition engine calls into
// for every phase/client event.
type Metrics interface {
	PhaseStarted(phase string, kind ShutdownKind)
	ClientAcked(clientName string, latency time.Duration)
	ClientTimedOut(clientName string)
	CollectiveTimeoutFired(phase string)
	LateReply(clientName string)
}

// DefaultMetrics is a simple in-memory metrics collector: mutex-guarded
// counters and latency slices per event, with a GetAllMetrics snapshot.
type DefaultMetrics struct {
	mu sync.RWMutex

	PhaseStartCounts             map[string]int
	ClientAckLatencies           map[string][]time.Duration
	ClientTimeoutCounts          map[string]int
	CollectiveTimeoutFiredCounts map[string]int
	LateReplyCounts              map[string]int
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics {
	return &DefaultMetrics{
		PhaseStartCounts:             make(map[string]int),
		ClientAckLatencies:           make(map[string][]time.Duration),
		ClientTimeoutCounts:          make(map[string]int),
		CollectiveTimeoutFiredCounts: make(map[string]int),
		LateReplyCounts:              make(map[string]int),
	}
}

func (m *DefaultMetrics) PhaseStarted(phase string, kind ShutdownKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PhaseStartCounts[phase]++
}

func (m *DefaultMetrics) ClientAcked(clientName string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClientAckLatencies[clientName] = append(m.ClientAckLatencies[clientName], latency)
}

func (m *DefaultMetrics) ClientTimedOut(clientName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClientTimeoutCounts[clientName]++
}

func (m *DefaultMetrics) CollectiveTimeoutFired(phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CollectiveTimeoutFiredCounts[phase]++
}

func (m *DefaultMetrics) LateReply(clientName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LateReplyCounts[clientName]++
}

// GetAllMetrics returns a snapshot of all metrics.
func (m *DefaultMetrics) GetAllMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"phase_start_counts":              m.PhaseStartCounts,
		"client_ack_latencies":            m.ClientAckLatencies,
		"client_timeout_counts":           m.ClientTimeoutCounts,
		"collective_timeout_fired_counts": m.CollectiveTimeoutFiredCounts,
		"late_reply_counts":               m.LateReplyCounts,
	}
}

// PrometheusMetrics is a Metrics implementation backed by
// prometheus/client_golang. Register it with a prometheus.Registerer and
// pass it to WithMetrics to expose the node's lifecycle transitions for
// scraping.
type PrometheusMetrics struct {
	phaseStarts        *prometheus.CounterVec
	clientAckLatency   *prometheus.HistogramVec
	clientTimeouts     *prometheus.CounterVec
	collectiveTimeouts *prometheus.CounterVec
	lateReplies        *prometheus.CounterVec
}

// NewPrometheusMetrics constructs and registers a PrometheusMetrics
// against reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		phaseStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifecycle",
			Name:      "phase_started_total",
			Help:      "Number of times a transition phase was started, by phase name.",
		}, []string{"phase"}),
		clientAckLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lifecycle",
			Name:      "client_ack_latency_seconds",
			Help:      "Latency between a notification being sent and the client's ack.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"client"}),
		clientTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifecycle",
			Name:      "client_timeout_total",
			Help:      "Number of per-client timer expirations, by client.",
		}, []string{"client"}),
		collectiveTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifecycle",
			Name:      "collective_timeout_total",
			Help:      "Number of collective (phase) timeout expirations, by phase.",
		}, []string{"phase"}),
		lateReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifecycle",
			Name:      "late_reply_total",
			Help:      "Number of late acknowledgements received, by client.",
		}, []string{"client"}),
	}

	reg.MustRegister(m.phaseStarts, m.clientAckLatency, m.clientTimeouts, m.collectiveTimeouts, m.lateReplies)
	return m
}

func (m *PrometheusMetrics) PhaseStarted(phase string, kind ShutdownKind) {
	m.phaseStarts.WithLabelValues(phase).Inc()
}

func (m *PrometheusMetrics) ClientAcked(clientName string, latency time.Duration) {
	m.clientAckLatency.WithLabelValues(clientName).Observe(latency.Seconds())
}

func (m *PrometheusMetrics) ClientTimedOut(clientName string) {
	m.clientTimeouts.WithLabelValues(clientName).Inc()
}

func (m *PrometheusMetrics) CollectiveTimeoutFired(phase string) {
	m.collectiveTimeouts.WithLabelValues(phase).Inc()
}

func (m *PrometheusMetrics) LateReply(clientName string) {
	m.lateReplies.WithLabelValues(clientName).Inc()
}

// noopMetrics discards everything. Default for an Engine constructed
// without WithMetrics.
type noopMetrics struct{}

func (noopMetrics) PhaseStarted(string, ShutdownKind) {}
func (noopMetrics) ClientAcked(string, time.Duration) {}
func (noopMetrics) ClientTimedOut(string)             {}
func (noopMetrics) CollectiveTimeoutFired(string)     {}
func (noopMetrics) LateReply(string)                  {}
