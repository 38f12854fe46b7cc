// Package metrics provides Prometheus instrumentation for kafkacl. It covers
// the Kafka Connect REST traffic issued by the connect client, the outcome of
// every lifecycle operation run by an integrator, the last observed connector
// status and the signal dispatcher.
//
// # Basic Usage
//
//	timer := metrics.NewTimer()
//	resp, err := httpClient.Do(req)
//	metrics.ObserveRequest(req.Method, "connectors", resp, err, timer.Stop())
//
//	metrics.RecordOperation("start", metrics.OutcomeSuccess)
//	metrics.SetConnectorStatus("filestream_r1_abc", "RUNNING")
//
// All collectors are registered on the default Prometheus registry through
// promauto; the CLI serves them with promhttp.
package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kafkacl"

// Operation outcomes used as the "outcome" label.
const (
	OutcomeSuccess  = "success"
	OutcomeSkipped  = "skipped"
	OutcomeFailure  = "failure"
	OutcomeDeferred = "deferred"
)

// Task statuses exported on the connector status gauge.
var knownStatuses = []string{"UNASSIGNED", "PAUSED", "RUNNING", "STOPPED", "FAILED", "UNKNOWN"}

var (
	// ConnectRequests counts REST calls against the Kafka Connect API.
	// Labels: method, resource (templated path), code ("error" on transport failure)
	ConnectRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_requests_total",
			Help:      "Total number of Kafka Connect REST requests",
		},
		[]string{"method", "resource", "code"},
	)

	// ConnectRequestDuration tracks REST call latency in seconds.
	ConnectRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_request_duration_seconds",
			Help:      "Kafka Connect REST request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "resource"},
	)

	// LifecycleOperations counts integrator operations by outcome.
	// Labels: operation (start/patch/resume/configure/teardown), outcome
	LifecycleOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_operations_total",
			Help:      "Total number of connector lifecycle operations",
		},
		[]string{"operation", "outcome"},
	)

	// ConnectorStatus is 1 for the last observed status of a connector, 0 otherwise.
	ConnectorStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connector_status",
			Help:      "Last observed connector status (1 for the active status)",
		},
		[]string{"connector", "status"},
	)

	// Started reports the persisted started flag of the integrator.
	Started = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "integrator_started",
			Help:      "Whether every connector of the integrator has been created",
		},
	)

	// SignalsHandled counts dispatched signals.
	// Labels: signal, result (handled/deferred/failed/ignored)
	SignalsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Total number of signals delivered to the integrator",
		},
		[]string{"signal", "result"},
	)

	// QueueDepth tracks the number of signals waiting in the dispatcher.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Current number of queued signals",
		},
	)

	// CircuitState tracks the REST circuit breaker (0 closed, 1 open, 2 half-open).
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connect_circuit_state",
			Help:      "Kafka Connect client circuit breaker state",
		},
		[]string{"endpoint"},
	)
)

// ObserveRequest records one REST round trip.
func ObserveRequest(method, resource string, resp *http.Response, err error, elapsed time.Duration) {
	code := "error"
	if err == nil && resp != nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	ConnectRequests.WithLabelValues(method, resource, code).Inc()
	ConnectRequestDuration.WithLabelValues(method, resource).Observe(elapsed.Seconds())
}

// RecordOperation counts a lifecycle operation outcome.
func RecordOperation(operation, outcome string) {
	LifecycleOperations.WithLabelValues(operation, outcome).Inc()
}

// SetStarted mirrors the started flag.
func SetStarted(started bool) {
	if started {
		Started.Set(1)
		return
	}
	Started.Set(0)
}

// SetConnectorStatus flags status as the active one for connector.
func SetConnectorStatus(connector, status string) {
	for _, s := range knownStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		ConnectorStatus.WithLabelValues(connector, s).Set(v)
	}
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// LatencyTracker keeps the most recent latencies for percentile reporting
// in the status command.
type LatencyTracker struct {
	mu      sync.Mutex
	values  []time.Duration
	maxSize int
}

// NewLatencyTracker creates a new latency tracker
func NewLatencyTracker(maxSize int) *LatencyTracker {
	return &LatencyTracker{
		values:  make([]time.Duration, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record records a latency value
func (l *LatencyTracker) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.values) >= l.maxSize {
		l.values = l.values[1:]
	}
	l.values = append(l.values, d)
}

// Count returns the number of recorded samples
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.values)
}

// GetPercentile returns the percentile value (0-100)
func (l *LatencyTracker) GetPercentile(p float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.values) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(l.values))
	copy(sorted, l.values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := int(float64(len(sorted)) * p / 100)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
