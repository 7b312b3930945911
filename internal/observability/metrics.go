package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions prometheus.Gauge

	backendRequestTotal    *prometheus.CounterVec
	backendRequestDuration *prometheus.HistogramVec

	streamTotal    *prometheus.CounterVec
	streamDuration prometheus.Histogram
	streamEvents   *prometheus.CounterVec

	actionTotal *prometheus.CounterVec

	gatewayRequestTotal *prometheus.CounterVec
	gatewayClients      prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "anuneko_queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anuneko_enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anuneko_dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "anuneko_task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "anuneko_active_sessions",
					Help: "Users currently holding a backend session.",
				},
			),
			backendRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anuneko_backend_requests_total",
					Help: "Backend requests by operation and status.",
				},
				[]string{"op", "status"},
			),
			backendRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "anuneko_backend_request_duration_seconds",
					Help:    "Backend request duration in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			streamTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anuneko_streams_total",
					Help: "Streaming replies by outcome (ok, branch_pending, error).",
				},
				[]string{"outcome"},
			),
			streamDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "anuneko_stream_duration_seconds",
					Help:    "Time from opening a reply stream to its last event.",
					Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80},
				},
			),
			streamEvents: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anuneko_stream_events_total",
					Help: "Decoded stream events by kind.",
				},
				[]string{"kind"},
			),
			actionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anuneko_actions_total",
					Help: "Host actions by name and result.",
				},
				[]string{"action", "result"},
			),
			gatewayRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "anuneko_gateway_requests_total",
					Help: "Gateway RPC requests by transport, method and status.",
				},
				[]string{"transport", "method", "status"},
			),
			gatewayClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "anuneko_gateway_clients",
					Help: "Connected gateway WebSocket clients.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.backendRequestTotal,
			m.backendRequestDuration,
			m.streamTotal,
			m.streamDuration,
			m.streamEvents,
			m.actionTotal,
			m.gatewayRequestTotal,
			m.gatewayClients,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

// RecordBackendRequest records one call to a backend endpoint
func RecordBackendRequest(op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.backendRequestTotal.WithLabelValues(op, statusLabel(success)).Inc()
	m.backendRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordStream records the outcome of one streaming reply
func RecordStream(outcome string, duration time.Duration) {
	m := getMetrics()
	m.streamTotal.WithLabelValues(outcome).Inc()
	m.streamDuration.Observe(duration.Seconds())
}

// RecordStreamEvent counts one decoded stream event
func RecordStreamEvent(kind string) {
	getMetrics().streamEvents.WithLabelValues(kind).Inc()
}

// RecordAction counts one host action invocation
func RecordAction(action, result string) {
	getMetrics().actionTotal.WithLabelValues(action, result).Inc()
}

// RecordGatewayRequest counts one routed gateway request
func RecordGatewayRequest(transport, method string, success bool) {
	getMetrics().gatewayRequestTotal.WithLabelValues(transport, method, statusLabel(success)).Inc()
}

func SetGatewayClients(count int) {
	getMetrics().gatewayClients.Set(float64(count))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
