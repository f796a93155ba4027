package workqueue

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects Prometheus counters/gauges for every named Queue that
// shares it, built the same NewXMetrics(registry, ...) way as
// _examples/abdoElHodaky-tradSys/internal/metrics/websocket_metrics.go.
// Unlike that file's one-struct-field-per-metric shape, these are vectors
// labeled by queue name: an arbitrary number of per-connector inbound
// queues register against one family instead of one struct per queue
// (the teacher's per-pool executions/successes/failures/panics maps and
// GetSuccessRate helper become label values and a PromQL ratio here).
type Metrics struct {
	executions   *prometheus.CounterVec
	panics       *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	backpressure *prometheus.CounterVec
	depth        *prometheus.GaugeVec
}

// NewMetrics registers the work-queue metric family against registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workqueue_executions_total",
			Help: "Total work queue task executions, labeled by outcome.",
		}, []string{"queue", "result"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workqueue_panics_total",
			Help: "Total work queue tasks that panicked.",
		}, []string{"queue"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workqueue_rejections_total",
			Help: "Total Add calls rejected because the queue had already stopped.",
		}, []string{"queue"}),
		backpressure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workqueue_backpressure_total",
			Help: "Total times a queue's depth crossed its warning threshold.",
		}, []string{"queue"}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workqueue_depth",
			Help: "Current number of items waiting in a work queue.",
		}, []string{"queue"}),
	}
	registry.MustRegister(m.executions, m.panics, m.rejections, m.backpressure, m.depth)
	return m
}

// RecordExecution records one task execution's outcome.
func (m *Metrics) RecordExecution(queue string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.executions.WithLabelValues(queue, result).Inc()
}

// RecordPanic records a task panicking during execution.
func (m *Metrics) RecordPanic(queue string) {
	m.panics.WithLabelValues(queue).Inc()
}

// RecordRejection records an Add call rejected by a stopped queue.
func (m *Metrics) RecordRejection(queue string) {
	m.rejections.WithLabelValues(queue).Inc()
}

// RecordBackpressure records depth crossing the warning threshold.
func (m *Metrics) RecordBackpressure(queue string) {
	m.backpressure.WithLabelValues(queue).Inc()
}

// SetDepth reports the queue's current depth.
func (m *Metrics) SetDepth(queue string, depth int) {
	m.depth.WithLabelValues(queue).Set(float64(depth))
}
