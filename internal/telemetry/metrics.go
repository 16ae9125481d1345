package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the engine, consumer, and ambient
// HTTP surface report against.
type Metrics struct {
	ProcessEventTotal    *prometheus.CounterVec
	ProcessEventDuration *prometheus.HistogramVec
	ConsumerRedeliveries *prometheus.CounterVec
	ConsumerDLQTotal     *prometheus.CounterVec
	ServiceInfo          *prometheus.GaugeVec
}

// New builds and registers a Metrics instance against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry builds a Metrics instance against a custom registerer, so
// tests can use a fresh prometheus.Registry instead of the global default.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProcessEventTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_process_event_total",
				Help: "Total process_event invocations by outcome",
			},
			[]string{"agent", "outcome"},
		),
		ProcessEventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_process_event_duration_seconds",
				Help:    "process_event pipeline duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"agent"},
		),
		ConsumerRedeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consumer_redeliveries_total",
				Help: "Total redelivered messages observed by the durable consumer",
			},
			[]string{"agent"},
		),
		ConsumerDLQTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consumer_dlq_total",
				Help: "Total messages routed to the dead-letter subject",
			},
			[]string{"agent"},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Static service build information",
			},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.ProcessEventTotal,
			m.ProcessEventDuration,
			m.ConsumerRedeliveries,
			m.ConsumerDLQTotal,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0").Set(1)
	return m
}

// RecordProcessEvent records one process_event invocation and its outcome.
func (m *Metrics) RecordProcessEvent(agent, outcome string, duration time.Duration) {
	m.ProcessEventTotal.WithLabelValues(agent, outcome).Inc()
	m.ProcessEventDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordRedelivery records one redelivered message for agent.
func (m *Metrics) RecordRedelivery(agent string) {
	m.ConsumerRedeliveries.WithLabelValues(agent).Inc()
}

// RecordDLQ records one message routed to the dead-letter subject for agent.
func (m *Metrics) RecordDLQ(agent string) {
	m.ConsumerDLQTotal.WithLabelValues(agent).Inc()
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the process-wide global metrics instance, once.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the process-wide metrics instance, initializing a default
// one ("agent-runtime") if Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New("agent-runtime")
	}
	return globalMetrics
}
