// Package metrics provides Prometheus metrics for the echoip server.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "echoip"
)

// Drop reasons for DatagramsDropped.
const (
	DropRateLimited = "rate_limited"
	DropPanic       = "panic"
)

// Metrics contains all Prometheus metrics for the server.
type Metrics struct {
	DatagramsReceived prometheus.Counter
	ResponsesSent     prometheus.Counter
	ResponseBytes     prometheus.Counter
	Errors            *prometheus.CounterVec
	DatagramsDropped  *prometheus.CounterVec
	Serving           prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics registered with the default registerer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total number of datagrams received by the server",
		}),
		ResponsesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_sent_total",
			Help:      "Total number of address responses sent",
		}),
		ResponseBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_bytes_total",
			Help:      "Total bytes sent in address responses",
		}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total per-datagram errors by kind",
		}, []string{"kind"}),
		DatagramsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_dropped_total",
			Help:      "Total datagrams dropped without a response by reason",
		}, []string{"reason"}),
		Serving: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "serving",
			Help:      "1 while the receive loop is serving, 0 otherwise",
		}),
	}
}

// RecordReceived records an inbound datagram.
func (m *Metrics) RecordReceived() {
	m.DatagramsReceived.Inc()
}

// RecordResponse records a response of the given size.
func (m *Metrics) RecordResponse(bytes int) {
	m.ResponsesSent.Inc()
	m.ResponseBytes.Add(float64(bytes))
}

// RecordError records a per-datagram error by kind name.
func (m *Metrics) RecordError(kind string) {
	m.Errors.WithLabelValues(kind).Inc()
}

// RecordDropped records a datagram that was not answered for a policy reason.
func (m *Metrics) RecordDropped(reason string) {
	m.DatagramsDropped.WithLabelValues(reason).Inc()
}

// SetServing flips the serving gauge.
func (m *Metrics) SetServing(serving bool) {
	if serving {
		m.Serving.Set(1)
		return
	}
	m.Serving.Set(0)
}
