package transport

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for outbound requests. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	retries  *prometheus.CounterVec
}

// NewMetrics registers transport metrics on the provided registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudfiles",
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "Total number of requests sent, partitioned by method and status code (0 for network errors).",
	}, []string{"method", "code"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cloudfiles",
		Subsystem: "client",
		Name:      "request_duration_seconds",
		Help:      "Time until response headers were received.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudfiles",
		Subsystem: "client",
		Name:      "retries_total",
		Help:      "Total number of retried requests.",
	}, []string{"method"})

	if reg != nil {
		reg.MustRegister(requests, latency, retries)
	}

	return &Metrics{
		requests: requests,
		latency:  latency,
		retries:  retries,
	}
}

func (m *Metrics) observe(method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) retry(method string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(method).Inc()
}
