package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "medslots"

// Metrics groups the service collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	reservations  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	expired       prometheus.Counter
	reaperSweeps  *prometheus.CounterVec
	subscribers   *prometheus.GaugeVec
	droppedSubs   prometheus.Counter
	kafkaMessages *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reservation_operations_total",
			Help:      "Reservation operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "slot_transitions_total",
			Help:      "Accepted slot state transitions.",
		}, []string{"from", "to"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reservation_conflicts_total",
			Help:      "Reservation conflicts by category.",
		}, []string{"category"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "locks_expired_total",
			Help:      "Locks released by the expiry reaper.",
		}),
		reaperSweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reaper_sweeps_total",
			Help:      "Reaper sweeps by result.",
		}, []string{"result"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "event_subscribers",
			Help:      "Active event subscribers by scope.",
		}, []string{"scope"}),
		droppedSubs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "event_subscribers_dropped_total",
			Help:      "Subscribers closed because their queue overflowed.",
		}),
		kafkaMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "kafka_messages_total",
			Help:      "Kafka messages by direction and result.",
		}, []string{"direction", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		m.reservations,
		m.transitions,
		m.conflicts,
		m.expired,
		m.reaperSweeps,
		m.subscribers,
		m.droppedSubs,
		m.kafkaMessages,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IncReservation(operation, outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncConflict(category string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(category).Inc()
}

func (m *Metrics) IncExpired() {
	if m == nil {
		return
	}
	m.expired.Inc()
}

func (m *Metrics) IncReaperSweep(result string) {
	if m == nil {
		return
	}
	m.reaperSweeps.WithLabelValues(result).Inc()
}

func (m *Metrics) AddSubscribers(scope string, delta float64) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(scope).Add(delta)
}

func (m *Metrics) IncDroppedSubscriber() {
	if m == nil {
		return
	}
	m.droppedSubs.Inc()
}

func (m *Metrics) IncKafkaMessage(direction string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.kafkaMessages.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) ObserveHTTP(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
