// ABOUTME: Prometheus instrumentation for the relay on a private registry
// ABOUTME: Counts messages, publishes, deliveries, rate-limit rejections and live subscriptions

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Recorder holds the relay's collectors. A nil *Recorder is a valid no-op.
type Recorder struct {
	registry      *prometheus.Registry
	messages      *prometheus.CounterVec
	publishes     *prometheus.CounterVec
	delivered     prometheus.Counter
	dropped       prometheus.Counter
	rateLimited   prometheus.Counter
	duplicates    prometheus.Counter
	subscriptions prometheus.Gauge
}

// New creates a Recorder. conversations, if non-nil, backs the
// relay_conversations gauge.
func New(conversations func() float64) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages appended to conversation logs, by author role.",
		}, []string{"role"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Events published on the fan-out bus, by event name.",
		}, []string{"event"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Events handed to a live sink.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Events a sink failed to accept.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Inbound user messages rejected by the rate limiter.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_submissions_total",
			Help:      "User submissions answered from the idempotency cache.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Live sinks currently subscribed to the bus.",
		}),
	}

	r.registry.MustRegister(
		r.messages,
		r.publishes,
		r.delivered,
		r.dropped,
		r.rateLimited,
		r.duplicates,
		r.subscriptions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if conversations != nil {
		r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations",
			Help:      "Conversations known to the store.",
		}, conversations))
	}

	return r
}

// ObserveMessage counts one appended message
func (r *Recorder) ObserveMessage(role string) {
	if r == nil {
		return
	}
	r.messages.WithLabelValues(role).Inc()
}

// ObservePublish counts a publish and its per-sink outcome
func (r *Recorder) ObservePublish(event string, delivered, dropped int) {
	if r == nil {
		return
	}
	r.publishes.WithLabelValues(event).Inc()
	r.delivered.Add(float64(delivered))
	r.dropped.Add(float64(dropped))
}

// ObserveSubscriptions sets the live subscription gauge
func (r *Recorder) ObserveSubscriptions(active int) {
	if r == nil {
		return
	}
	r.subscriptions.Set(float64(active))
}

// ObserveRateLimited counts a rejected inbound message
func (r *Recorder) ObserveRateLimited() {
	if r == nil {
		return
	}
	r.rateLimited.Inc()
}

// ObserveDuplicate counts a submission served from the idempotency cache
func (r *Recorder) ObserveDuplicate() {
	if r == nil {
		return
	}
	r.duplicates.Inc()
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
