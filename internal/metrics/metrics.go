// Package metrics exposes Prometheus collectors for the webhook, dispatch and
// delivery stages. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"plexpush/internal/plex"
)

const namespace = "plexpush"

// EventOther labels webhook events of a type Plex does not document. The
// webhook is unauthenticated, so raw event strings never become labels.
const EventOther = "other"

// Delivery results.
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	webhooks        *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec
	queued          *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	throttleKeys    prometheus.Gauge
	httpDuration    *prometheus.HistogramVec
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// New creates the collectors and registers them on reg. A nil reg uses a
// fresh private registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer:   reg,
		webhooks:   newCounterVec("webhook", "requests_total", "Webhook deliveries by event type and result.", "event", "result"),
		dispatches: newCounterVec("dispatch", "outcomes_total", "Dispatch outcomes after owner filtering, matching and throttling.", "outcome"),
		deliveries: newCounterVec("delivery", "results_total", "Outbound Pushcut calls by kind and result.", "kind", "result"),
		deliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "duration_seconds",
			Help:      "Latency of outbound Pushcut calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		queued:       newCounterVec("delivery", "queued_total", "Deliveries accepted by the queue.", "kind"),
		queueDepth:   newGauge("delivery", "queue_depth", "Deliveries waiting for a worker."),
		throttleKeys: newGauge("throttle", "keys", "Throttle limiters created since start."),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
	}

	err := errors.Join(
		adopt(reg, &m.webhooks),
		adopt(reg, &m.dispatches),
		adopt(reg, &m.deliveries),
		adopt(reg, &m.deliveryLatency),
		adopt(reg, &m.queued),
		adopt(reg, &m.queueDepth),
		adopt(reg, &m.throttleKeys),
		adopt(reg, &m.httpDuration),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// adopt registers *c on reg. When an identical collector is already
// registered, *c is replaced by it so both Metrics values feed one series.
func adopt[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return err
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return fmt.Errorf("metrics: collector already registered with type %T", are.ExistingCollector)
	}
	*c = existing
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) WebhookReceived(event, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(eventLabel(event), result).Inc()
}

func eventLabel(event string) string {
	if event == "" || plex.IsKnownEvent(event) {
		return event
	}
	return EventOther
}

func (m *Metrics) Dispatch(outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DeliveryQueued(kind string) {
	if m == nil {
		return
	}
	m.queued.WithLabelValues(kind).Inc()
}

func (m *Metrics) DeliveryResult(kind, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind, result).Inc()
	if result != ResultDropped {
		m.deliveryLatency.WithLabelValues(kind).Observe(took.Seconds())
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) ThrottleKeyCreated() {
	if m == nil {
		return
	}
	m.throttleKeys.Inc()
}

// Middleware records request duration by route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		m.httpDuration.WithLabelValues(path, r.Method, strconv.Itoa(ww.Status())).Observe(time.Since(start).Seconds())
	})
}
