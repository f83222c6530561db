package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func TestCollectorsExposed(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.WebhookReceived("media.play", "queued")
	m.Dispatch("throttled")
	m.DeliveryQueued("notification")
	m.DeliveryResult("notification", ResultSent, 120*time.Millisecond)
	m.DeliveryResult("shortcut", ResultDropped, 0)
	m.SetQueueDepth(3)
	m.ThrottleKeyCreated()

	out := scrape(t, m)
	for _, want := range []string{
		`plexpush_webhook_requests_total{event="media.play",result="queued"} 1`,
		`plexpush_dispatch_outcomes_total{outcome="throttled"} 1`,
		`plexpush_delivery_queued_total{kind="notification"} 1`,
		`plexpush_delivery_results_total{kind="notification",result="sent"} 1`,
		`plexpush_delivery_results_total{kind="shortcut",result="dropped"} 1`,
		`plexpush_delivery_duration_seconds_count{kind="notification"} 1`,
		`plexpush_delivery_queue_depth 3`,
		`plexpush_throttle_keys 1`,
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, `plexpush_delivery_duration_seconds_count{kind="shortcut"}`)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) (series int, total float64) {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			series++
			total += m.GetCounter().GetValue()
		}
	}
	return series, total
}

func TestRegisterTwiceOnSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m1, err := New(reg)
	require.NoError(t, err)
	m2, err := New(reg)
	require.NoError(t, err)

	m1.Dispatch("queued")
	m2.Dispatch("queued")

	series, total := counterValue(t, reg, "plexpush_dispatch_outcomes_total")
	assert.Equal(t, 1, series)
	assert.Equal(t, float64(2), total)
}

func TestWebhookEventLabelIsBounded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		m.WebhookReceived(fmt.Sprintf("made.up.%d", i), "unmatched")
	}
	m.WebhookReceived("library.new", "unmatched")
	m.WebhookReceived("", "malformed")

	series, total := counterValue(t, reg, "plexpush_webhook_requests_total")
	assert.Equal(t, 3, series)
	assert.Equal(t, float64(502), total)

	out := scrape(t, m)
	assert.Contains(t, out, `plexpush_webhook_requests_total{event="other",result="unmatched"} 500`)
	assert.Contains(t, out, `plexpush_webhook_requests_total{event="library.new",result="unmatched"} 1`)
	assert.NotContains(t, out, "made.up")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.WebhookReceived("x", "y")
	m.DeliveryResult("k", ResultFailed, time.Second)
	m.ThrottleKeyCreated()

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	out := scrape(t, m)
	assert.True(t, strings.Contains(out, `plexpush_http_request_duration_seconds_count{method="GET",path="/items/{id}",status="202"} 1`), out)
}
