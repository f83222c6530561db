package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plexpush/internal/dispatch"
	"plexpush/internal/metrics"
	"plexpush/internal/plex"
	"plexpush/internal/runtime/supervisor"
	logx "plexpush/pkg/logx"
)

const moviePayload = `{"event":"media.play","owner":true,"user":true,
"Player":{"title":"TV - Living Room","uuid":"p1"},
"Metadata":{"type":"movie","title":"Heat","year":1995}}`

// 1x1 PNG.
var pngThumb = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

type fakeDispatcher struct {
	mu  sync.Mutex
	got []plex.Event
}

func (f *fakeDispatcher) Dispatch(ev plex.Event) dispatch.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, ev)
	return dispatch.Result{ID: "id", Outcome: dispatch.OutcomeQueued}
}

func (f *fakeDispatcher) events() []plex.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]plex.Event(nil), f.got...)
}

func multipartBody(t *testing.T, payload string, thumb []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("payload", payload))
	if thumb != nil {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="thumb"; filename="thumb.png"`)
		h.Set("Content-Type", "image/png")
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(thumb)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newTestServer(t *testing.T, cfg Config) (*Server, *fakeDispatcher, *metrics.Metrics) {
	t.Helper()
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	d := &fakeDispatcher{}
	status := func() any { return map[string]any{"throttle": []string{"k"}} }
	return New(cfg, d, logx.Nop(), m, status), d, m
}

func TestWebhookMultipart(t *testing.T) {
	s, d, _ := newTestServer(t, Config{})

	body, ct := multipartBody(t, moviePayload, pngThumb)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	evs := d.events()
	require.Len(t, evs, 1)
	ev := evs[0]
	assert.Equal(t, plex.EventPlay, ev.EventType)
	assert.Equal(t, "TV - Living Room", ev.PlayerName)
	assert.Equal(t, "movie", ev.MediaType)
	assert.Equal(t, pngThumb, ev.Image)
	assert.Equal(t, "image/png", ev.ImageType)
	assert.True(t, strings.HasPrefix(ev.ImageDataURI(), "data:image/png;base64,"))
}

func TestWebhookRawJSON(t *testing.T) {
	s, d, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(moviePayload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.events(), 1)
	assert.False(t, d.events()[0].HasImage())
}

func TestWebhookMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"event":`,
		"missing event":   `{"Metadata":{"type":"movie"}}`,
		"missing type":    `{"event":"media.play","Metadata":{}}`,
		"empty payload":   ``,
		"metadata absent": `{"event":"media.play"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			s, d, _ := newTestServer(t, Config{})
			body, ct := multipartBody(t, payload, nil)
			req := httptest.NewRequest(http.MethodPost, "/", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, d.events())
		})
	}
}

func TestWebhookUnknownEventsShareOneSeries(t *testing.T) {
	s, d, m := newTestServer(t, Config{MetricsPath: "/metrics"})

	for i := 0; i < 50; i++ {
		payload := fmt.Sprintf(`{"event":"custom.%d","Metadata":{"type":"movie"}}`, i)
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Len(t, d.events(), 50)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out := rec.Body.String()
	assert.Contains(t, out, `plexpush_webhook_requests_total{event="other",result="queued"} 50`)
	assert.NotContains(t, out, "custom.")
}

func TestWebhookTooLarge(t *testing.T) {
	s, d, _ := newTestServer(t, Config{MaxBodyBytes: 64})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(moviePayload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, d.events())
}

func TestOperatorRoutes(t *testing.T) {
	s, _, m := newTestServer(t, Config{MetricsPath: "/metrics"})
	m.WebhookReceived(plex.EventPlay, "queued")

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = get("/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"throttle":["k"]}`, rec.Body.String())

	rec = get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "plexpush_webhook_requests_total")

	assert.Equal(t, http.StatusNotFound, get("/debug/pprof/").Code)
}

func TestServerStartStop(t *testing.T) {
	s, d, _ := newTestServer(t, Config{Addr: "127.0.0.1:0"})
	sup := supervisor.New(context.Background())
	defer sup.Cancel()

	require.NoError(t, s.Start(sup))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Post("http://"+addr+"/", "application/json", strings.NewReader(moviePayload))
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, d.events(), 1)

	require.NoError(t, s.Stop(context.Background()))
	assert.Empty(t, s.Addr())
	_, err = http.Post("http://"+addr+"/", "application/json", strings.NewReader(moviePayload))
	assert.Error(t, err)
}
