// Package webhook serves the Plex webhook endpoint and the operator routes
// (health, status, metrics, profiler).
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"plexpush/internal/dispatch"
	"plexpush/internal/metrics"
	"plexpush/internal/plex"
	"plexpush/internal/runtime/supervisor"
	logx "plexpush/pkg/logx"
)

const (
	defaultMaxBody  = 16 << 20
	multipartMemory = 8 << 20
)

// Dispatcher handles one decoded event.
type Dispatcher interface {
	Dispatch(ev plex.Event) dispatch.Result
}

type Config struct {
	Addr string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration

	// MaxBodyBytes caps one webhook request, thumbnail included.
	MaxBodyBytes int64
	// MetricsPath mounts the Prometheus handler; "" disables it.
	MetricsPath string
	// Pprof mounts the chi profiler under /debug.
	Pprof bool
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":12000"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBody
	}
	return c
}

// Server owns the HTTP listener.
type Server struct {
	cfg        Config
	log        logx.Logger
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	status     func() any
	handler    http.Handler

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
}

// New builds the router. status feeds GET /status and may be nil.
func New(cfg Config, d Dispatcher, log logx.Logger, m *metrics.Metrics, status func() any) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:        cfg.withDefaults(),
		log:        log,
		dispatcher: d,
		metrics:    m,
		status:     status,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	r.Post("/", s.handleWebhook)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	r.Get("/status", s.handleStatus)
	if s.cfg.MetricsPath != "" {
		r.Method(http.MethodGet, s.cfg.MetricsPath, s.metrics.Handler())
	}
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	log := s.log.With(logx.String("request_id", middleware.GetReqID(r.Context())))

	raw, thumb, thumbType, err := readDelivery(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("webhook body too large", logx.Int64("limit", tooLarge.Limit))
			s.metrics.WebhookReceived("", "too_large")
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		log.Warn("webhook rejected", logx.Err(err))
		s.metrics.WebhookReceived("", "malformed")
		http.Error(w, "malformed webhook", http.StatusBadRequest)
		return
	}

	ev, err := plex.Decode(raw)
	if err != nil {
		log.Warn("webhook rejected", logx.Err(err))
		s.metrics.WebhookReceived("", "malformed")
		http.Error(w, "malformed webhook", http.StatusBadRequest)
		return
	}
	ev = ev.WithImage(thumb, thumbType)

	res := s.dispatcher.Dispatch(ev)
	s.metrics.WebhookReceived(ev.EventType, string(res.Outcome))
	w.WriteHeader(http.StatusOK)
}

// readDelivery extracts the JSON payload and the optional thumbnail.
// Plex sends multipart/form-data with a "payload" field and a "thumb" file;
// a raw JSON body is accepted too.
func readDelivery(r *http.Request) (payload, thumb []byte, thumbType string, err error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, nil, "", err
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		p := r.FormValue("payload")
		if strings.TrimSpace(p) == "" {
			return nil, nil, "", fmt.Errorf("%w: missing payload field", plex.ErrMalformed)
		}
		f, hdr, ferr := r.FormFile("thumb")
		switch {
		case errors.Is(ferr, http.ErrMissingFile):
		case ferr != nil:
			return nil, nil, "", ferr
		default:
			defer f.Close()
			thumb, err = io.ReadAll(f)
			if err != nil {
				return nil, nil, "", err
			}
			thumbType = hdr.Header.Get("Content-Type")
		}
		return []byte(p), thumb, thumbType, nil

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, nil, "", err
		}
		p := r.PostFormValue("payload")
		if strings.TrimSpace(p) == "" {
			return nil, nil, "", fmt.Errorf("%w: missing payload field", plex.ErrMalformed)
		}
		return []byte(p), nil, "", nil

	default:
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, nil, "", err
		}
		return b, nil, "", nil
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var body any = struct{}{}
	if s.status != nil {
		body = s.status()
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		s.log.Warn("status encode failed", logx.Err(err))
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Int("bytes", ww.BytesWritten()),
			logx.Duration("took", time.Since(start)),
			logx.String("remote", r.RemoteAddr),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Start binds the listener and serves on a supervised goroutine. A bind
// failure is returned to the caller.
func (s *Server) Start(sup *supervisor.Supervisor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.srv, s.ln, s.addr = srv, ln, ln.Addr().String()

	sup.Go("http.server", func(ctx context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	s.log.Info("webhook server listening", logx.String("addr", s.addr))
	return nil
}

// Addr reports the bound address, "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop stops accepting requests and waits for in-flight ones up to the
// shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln, s.addr = nil, nil, ""
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = srv.Close()
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("webhook server closed")
	return nil
}
