package server

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vango-go/vai-talk/pkg/broker/config"
	"github.com/vango-go/vai-talk/pkg/broker/handlers"
	"github.com/vango-go/vai-talk/pkg/broker/metrics"
	"github.com/vango-go/vai-talk/pkg/broker/mw"
	"github.com/vango-go/vai-talk/pkg/broker/ratelimit"
	"github.com/vango-go/vai-talk/pkg/broker/upstream"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	router chi.Router

	authorizer upstream.Authorizer
	metrics    *metrics.Metrics
	limiter    *ratelimit.Limiter
	draining   atomic.Bool
}

type Option func(*Server)

// WithAuthorizer replaces the HTTP authorize client, mainly for tests.
func WithAuthorizer(a upstream.Authorizer) Option {
	return func(s *Server) { s.authorizer = a }
}

// WithMetrics sets the metrics sink served on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.authorizer == nil {
		s.authorizer = &upstream.Client{
			BaseURL:    cfg.UpstreamBaseURL,
			HTTPClient: upstream.NewHTTPClient(cfg),
		}
	}

	limits := ratelimit.Config{
		RPS:           cfg.LimitRPS,
		Burst:         cfg.LimitBurst,
		MaxConcurrent: cfg.LimitConcurrent,
		EntryTTL:      10 * time.Minute,
	}
	if limits.Enabled() {
		s.limiter = ratelimit.New(limits)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	notFound := handlers.NotFoundHandler{}
	s.router.NotFound(notFound.ServeHTTP)
	s.router.MethodNotAllowed(notFound.ServeHTTP)

	s.router.Method(http.MethodGet, "/", handlers.RootHandler{})
	s.router.Method(http.MethodGet, "/healthz", handlers.HealthHandler{})
	s.router.Method(http.MethodGet, "/readyz", handlers.ReadyHandler{Config: s.cfg, Draining: s.Draining})
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	token := handlers.TokenHandler{
		Config:     s.cfg,
		Authorizer: s.authorizer,
		Logger:     s.logger,
		Metrics:    s.metrics,
	}
	s.router.Method(http.MethodGet, "/api/token", mw.RateLimit(s.cfg, s.limiter, s.metrics, s.logger, token))
}

// SetDraining flips readiness so load balancers stop routing new requests.
func (s *Server) SetDraining(v bool) {
	s.draining.Store(v)
}

func (s *Server) Draining() bool {
	return s.draining.Load()
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, s.metrics, h)
	h = mw.RequestID(h)
	return h
}
