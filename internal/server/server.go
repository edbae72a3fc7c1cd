package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"docshook/internal/config"
	"docshook/internal/deploylog"
	"docshook/internal/deployment"
	"docshook/internal/history"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for non-webhook routes
	RequestTimeout = 60 * time.Second
)

// Server represents the HTTP server
type Server struct {
	Config    *config.Config
	Trigger   *deployment.Trigger
	Gate      *deployment.Gate
	DeployLog *deploylog.Logger
	History   *history.History // nil disables the status endpoint
	Logger    *slog.Logger
	TestMode  bool

	// writeMargin is added to the webhook budget in WriteTimeout.
	writeMargin time.Duration

	// closing makes new deliveries answer "Deployment busy" during Shutdown.
	closing atomic.Bool

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer wires a server from the configuration
func NewServer(cfg *config.Config, hist *history.History, logger *slog.Logger, testMode bool) *Server {
	trigger := deployment.NewTrigger(cfg.WorkDir, cfg.Commands)
	trigger.Timeout = cfg.DeployTimeout
	trigger.CommandTimeout = cfg.CommandTimeout
	if len(cfg.Secret) > 0 {
		trigger.Redact = []string{string(cfg.Secret)}
	}

	return &Server{
		Config:    cfg,
		Trigger:   trigger,
		Gate:      deployment.NewGate(),
		DeployLog: deploylog.New(cfg.DeployLog),
		History:   hist,
		Logger:    logger,
		TestMode:  testMode,

		writeMargin: HTTPWriteTimeout,
	}
}

// queueTimeout is how long a delivery waits for a running deployment.
func (s *Server) queueTimeout() time.Duration {
	return s.Config.DeployTimeout
}

// WriteTimeout covers the longest webhook response: waiting out one running
// deployment, then running its own.
func (s *Server) WriteTimeout() time.Duration {
	return s.queueTimeout() + s.Config.DeployTimeout + s.writeMargin
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				s.Logger.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()))
			}()

			next.ServeHTTP(ww, r)
		})
	})

	// The webhook response waits for the deployment, so it is bounded by
	// the deploy timeout instead of RequestTimeout.
	if !s.TestMode && s.Config.RateLimitPerMinute > 0 {
		r.With(NewWebhookRateLimitMiddleware(s.Config.RateLimitPerMinute, s.Logger)).Post(s.Config.WebhookPath, s.HandleWebhook)
	} else {
		r.Post(s.Config.WebhookPath, s.HandleWebhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))

		r.Get("/health", s.HandleHealth)
		r.Get("/status", s.HandleStatus)

		site := SiteHandler(s.Config.SiteDir)
		r.Get("/*", site.ServeHTTP)
		r.Head("/*", site.ServeHTTP)
	})

	return r
}

// Start listens on the configured address and blocks until the server stops.
// It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	addr := s.Config.Address()
	s.Logger.Info("Starting server", "addr", addr, "webhook_path", s.Config.WebhookPath)

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: s.WriteTimeout(),
		IdleTimeout:  HTTPIdleTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// is done. It then waits for a running deployment to be logged and recorded,
// even past ctx, so the caller can close History safely. No deployment
// starts after Shutdown is called.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	// Bounded by DeployTimeout; the gate is never released again.
	_ = s.Gate.Acquire(context.Background())

	return err
}
