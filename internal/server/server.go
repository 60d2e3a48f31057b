package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/config"
	"github.com/nmtlab/nmtgate/internal/observability"
	"github.com/nmtlab/nmtgate/internal/server/handlers"
	servermw "github.com/nmtlab/nmtgate/internal/server/middleware"
)

const (
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 300 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    config.ServerConfig
	api    *handlers.API
	health *handlers.HealthManager
}

// New creates a new HTTP server instance
func New(cfg config.ServerConfig, api *handlers.API, health *handlers.HealthManager) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	// RequestID first for correlation, Recovery inside Metrics so panics count as 500s.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)
	r.Use(servermw.SecurityHeaders)

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	if api == nil {
		api = &handlers.API{}
	}
	if health == nil {
		health = handlers.NewHealthManager(handlers.AppVersion)
	}

	s := &Server{
		router: r,
		cfg:    cfg,
		api:    api,
		health: health,
	}

	handlers.SetHTTPErrorResponder(HandleError)

	s.registerRoutes()

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := s.Addr()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  orDefault(s.cfg.ReadTimeout, defaultReadTimeout),
		WriteTimeout: orDefault(s.cfg.WriteTimeout, defaultWriteTimeout),
		IdleTimeout:  orDefault(s.cfg.IdleTimeout, defaultIdleTimeout),
	}

	observability.Server().Info("Starting HTTP server",
		zap.String("host", s.cfg.Host),
		zap.Int("port", s.cfg.Port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	observability.Server().Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// ShutdownTimeout bounds graceful shutdown.
func (s *Server) ShutdownTimeout() time.Duration {
	return orDefault(s.cfg.ShutdownTimeout, defaultShutdownTimeout)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.cfg.Port
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

