package server

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/observability"
	"github.com/nmtlab/nmtgate/internal/server/handlers"
	servermw "github.com/nmtlab/nmtgate/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	api := s.api

	s.router.Get("/health", s.health.HealthHandler)
	s.router.Get("/health/live", s.health.LivenessHandler)
	s.router.Get("/health/ready", s.health.ReadinessHandler)
	s.router.Get("/health/startup", s.health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// Proxied from the internal exporter so scrapers need only the main port.
	s.router.Get("/metrics", MetricsHandler)

	// OpenAI-compatible surface, callable from browsers.
	s.router.Group(func(r chi.Router) {
		r.Use(servermw.CORS(servermw.DefaultCORS))
		r.Post("/v1/chat/completions", api.PublicChat)
		r.Options("/v1/chat/completions", noContent)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/warmup", api.Warmup)
		r.Post("/chat", api.Chat)
		r.Post("/tts", api.Speech)
		r.Post("/stt", api.Transcribe)
		r.Post("/music", api.Music)

		r.Route("/admin", func(r chi.Router) {
			r.Use(api.RequireAdmin)
			r.Get("/keys", api.ListKeys)
			r.Post("/keys", api.CreateKey)
			r.Delete("/keys/{key}", api.RevokeKey)
		})

		r.Get("/audio/{name}", api.GetAudio)
		r.Post("/audio/{name}", api.PutAudio)
		r.Get("/bgm/{name}", api.GetBGM)
		r.Post("/bgm/{name}", api.PutBGM)

		r.Post("/share", api.CreateShare)
		r.Get("/share/{id}", api.GetShare)
		r.Get("/shares/public", api.PublicShares)
	})

	s.router.Get("/", api.Index)
	s.router.Get("/chat", api.Index)
	s.router.Get("/v/{id}", api.Index)

	s.registerSignalEndpoint()
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// registerSignalEndpoint exposes reload/shutdown signals behind the admin key.
func (s *Server) registerSignalEndpoint() {
	logger := observability.Server()

	if s.api.AdminKey == "" {
		logger.Debug("Admin signal endpoint disabled (no admin key configured)")
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.api.AdminKey,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	logger.Info("Admin signal endpoint enabled",
		zap.String("path", "/admin/signal"),
		zap.String("rate_limit", "10/min, burst 5"))
}
