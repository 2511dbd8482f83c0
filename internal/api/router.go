package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/pondwatch/internal/api/alerts"
	"github.com/good-yellow-bee/pondwatch/internal/api/middleware"
	"github.com/good-yellow-bee/pondwatch/internal/api/readings"
	"github.com/good-yellow-bee/pondwatch/internal/push"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogger(s.logger.Named("http"), s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.PrometheusMiddleware)

	readingHandler := readings.NewHandler(s.storage.Readings(), s.config.QueryTimeout, s.logger)
	alertHandler := alerts.NewHandler(s.storage.Alerts(), s.config.QueryTimeout, s.logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(s.limiter))

			r.Route("/ponds/{pondID}", func(r chi.Router) {
				r.Get("/readings", readingHandler.History)
				r.Get("/readings/latest", readingHandler.Latest)
				r.Get("/alerts", alertHandler.ListByPond)
			})

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", alertHandler.ListActive)
				r.Get("/{alertID}", alertHandler.Get)
				r.Post("/{alertID}/acknowledge", alertHandler.Acknowledge)
				r.Post("/{alertID}/resolve", alertHandler.Resolve)
			})
		})

		// Long-lived stream, not rate limited.
		r.Handle("/stream", push.NewSSEHandler(s.hub, s.config.StreamKeepAlive))
	})

	r.Handle("/ws", push.NewWebSocketHandler(s.hub, originChecker(s.config.AllowedOrigins)))

	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
