package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/version", s.version)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", s.describeConfig)
		r.Get("/status", s.status)
		r.Get("/alerts", s.alerts)
		r.Delete("/alerts", s.clearAlerts)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.deleteSession)
				r.Get("/config", s.getSessionConfig)
				r.Post("/turns", s.submitTurn)
				r.Post("/reset", s.resetSession)
				r.Post("/clear", s.clearContext)
				r.Get("/history.arrow", s.exportHistory)
			})
		})
	})

	r.Get("/ws/sessions/{sessionID}", s.serveWebsocket)
}
