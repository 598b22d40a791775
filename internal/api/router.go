package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/idotmatrix-bridge/internal/panel"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	if s.secCfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.rateLimitMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Browser console. Static assets only; its API calls carry their own token.
	r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler(s.cfg.PanelDir)))
	r.Handle("/panel", http.RedirectHandler("/panel/", http.StatusMovedPermanently))

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/displays", func(r chi.Router) {
				r.Get("/", s.handleListDisplays)
				r.Post("/", s.handleCreateDisplay)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDisplay)
					r.Patch("/", s.handleUpdateDisplay)
					r.Delete("/", s.handleDeleteDisplay)
					r.Get("/state", s.handleGetDisplayState)
					r.Post("/commands", s.handleDisplayCommand)
					r.Post("/refresh", s.handleRefreshDisplay)
				})
			})

			r.Get("/discovery", s.handleDiscovery)
			r.Get("/events", s.handleListEvents)

			r.Get(s.wsPath(), s.handleWebSocket)
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}
