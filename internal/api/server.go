// Package api exposes the reporting backend over HTTP: occupancy heatmaps,
// month reports, overviews, manual metric entry and rebuild control.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the router with the middleware stack and all routes.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/branches", h.ListBranches)
		r.Get("/heatmap", h.GetHeatmap)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/month", h.GetMonthReport)
			r.Get("/overview", h.GetOverview)
		})

		r.Route("/etl", func(r chi.Router) {
			r.Post("/rebuild", h.TriggerRebuild)
			r.Post("/daily", h.TriggerDaily)
			r.Get("/jobs/{id}", h.GetJob)
			r.Post("/jobs/{id}/cancel", h.CancelJob)
			r.Get("/runs/{id}", h.GetRun)
		})

		r.Post("/metrics", h.UpsertMetrics)
		r.Post("/plans", h.UpsertPlan)
	})

	return r
}

// NewServer wraps the router in an http.Server with sane timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
