package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angeloszaimis/healthprobe/internal/handler"
	"github.com/angeloszaimis/healthprobe/internal/metrics"
)

func setupRouter(health *handler.HealthHandler, m *metrics.Metrics) *chi.Mux {
	r := chi.NewRouter()
	r.Use(m.Middleware)

	r.Method(http.MethodGet, "/health", health)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.NotFound(handler.NotFound)

	return r
}
