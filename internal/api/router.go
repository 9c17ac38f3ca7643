package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-mesh/internal/auth"
)

// healthCheckTimeout bounds each dependency check made by GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket authenticates from the query string, validated in handler
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Get("/nwk/{nwk}", s.handleGetDeviceByNWK)
				r.Get("/{ieee}", s.handleGetDevice)
				r.With(s.requirePermission(auth.PermDeviceRemove)).Delete("/{ieee}", s.handleRemoveDevice)
			})

			r.Route("/network", func(r chi.Router) {
				r.Get("/", s.handleGetNetwork)
				r.With(s.requirePermission(auth.PermNetworkPermit)).Post("/permit", s.handlePermit)
			})
		})
	})

	return r
}

// handleHealth returns the server health status and each dependency's state.
// Any failing dependency turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	components := make(map[string]string, len(s.checks))

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()

		if err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":     overall,
		"version":    s.version,
		"devices":    s.mesh.DeviceCount(),
		"components": components,
	})
}
