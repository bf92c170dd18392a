package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Trivenidigital/Vizora-sub012/internal/auth"
)

// healthCheckTimeout bounds each dependency probe in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Websockets authenticate inside the handler.
		r.Get("/realtime", s.handleRealtime)
		r.Get("/ws", s.handleDashboardWS)

		r.Route("/devices/pairing", func(r chi.Router) {
			r.With(s.rateLimit(s.requestLimiter)).Post("/request", s.handlePairingRequest)
			r.With(s.rateLimit(s.statusLimiter)).Get("/status/{code}", s.handlePairingStatus)

			r.Group(func(r chi.Router) {
				r.Use(s.userAuthMiddleware)
				r.Use(s.requirePermission(auth.PermDisplayPair))
				r.Post("/complete", s.handlePairingComplete)
				r.Get("/active", s.handleActivePairings)
			})
		})

		r.Route("/displays", func(r chi.Router) {
			r.With(s.deviceAuthMiddleware).Post("/{deviceId}/heartbeat", s.handleHTTPHeartbeat)

			r.Group(func(r chi.Router) {
				r.Use(s.userAuthMiddleware)
				r.With(s.requirePermission(auth.PermDisplayRead)).Get("/", s.handleListDisplays)
				r.With(s.requirePermission(auth.PermDisplayRead)).Get("/{deviceId}/status", s.handleDisplayStatus)
				r.With(s.requirePermission(auth.PermDisplayRead)).Get("/{deviceId}/stats", s.handleDisplayStats)
				r.With(s.requirePermission(auth.PermDisplayCommand)).Post("/{deviceId}/commands", s.handleSendCommand)
			})
		})

		r.With(s.userAuthMiddleware, s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)
	})

	return r
}

// handleHealth returns the server health status. Any failing dependency
// turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.health))
	healthy := true
	for name, hc := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := hc.HealthCheck(ctx)
		cancel()
		if err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
