package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/relayhub/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint (outside /api/v1, unauthenticated)
	if s.metricsCfg.Enabled && s.gatherer != nil {
		r.Method(http.MethodGet, metricsPath(s.metricsCfg.Path), promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Agents enrol with a registration code; the code is the credential.
		r.Post("/devices/register", s.handleRegisterDevice)

		// Relay endpoint. Devices authenticate in-band with AUTH; dashboards
		// present a ticket or token, validated in the handler.
		r.Get(wsPath(s.wsCfg.Path), s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/auth/me", s.handleMe)
			r.Get("/system/stats", s.handleSystemStats)

			r.Route("/devices", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleListDevices)
				r.With(s.requirePermission(auth.PermDeviceManage)).Post("/", s.handleCreateDevice)

				r.Route("/{deviceId}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermDeviceRead)).Get("/", s.handleGetDevice)
					r.With(s.requirePermission(auth.PermDeviceManage)).Delete("/", s.handleDeleteDevice)
					r.With(s.requirePermission(auth.PermDeviceManage)).Post("/token", s.handleIssueDeviceToken)
				})
			})

			r.With(s.requirePermission(auth.PermRegistrationManage)).Post("/registration-codes", s.handleCreateRegistrationCode)

			r.Route("/commands", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermCommandRead)).Get("/", s.handleListCommands)
				r.With(s.requirePermission(auth.PermCommandDispatch)).Post("/", s.handleCreateCommand)
				r.With(s.requirePermission(auth.PermCommandRead)).Get("/{id}", s.handleGetCommand)
			})

			r.With(s.requirePermission(auth.PermActivityRead)).Get("/activities", s.handleListActivities)

			r.Route("/users", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermUserManage))
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
			})
		})
	})

	if s.dashboard != nil {
		r.Handle("/*", s.dashboard)
	}

	return r
}

func metricsPath(p string) string {
	if p == "" {
		return "/metrics"
	}
	return p
}

func wsPath(p string) string {
	if p == "" {
		return "/ws"
	}
	return p
}
