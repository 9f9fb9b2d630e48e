// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/examguard/internal/auth"
	"github.com/tomtom215/examguard/internal/authz"
	"github.com/tomtom215/examguard/internal/logging"
)

// Router wires handlers and middleware into a chi route tree.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	authn         *auth.Middleware
	authz         *authz.Middleware
}

// NewRouter creates a router. authn and authz protect the host-only routes;
// when authn is nil those routes are not mounted.
func NewRouter(handler *Handler, chiMiddleware *ChiMiddleware, authn *auth.Middleware, authzMiddleware *authz.Middleware) *Router {
	if chiMiddleware == nil {
		chiMiddleware = NewChiMiddleware(nil)
	}
	return &Router{
		handler:       handler,
		chiMiddleware: chiMiddleware,
		authn:         authn,
		authz:         authzMiddleware,
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Applied to all routes, in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // global so OPTIONS preflight is answered
	r.Use(PrometheusMetrics())
	r.Use(RequestLogging())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
	})

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Use(APISecurityHeaders())
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.With(router.chiMiddleware.RateLimitWebSocket()).Get("/api/v1/ws", router.handler.WebSocket)

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())

		r.With(router.chiMiddleware.RateLimitWrite()).Post("/", router.handler.CreateSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", router.handler.GetSession)
			r.Get("/events", router.handler.SessionEvents)
			r.Get("/flags", router.handler.SessionFlags)
			r.Get("/transitions", router.handler.SessionTransitions)
			r.Get("/analytics", router.handler.SessionAnalytics)
			r.With(router.chiMiddleware.RateLimitWrite()).Post("/complete", router.handler.CompleteSession)

			// The session machine checks the host capability itself.
			if router.authn != nil {
				r.With(router.chiMiddleware.RateLimitWrite(), router.authn.Authenticate).
					Post("/override", router.handler.OverrideSession)
			}
		})
	})

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())

		r.Get("/", router.handler.ListRules)
		if router.authn != nil && router.authz != nil {
			r.With(
				router.chiMiddleware.RateLimitWrite(),
				router.authn.Authenticate,
				router.authz.Require(authz.ObjectRules, authz.ActionWrite),
			).Put("/{id}", router.handler.UpdateRule)
		}
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// WriteAuthFailure renders authentication and authorization rejections in
// the standard error envelope and records them in the audit log. It is
// passed to auth.NewMiddleware and authz.NewMiddleware.
func WriteAuthFailure(w http.ResponseWriter, r *http.Request, status int, message string) {
	logging.NewAuditLogger().LogAuthRejected(status, message, clientIP(r), sanitizeLogValue(r.URL.Path))
	rw := NewResponseWriter(w, r)
	switch status {
	case http.StatusUnauthorized:
		rw.Unauthorized(message)
	case http.StatusForbidden:
		rw.Forbidden(message)
	default:
		rw.Error(status, ErrCodeInternalError, message)
	}
}
