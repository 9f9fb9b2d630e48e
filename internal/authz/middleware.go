// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package authz

import (
	"net/http"

	"github.com/tomtom215/examguard/internal/auth"
	"github.com/tomtom215/examguard/internal/logging"
)

// Middleware enforces policy on authenticated routes. It must run after
// auth.Middleware.Authenticate.
type Middleware struct {
	enforcer *Enforcer
	onFail   func(w http.ResponseWriter, r *http.Request, status int, message string)
}

// NewMiddleware creates authorization middleware. onFail writes the
// rejection; nil falls back to http.Error.
func NewMiddleware(enforcer *Enforcer, onFail func(w http.ResponseWriter, r *http.Request, status int, message string)) *Middleware {
	if onFail == nil {
		onFail = func(w http.ResponseWriter, _ *http.Request, status int, message string) {
			http.Error(w, message, status)
		}
	}
	return &Middleware{enforcer: enforcer, onFail: onFail}
}

// Require allows the request through only if the caller's role may perform
// action on object.
func (m *Middleware) Require(object, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := auth.ActorFromContext(r.Context())
			if !ok {
				m.onFail(w, r, http.StatusForbidden, "no authentication context")
				return
			}

			allowed, err := m.enforcer.Authorize(actor, object, action)
			if err != nil {
				logging.Error().Err(err).Msg("Authorization error")
				m.onFail(w, r, http.StatusInternalServerError, "authorization failed")
				return
			}
			if !allowed {
				m.onFail(w, r, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// MethodAction maps HTTP methods to read or write.
func MethodAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ActionRead
	default:
		return ActionWrite
	}
}
