// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/models"
)

type contextKey string

// ClaimsContextKey holds the validated *Claims of a request.
const ClaimsContextKey contextKey = "claims"

// Middleware authenticates bearer tokens.
type Middleware struct {
	jwtManager *JWTManager
	onFail     func(w http.ResponseWriter, r *http.Request, status int, message string)
}

// NewMiddleware creates bearer authentication middleware. onFail writes the
// rejection; nil falls back to http.Error.
func NewMiddleware(jwtManager *JWTManager, onFail func(w http.ResponseWriter, r *http.Request, status int, message string)) *Middleware {
	if onFail == nil {
		onFail = func(w http.ResponseWriter, _ *http.Request, status int, message string) {
			http.Error(w, message, status)
		}
	}
	return &Middleware{jwtManager: jwtManager, onFail: onFail}
}

// Authenticate rejects requests without a valid bearer token and stores the
// claims in the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="examguard"`)
			m.onFail(w, r, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := m.jwtManager.ValidateToken(token)
		if err != nil {
			logging.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected bearer token")
			w.Header().Set("WWW-Authenticate", `Bearer realm="examguard", error="invalid_token"`)
			m.onFail(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// ContextWithClaims returns ctx carrying claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

// ClaimsFromContext returns the request's claims, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsContextKey).(*Claims)
	return claims
}

// ActorFromContext returns the authenticated actor. ok is false for
// unauthenticated requests.
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return models.Actor{}, false
	}
	return claims.Actor(), true
}
