// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

/*
Package auth authenticates host-facing HTTP requests with bearer JWTs.

Key Components:

  - JWTManager: HS256 token generation and validation
  - Middleware: extracts "Authorization: Bearer <token>", validates it and
    stores the claims in the request context

Tokens carry the subject (sub) and a role claim. The role is what
internal/authz checks; the host role is the one allowed to override a
session's status.

Usage Example:

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
	    log.Fatal(err)
	}
	token, _ := jwtManager.GenerateToken("proctor-7", models.RoleHost)

	mw := auth.NewMiddleware(jwtManager, nil)
	r.With(mw.Authenticate).Post("/sessions/{id}/override", handler)

	// In the handler:
	actor, ok := auth.ActorFromContext(r.Context())

Security:

  - Only HS256 is accepted, which rules out "none" and key-confusion tokens
  - Secrets shorter than 32 characters are refused at startup
  - The issuer is enforced when configured
*/
package auth
