// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

// Package authz decides what an authenticated role may do, using Casbin.
//
// # Architecture
//
//	Request -> auth.Middleware -> authz.Middleware -> Handler
//	               |                    |
//	          Authenticate         Authorize (Casbin)
//
// The session state machine also calls Enforcer.Authorize directly, so the
// override capability is checked even when Override is reached without HTTP.
//
// # RBAC Model
//
//	[request_definition]
//	r = sub, obj, act
//
//	[policy_definition]
//	p = sub, obj, act
//
//	[role_definition]
//	g = _, _
//
//	[policy_effect]
//	e = some(where (p.eft == allow))
//
//	[matchers]
//	m = g(r.sub, p.sub) && r.obj == p.obj && (r.act == p.act || p.act == "*")
//
// # Default Policy
//
//	p, host, sessions, read
//	p, host, sessions, override
//	p, host, rules, read
//	p, admin, rules, *
//	g, admin, host
//
// Both files are embedded; EnforcerConfig.ModelPath and PolicyPath replace
// them, and a file policy can be reloaded on an interval.
package authz
