// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/examguard/internal/auth"
	"github.com/tomtom215/examguard/internal/flagging"
)

// RuleView is a rule's configuration together with its evaluation counters.
type RuleView struct {
	flagging.RuleInfo
	Stats flagging.RuleStats `json:"stats"`
}

// ListRules returns every registered flagging rule.
//
// @Summary List flagging rules
// @Tags Rules
// @Produce json
// @Success 200 {object} APIResponse{data=[]RuleView}
// @Router /api/v1/rules [get]
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	stats := h.rules.Stats()
	infos := h.rules.Rules()
	views := make([]RuleView, 0, len(infos))
	for _, info := range infos {
		views = append(views, RuleView{RuleInfo: info, Stats: stats[info.ID]})
	}
	rw.Success(views)
}

// UpdateRule changes a rule's enabled flag and/or configuration. The new
// configuration applies to evaluations that start after the call.
//
// @Summary Update a flagging rule
// @Tags Rules
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Rule ID"
// @Param request body UpdateRuleRequest true "Rule changes"
// @Success 200 {object} APIResponse{data=RuleView}
// @Failure 400 {object} APIResponse "Invalid configuration"
// @Failure 404 {object} APIResponse "Unknown rule"
// @Router /api/v1/rules/{id} [put]
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := flagging.RuleID(chi.URLParam(r, "id"))

	var req UpdateRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if !validateRequest(rw, &req) {
		return
	}

	actor, _ := auth.ActorFromContext(r.Context())
	audit := func(err error) {
		h.audit.LogRuleUpdate(sanitizeLogValue(actor.ID), actor.Role, sanitizeLogValue(string(id)),
			req.Enabled, len(req.Config) > 0, clientIP(r), err)
	}

	if len(req.Config) > 0 {
		if err := h.rules.Configure(id, req.Config); err != nil {
			audit(err)
			if errors.Is(err, flagging.ErrUnknownRule) {
				rw.NotFound(err.Error())
				return
			}
			rw.BadRequest(err.Error())
			return
		}
	}
	if req.Enabled != nil {
		if err := h.rules.SetEnabled(id, *req.Enabled); err != nil {
			audit(err)
			respondDomainError(rw, r, err)
			return
		}
	}

	view, ok := h.ruleView(id)
	if !ok {
		rw.NotFound("unknown rule: " + string(id))
		return
	}

	audit(nil)
	rw.Success(view)
}

func (h *Handler) ruleView(id flagging.RuleID) (RuleView, bool) {
	for _, info := range h.rules.Rules() {
		if info.ID == id {
			return RuleView{RuleInfo: info, Stats: h.rules.Stats()[id]}, true
		}
	}
	return RuleView{}, false
}
