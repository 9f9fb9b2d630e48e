// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/examguard/internal/auth"
	"github.com/tomtom215/examguard/internal/models"
)

// CreateSession handles session creation.
//
// @Summary Create an exam session
// @Description Creates a new active session. session_id is generated when omitted.
// @Tags Sessions
// @Accept json
// @Produce json
// @Param request body models.NewSessionRequest true "Session details"
// @Success 201 {object} APIResponse{data=models.Session}
// @Failure 400 {object} APIResponse "Validation failed"
// @Failure 409 {object} APIResponse "Session already exists"
// @Router /api/v1/sessions [post]
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req models.NewSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if !validateRequest(rw, &req) {
		return
	}

	session, err := h.sessions.Create(r.Context(), req)
	if err != nil {
		respondDomainError(rw, r, err)
		return
	}
	rw.Created(session)
}

// GetSession returns a session's current state.
//
// @Summary Get a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} APIResponse{data=models.Session}
// @Failure 404 {object} APIResponse "Session not found"
// @Router /api/v1/sessions/{id} [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	session, err := h.reader.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(rw, r, err)
		return
	}
	rw.Success(session)
}

// SessionEvents returns a page of a session's committed event log in
// sequence order.
//
// @Summary List session events
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Param after query int false "Return events after this sequence number"
// @Param limit query int false "Page size (1-1000, default 100)"
// @Success 200 {object} APIResponse{data=[]models.Event}
// @Failure 400 {object} APIResponse "Invalid pagination parameters"
// @Failure 404 {object} APIResponse "Session not found"
// @Router /api/v1/sessions/{id}/events [get]
func (h *Handler) SessionEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	after, err := getUint64Param(r, "after", 0)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	limit, err := getIntParam(r, "limit", defaultEventsLimit)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	req := EventsRequest{After: after, Limit: limit}
	if !validateRequest(rw, &req) {
		return
	}

	// Sequences are gap-free, so one extra event tells us whether another
	// page exists.
	from := req.After + 1
	to := req.After + uint64(req.Limit) + 1
	events, err := h.reader.Events(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		respondDomainError(rw, r, err)
		return
	}

	hasMore := len(events) > req.Limit
	if hasMore {
		events = events[:req.Limit]
	}
	if events == nil {
		events = []models.Event{}
	}

	page := &PaginationMeta{
		Count:   len(events),
		Limit:   req.Limit,
		HasMore: hasMore,
	}
	if hasMore {
		page.NextAfter = events[len(events)-1].Sequence
	}
	rw.SuccessWithPagination(events, page)
}

// SessionFlags returns every flag raised for a session.
//
// @Summary List session flags
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} APIResponse{data=[]models.Flag}
// @Failure 404 {object} APIResponse "Session not found"
// @Router /api/v1/sessions/{id}/flags [get]
func (h *Handler) SessionFlags(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	flags, err := h.reader.Flags(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(rw, r, err)
		return
	}
	if flags == nil {
		flags = []models.Flag{}
	}
	rw.Success(flags)
}

// SessionTransitions returns the session's status history, oldest first.
//
// @Summary List session status transitions
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} APIResponse{data=[]models.Transition}
// @Failure 404 {object} APIResponse "Session not found"
// @Router /api/v1/sessions/{id}/transitions [get]
func (h *Handler) SessionTransitions(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	transitions, err := h.reader.Transitions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(rw, r, err)
		return
	}
	if transitions == nil {
		transitions = []models.Transition{}
	}
	rw.Success(transitions)
}

// SessionAnalytics returns the analytics summary for a session.
//
// @Summary Get session analytics
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} APIResponse{data=models.AnalyticsSummary}
// @Failure 404 {object} APIResponse "Session not found"
// @Router /api/v1/sessions/{id}/analytics [get]
func (h *Handler) SessionAnalytics(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	summary, err := h.summary.Summarize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(rw, r, err)
		return
	}
	rw.Success(summary)
}

// CompleteSession applies the end-of-session signal.
//
// @Summary Complete a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} APIResponse{data=models.Session}
// @Failure 404 {object} APIResponse "Session not found"
// @Failure 409 {object} APIResponse "Transition not allowed from the current status"
// @Router /api/v1/sessions/{id}/complete [post]
func (h *Handler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	session, err := h.sessions.End(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(rw, r, err)
		return
	}
	rw.Success(session)
}

// OverrideSession lets a host force a session into a status.
//
// @Summary Override a session status
// @Description Requires a bearer token whose role carries the override capability.
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param request body OverrideRequest true "Target status and reason"
// @Success 200 {object} APIResponse{data=models.Session}
// @Failure 401 {object} APIResponse "Authentication required"
// @Failure 403 {object} APIResponse "Host capability required"
// @Failure 409 {object} APIResponse "Transition not allowed from the current status"
// @Router /api/v1/sessions/{id}/override [post]
func (h *Handler) OverrideSession(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		rw.Unauthorized("Authentication required")
		return
	}

	var req OverrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if !validateRequest(rw, &req) {
		return
	}

	sessionID := chi.URLParam(r, "id")
	session, err := h.sessions.Override(r.Context(), sessionID, models.SessionStatus(req.Status), actor, req.Reason)
	h.audit.LogOverride(sanitizeLogValue(actor.ID), actor.Role, sanitizeLogValue(sessionID), req.Status, req.Reason, clientIP(r), err)
	if err != nil {
		respondDomainError(rw, r, err)
		return
	}

	rw.Success(session)
}
