// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/examguard/internal/flagging"
	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/models"
	"github.com/tomtom215/examguard/internal/validation"
)

// maxRequestBodyBytes bounds JSON request bodies.
const maxRequestBodyBytes = 64 * 1024

// clientIP returns the request's remote address without the port.
// chimiddleware.RealIP has already applied forwarding headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return sanitizeLogValue(r.RemoteAddr)
}

// sanitizeLogValue removes control characters from strings to prevent log injection.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// decodeJSON reads a bounded JSON body into dst. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// validateRequest validates v with go-playground/validator. It writes a
// VALIDATION_FAILED response and returns false when validation fails.
func validateRequest(rw *ResponseWriter, v interface{}) bool {
	verr := validation.ValidateStruct(v)
	if verr == nil {
		return true
	}
	first := verr.First()
	rw.ValidationError(first.Error(), verr.Details())
	return false
}

// getIntParam extracts an integer query parameter with a default value.
// Malformed values return an error rather than the default.
func getIntParam(r *http.Request, name string, defaultValue int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

// getUint64Param extracts an unsigned integer query parameter.
func getUint64Param(r *http.Request, name string, defaultValue uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}

// respondDomainError maps domain errors to HTTP status codes and writes the
// error envelope. Unexpected errors are logged and reported as 500 without
// their message.
func respondDomainError(rw *ResponseWriter, r *http.Request, err error) {
	var (
		transitionErr *models.TransitionError
		eventErr      *models.ValidationError
	)

	switch {
	case errors.Is(err, models.ErrUnknownSession):
		rw.NotFound("Session not found")
	case errors.Is(err, flagging.ErrUnknownRule):
		rw.NotFound(err.Error())
	case errors.As(err, &transitionErr):
		rw.ErrorWithDetails(http.StatusConflict, ErrCodeInvalidTransition, transitionErr.Error(), map[string]string{
			"session_id": transitionErr.SessionID,
			"from":       string(transitionErr.From),
			"trigger":    transitionErr.Trigger,
		})
	case errors.Is(err, models.ErrInvalidTransition):
		rw.Error(http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, models.ErrSessionExists):
		rw.Conflict("Session already exists")
	case errors.Is(err, models.ErrStatusConflict):
		rw.Conflict("Session status changed concurrently, retry")
	case errors.Is(err, models.ErrForbidden):
		rw.Forbidden("Host capability required")
	case errors.As(err, &eventErr):
		rw.BadRequest(eventErr.Error())
	case errors.Is(err, models.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		logging.CtxWarn(r.Context()).Err(err).Msg("Store unavailable while serving request")
		rw.ServiceUnavailable("Storage temporarily unavailable")
	case errors.Is(err, context.Canceled):
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Request cancelled")
	default:
		logging.CtxError(r.Context()).
			Str("path", sanitizeLogValue(r.URL.Path)).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("API error")
		rw.InternalError("Internal server error")
	}
}
