// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/examguard/internal/cache"
)

// Version is reported by the health endpoint. It is overridden at build time
// with -ldflags "-X github.com/tomtom215/examguard/internal/api.Version=...".
var Version = "dev"

// healthPingTimeout bounds the store ping made by health checks.
const healthPingTimeout = 2 * time.Second

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Uptime   float64                `json:"uptime_seconds"`
	Services map[string]string      `json:"services"`
	Clients  int                    `json:"websocket_clients"`
	Sessions int                    `json:"associated_sessions"`
	Caches   map[string]CacheStatus `json:"caches,omitempty"`
}

// CacheStatus reports one in-process cache.
type CacheStatus struct {
	cache.Stats
	HitRate float64 `json:"hit_rate"`
}

// Health handles health check requests.
//
// @Summary Get system health status
// @Description Reports store connectivity, the store circuit breaker state, WebSocket hub load and cache statistics.
// @Tags Health
// @Produce json
// @Success 200 {object} APIResponse{data=HealthStatus}
// @Router /api/v1/health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	storeOK := h.pingStore(r.Context())
	services := map[string]string{
		"store": "up",
		"hub":   "up",
	}
	if !storeOK {
		services["store"] = "down"
	}
	if h.breaker != nil {
		services["breaker"] = h.breaker.BreakerState()
	}

	status := HealthStatus{
		Status:   "healthy",
		Version:  Version,
		Uptime:   time.Since(h.startTime).Seconds(),
		Services: services,
	}
	if h.wsHub != nil {
		status.Clients = h.wsHub.GetClientCount()
		status.Sessions = h.wsHub.GetSessionCount()
	} else {
		services["hub"] = "disabled"
	}
	if len(h.caches) > 0 {
		status.Caches = make(map[string]CacheStatus, len(h.caches))
		for name, stats := range h.caches {
			st := stats()
			status.Caches[name] = CacheStatus{Stats: st, HitRate: st.HitRate()}
		}
	}
	if !storeOK || services["breaker"] == "open" {
		status.Status = "degraded"
	}

	rw.Success(status)
}

// HealthLive handles liveness check requests. It returns 200 while the
// process is running, regardless of dependencies.
//
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} APIResponse "Service is alive"
// @Router /api/v1/health/live [get]
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles readiness check requests. It returns 503 until the
// store answers pings.
//
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Success 200 {object} APIResponse "Service is ready"
// @Failure 503 {object} APIResponse "Service is not ready"
// @Router /api/v1/health/ready [get]
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if !h.pingStore(r.Context()) {
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Store is not reachable",
			map[string]bool{"store_connected": false, "ready_to_serve": false})
		return
	}

	rw.Success(map[string]interface{}{
		"store_connected": true,
		"ready_to_serve":  true,
		"uptime":          time.Since(h.startTime).Seconds(),
	})
}

func (h *Handler) pingStore(ctx context.Context) bool {
	if h.reader == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()
	return h.reader.Ping(ctx) == nil
}
