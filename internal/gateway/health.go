// ABOUTME: HTTP liveness and readiness endpoints
// ABOUTME: Readiness pings the store and returns 503 when it is unavailable

package gateway

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the JSON response for /health and /health/ready.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// handleHealth returns 200 OK while the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Timestamp: g.clock.Now()})
}

// handleReady returns 200 OK if the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "unavailable",
			Timestamp: g.clock.Now(),
			Error:     "store unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ready", Timestamp: g.clock.Now()})
}
