// Package health provides health check endpoints for the API.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Checker defines the interface for health checkers.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Handler manages health check endpoints.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
	liveness []Checker
	timeout  time.Duration
}

// NewHandler creates a new health handler.
func NewHandler() *Handler {
	return &Handler{timeout: 5 * time.Second}
}

// RegisterChecker adds a dependency checked by the readiness probe.
func (h *Handler) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// RegisterLivenessChecker adds a check whose failure means the process can no
// longer recover by itself. It is evaluated by every probe.
func (h *Handler) RegisterLivenessChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, c)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health reports overall status: 200 unless a liveness check fails.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, false, "ok", "unhealthy")
}

// Live returns liveness probe status.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, false, "live", "dead")
}

// Ready returns 200 only if every registered check passes.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, true, "ready", "not_ready")
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, readiness bool, okStatus, failStatus string) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checkers := make([]Checker, 0, len(h.liveness)+len(h.checkers))
	checkers = append(checkers, h.liveness...)
	if readiness {
		checkers = append(checkers, h.checkers...)
	}
	h.mu.RUnlock()

	resp := HealthResponse{Status: okStatus}
	if len(checkers) > 0 {
		resp.Checks = make(map[string]string, len(checkers))
	}
	healthy := true
	for _, c := range checkers {
		if err := c.Check(ctx); err != nil {
			resp.Checks[c.Name()] = err.Error()
			healthy = false
		} else {
			resp.Checks[c.Name()] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		resp.Status = failStatus
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}
