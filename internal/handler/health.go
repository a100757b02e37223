package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"touristguard/internal/engine"
)

// Check probes one dependency for readiness.
type Check func(ctx context.Context) error

type HealthHandler struct {
	engine *engine.Engine
	checks map[string]Check
}

func NewHealthHandler(e *engine.Engine) *HealthHandler {
	return &HealthHandler{
		engine: e,
		checks: make(map[string]Check),
	}
}

// AddCheck registers a named readiness probe. Not safe once serving.
func (h *HealthHandler) AddCheck(name string, c Check) {
	h.checks[name] = c
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready        bool              `json:"ready"`
	TouristCount int               `json:"touristCount"`
	Failures     map[string]string `json:"failures,omitempty"`
	ServerTime   time.Time         `json:"serverTime"`
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failures := make(map[string]string)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	ready := len(failures) == 0
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, ReadyResponse{
		Ready:        ready,
		TouristCount: h.engine.TouristCount(),
		Failures:     failures,
		ServerTime:   time.Now(),
	})
}
