package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Check probes one backend. It returns nil when the backend is usable.
type Check func(ctx context.Context) error

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler over the named checks.
func NewHealthHandler(checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		timeout: 3 * time.Second,
		now:     time.Now,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Live reports that the process is up.
// GET /healthz
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// Ready runs every check and answers 503 if any fails.
// GET /readyz
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			h.logger.WarnContext(ctx, "readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		results[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":    state,
		"checks":    results,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
