package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// HealthHandler reports liveness and the simulator state.
type HealthHandler struct {
	sim Controller
	now func() time.Time
}

func NewHealthHandler(sim Controller) *HealthHandler {
	return &HealthHandler{sim: sim, now: time.Now}
}

// HealthCheck answers 200 unless the simulator is in the error state.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	state := h.sim.State()
	body := map[string]any{
		"status":    "ok",
		"state":     state.String(),
		"run_id":    h.sim.RunID(),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if state == domain.StateError {
		body["status"] = "error"
		if err := h.sim.Err(); err != nil {
			body["error"] = err.Error()
		}
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}
