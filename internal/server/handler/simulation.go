package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/strategy"
)

// SimulationHandler serves statistics and lifecycle control.
type SimulationHandler struct {
	sim    Controller
	logger *slog.Logger
}

func NewSimulationHandler(sim Controller, logger *slog.Logger) *SimulationHandler {
	return &SimulationHandler{sim: sim, logger: logger.With(slog.String("handler", "simulation"))}
}

type statsResponse struct {
	RunID      string                          `json:"run_id"`
	State      string                          `json:"state"`
	Simulation domain.SimulationStats          `json:"simulation"`
	Strategies map[string]domain.StrategyStats `json:"strategies"`
}

// GetStats returns the current simulation and per-strategy statistics.
// GET /api/stats
func (h *SimulationHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	snap := h.sim.Snapshot()
	writeJSON(w, http.StatusOK, statsResponse{
		RunID:      snap.RunID,
		State:      h.sim.State().String(),
		Simulation: snap.Simulation,
		Strategies: snap.Strategies,
	})
}

// ListStrategies returns every built strategy with its enablement and
// statistics.
// GET /api/strategies
func (h *SimulationHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	engine := h.sim.Engine()
	if engine == nil {
		writeJSON(w, http.StatusOK, []strategy.StrategyInfo{})
		return
	}
	writeJSON(w, http.StatusOK, engine.Registry().ListInfo())
}

// SetStrategyEnabled toggles one strategy.
// POST /api/strategies/{name}/enable, POST /api/strategies/{name}/disable
func (h *SimulationHandler) SetStrategyEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		engine := h.sim.Engine()
		if engine == nil {
			writeError(w, http.StatusConflict, "simulator is not initialized")
			return
		}
		s, err := engine.Registry().Get(name)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		s.SetEnabled(enabled)
		h.logger.InfoContext(r.Context(), "strategy toggled",
			slog.String("strategy", name),
			slog.Bool("enabled", enabled),
		)
		writeJSON(w, http.StatusOK, strategy.StrategyInfo{Name: name, Enabled: s.Enabled(), Stats: s.Stats()})
	}
}

// Control runs one lifecycle action.
// POST /api/simulation/pause, /resume, /stop
func (h *SimulationHandler) Control(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	var err error
	switch action {
	case "pause":
		err = h.sim.Pause()
	case "resume":
		err = h.sim.Resume()
	case "stop":
		err = h.sim.Stop()
	default:
		writeError(w, http.StatusNotFound, "unknown action "+action)
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "simulation control", slog.String("action", action))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"action": action,
		"state":  h.sim.State().String(),
	})
}

type exportRequest struct {
	Formats []string `json:"formats"`
}

// Export writes result files and returns their paths. Formats default to
// csv and json.
// POST /api/simulation/export
func (h *SimulationHandler) Export(w http.ResponseWriter, r *http.Request) {
	req := exportRequest{Formats: []string{"csv", "json"}}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	paths, err := h.sim.ExportResults(r.Context(), req.Formats)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paths": paths})
}
