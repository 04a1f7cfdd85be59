package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/mevsim/internal/config"
	"github.com/alanyoungcy/mevsim/internal/domain"
	"github.com/alanyoungcy/mevsim/internal/metrics"
	"github.com/alanyoungcy/mevsim/internal/server/handler"
	"github.com/alanyoungcy/mevsim/internal/strategy"
)

type fakeController struct {
	state   domain.SimulationState
	err     error
	engine  *strategy.Engine
	snap    domain.StatsSnapshot
	actions []string
	formats []string
	failOn  string
}

func (f *fakeController) RunID() string                  { return "run-1" }
func (f *fakeController) State() domain.SimulationState  { return f.state }
func (f *fakeController) Err() error                     { return f.err }
func (f *fakeController) Snapshot() domain.StatsSnapshot { return f.snap }
func (f *fakeController) Engine() *strategy.Engine       { return f.engine }

func (f *fakeController) act(name string, next domain.SimulationState) error {
	if f.failOn == name {
		return fmt.Errorf("simulator: %s: %w", name, domain.ErrInvalidState)
	}
	f.actions = append(f.actions, name)
	f.state = next
	return nil
}

func (f *fakeController) Pause() error  { return f.act("pause", domain.StatePaused) }
func (f *fakeController) Resume() error { return f.act("resume", domain.StateRunning) }
func (f *fakeController) Stop() error   { return f.act("stop", domain.StateStopped) }

func (f *fakeController) ExportResults(_ context.Context, formats []string) ([]string, error) {
	f.formats = formats
	paths := make([]string, 0, len(formats))
	for _, ft := range formats {
		if ft != "csv" && ft != "json" {
			return nil, fmt.Errorf("export: %w: format %q", domain.ErrConfiguration, ft)
		}
		paths = append(paths, "/tmp/results."+ft)
	}
	return paths, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newController(t *testing.T) *fakeController {
	t.Helper()
	reg := strategy.NewRegistry()
	s := strategy.NewSandwich("sandwich", config.DefaultStrategyConfig(), discard(), metrics.Nop())
	if err := reg.Register(s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return &fakeController{
		state:  domain.StateRunning,
		engine: strategy.NewEngine(reg, 1, discard(), metrics.Nop()),
		snap: domain.StatsSnapshot{
			RunID:      "run-1",
			Simulation: domain.SimulationStats{BlocksProcessed: 7},
		},
	}
}

func do(t *testing.T, h http.HandlerFunc, method, target, body string, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthCheck(t *testing.T) {
	ctrl := newController(t)
	h := handler.NewHealthHandler(ctrl)

	rec := do(t, h.HealthCheck, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["state"] != "running" || body["run_id"] != "run-1" {
		t.Errorf("body %v", body)
	}

	ctrl.state = domain.StateError
	ctrl.err = errors.New("source failed")
	rec = do(t, h.HealthCheck, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}
	decode(t, rec, &body)
	if body["error"] != "source failed" {
		t.Errorf("body %v", body)
	}
}

func TestGetStats(t *testing.T) {
	h := handler.NewSimulationHandler(newController(t), discard())
	rec := do(t, h.GetStats, http.MethodGet, "/api/stats", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body struct {
		RunID      string                 `json:"run_id"`
		State      string                 `json:"state"`
		Simulation domain.SimulationStats `json:"simulation"`
	}
	decode(t, rec, &body)
	if body.RunID != "run-1" || body.State != "running" || body.Simulation.BlocksProcessed != 7 {
		t.Errorf("body %+v", body)
	}
}

func TestStrategiesListAndToggle(t *testing.T) {
	ctrl := newController(t)
	h := handler.NewSimulationHandler(ctrl, discard())

	rec := do(t, h.SetStrategyEnabled(false), http.MethodPost, "/api/strategies/sandwich/disable", "", map[string]string{"name": "sandwich"})
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, h.ListStrategies, http.MethodGet, "/api/strategies", "", nil)
	var infos []strategy.StrategyInfo
	decode(t, rec, &infos)
	if len(infos) != 1 || infos[0].Name != "sandwich" || infos[0].Enabled {
		t.Fatalf("infos %+v", infos)
	}

	rec = do(t, h.SetStrategyEnabled(true), http.MethodPost, "/api/strategies/missing/enable", "", map[string]string{"name": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown strategy status %d, want 404", rec.Code)
	}
}

func TestListStrategiesBeforeInitialize(t *testing.T) {
	h := handler.NewSimulationHandler(&fakeController{}, discard())
	rec := do(t, h.ListStrategies, http.MethodGet, "/api/strategies", "", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("got %d %q", rec.Code, rec.Body)
	}
}

func TestControl(t *testing.T) {
	tests := []struct {
		action string
		failOn string
		want   int
		state  string
	}{
		{action: "pause", want: http.StatusAccepted, state: "paused"},
		{action: "stop", want: http.StatusAccepted, state: "stopped"},
		{action: "resume", failOn: "resume", want: http.StatusConflict},
		{action: "restart", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			ctrl := newController(t)
			ctrl.failOn = tt.failOn
			h := handler.NewSimulationHandler(ctrl, discard())
			rec := do(t, h.Control, http.MethodPost, "/api/simulation/"+tt.action, "", map[string]string{"action": tt.action})
			if rec.Code != tt.want {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if tt.state == "" {
				return
			}
			var body map[string]string
			decode(t, rec, &body)
			if body["state"] != tt.state {
				t.Errorf("state %q, want %q", body["state"], tt.state)
			}
		})
	}
}

func TestExport(t *testing.T) {
	ctrl := newController(t)
	h := handler.NewSimulationHandler(ctrl, discard())

	rec := do(t, h.Export, http.MethodPost, "/api/simulation/export", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if len(ctrl.formats) != 2 {
		t.Errorf("default formats %v", ctrl.formats)
	}

	rec = do(t, h.Export, http.MethodPost, "/api/simulation/export", `{"formats":["json"]}`, nil)
	var body struct {
		Paths []string `json:"paths"`
	}
	decode(t, rec, &body)
	if len(body.Paths) != 1 || body.Paths[0] != "/tmp/results.json" {
		t.Errorf("paths %v", body.Paths)
	}

	rec = do(t, h.Export, http.MethodPost, "/api/simulation/export", `{"formats":["xml"]}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported format status %d, want 400", rec.Code)
	}

	rec = do(t, h.Export, http.MethodPost, "/api/simulation/export", `{"format":"csv"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field status %d, want 400", rec.Code)
	}
}
