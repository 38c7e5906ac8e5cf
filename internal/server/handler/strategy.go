package handler

import (
	"net/http"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/server/middleware"
	"github.com/Mohith0505/NextGenAlgo/internal/strategy"
)

// StrategyHandler manages strategies and their run lifecycle.
type StrategyHandler struct {
	strategies *strategy.Service
}

func NewStrategyHandler(strategies *strategy.Service) *StrategyHandler {
	return &StrategyHandler{strategies: strategies}
}

// Create registers a strategy.
// POST /api/strategies
func (h *StrategyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string         `json:"name"`
		Type   string         `json:"type"`
		Params map[string]any `json:"params"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	strat, err := h.strategies.Create(r.Context(), middleware.UserID(r.Context()),
		req.Name, domain.StrategyType(req.Type), req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, strat)
}

// List returns the user's strategies.
// GET /api/strategies
func (h *StrategyHandler) List(w http.ResponseWriter, r *http.Request) {
	strats, err := h.strategies.List(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": strats})
}

// Get returns one strategy.
// GET /api/strategies/{id}
func (h *StrategyHandler) Get(w http.ResponseWriter, r *http.Request) {
	strat, err := h.strategies.Get(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strat)
}

// Update patches name and params.
// PATCH /api/strategies/{id}
func (h *StrategyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string         `json:"name"`
		Params map[string]any `json:"params"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	strat, err := h.strategies.Update(r.Context(), middleware.UserID(r.Context()),
		r.PathValue("id"), req.Name, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strat)
}

// Delete removes a strategy.
// DELETE /api/strategies/{id}
func (h *StrategyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.strategies.Delete(r.Context(), middleware.UserID(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Start launches a strategy run in backtest, paper or live mode.
// POST /api/strategies/{id}/start
func (h *StrategyHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	run, err := h.strategies.Start(r.Context(), middleware.UserID(r.Context()),
		r.PathValue("id"), domain.StrategyMode(req.Mode))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// Stop stops a running strategy run and the strategy.
// POST /api/strategies/{id}/stop
func (h *StrategyHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"run_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	run, err := h.strategies.Stop(r.Context(), middleware.UserID(r.Context()),
		r.PathValue("id"), req.RunID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Runs lists the strategy's runs.
// GET /api/strategies/{id}/runs
func (h *StrategyHandler) Runs(w http.ResponseWriter, r *http.Request) {
	runs, err := h.strategies.Runs(r.Context(), middleware.UserID(r.Context()),
		r.PathValue("id"), listOpts(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// Logs lists the strategy's log lines.
// GET /api/strategies/{id}/logs
func (h *StrategyHandler) Logs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.strategies.Logs(r.Context(), middleware.UserID(r.Context()),
		r.PathValue("id"), listOpts(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// PnL returns the realized PnL rollup over the strategy's terminal runs.
// GET /api/strategies/{id}/pnl
func (h *StrategyHandler) PnL(w http.ResponseWriter, r *http.Request) {
	pnl, runCount, err := h.strategies.PnL(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pnl": pnl, "runs": runCount})
}
