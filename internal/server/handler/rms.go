package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/rms"
	"github.com/Mohith0505/NextGenAlgo/internal/server/middleware"
)

// RmsHandler serves the guardrail configuration and status surface.
type RmsHandler struct {
	store    domain.RmsStore
	accounts domain.AccountStore
	gate     *rms.Gate
	enforcer *rms.Enforcer
	now      func() time.Time
}

func NewRmsHandler(store domain.RmsStore, accounts domain.AccountStore,
	gate *rms.Gate, enforcer *rms.Enforcer) *RmsHandler {
	return &RmsHandler{
		store:    store,
		accounts: accounts,
		gate:     gate,
		enforcer: enforcer,
		now:      time.Now,
	}
}

// GetConfig returns the user's guardrail scalars.
// GET /api/rms/config
func (h *RmsHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.GetConfig(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// SetConfig replaces the user's guardrail scalars. Absent fields disable the
// corresponding rule.
// POST /api/rms/config
func (h *RmsHandler) SetConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.RmsConfig
	if err := decode(r, &cfg); err != nil {
		writeError(w, err)
		return
	}

	if err := validateConfig(cfg); err != nil {
		writeError(w, err)
		return
	}

	cfg.UserID = middleware.UserID(r.Context())
	cfg.UpdatedAt = h.now()
	if err := h.store.UpsertConfig(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func validateConfig(cfg domain.RmsConfig) error {
	reject := func(msg string) error {
		return &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: msg}
	}
	if cfg.MaxLotsPerOrder != nil && *cfg.MaxLotsPerOrder <= 0 {
		return reject("max_lots_per_order must be positive")
	}
	if cfg.MaxDailyLots != nil && *cfg.MaxDailyLots <= 0 {
		return reject("max_daily_lots must be positive")
	}
	if cfg.MaxDailyLoss != nil && !cfg.MaxDailyLoss.IsPositive() {
		return reject("max_daily_loss must be positive")
	}
	if cfg.ExposureLimit != nil && !cfg.ExposureLimit.IsPositive() {
		return reject("exposure_limit must be positive")
	}
	if cfg.AutoSquareOffBufferPct != nil {
		pct := *cfg.AutoSquareOffBufferPct
		if pct.IsNegative() || pct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return reject("auto_square_off_buffer_pct must be in [0, 100)")
		}
	}
	return nil
}

// Status returns the live guardrail headroom with proximity alerts.
// GET /api/rms/status
func (h *RmsHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	accounts, err := h.accounts.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	margin := decimal.Zero
	for _, a := range accounts {
		margin = margin.Add(a.MarginAvailable)
	}

	status, err := h.gate.Status(r.Context(), userID, margin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SquareOff flattens all open positions on user request.
// POST /api/rms/squareoff
func (h *RmsHandler) SquareOff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = decode(r, &req) // body is optional

	reason := req.Reason
	if reason == "" {
		reason = "user requested square-off"
	}

	count, err := h.enforcer.ManualSquareOff(r.Context(), middleware.UserID(r.Context()), reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"positions_squared_off": count})
}

// Enforce runs one post-trade rule sweep for the user and reports the rule
// that fired, if any.
// POST /api/rms/enforce
func (h *RmsHandler) Enforce(w http.ResponseWriter, r *http.Request) {
	rule, err := h.enforcer.Sweep(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fired":      rule != "",
		"rule":       rule,
		"checked_at": h.now().UTC(),
	})
}
