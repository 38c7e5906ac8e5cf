package handler

import (
	"net/http"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/execution"
	"github.com/Mohith0505/NextGenAlgo/internal/server/middleware"
)

// OrderHandler serves the manual single-account order path and the order list.
type OrderHandler struct {
	orders       domain.OrderStore
	accounts     domain.AccountStore
	links        domain.BrokerLinkStore
	orchestrator *execution.Orchestrator
}

func NewOrderHandler(orders domain.OrderStore, accounts domain.AccountStore,
	links domain.BrokerLinkStore, orchestrator *execution.Orchestrator) *OrderHandler {
	return &OrderHandler{orders: orders, accounts: accounts, links: links, orchestrator: orchestrator}
}

// Place dispatches one manual order through the same RMS gate as group runs.
// POST /api/orders
func (h *OrderHandler) Place(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	var req struct {
		AccountID string `json:"account_id"`
		orderRequest
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.AccountID == "" {
		writeError(w, &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: "account_id is required"})
		return
	}
	intent, err := req.intent()
	if err != nil {
		writeError(w, err)
		return
	}

	// Ownership runs through the account's broker link.
	account, err := h.accounts.GetByID(r.Context(), req.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	link, err := h.links.GetByID(r.Context(), account.BrokerLinkID)
	if err != nil {
		writeError(w, err)
		return
	}
	if link.UserID != userID {
		writeError(w, domain.ErrNotFound)
		return
	}

	run, err := h.orchestrator.ExecuteDirect(r.Context(), userID, req.AccountID, intent)
	if err != nil {
		writeError(w, err)
		return
	}

	orders, err := h.orders.ListByRun(r.Context(), run.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	orderIDs := make([]string, 0, len(orders))
	for _, o := range orders {
		orderIDs = append(orderIDs, o.ID)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"execution_run_id": run.ID,
		"status":           run.Status,
		"orders":           orderIDs,
	})
}

// List returns the user's orders, newest first.
// GET /api/orders
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByUser(r.Context(), middleware.UserID(r.Context()), listOpts(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}
