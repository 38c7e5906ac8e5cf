package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Mohith0505/NextGenAlgo/internal/allocation"
	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/execution"
	"github.com/Mohith0505/NextGenAlgo/internal/server/middleware"
)

// GroupHandler manages execution groups, their account mappings, allocation
// previews and the group order fan-out.
type GroupHandler struct {
	groups       domain.GroupStore
	accounts     domain.AccountStore
	runs         domain.RunStore
	events       domain.EventStore
	orders       domain.OrderStore
	planner      *allocation.Planner
	orchestrator *execution.Orchestrator
	now          func() time.Time
}

func NewGroupHandler(groups domain.GroupStore, accounts domain.AccountStore,
	runs domain.RunStore, events domain.EventStore, orders domain.OrderStore,
	planner *allocation.Planner, orchestrator *execution.Orchestrator) *GroupHandler {
	return &GroupHandler{
		groups:       groups,
		accounts:     accounts,
		runs:         runs,
		events:       events,
		orders:       orders,
		planner:      planner,
		orchestrator: orchestrator,
		now:          time.Now,
	}
}

type groupRequest struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	Mode              string `json:"mode"`
	RollbackOnPartial bool   `json:"rollback_on_partial"`
	StaggerDelayMs    int64  `json:"stagger_delay_ms"`
}

func (req groupRequest) validate() error {
	if req.Name == "" {
		return &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: "name is required"}
	}
	switch domain.ExecutionMode(req.Mode) {
	case domain.ModeParallel, domain.ModeSync, domain.ModeStaggered:
		return nil
	}
	return &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: "mode must be parallel, sync or staggered"}
}

// Create creates an execution group.
// POST /api/execution-groups
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	now := h.now()
	group := domain.ExecutionGroup{
		ID:                uuid.New().String(),
		UserID:            middleware.UserID(r.Context()),
		Name:              req.Name,
		Description:       req.Description,
		Mode:              domain.ExecutionMode(req.Mode),
		RollbackOnPartial: req.RollbackOnPartial,
		StaggerDelayMs:    req.StaggerDelayMs,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.groups.Create(r.Context(), group); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

// List returns the user's groups.
// GET /api/execution-groups
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.ListByUser(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"execution_groups": groups})
}

// Get returns one group with its account mappings.
// GET /api/execution-groups/{id}
func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	group, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}
	mappings, err := h.groups.ListMappings(r.Context(), group.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": group, "accounts": mappings})
}

// Update patches group settings.
// PATCH /api/execution-groups/{id}
func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	group, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}

	var req struct {
		Name              *string `json:"name"`
		Description       *string `json:"description"`
		Mode              *string `json:"mode"`
		RollbackOnPartial *bool   `json:"rollback_on_partial"`
		StaggerDelayMs    *int64  `json:"stagger_delay_ms"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if req.Name != nil {
		group.Name = *req.Name
	}
	if req.Description != nil {
		group.Description = *req.Description
	}
	if req.Mode != nil {
		switch domain.ExecutionMode(*req.Mode) {
		case domain.ModeParallel, domain.ModeSync, domain.ModeStaggered:
			group.Mode = domain.ExecutionMode(*req.Mode)
		default:
			writeError(w, &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: "mode must be parallel, sync or staggered"})
			return
		}
	}
	if req.RollbackOnPartial != nil {
		group.RollbackOnPartial = *req.RollbackOnPartial
	}
	if req.StaggerDelayMs != nil {
		group.StaggerDelayMs = *req.StaggerDelayMs
	}
	group.UpdatedAt = h.now()

	if err := h.groups.Update(r.Context(), group); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// Delete removes a group and its mappings.
// DELETE /api/execution-groups/{id}
func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	group, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}
	if err := h.groups.Delete(r.Context(), middleware.UserID(r.Context()), group.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddAccount maps an account into the group under one allocation policy.
// POST /api/execution-groups/{id}/accounts
func (h *GroupHandler) AddAccount(w http.ResponseWriter, r *http.Request) {
	group, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}

	var req struct {
		AccountID string  `json:"account_id"`
		Policy    string  `json:"policy"`
		Weight    float64 `json:"weight"`
		FixedLots int64   `json:"fixed_lots"`
		Position  int     `json:"position"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.accounts.GetByID(r.Context(), req.AccountID); err != nil {
		writeError(w, err)
		return
	}

	mapping := domain.GroupAccountMapping{
		ID:        uuid.New().String(),
		GroupID:   group.ID,
		AccountID: req.AccountID,
		Policy:    domain.AllocationPolicy(req.Policy),
		Weight:    req.Weight,
		FixedLots: req.FixedLots,
		Position:  req.Position,
		CreatedAt: h.now(),
	}
	if err := mapping.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := h.groups.AddMapping(r.Context(), mapping); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapping)
}

// UpdateAccount patches a mapping's policy parameters.
// PATCH /api/execution-groups/{id}/accounts/{mapping_id}
func (h *GroupHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	group, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}

	mappings, err := h.groups.ListMappings(r.Context(), group.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	var mapping domain.GroupAccountMapping
	found := false
	for _, m := range mappings {
		if m.ID == r.PathValue("mapping_id") {
			mapping, found = m, true
			break
		}
	}
	if !found {
		writeError(w, domain.ErrNotFound)
		return
	}

	var req struct {
		Policy    *string  `json:"policy"`
		Weight    *float64 `json:"weight"`
		FixedLots *int64   `json:"fixed_lots"`
		Position  *int     `json:"position"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Policy != nil {
		mapping.Policy = domain.AllocationPolicy(*req.Policy)
	}
	if req.Weight != nil {
		mapping.Weight = *req.Weight
	}
	if req.FixedLots != nil {
		mapping.FixedLots = *req.FixedLots
	}
	if req.Position != nil {
		mapping.Position = *req.Position
	}
	if err := mapping.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := h.groups.UpdateMapping(r.Context(), mapping); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

// RemoveAccount drops a mapping from the group.
// DELETE /api/execution-groups/{id}/accounts/{mapping_id}
func (h *GroupHandler) RemoveAccount(w http.ResponseWriter, r *http.Request) {
	group, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}
	if err := h.groups.RemoveMapping(r.Context(), group.ID, r.PathValue("mapping_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Preview plans the allocation for a hypothetical order without dispatching.
// GET /api/execution-groups/{id}/preview?lots=N&lot_size=M
func (h *GroupHandler) Preview(w http.ResponseWriter, r *http.Request) {
	group, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}

	lots, err := strconv.ParseInt(r.URL.Query().Get("lots"), 10, 64)
	if err != nil || lots <= 0 {
		writeError(w, &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: "lots must be a positive integer"})
		return
	}
	lotSize := int64(1)
	if raw := r.URL.Query().Get("lot_size"); raw != "" {
		if lotSize, err = strconv.ParseInt(raw, 10, 64); err != nil || lotSize <= 0 {
			writeError(w, &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: "lot_size must be a positive integer"})
			return
		}
	}

	mappings, err := h.groups.ListMappings(r.Context(), group.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	links := make(map[string]string, len(mappings))
	for _, m := range mappings {
		acct, err := h.accounts.GetByID(r.Context(), m.AccountID)
		if err != nil {
			writeError(w, err)
			return
		}
		links[m.AccountID] = acct.BrokerLinkID
	}

	alloc, err := h.planner.Plan(mappings, links, lots, lotSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allocation": wireAllocation(alloc.Legs),
		"trace":      wireAllocation(alloc.Trace),
	})
}

type orderRequest struct {
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	Lots        int64            `json:"lots"`
	LotSize     int64            `json:"lot_size"`
	OrderType   string           `json:"order_type"`
	Price       *decimal.Decimal `json:"price"`
	TakeProfit  *decimal.Decimal `json:"take_profit"`
	StopLoss    *decimal.Decimal `json:"stop_loss"`
	Exchange    string           `json:"exchange"`
	SymbolToken string           `json:"symbol_token"`
	StrategyID  string           `json:"strategy_id"`
}

func (req orderRequest) intent() (domain.TradeIntent, error) {
	if req.Symbol == "" {
		return domain.TradeIntent{}, &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: "symbol is required"}
	}
	side := domain.OrderSide(req.Side)
	if side != domain.SideBuy && side != domain.SideSell {
		return domain.TradeIntent{}, &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: "side must be BUY or SELL"}
	}
	if req.Lots <= 0 || req.LotSize <= 0 {
		return domain.TradeIntent{}, &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: "lots and lot_size must be positive"}
	}
	orderType := domain.OrderType(req.OrderType)
	if orderType == "" {
		orderType = domain.OrderMarket
	}
	if orderType != domain.OrderMarket && orderType != domain.OrderLimit {
		return domain.TradeIntent{}, &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: "order_type must be MARKET or LIMIT"}
	}
	if orderType == domain.OrderLimit && req.Price == nil {
		return domain.TradeIntent{}, &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: "limit orders require a price"}
	}
	return domain.TradeIntent{
		Symbol:      req.Symbol,
		Side:        side,
		Lots:        req.Lots,
		LotSize:     req.LotSize,
		OrderType:   orderType,
		Price:       req.Price,
		TakeProfit:  req.TakeProfit,
		StopLoss:    req.StopLoss,
		Exchange:    req.Exchange,
		SymbolToken: req.SymbolToken,
		StrategyID:  req.StrategyID,
	}, nil
}

// PlaceOrder fans an order intent out across the group.
// POST /api/execution-groups/{id}/orders
func (h *GroupHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	group, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}

	var req orderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	intent, err := req.intent()
	if err != nil {
		writeError(w, err)
		return
	}

	run, err := h.orchestrator.Execute(r.Context(), middleware.UserID(r.Context()), group.ID, "", intent)
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

	var legs []domain.AllocationLeg
	if v, ok := run.Payload["allocation"].([]domain.AllocationLeg); ok {
		legs = v
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"execution_run_id": run.ID,
		"status":           run.Status,
		"allocation":       wireAllocation(legs),
		"orders":           orderIDs,
	})
}

// Runs lists the group's execution runs, newest first.
// GET /api/execution-groups/{id}/runs
func (h *GroupHandler) Runs(w http.ResponseWriter, r *http.Request) {
	group, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}
	runs, err := h.runs.ListByGroup(r.Context(), group.ID, listOpts(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// RunEvents returns the per-leg event log of one run in sequence order.
// GET /api/execution-groups/{id}/runs/{run_id}/events
func (h *GroupHandler) RunEvents(w http.ResponseWriter, r *http.Request) {
	group, ok := h.ownedGroup(w, r)
	if !ok {
		return
	}
	run, err := h.runs.GetByID(r.Context(), r.PathValue("run_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if run.GroupID != group.ID {
		writeError(w, domain.ErrNotFound)
		return
	}
	events, err := h.events.ListByRun(r.Context(), run.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "events": events})
}

func (h *GroupHandler) ownedGroup(w http.ResponseWriter, r *http.Request) (domain.ExecutionGroup, bool) {
	group, err := h.groups.GetByID(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return domain.ExecutionGroup{}, false
	}
	return group, true
}

// allocationEntry is the wire shape of one planned leg.
type allocationEntry struct {
	AccountID string                  `json:"account_id"`
	BrokerID  string                  `json:"broker_id"`
	Lots      int64                   `json:"lots"`
	Quantity  int64                   `json:"quantity"`
	Policy    domain.AllocationPolicy `json:"allocation_policy"`
	Weight    float64                 `json:"weight,omitempty"`
	FixedLots int64                   `json:"fixed_lots,omitempty"`
}

func wireAllocation(legs []domain.AllocationLeg) []allocationEntry {
	out := make([]allocationEntry, 0, len(legs))
	for _, leg := range legs {
		out = append(out, allocationEntry{
			AccountID: leg.AccountID,
			BrokerID:  leg.BrokerLinkID,
			Lots:      leg.Lots,
			Quantity:  leg.Quantity,
			Policy:    leg.Policy,
			Weight:    leg.Weight,
			FixedLots: leg.FixedLots,
		})
	}
	return out
}

// listOpts pulls limit/offset pagination from the query string.
func listOpts(r *http.Request) domain.ListOpts {
	opts := domain.ListOpts{Limit: 50}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			opts.Limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	return opts
}
