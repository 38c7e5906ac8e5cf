package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Mohith0505/NextGenAlgo/internal/broker"
	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/server/middleware"
	"github.com/Mohith0505/NextGenAlgo/internal/vault"
)

// BrokerHandler manages broker links: connect, session lifecycle and the
// positions/holdings/margin passthrough.
type BrokerHandler struct {
	registry   *broker.Registry
	dispatcher *broker.Dispatcher
	links      domain.BrokerLinkStore
	accounts   domain.AccountStore
	vault      *vault.Vault
	now        func() time.Time
}

func NewBrokerHandler(registry *broker.Registry, dispatcher *broker.Dispatcher,
	links domain.BrokerLinkStore, accounts domain.AccountStore, v *vault.Vault) *BrokerHandler {
	return &BrokerHandler{
		registry:   registry,
		dispatcher: dispatcher,
		links:      links,
		accounts:   accounts,
		vault:      v,
		now:        time.Now,
	}
}

// Supported lists the registered broker adapter kinds.
// GET /api/brokers/supported
func (h *BrokerHandler) Supported(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"brokers": h.registry.Supported()})
}

// Connect creates a broker link, vaults the credentials and performs the
// initial login. The credentials never come back out through this API.
// POST /api/brokers/connect
func (h *BrokerHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	var req struct {
		Broker      string            `json:"broker"`
		ClientCode  string            `json:"client_code"`
		Credentials map[string]string `json:"credentials"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Broker == "" {
		writeError(w, &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: "broker is required"})
		return
	}
	if _, err := h.registry.Get(req.Broker, broker.Options{}); err != nil {
		writeError(w, err)
		return
	}

	now := h.now()
	link := domain.BrokerLink{
		ID:         uuid.New().String(),
		UserID:     userID,
		Kind:       domain.BrokerKind(broker.NormalizeKind(req.Broker)),
		ClientCode: req.ClientCode,
		Status:     domain.LinkDisconnected,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.links.Create(r.Context(), link); err != nil {
		writeError(w, err)
		return
	}
	if err := h.vault.Store(r.Context(), link.ID, vault.Secrets(req.Credentials)); err != nil {
		writeError(w, err)
		return
	}

	connected, err := h.dispatcher.Connect(r.Context(), link)
	if err != nil {
		// The link persists in error state so the user can retry login.
		writeError(w, err)
		return
	}
	h.syncAccount(r, connected)
	writeJSON(w, http.StatusCreated, connected)
}

// List returns the user's broker links.
// GET /api/brokers
func (h *BrokerHandler) List(w http.ResponseWriter, r *http.Request) {
	links, err := h.links.ListByUser(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"brokers": links})
}

// Login re-authenticates an existing link using vaulted credentials.
// POST /api/brokers/{id}/login
func (h *BrokerHandler) Login(w http.ResponseWriter, r *http.Request) {
	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}
	connected, err := h.dispatcher.Connect(r.Context(), link)
	if err != nil {
		writeError(w, err)
		return
	}
	h.syncAccount(r, connected)
	writeJSON(w, http.StatusOK, connected)
}

// Logout ends the broker session.
// POST /api/brokers/{id}/logout
func (h *BrokerHandler) Logout(w http.ResponseWriter, r *http.Request) {
	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}
	if err := h.dispatcher.Logout(r.Context(), link); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "disconnected"})
}

// Delete removes the link, its vaulted credentials and (by cascade) its
// accounts.
// DELETE /api/brokers/{id}
func (h *BrokerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}
	if link.Status == domain.LinkConnected {
		_ = h.dispatcher.Logout(r.Context(), link)
	}
	if err := h.vault.Forget(r.Context(), link.ID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.links.Delete(r.Context(), link.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Positions returns broker-side open positions.
// GET /api/brokers/{id}/positions
func (h *BrokerHandler) Positions(w http.ResponseWriter, r *http.Request) {
	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}
	positions, err := h.dispatcher.Positions(r.Context(), link)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// Holdings returns broker-side delivery holdings.
// GET /api/brokers/{id}/holdings
func (h *BrokerHandler) Holdings(w http.ResponseWriter, r *http.Request) {
	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}
	holdings, err := h.dispatcher.Holdings(r.Context(), link)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holdings": holdings})
}

// Margin returns the current margin snapshot and refreshes the stored copy.
// GET /api/brokers/{id}/margin
func (h *BrokerHandler) Margin(w http.ResponseWriter, r *http.Request) {
	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}
	snap, err := h.dispatcher.Margin(r.Context(), link)
	if err != nil {
		writeError(w, err)
		return
	}
	h.syncMargin(r, link, snap)
	writeJSON(w, http.StatusOK, snap)
}

// Convert moves a position between product types on brokers that support it.
// POST /api/brokers/{id}/convert
func (h *BrokerHandler) Convert(w http.ResponseWriter, r *http.Request) {
	link, ok := h.ownedLink(w, r)
	if !ok {
		return
	}

	var req struct {
		Symbol      string `json:"symbol"`
		Exchange    string `json:"exchange"`
		Quantity    int64  `json:"quantity"`
		FromProduct string `json:"from_product"`
		ToProduct   string `json:"to_product"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Symbol == "" || req.Quantity <= 0 || req.FromProduct == "" || req.ToProduct == "" {
		writeError(w, &domain.RiskViolation{
			Code:    domain.CodeAllocationInvalid,
			Message: "symbol, quantity, from_product and to_product are required",
		})
		return
	}

	err := h.dispatcher.Convert(r.Context(), link, broker.ConvertRequest{
		Symbol:      req.Symbol,
		Exchange:    req.Exchange,
		Quantity:    req.Quantity,
		FromProduct: req.FromProduct,
		ToProduct:   req.ToProduct,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "converted"})
}

// ownedLink loads the path link and enforces ownership. Foreign links look
// like 404 so link ids are not probeable.
func (h *BrokerHandler) ownedLink(w http.ResponseWriter, r *http.Request) (domain.BrokerLink, bool) {
	link, err := h.links.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return domain.BrokerLink{}, false
	}
	if link.UserID != middleware.UserID(r.Context()) {
		writeError(w, domain.ErrNotFound)
		return domain.BrokerLink{}, false
	}
	return link, true
}

// syncAccount refreshes the account row backing a freshly-connected link,
// best effort.
func (h *BrokerHandler) syncAccount(r *http.Request, link domain.BrokerLink) {
	snap, err := h.dispatcher.Margin(r.Context(), link)
	if err != nil {
		return
	}
	h.syncMargin(r, link, snap)
}

func (h *BrokerHandler) syncMargin(r *http.Request, link domain.BrokerLink, snap domain.MarginSnapshot) {
	_ = h.accounts.Upsert(r.Context(), domain.Account{
		ID:              uuid.New().String(),
		BrokerLinkID:    link.ID,
		BrokerAccountID: link.ClientCode,
		Currency:        snap.Currency,
		MarginAvailable: snap.Available,
		MarginUtilized:  snap.Utilized,
		UpdatedAt:       h.now(),
	})
}
