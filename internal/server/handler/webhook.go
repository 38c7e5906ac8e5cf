package handler

import (
	"io"
	"net/http"

	"github.com/Mohith0505/NextGenAlgo/internal/webhook"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 64 * 1024

// WebhookHandler is the public signal ingress. Authentication is the
// connector token in the path; there is no bearer token on this route.
type WebhookHandler struct {
	ingress *webhook.Ingress
}

func NewWebhookHandler(ingress *webhook.Ingress) *WebhookHandler {
	return &WebhookHandler{ingress: ingress}
}

// Receive accepts one signal delivery. Duplicate deliveries inside the
// idempotency window return 409 with the original run id.
// POST /api/webhooks/{connector_token}
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "ALLOCATION_INVALID", "unreadable payload")
		return
	}

	result, err := h.ingress.Handle(r.Context(), r.PathValue("connector_token"), payload)
	if result.Duplicate {
		writeJSON(w, http.StatusConflict, map[string]any{
			"run_id":    result.RunID,
			"duplicate": true,
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": result.RunID})
}
