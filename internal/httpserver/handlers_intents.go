package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/sbtcgateway/server/internal/errors"
	"github.com/sbtcgateway/server/internal/intent"
	"github.com/sbtcgateway/server/internal/merchant"
	"github.com/sbtcgateway/server/internal/storage"
	"github.com/sbtcgateway/server/pkg/responders"
)

// intentResponse is the public projection of a payment intent. Amount is
// always satoshis. Secret hashes never appear; the client secret only
// appears in the creation response.
type intentResponse struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Description  string            `json:"description,omitempty"`
	Status       string            `json:"status"`
	ContractID   string            `json:"contractId"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	TxHash       string            `json:"txHash,omitempty"`
	BlockHeight  int64             `json:"blockHeight,omitempty"`
	Created      int64             `json:"created"`
	Updated      int64             `json:"updated"`
	ClientSecret string            `json:"clientSecret,omitempty"`
	CheckoutURL  string            `json:"checkoutUrl,omitempty"`
}

func publicIntent(pi storage.PaymentIntent) intentResponse {
	return intentResponse{
		ID:          pi.ID,
		Object:      "payment_intent",
		Amount:      pi.AmountSats,
		Currency:    "sats",
		Description: pi.Description,
		Status:      string(pi.Status),
		ContractID:  pi.ContractID,
		Metadata:    pi.Metadata,
		TxHash:      pi.TxHash,
		BlockHeight: pi.BlockHeight,
		Created:     pi.CreatedAt.Unix(),
		Updated:     pi.UpdatedAt.Unix(),
	}
}

// createPaymentIntent handles POST /payment_intents.
func (h *handlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	caller, ok := merchant.FromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeAuthenticationError, "invalid or missing API key")
		return
	}

	var req intent.CreateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "malformed JSON body")
		return
	}

	result, err := h.intents.Create(r.Context(), caller.ID, req)
	if err != nil {
		apierrors.WriteFromError(w, err)
		return
	}

	response := publicIntent(result.Intent)
	response.ClientSecret = result.ClientSecret
	response.CheckoutURL = result.CheckoutURL
	responders.JSON(w, http.StatusOK, response)
}

// getPaymentIntent handles GET /payment_intents/{id}.
func (h *handlers) getPaymentIntent(w http.ResponseWriter, r *http.Request) {
	h.respondWithIntent(w, r, chi.URLParam(r, "id"))
}

// getPaymentIntentByQuery handles GET /payment_intents?id=pi_...
func (h *handlers) getPaymentIntentByQuery(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		apierrors.WriteError(w, apierrors.ErrCodeMissingField, "id query parameter is required",
			map[string]any{"field": "id"})
		return
	}
	h.respondWithIntent(w, r, id)
}

func (h *handlers) respondWithIntent(w http.ResponseWriter, r *http.Request, id string) {
	pi, err := h.intents.Get(r.Context(), id)
	if err != nil {
		apierrors.WriteFromError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, publicIntent(pi))
}

// updatePaymentIntentStatus handles POST /payment_intents/{id}/status.
// Transition conflicts surface as 409, never 500: a lost race is a client
// visible outcome, not a server fault.
func (h *handlers) updatePaymentIntentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var update intent.StatusUpdate
	if err := decodeJSON(r.Body, &update); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "malformed JSON body")
		return
	}
	if update.Status == "" {
		apierrors.WriteError(w, apierrors.ErrCodeMissingField, "status is required",
			map[string]any{"field": "status"})
		return
	}

	updated, err := h.intents.ApplyStatusUpdate(r.Context(), id, update)
	if err != nil {
		apierrors.WriteFromError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, publicIntent(updated))
}
