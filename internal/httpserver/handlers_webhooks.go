package httpserver

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apierrors "github.com/sbtcgateway/server/internal/errors"
	"github.com/sbtcgateway/server/internal/merchant"
	"github.com/sbtcgateway/server/internal/storage"
	"github.com/sbtcgateway/server/internal/token"
	"github.com/sbtcgateway/server/internal/webhooks"
	"github.com/sbtcgateway/server/pkg/responders"
)

type createWebhookRequest struct {
	WebhookURL string   `json:"webhook_url"`
	Events     []string `json:"events"`
}

// webhookResponse is the endpoint projection. The signing secret appears
// only in the creation response.
type webhookResponse struct {
	ID            string   `json:"id"`
	Object        string   `json:"object"`
	URL           string   `json:"url"`
	WebhookSecret string   `json:"webhook_secret,omitempty"`
	Events        []string `json:"events"`
	Active        bool     `json:"active"`
	Created       int64    `json:"created"`
}

func publicEndpoint(ep storage.WebhookEndpoint) webhookResponse {
	events := ep.EventTypes
	if events == nil {
		events = []string{}
	}
	return webhookResponse{
		ID:      ep.ID,
		Object:  "webhook_endpoint",
		URL:     ep.URL,
		Events:  events,
		Active:  ep.Active,
		Created: ep.CreatedAt.Unix(),
	}
}

// createWebhookEndpoint handles POST /webhooks.
func (h *handlers) createWebhookEndpoint(w http.ResponseWriter, r *http.Request) {
	caller, ok := merchant.FromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeAuthenticationError, "invalid or missing API key")
		return
	}

	var req createWebhookRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "malformed JSON body")
		return
	}
	if req.WebhookURL == "" {
		apierrors.WriteError(w, apierrors.ErrCodeMissingField, "webhook_url is required",
			map[string]any{"field": "webhook_url"})
		return
	}
	if err := validateWebhookURL(req.WebhookURL); err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidURL, err.Error(),
			map[string]any{"field": "webhook_url"})
		return
	}
	for _, event := range req.Events {
		if event != webhooks.EventIntentSucceeded && event != webhooks.EventIntentFailed {
			apierrors.WriteError(w, apierrors.ErrCodeInvalidField, "unknown event type "+event,
				map[string]any{"field": "events"})
			return
		}
	}

	endpoint := storage.WebhookEndpoint{
		ID:         token.NewEndpointID(),
		MerchantID: caller.ID,
		URL:        req.WebhookURL,
		Secret:     token.NewWebhookSecret(),
		EventTypes: req.Events,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.CreateWebhookEndpoint(r.Context(), endpoint); err != nil {
		apierrors.WriteFromError(w, err)
		return
	}

	response := publicEndpoint(endpoint)
	response.WebhookSecret = endpoint.Secret
	responders.JSON(w, http.StatusOK, response)
}

// listWebhookEndpoints handles GET /webhooks.
func (h *handlers) listWebhookEndpoints(w http.ResponseWriter, r *http.Request) {
	caller, ok := merchant.FromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeAuthenticationError, "invalid or missing API key")
		return
	}

	endpoints, err := h.store.ListWebhookEndpoints(r.Context(), caller.ID)
	if err != nil {
		apierrors.WriteFromError(w, err)
		return
	}

	responses := make([]webhookResponse, 0, len(endpoints))
	for _, ep := range endpoints {
		responses = append(responses, publicEndpoint(ep))
	}
	responders.List(w, http.StatusOK, responses)
}

// eventResponse is the delivery-bookkeeping projection for GET /events.
// Undelivered events stay listed with their final error so merchants can
// see exactly what they missed.
type eventResponse struct {
	ID               string `json:"id"`
	Object           string `json:"object"`
	Type             string `json:"type"`
	PaymentIntentID  string `json:"paymentIntentId,omitempty"`
	EndpointID       string `json:"endpointId"`
	Status           string `json:"status"`
	DeliveryAttempts int    `json:"deliveryAttempts"`
	LastError        string `json:"lastError,omitempty"`
	DeliveredAt      *int64 `json:"deliveredAt"`
	Created          int64  `json:"created"`
}

// listEvents handles GET /events with optional status and limit filters.
func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	caller, ok := merchant.FromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeAuthenticationError, "invalid or missing API key")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			apierrors.WriteError(w, apierrors.ErrCodeInvalidField, "limit must be between 1 and 500",
				map[string]any{"field": "limit"})
			return
		}
		limit = parsed
	}

	status := storage.EventStatus(r.URL.Query().Get("status"))
	switch status {
	case "", storage.EventStatusPending, storage.EventStatusProcessing,
		storage.EventStatusDelivered, storage.EventStatusFailed:
	default:
		apierrors.WriteError(w, apierrors.ErrCodeInvalidField, "unknown event status "+string(status),
			map[string]any{"field": "status"})
		return
	}

	events, err := h.store.ListEvents(r.Context(), caller.ID, status, limit)
	if err != nil {
		apierrors.WriteFromError(w, err)
		return
	}

	responses := make([]eventResponse, 0, len(events))
	for _, event := range events {
		item := eventResponse{
			ID:               event.ID,
			Object:           "event",
			Type:             event.Type,
			PaymentIntentID:  event.IntentID,
			EndpointID:       event.EndpointID,
			Status:           string(event.Status),
			DeliveryAttempts: event.Attempts,
			LastError:        event.LastError,
			Created:          event.CreatedAt.Unix(),
		}
		if event.DeliveredAt != nil {
			delivered := event.DeliveredAt.Unix()
			item.DeliveredAt = &delivered
		}
		responses = append(responses, item)
	}
	responders.List(w, http.StatusOK, responses)
}

// validateWebhookURL accepts absolute http/https URLs with a host.
func validateWebhookURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("webhook_url is not a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("webhook_url scheme must be http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("webhook_url must include a host")
	}
	return nil
}
