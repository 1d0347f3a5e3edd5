package httpserver

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/sbtcgateway/server/internal/errors"
	"github.com/sbtcgateway/server/pkg/responders"
)

// health handles GET /health, including storage reachability.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	statusCode := http.StatusOK
	storageHealthy := true
	if err := h.store.Ping(ctx); err != nil {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
		storageHealthy = false
	}

	responders.JSON(w, statusCode, map[string]any{
		"status":        status,
		"uptimeSeconds": int64(time.Since(serverStartTime).Seconds()),
		"storage":       storageHealthy,
	})
}

// currentPrice handles GET /price, serving the cached BTC/USD quote used
// by the hosted checkout page to display fiat equivalents.
func (h *handlers) currentPrice(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUpstreamUnavailable, "price feed is not configured")
		return
	}
	quote, err := h.prices.Current(r.Context())
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUpstreamUnavailable, "price feed unavailable")
		return
	}
	responders.JSON(w, http.StatusOK, quote)
}
