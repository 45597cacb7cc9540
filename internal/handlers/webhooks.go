package handlers

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strike-edge/api/internal/platform/httpx"
	"github.com/strike-edge/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// WebhookHandlerConfig carries the header names and throttling applied to
// gateway notifications.
type WebhookHandlerConfig struct {
	SignatureHeader string
	TimestampHeader string
	RatePerMinute   int
	Clock           func() time.Time
}

// WebhookHandlers receives payment gateway notifications. The route is
// unauthenticated; authenticity comes from the signature check inside the
// reconciliation service.
type WebhookHandlers struct {
	reconciliation  services.ReconciliationService
	signatureHeader string
	timestampHeader string
	limiter         rateLimiter
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(reconciliation services.ReconciliationService, cfg WebhookHandlerConfig) *WebhookHandlers {
	signatureHeader := strings.TrimSpace(cfg.SignatureHeader)
	if signatureHeader == "" {
		signatureHeader = "x-webhook-signature"
	}
	timestampHeader := strings.TrimSpace(cfg.TimestampHeader)
	if timestampHeader == "" {
		timestampHeader = "x-webhook-timestamp"
	}

	return &WebhookHandlers{
		reconciliation:  reconciliation,
		signatureHeader: signatureHeader,
		timestampHeader: timestampHeader,
		limiter:         newSimpleRateLimiter(cfg.RatePerMinute, time.Minute, cfg.Clock),
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/cashfree", h.handleCashfree)
}

func (h *WebhookHandlers) handleCashfree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciliation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(limiterKey(r.RemoteAddr)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	signature := strings.TrimSpace(r.Header.Get(h.signatureHeader))
	timestamp := strings.TrimSpace(r.Header.Get(h.timestampHeader))

	ack, err := h.reconciliation.HandleNotification(ctx, body, signature, timestamp)
	if err != nil {
		if errors.Is(err, services.ErrInvalidSignature) {
			httpx.WriteError(ctx, w, httpx.BadRequest("invalid_signature", "webhook signature verification failed"))
			return
		}
		// Store failures must not be acked; the gateway will redeliver.
		httpx.WriteError(ctx, w, httpx.Internal("webhook_error"))
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookAckResponse{
		Outcome:        string(ack.Outcome),
		OrderID:        ack.OrderID,
		GatewayOrderID: ack.GatewayOrderID,
	})
}

// limiterKey buckets by client host. RemoteAddr carries an ephemeral port for
// direct connections, which would give every connection a fresh bucket.
func limiterKey(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

type webhookAckResponse struct {
	Outcome        string `json:"outcome"`
	OrderID        string `json:"order_id,omitempty"`
	GatewayOrderID string `json:"gateway_order_id,omitempty"`
}
