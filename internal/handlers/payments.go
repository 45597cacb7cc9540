package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/strike-edge/api/internal/domain"
	"github.com/strike-edge/api/internal/platform/auth"
	"github.com/strike-edge/api/internal/platform/httpx"
	"github.com/strike-edge/api/internal/services"
)

// PaymentHandlers exposes the gateway checkout endpoints for authenticated customers.
type PaymentHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, orders services.OrderService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireFirebaseAuth())
		}
		g.Post("/cashfree/orders", h.createGatewayOrder)
	})
	// The lookup also serves anonymous return-URL polls from the gateway
	// redirect, so auth is attached when present rather than required.
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.OptionalFirebaseAuth())
		}
		g.Get("/cashfree/orders/{gatewayOrderID}", h.getByGatewayOrder)
	})
}

// createGatewayOrder places an order that settles through the gateway. The
// payment method is forced to ONLINE regardless of what the body claims.
func (h *PaymentHandlers) createGatewayOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	req, err := decodeCreateOrderRequest(r)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	req.PaymentMethod = string(domain.PaymentMethodOnline)

	cmd, err := buildCreateCommand(identity, req)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
		return
	}

	result, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{
		Order: buildOrderPayload(result.Order, true),
		Payment: &checkoutPaymentPayload{
			GatewayOrderID:   result.GatewayOrderID,
			PaymentSessionID: result.PaymentSessionID,
		},
	})
}

// getByGatewayOrder resolves an order from the gateway's order id. Return-URL
// polls land here before the webhook may have been processed, so a missing
// order is a 200 with a null body rather than a 404.
func (h *PaymentHandlers) getByGatewayOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	gatewayOrderID := strings.TrimSpace(chi.URLParam(r, "gatewayOrderID"))
	if gatewayOrderID == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "gateway order id is required"))
		return
	}

	var requester *services.Requester
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		req := requesterFromIdentity(identity)
		requester = &req
	}
	order, found, err := h.orders.FindByGatewayRef(ctx, gatewayOrderID, requester)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	if !found {
		writeJSONResponse(w, http.StatusOK, gatewayOrderResponse{Order: nil})
		return
	}

	payload := buildOrderPayload(order, false)
	writeJSONResponse(w, http.StatusOK, gatewayOrderResponse{Order: &payload})
}

type gatewayOrderResponse struct {
	Order *orderPayload `json:"order"`
}
