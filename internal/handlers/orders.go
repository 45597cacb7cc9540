package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/strike-edge/api/internal/domain"
	"github.com/strike-edge/api/internal/platform/auth"
	"github.com/strike-edge/api/internal/platform/httpx"
	"github.com/strike-edge/api/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderCreateBodySize = 64 * 1024
	maxOrderCancelBodySize = 4 * 1024
)

type createOrderRequest struct {
	CustomerName string `json:"customer_name"`
	Email        string `json:"email"`
	Items        []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	Shipping struct {
		FullName string `json:"full_name"`
		Phone    string `json:"phone"`
		Street   string `json:"street"`
		City     string `json:"city"`
		State    string `json:"state"`
		Pincode  string `json:"pincode"`
		Country  string `json:"country"`
	} `json:"shipping_address"`
	PaymentMethod string `json:"payment_method"`
	Subtotal      int64  `json:"subtotal"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers exposes the order lifecycle endpoints for authenticated customers.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
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

	response := checkoutResponse{
		Order: buildOrderPayload(result.Order, true),
	}
	if result.PaymentSessionID != "" {
		response.Payment = &checkoutPaymentPayload{
			GatewayOrderID:   result.GatewayOrderID,
			PaymentSessionID: result.PaymentSessionID,
		}
	}
	writeJSONResponse(w, http.StatusCreated, response)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
		return
	}

	page, err := h.orders.ListMine(ctx, identity.UID, pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "order id is required"))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, requesterFromIdentity(identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "order id is required"))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", "invalid JSON body"))
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:   orderID,
		Requester: requesterFromIdentity(identity),
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

type checkoutResponse struct {
	Order   orderPayload            `json:"order"`
	Payment *checkoutPaymentPayload `json:"payment,omitempty"`
}

type checkoutPaymentPayload struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	PaymentSessionID string `json:"payment_session_id"`
}

func decodeCreateOrderRequest(r *http.Request) (createOrderRequest, error) {
	var req createOrderRequest
	body, err := readLimitedBody(r, maxOrderCreateBodySize)
	if err != nil {
		return req, err
	}
	if len(body) == 0 {
		return req, errEmptyBody
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, errors.New("invalid JSON body")
	}
	return req, nil
}

func buildCreateCommand(identity *auth.Identity, req createOrderRequest) (services.CreateOrderCommand, error) {
	if len(req.Items) == 0 {
		return services.CreateOrderCommand{}, errors.New("items are required")
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return services.CreateOrderCommand{}, errors.New("item product_id is required")
		}
		if item.Quantity <= 0 {
			return services.CreateOrderCommand{}, errors.New("item quantity must be positive")
		}
		items = append(items, domain.OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	method := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod)))
	if method == "" {
		return services.CreateOrderCommand{}, errors.New("payment_method is required")
	}

	return services.CreateOrderCommand{
		UserID:       strings.TrimSpace(identity.UID),
		CustomerName: strings.TrimSpace(req.CustomerName),
		Email:        strings.TrimSpace(req.Email),
		Items:        items,
		Shipping: domain.ShippingAddress{
			FullName: strings.TrimSpace(req.Shipping.FullName),
			Phone:    strings.TrimSpace(req.Shipping.Phone),
			Street:   strings.TrimSpace(req.Shipping.Street),
			City:     strings.TrimSpace(req.Shipping.City),
			State:    strings.TrimSpace(req.Shipping.State),
			Pincode:  strings.TrimSpace(req.Shipping.Pincode),
			Country:  strings.TrimSpace(req.Shipping.Country),
		},
		PaymentMethod: method,
		Subtotal:      req.Subtotal,
	}, nil
}

func parsePagination(r *http.Request) (domain.Pagination, error) {
	query := r.URL.Query()
	pageSize := defaultOrderPageSize
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Pagination{}, errors.New("page_size must be an integer")
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}
	return domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}, nil
}

func requireIdentity(ctx context.Context, w http.ResponseWriter, serviceReady bool) (*auth.Identity, bool) {
	if !serviceReady {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartMismatch):
		httpx.WriteError(ctx, w, httpx.BadRequest("cart_mismatch", "cart total does not match catalog prices"))
	case errors.Is(err, services.ErrOutOfStock):
		httpx.WriteError(ctx, w, httpx.BadRequest("insufficient_stock", err.Error()))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NotFound("product_not_found", "product not found"))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NotFound("order_not_found", "order not found"))
	case errors.Is(err, services.ErrOrderIllegalTransition):
		httpx.WriteError(ctx, w, httpx.Conflict("order_invalid_state", err.Error()))
	case errors.Is(err, services.ErrAlreadyPaid):
		httpx.WriteError(ctx, w, httpx.Conflict("order_already_paid", "order payment is already confirmed"))
	case errors.Is(err, services.ErrPaymentInit):
		httpx.WriteError(ctx, w, httpx.NewError("payment_init_failed", "failed to initialise payment", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.Internal("order_error"))
	}
}
