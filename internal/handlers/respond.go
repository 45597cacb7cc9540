package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/strike-edge/api/internal/domain"
	"github.com/strike-edge/api/internal/platform/auth"
	"github.com/strike-edge/api/internal/services"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// requesterFromIdentity projects the authenticated identity onto the service
// layer's access scope.
func requesterFromIdentity(identity *auth.Identity) services.Requester {
	return services.Requester{
		UserID: strings.TrimSpace(identity.UID),
		Admin:  identity.HasRole(auth.RoleAdmin),
	}
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Status    string `json:"status"`
	Method    string `json:"payment_method"`
	Total     int64  `json:"total"`
	CreatedAt string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID             string                 `json:"id"`
	Code           string                 `json:"code"`
	UserID         string                 `json:"user_id"`
	Status         string                 `json:"status"`
	Items          []orderItemPayload     `json:"items"`
	Shipping       shippingAddressPayload `json:"shipping_address"`
	PaymentMethod  string                 `json:"payment_method"`
	Payment        *orderPaymentPayload   `json:"payment,omitempty"`
	Subtotal       int64                  `json:"subtotal"`
	DeliveryCharge int64                  `json:"delivery_charge"`
	Total          int64                  `json:"total"`
	CancelReason   string                 `json:"cancel_reason,omitempty"`
	CancelledBy    string                 `json:"cancelled_by,omitempty"`
	CreatedAt      string                 `json:"created_at"`
	UpdatedAt      string                 `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Image     string `json:"image,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Total     int64  `json:"total"`
}

type shippingAddressPayload struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Street   string `json:"street"`
	City     string `json:"city"`
	State    string `json:"state"`
	Pincode  string `json:"pincode"`
	Country  string `json:"country,omitempty"`
}

type orderPaymentPayload struct {
	Gateway          string `json:"gateway"`
	GatewayOrderID   string `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string `json:"gateway_payment_id,omitempty"`
	Status           string `json:"status"`
	PaidAt           string `json:"paid_at,omitempty"`
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:        order.ID,
		Code:      order.Code,
		Status:    string(order.Status),
		Method:    string(order.PaymentMethod),
		Total:     order.Total,
		CreatedAt: formatTime(order.CreatedAt),
	}
}

// buildOrderPayload renders the full aggregate. Payment details are included
// only when includePayment is set; the gateway lookup endpoint serves
// unauthenticated return-URL polls and must not leak them.
func buildOrderPayload(order domain.Order, includePayment bool) orderPayload {
	payload := orderPayload{
		ID:     order.ID,
		Code:   order.Code,
		UserID: order.UserID,
		Status: string(order.Status),
		Items:  make([]orderItemPayload, 0, len(order.Items)),
		Shipping: shippingAddressPayload{
			FullName: order.Shipping.FullName,
			Phone:    order.Shipping.Phone,
			Street:   order.Shipping.Street,
			City:     order.Shipping.City,
			State:    order.Shipping.State,
			Pincode:  order.Shipping.Pincode,
			Country:  order.Shipping.Country,
		},
		PaymentMethod:  string(order.PaymentMethod),
		Subtotal:       order.Subtotal,
		DeliveryCharge: order.DeliveryCharge,
		Total:          order.Total,
		CancelReason:   order.CancelReason,
		CancelledBy:    string(order.CancelledBy),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Title:     item.Title,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Total:     item.LineTotal(),
		})
	}

	if includePayment {
		paymentPayload := orderPaymentPayload{
			Gateway:          order.Payment.Gateway,
			GatewayOrderID:   order.Payment.GatewayOrderID,
			GatewayPaymentID: order.Payment.GatewayPaymentID,
			Status:           string(order.Payment.Status),
		}
		if order.Payment.PaidAt != nil {
			paymentPayload.PaidAt = formatTime(*order.Payment.PaidAt)
		}
		payload.Payment = &paymentPayload
	}

	return payload
}
