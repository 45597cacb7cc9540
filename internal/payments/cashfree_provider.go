package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/strike-edge/api/internal/domain"
)

// CashfreeLogger defines the logging contract for gateway operations.
type CashfreeLogger func(ctx context.Context, event string, fields map[string]any)

// CashfreeProviderConfig configures the CashfreeProvider.
type CashfreeProviderConfig struct {
	ClientID      string
	ClientSecret  string
	WebhookSecret string
	APIBase       string
	APIVersion    string
	ReturnURL     string
	NotifyURL     string
	HTTPClient    *http.Client
	Logger        CashfreeLogger
	Clock         func() time.Time
}

// CashfreeProvider implements the Provider interface against the Cashfree PG REST API.
type CashfreeProvider struct {
	clientID      string
	clientSecret  string
	webhookSecret []byte
	apiBase       string
	apiVersion    string
	returnURL     string
	notifyURL     string
	httpClient    *http.Client
	logger        CashfreeLogger
	clock         func() time.Time
}

// NewCashfreeProvider constructs a Cashfree Provider using the given configuration.
func NewCashfreeProvider(cfg CashfreeProviderConfig) (*CashfreeProvider, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	clientSecret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("cashfree: client id and secret are required")
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		// Cashfree signs webhooks with the API secret unless a dedicated
		// webhook secret is configured.
		webhookSecret = clientSecret
	}
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if apiBase == "" {
		return nil, errors.New("cashfree: api base url is required")
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = "2023-08-01"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &CashfreeProvider{
		clientID:      clientID,
		clientSecret:  clientSecret,
		webhookSecret: []byte(webhookSecret),
		apiBase:       apiBase,
		apiVersion:    apiVersion,
		returnURL:     strings.TrimSpace(cfg.ReturnURL),
		notifyURL:     strings.TrimSpace(cfg.NotifyURL),
		httpClient:    httpClient,
		logger:        logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Name identifies the gateway in payment sub-records.
func (p *CashfreeProvider) Name() string { return "CASHFREE" }

// ReserveTiming defers the stock commit until the gateway confirms payment.
func (p *CashfreeProvider) ReserveTiming() ReserveTiming { return ReserveOnPayment }

type cashfreeOrderPayload struct {
	OrderID         string                  `json:"order_id"`
	OrderAmount     float64                 `json:"order_amount"`
	OrderCurrency   string                  `json:"order_currency"`
	CustomerDetails cashfreeCustomerDetails `json:"customer_details"`
	OrderMeta       cashfreeOrderMeta       `json:"order_meta"`
	OrderTags       map[string]string       `json:"order_tags"`
}

type cashfreeCustomerDetails struct {
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone"`
}

type cashfreeOrderMeta struct {
	ReturnURL string `json:"return_url,omitempty"`
	NotifyURL string `json:"notify_url,omitempty"`
}

type cashfreeOrderResponse struct {
	OrderID          string `json:"order_id"`
	CFOrderID        any    `json:"cf_order_id"`
	PaymentSessionID string `json:"payment_session_id"`
	OrderStatus      string `json:"order_status"`
	OrderExpiryTime  string `json:"order_expiry_time"`
}

// CreateGatewayOrder creates a payment order on the Cashfree PG API. The
// database order id and user id ride along as order_tags so the webhook can
// locate the local order without trusting client input.
func (p *CashfreeProvider) CreateGatewayOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	if p == nil {
		return GatewayOrder{}, errors.New("cashfree: provider is nil")
	}
	if strings.TrimSpace(req.OrderID) == "" || strings.TrimSpace(req.UserID) == "" {
		return GatewayOrder{}, errors.New("cashfree: order id and user id are required")
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("cashfree: amount must be positive")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	payload := cashfreeOrderPayload{
		OrderID:       req.OrderCode,
		OrderAmount:   float64(req.Amount),
		OrderCurrency: currency,
		CustomerDetails: cashfreeCustomerDetails{
			CustomerID:    req.UserID,
			CustomerName:  req.CustomerName,
			CustomerEmail: req.Email,
			CustomerPhone: req.Phone,
		},
		OrderMeta: cashfreeOrderMeta{
			ReturnURL: p.returnURL,
			NotifyURL: p.notifyURL,
		},
		OrderTags: map[string]string{
			"dbOrderId": req.OrderID,
			"userId":    req.UserID,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("cashfree: marshal order payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/orders", bytes.NewReader(body))
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("cashfree: build order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-client-id", p.clientID)
	httpReq.Header.Set("x-client-secret", p.clientSecret)
	httpReq.Header.Set("x-api-version", p.apiVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("cashfree: create order: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("cashfree: read order response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger(ctx, "payments.cashfree.order.rejected", map[string]any{
			"status":  resp.StatusCode,
			"orderId": req.OrderCode,
		})
		return GatewayOrder{}, fmt.Errorf("cashfree: create order returned status %d", resp.StatusCode)
	}

	var parsed cashfreeOrderResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return GatewayOrder{}, fmt.Errorf("cashfree: decode order response: %w", err)
	}
	if strings.TrimSpace(parsed.PaymentSessionID) == "" {
		return GatewayOrder{}, errors.New("cashfree: response missing payment_session_id")
	}

	gatewayOrderID := strings.TrimSpace(parsed.OrderID)
	if gatewayOrderID == "" {
		gatewayOrderID = req.OrderCode
	}

	expiresAt := p.clock().Add(30 * time.Minute)
	if parsed.OrderExpiryTime != "" {
		if t, err := time.Parse(time.RFC3339, parsed.OrderExpiryTime); err == nil {
			expiresAt = t.UTC()
		}
	}

	raw := map[string]any{}
	_ = json.Unmarshal(respBody, &raw)

	p.logger(ctx, "payments.cashfree.order.created", map[string]any{
		"gatewayOrderId": gatewayOrderID,
		"orderStatus":    parsed.OrderStatus,
	})

	return GatewayOrder{
		GatewayOrderID:   gatewayOrderID,
		PaymentSessionID: parsed.PaymentSessionID,
		Status:           parsed.OrderStatus,
		ExpiresAt:        expiresAt,
		Raw:              raw,
	}, nil
}

// VerifySignature recomputes base64(HMAC-SHA256(secret, timestamp||payload))
// and compares it with the delivered signature in constant time.
func (p *CashfreeProvider) VerifySignature(timestamp string, payload []byte, signature string) error {
	if p == nil {
		return errors.New("cashfree: provider is nil")
	}
	signature = strings.TrimSpace(signature)
	if signature == "" || strings.TrimSpace(timestamp) == "" {
		return ErrSignatureMismatch
	}

	mac := hmac.New(sha256.New, p.webhookSecret)
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

type cashfreeWebhookEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID       string  `json:"order_id"`
			OrderAmount   float64 `json:"order_amount"`
			OrderCurrency string  `json:"order_currency"`
			OrderTags     struct {
				DBOrderID string `json:"dbOrderId"`
				UserID    string `json:"userId"`
			} `json:"order_tags"`
		} `json:"order"`
		Payment struct {
			CFPaymentID json.RawMessage `json:"cf_payment_id"`
			PaymentTime string          `json:"payment_time"`
		} `json:"payment"`
	} `json:"data"`
}

// ParseEvent decodes a webhook envelope into the normalised PaymentEvent.
func (p *CashfreeProvider) ParseEvent(raw []byte) (domain.PaymentEvent, error) {
	var envelope cashfreeWebhookEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("cashfree: decode webhook envelope: %w", err)
	}

	event := domain.PaymentEvent{
		Type:             strings.TrimSpace(envelope.Type),
		GatewayOrderID:   strings.TrimSpace(envelope.Data.Order.OrderID),
		GatewayPaymentID: rawIdentifier(envelope.Data.Payment.CFPaymentID),
		Amount:           int64(envelope.Data.Order.OrderAmount),
		Currency:         strings.ToUpper(strings.TrimSpace(envelope.Data.Order.OrderCurrency)),
		OrderRef:         strings.TrimSpace(envelope.Data.Order.OrderTags.DBOrderID),
		UserRef:          strings.TrimSpace(envelope.Data.Order.OrderTags.UserID),
	}

	if envelope.Data.Payment.PaymentTime != "" {
		if t, err := time.Parse(time.RFC3339, envelope.Data.Payment.PaymentTime); err == nil {
			event.OccurredAt = t.UTC()
		}
	}

	return event, nil
}

// rawIdentifier normalises gateway identifiers delivered as JSON numbers or strings.
func rawIdentifier(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	return strings.Trim(trimmed, `"`)
}
