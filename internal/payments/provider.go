package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/strike-edge/api/internal/domain"
)

// ReserveTiming states when a payment method commits inventory.
type ReserveTiming string

const (
	// ReserveAtPlacement commits stock when the order document is created.
	ReserveAtPlacement ReserveTiming = "at_placement"
	// ReserveOnPayment defers the stock commit until the gateway confirms payment.
	ReserveOnPayment ReserveTiming = "on_payment"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrSignatureMismatch is returned when webhook signature verification fails.
	ErrSignatureMismatch = errors.New("payments: webhook signature mismatch")
	// ErrSignatureUnsupported is returned by providers without webhook delivery.
	ErrSignatureUnsupported = errors.New("payments: signature verification not supported")
)

// GatewayOrderRequest captures the payload required to create a gateway order.
type GatewayOrderRequest struct {
	OrderID      string
	OrderCode    string
	UserID       string
	Amount       int64
	Currency     string
	CustomerName string
	Email        string
	Phone        string
}

// GatewayOrder represents the gateway session returned to the client for redirect.
type GatewayOrder struct {
	GatewayOrderID   string
	PaymentSessionID string
	Status           string
	ExpiresAt        time.Time
	Raw              map[string]any
}

// Provider defines the contract for payment gateway adapters.
type Provider interface {
	Name() string
	ReserveTiming() ReserveTiming
	CreateGatewayOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	// VerifySignature checks a webhook delivery in constant time. The payload
	// must be the raw request body, unmodified.
	VerifySignature(timestamp string, payload []byte, signature string) error
	ParseEvent(raw []byte) (domain.PaymentEvent, error)
}

// Manager resolves providers by payment method.
type Manager struct {
	providers map[domain.PaymentMethod]Provider
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[domain.PaymentMethod]Provider) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[domain.PaymentMethod]Provider, len(providers))
	for method, provider := range providers {
		key := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(method))))
		if key == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for method %q", method)
		}
		copyMap[key] = provider
	}
	return &Manager{providers: copyMap}, nil
}

// Resolve returns the provider bound to the payment method.
func (m *Manager) Resolve(method domain.PaymentMethod) (Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return nil, errors.New("payments: no providers registered")
	}
	key := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(method))))
	provider, ok := m.providers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, method)
	}
	return provider, nil
}
