package payments

import (
	"context"
	"errors"

	domain "github.com/strike-edge/api/internal/domain"
)

// CODProvider handles cash-on-delivery orders. There is no external gateway:
// stock commits at placement and no webhook ever arrives.
type CODProvider struct{}

// NewCODProvider constructs the cash-on-delivery provider.
func NewCODProvider() *CODProvider { return &CODProvider{} }

func (p *CODProvider) Name() string { return "COD" }

func (p *CODProvider) ReserveTiming() ReserveTiming { return ReserveAtPlacement }

// CreateGatewayOrder is unsupported; COD orders settle offline.
func (p *CODProvider) CreateGatewayOrder(context.Context, GatewayOrderRequest) (GatewayOrder, error) {
	return GatewayOrder{}, errors.New("payments: cod orders have no gateway order")
}

func (p *CODProvider) VerifySignature(string, []byte, string) error {
	return ErrSignatureUnsupported
}

func (p *CODProvider) ParseEvent([]byte) (domain.PaymentEvent, error) {
	return domain.PaymentEvent{}, errors.New("payments: cod orders emit no webhook events")
}
