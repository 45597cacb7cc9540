package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/strike-edge/api/internal/domain"
	"github.com/strike-edge/api/internal/payments"
	"github.com/strike-edge/api/internal/repositories"
)

// ErrInvalidSignature marks a notification whose signature did not verify.
// It is the only reconciliation error that must surface as a client fault.
var ErrInvalidSignature = errors.New("reconciliation: invalid signature")

// ReconciliationServiceDeps bundles collaborators for the reconciliation service.
type ReconciliationServiceDeps struct {
	Orders        repositories.OrderRepository
	Provider      payments.Provider
	Notifications NotificationService
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	orders        repositories.OrderRepository
	provider      payments.Provider
	notifications NotificationService
	clock         func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewReconciliationService wires the webhook processing pipeline for a single
// gateway provider.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order repository is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("reconciliation service: payment provider is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reconciliationService{
		orders:        deps.Orders,
		provider:      deps.Provider,
		notifications: deps.Notifications,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *reconciliationService) HandleNotification(ctx context.Context, raw []byte, signature, timestamp string) (Ack, error) {
	if err := s.provider.VerifySignature(timestamp, raw, signature); err != nil {
		// Logged before rejection so replay attempts leave a trace even
		// though no state changes.
		s.logger(ctx, "payments.webhook.signature_rejected", map[string]any{
			"gateway": s.provider.Name(),
			"error":   err.Error(),
		})
		return Ack{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event, err := s.provider.ParseEvent(raw)
	if err != nil {
		s.logger(ctx, "payments.webhook.unparseable", map[string]any{
			"gateway": s.provider.Name(),
			"error":   err.Error(),
		})
		return Ack{Outcome: AckIgnored}, nil
	}

	if !event.Success() {
		s.logger(ctx, "payments.webhook.ignored", map[string]any{
			"gateway": s.provider.Name(),
			"type":    event.Type,
		})
		return Ack{Outcome: AckIgnored, GatewayOrderID: event.GatewayOrderID}, nil
	}

	if event.OrderRef == "" || event.GatewayOrderID == "" || event.GatewayPaymentID == "" {
		s.logger(ctx, "payments.webhook.incomplete", map[string]any{
			"gateway":        s.provider.Name(),
			"gatewayOrderId": event.GatewayOrderID,
		})
		return Ack{Outcome: AckIgnored, GatewayOrderID: event.GatewayOrderID}, nil
	}

	paidAt := event.OccurredAt
	if paidAt.IsZero() {
		paidAt = s.clock()
	}

	order, err := s.orders.ConfirmPayment(ctx, repositories.ConfirmPaymentRequest{
		OrderID:          event.OrderRef,
		GatewayOrderID:   event.GatewayOrderID,
		GatewayPaymentID: event.GatewayPaymentID,
		PaidAt:           paidAt,
	})
	if err != nil {
		return s.mapConfirmError(ctx, event, err)
	}

	s.logger(ctx, "payments.webhook.applied", map[string]any{
		"orderId":          order.ID,
		"gatewayOrderId":   event.GatewayOrderID,
		"gatewayPaymentId": event.GatewayPaymentID,
	})

	if s.notifications != nil {
		s.notifications.DispatchOrderConfirmation(order)
	}

	return Ack{
		Outcome:        AckApplied,
		OrderID:        order.ID,
		GatewayOrderID: event.GatewayOrderID,
	}, nil
}

// mapConfirmError turns commit failures into acknowledgeable outcomes where
// safe. Duplicates and orphans must be acked, otherwise the gateway retries
// forever; genuine store failures propagate so the retry happens.
func (s *reconciliationService) mapConfirmError(ctx context.Context, event domain.PaymentEvent, err error) (Ack, error) {
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorAlreadyPaid:
			s.logger(ctx, "payments.webhook.duplicate", map[string]any{
				"orderId":        event.OrderRef,
				"gatewayOrderId": event.GatewayOrderID,
			})
			return Ack{
				Outcome:        AckDuplicate,
				OrderID:        event.OrderRef,
				GatewayOrderID: event.GatewayOrderID,
			}, nil
		case repositories.OrderErrorNotFound:
			s.logger(ctx, "payments.webhook.orphaned", map[string]any{
				"orderId":        event.OrderRef,
				"gatewayOrderId": event.GatewayOrderID,
			})
			return Ack{
				Outcome:        AckOrphaned,
				GatewayOrderID: event.GatewayOrderID,
			}, nil
		case repositories.OrderErrorIllegalTransition:
			// The order was cancelled before the payment landed. Redelivery
			// cannot resolve it; the payment needs a manual refund.
			s.logger(ctx, "payments.webhook.conflict", map[string]any{
				"orderId":          event.OrderRef,
				"gatewayOrderId":   event.GatewayOrderID,
				"gatewayPaymentId": event.GatewayPaymentID,
				"error":            err.Error(),
			})
			return Ack{
				Outcome:        AckConflict,
				OrderID:        event.OrderRef,
				GatewayOrderID: event.GatewayOrderID,
			}, nil
		}
	}

	var inventoryErr *repositories.InventoryError
	if errors.As(err, &inventoryErr) {
		// Stock ran out or the product vanished between placement and payment.
		// The gateway cannot fix either by retrying.
		s.logger(ctx, "payments.webhook.conflict", map[string]any{
			"orderId":          event.OrderRef,
			"gatewayOrderId":   event.GatewayOrderID,
			"gatewayPaymentId": event.GatewayPaymentID,
			"error":            err.Error(),
		})
		return Ack{
			Outcome:        AckConflict,
			OrderID:        event.OrderRef,
			GatewayOrderID: event.GatewayOrderID,
		}, nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		s.logger(ctx, "payments.webhook.orphaned", map[string]any{
			"orderId":        event.OrderRef,
			"gatewayOrderId": event.GatewayOrderID,
		})
		return Ack{Outcome: AckOrphaned, GatewayOrderID: event.GatewayOrderID}, nil
	}

	return Ack{}, err
}
