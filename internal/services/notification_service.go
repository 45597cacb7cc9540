package services

import (
	"context"
	"errors"
	"time"

	"github.com/strike-edge/api/internal/repositories"
)

const defaultDispatchTTL = 10 * time.Second

// NotificationServiceDeps bundles collaborators for the notification service.
type NotificationServiceDeps struct {
	Publisher   NotificationPublisher
	Users       repositories.UserRepository
	DispatchTTL time.Duration
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	publisher NotificationPublisher
	users     repositories.UserRepository
	ttl       time.Duration
	logger    func(context.Context, string, map[string]any)
}

// NewNotificationService wires the fire-and-forget order confirmation
// dispatcher. Delivery failures are logged and never surfaced to callers; the
// order commit must not depend on the notification path.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Publisher == nil {
		return nil, errors.New("notification service: publisher is required")
	}

	ttl := deps.DispatchTTL
	if ttl <= 0 {
		ttl = defaultDispatchTTL
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationService{
		publisher: deps.Publisher,
		users:     deps.Users,
		ttl:       ttl,
		logger:    logger,
	}, nil
}

func (s *notificationService) DispatchOrderConfirmation(order Order) {
	go s.dispatch(order)
}

func (s *notificationService) dispatch(order Order) {
	// Detached from the request context: the HTTP response must not wait on
	// the publish, and a cancelled request must not drop the notification.
	ctx, cancel := context.WithTimeout(context.Background(), s.ttl)
	defer cancel()

	message := OrderNotificationMessage{
		OrderID:   order.ID,
		OrderCode: order.Code,
		UserID:    order.UserID,
		Event:     "ORDER_CONFIRMED",
		Phone:     order.Shipping.Phone,
		Total:     order.Total,
		PlacedAt:  order.CreatedAt,
	}

	if s.users != nil {
		profile, err := s.users.FindByID(ctx, order.UserID)
		if err != nil {
			s.logger(ctx, "notifications.profile_lookup_failed", map[string]any{
				"orderId": order.ID,
				"userId":  order.UserID,
				"error":   err.Error(),
			})
		} else {
			message.Email = profile.Email
			if profile.Phone != "" {
				message.Phone = profile.Phone
			}
		}
	}

	messageID, err := s.publisher.PublishOrderNotification(ctx, message)
	if err != nil {
		s.logger(ctx, "notifications.publish_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}

	s.logger(ctx, "notifications.published", map[string]any{
		"orderId":   order.ID,
		"messageId": messageID,
	})
}
