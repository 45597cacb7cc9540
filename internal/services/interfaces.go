package services

import (
	"context"
	"time"

	domain "github.com/strike-edge/api/internal/domain"
	"github.com/strike-edge/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	Order           = domain.Order
	OrderItem       = domain.OrderItem
	OrderStatus     = domain.OrderStatus
	ShippingAddress = domain.ShippingAddress
	PaymentMethod   = domain.PaymentMethod
	PaymentEvent    = domain.PaymentEvent
	Product         = domain.Product
	UserProfile     = domain.UserProfile
	Actor           = domain.Actor
)

// Requester identifies the authenticated principal driving an operation.
type Requester struct {
	UserID string
	Admin  bool
}

// CreateOrderCommand carries the checkout payload for order placement.
type CreateOrderCommand struct {
	UserID        string
	CustomerName  string
	Email         string
	Items         []OrderItem
	Shipping      ShippingAddress
	PaymentMethod PaymentMethod
	// Subtotal is the client-claimed amount; the service recomputes it from
	// catalog prices and rejects mismatches.
	Subtotal int64
}

// CheckoutResult packages the stored order with the gateway session data the
// client needs for an online payment redirect.
type CheckoutResult struct {
	Order            Order
	GatewayOrderID   string
	PaymentSessionID string
}

// CancelOrderCommand captures a cancellation request.
type CancelOrderCommand struct {
	OrderID   string
	Requester Requester
	Reason    string
}

// TransitionStatusCommand captures an admin-driven status change.
type TransitionStatusCommand struct {
	OrderID string
	Target  OrderStatus
	ActorID string
}

// OrderListFilter narrows admin listings.
type OrderListFilter = repositories.OrderListFilter

// OrderService encapsulates the order lifecycle: placement, reads,
// cancellation, and admin transitions.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error)
	GetOrder(ctx context.Context, orderID string, requester Requester) (Order, error)
	ListMine(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	ListAll(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (Order, error)
	// FindByGatewayRef resolves an order by its gateway order id. A missing
	// order yields found=false rather than an error because reconciliation is
	// asynchronous and the client may poll before the webhook lands.
	FindByGatewayRef(ctx context.Context, gatewayOrderID string, requester *Requester) (Order, bool, error)
}

// AckOutcome enumerates the terminal states of a webhook delivery.
type AckOutcome string

const (
	// AckApplied means the payment was committed by this delivery.
	AckApplied AckOutcome = "applied"
	// AckDuplicate means the payment had already been committed.
	AckDuplicate AckOutcome = "duplicate"
	// AckIgnored means the event type or payload did not require action.
	AckIgnored AckOutcome = "ignored"
	// AckOrphaned means the referenced order does not exist locally.
	AckOrphaned AckOutcome = "orphaned"
	// AckConflict means the order can no longer accept the payment, for
	// example because it was cancelled before the webhook arrived. Redelivery
	// cannot resolve it; the conflict is logged for manual follow-up.
	AckConflict AckOutcome = "conflict"
)

// Ack reports the outcome of a processed notification; every non-signature
// outcome translates to HTTP 200 so the gateway stops redelivering.
type Ack struct {
	Outcome        AckOutcome
	OrderID        string
	GatewayOrderID string
}

// ReconciliationService applies at-least-once gateway notifications exactly once.
type ReconciliationService interface {
	HandleNotification(ctx context.Context, raw []byte, signature, timestamp string) (Ack, error)
}

// OrderNotificationMessage is the payload published for notification workers.
type OrderNotificationMessage struct {
	OrderID   string    `json:"orderId"`
	OrderCode string    `json:"orderCode"`
	UserID    string    `json:"userId"`
	Event     string    `json:"event"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Total     int64     `json:"total"`
	PlacedAt  time.Time `json:"placedAt"`
}

// NotificationPublisher publishes order notification messages for downstream workers.
type NotificationPublisher interface {
	PublishOrderNotification(ctx context.Context, message OrderNotificationMessage) (string, error)
}

// NotificationService dispatches customer-facing notifications without
// blocking or failing the triggering operation.
type NotificationService interface {
	DispatchOrderConfirmation(order Order)
}
