package repositories

import (
	"context"
	"time"

	domain "github.com/strike-edge/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	Users() UserRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads catalog documents and owns the stock ledger.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// ReserveStock validates every line against current stock before applying
	// any decrement; all lines commit in one transaction or none do.
	ReserveStock(ctx context.Context, lines []domain.StockLine) error
	// ReleaseStock reverses a prior reservation, flooring soldCount at zero.
	ReleaseStock(ctx context.Context, lines []domain.StockLine) error
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Search string
	Status *domain.OrderStatus
	Pager  domain.Pagination
}

// ConfirmPaymentRequest carries the gateway references applied when a payment
// notification is committed.
type ConfirmPaymentRequest struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	PaidAt           time.Time
}

// CancelOrderRequest captures who cancelled an order and why.
type CancelOrderRequest struct {
	OrderID   string
	Actor     domain.Actor
	Reason    string
	Requested time.Time
}

// OrderRepository persists order aggregates and executes the transactional
// lifecycle commits that span order and product documents.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	Update(ctx context.Context, order domain.Order) error
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)

	// ConfirmPayment runs the reconciliation commit in a single transaction:
	// it rejects with ErrOrderAlreadyPaid when the payment sub-record is
	// already PAID, otherwise commits stock for every item and marks the
	// payment PAID.
	ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (domain.Order, error)

	// Cancel transitions the order to CANCELLED in a single transaction,
	// releasing stock only when it was committed. Cancelling an already
	// cancelled order succeeds without further effects.
	Cancel(ctx context.Context, req CancelOrderRequest) (domain.Order, error)
}

// UserRepository reads user profile projections maintained by the auth sync.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
}

// CounterRepository provides atomic named sequences.
type CounterRepository interface {
	// Next atomically increments the named counter by step and returns the
	// resulting value.
	Next(ctx context.Context, name string, step int64) (int64, error)
}

// HealthRepository reports backend dependency health.
type HealthRepository interface {
	Check(ctx context.Context) error
}
