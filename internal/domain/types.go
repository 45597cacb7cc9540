package domain

import (
	"time"
)

// Pagination defines standard paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus describes lifecycle states for an order.
type OrderStatus string

const (
	// OrderStatusPlaced indicates the order has been accepted and awaits admin confirmation.
	OrderStatusPlaced OrderStatus = "PLACED"
	// OrderStatusConfirmed indicates an admin has confirmed the order for fulfilment.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the order reached the customer. Terminal.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the order was cancelled by the customer or an admin. Terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// ValidOrderStatus reports whether s is a member of the order status enum.
func ValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPlaced, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentMethod enumerates supported checkout payment methods.
type PaymentMethod string

const (
	// PaymentMethodCOD is cash on delivery; stock is committed at placement.
	PaymentMethodCOD PaymentMethod = "COD"
	// PaymentMethodOnline is gateway-collected payment; stock commits on confirmation.
	PaymentMethodOnline PaymentMethod = "ONLINE"
)

// PaymentStatus describes the state of an order's payment sub-record.
type PaymentStatus string

const (
	// PaymentStatusPending indicates payment has not been collected yet.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusPaid indicates a confirmed successful payment.
	PaymentStatusPaid PaymentStatus = "PAID"
	// PaymentStatusFailed indicates the gateway reported a terminal failure.
	PaymentStatusFailed PaymentStatus = "FAILED"
)

// Actor identifies who performed a state change on an order.
type Actor string

const (
	// ActorUser marks changes made by the owning customer.
	ActorUser Actor = "USER"
	// ActorAdmin marks changes made through the admin surface.
	ActorAdmin Actor = "ADMIN"
	// ActorSystem marks changes applied by reconciliation or other automation.
	ActorSystem Actor = "SYSTEM"
)

// OrderItem is an immutable snapshot of a purchased product line.
type OrderItem struct {
	ProductID string
	Title     string
	Image     string
	UnitPrice int64
	Quantity  int
}

// LineTotal returns the item subtotal.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// ShippingAddress is the delivery snapshot captured at placement.
type ShippingAddress struct {
	FullName string
	Phone    string
	Street   string
	City     string
	State    string
	Pincode  string
	Country  string
}

// PaymentInfo is the payment sub-record embedded in an order.
type PaymentInfo struct {
	Gateway          string
	GatewayOrderID   string
	GatewayPaymentID string
	Status           PaymentStatus
	PaidAt           *time.Time
}

// Order is the order aggregate shared across layers. Items and the shipping
// address are snapshots; later catalog or profile edits never mutate them.
type Order struct {
	ID             string
	Code           string
	UserID         string
	Items          []OrderItem
	Shipping       ShippingAddress
	PaymentMethod  PaymentMethod
	Payment        PaymentInfo
	Status         OrderStatus
	Subtotal       int64
	DeliveryCharge int64
	Total          int64
	CancelReason   string
	CancelledBy    Actor
	StockCommitted bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Product captures the catalog fields the order subsystem reads and the
// inventory fields it owns.
type Product struct {
	ID        string
	Title     string
	Slug      string
	Price     int64
	Image     string
	Stock     int
	SoldCount int
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserProfile is the projection of a Firebase Auth user consumed for
// ownership checks and notifications.
type UserProfile struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Roles     []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockLine pairs a product with a quantity for reserve/release operations.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockLines converts order items into ledger lines.
func StockLines(items []OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// PaymentEvent is a parsed gateway webhook notification.
type PaymentEvent struct {
	Type             string
	GatewayOrderID   string
	GatewayPaymentID string
	Amount           int64
	Currency         string
	OrderRef         string
	UserRef          string
	OccurredAt       time.Time
}

// Success reports whether the event confirms a completed payment.
func (e PaymentEvent) Success() bool {
	return e.Type == "PAYMENT_SUCCESS_WEBHOOK" || e.Type == "PAYMENT.SUCCESS"
}
