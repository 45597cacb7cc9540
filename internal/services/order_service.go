package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/strike-edge/api/internal/domain"
	"github.com/strike-edge/api/internal/payments"
	"github.com/strike-edge/api/internal/repositories"
)

const (
	orderEventPlaced      = "order.placed"
	orderEventCancelled   = "order.cancelled"
	orderEventTransition  = "order.status.changed"
	orderEventPaymentInit = "order.payment.initiated"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrProductNotFound indicates a referenced product does not exist or is inactive.
	ErrProductNotFound = errors.New("order: product not found")
	// ErrCartMismatch indicates the client-claimed subtotal disagrees with catalog prices.
	ErrCartMismatch = errors.New("order: cart total mismatch")
	// ErrOutOfStock indicates at least one line exceeds available stock.
	ErrOutOfStock = errors.New("order: insufficient stock")
	// ErrOrderIllegalTransition indicates the requested state change violates the lifecycle.
	ErrOrderIllegalTransition = errors.New("order: illegal status transition")
	// ErrAlreadyPaid indicates the payment sub-record was already PAID.
	ErrAlreadyPaid = errors.New("order: already paid")
	// ErrPaymentInit indicates gateway order creation failed; the local order stays pending.
	ErrPaymentInit = errors.New("order: payment initialisation failed")
)

// statusRank orders the forward lifecycle; CANCELLED sits outside the ladder.
var statusRank = map[domain.OrderStatus]int{
	domain.OrderStatusPlaced:    0,
	domain.OrderStatusConfirmed: 1,
	domain.OrderStatusShipped:   2,
	domain.OrderStatusDelivered: 3,
}

// OrderPricing carries the order pricing policy from configuration.
type OrderPricing struct {
	Currency          string
	DeliveryCharge    int64
	FreeDeliveryAbove int64
	CodePrefix        string
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Products      repositories.ProductRepository
	Users         repositories.UserRepository
	Counters      repositories.CounterRepository
	Payments      *payments.Manager
	Notifications NotificationService
	Pricing       OrderPricing
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	products      repositories.ProductRepository
	users         repositories.UserRepository
	counters      repositories.CounterRepository
	payments      *payments.Manager
	notifications NotificationService
	pricing       OrderPricing
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment manager is required")
	}
	if deps.Pricing.DeliveryCharge < 0 {
		return nil, errors.New("order service: delivery charge must not be negative")
	}

	pricing := deps.Pricing
	if strings.TrimSpace(pricing.Currency) == "" {
		pricing.Currency = "INR"
	}
	if strings.TrimSpace(pricing.CodePrefix) == "" {
		pricing.CodePrefix = "SE"
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:        deps.Orders,
		products:      deps.Products,
		users:         deps.Users,
		counters:      deps.Counters,
		payments:      deps.Payments,
		notifications: deps.Notifications,
		pricing:       pricing,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error) {
	if err := validateCreateInput(cmd); err != nil {
		return CheckoutResult{}, err
	}

	provider, err := s.payments.Resolve(cmd.PaymentMethod)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	items, subtotal, err := s.priceItems(ctx, cmd.Items)
	if err != nil {
		return CheckoutResult{}, err
	}
	if subtotal != cmd.Subtotal {
		return CheckoutResult{}, fmt.Errorf("%w: client %d, catalog %d", ErrCartMismatch, cmd.Subtotal, subtotal)
	}

	now := s.now()
	delivery := s.deliveryCharge(subtotal)

	code, err := s.generateOrderCode(ctx, now)
	if err != nil {
		return CheckoutResult{}, err
	}

	order := Order{
		ID:            orderIDPrefix + s.newID(),
		Code:          code,
		UserID:        cmd.UserID,
		Items:         items,
		Shipping:      cmd.Shipping,
		PaymentMethod: cmd.PaymentMethod,
		Payment: domain.PaymentInfo{
			Gateway: provider.Name(),
			Status:  domain.PaymentStatusPending,
		},
		Status:         domain.OrderStatusPlaced,
		Subtotal:       subtotal,
		DeliveryCharge: delivery,
		Total:          subtotal + delivery,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	switch provider.ReserveTiming() {
	case payments.ReserveAtPlacement:
		return s.placeReserved(ctx, order)
	default:
		return s.placeDeferred(ctx, order, provider, cmd)
	}
}

// placeReserved handles COD: stock commits before the order document exists,
// with a compensating release if the insert fails.
func (s *orderService) placeReserved(ctx context.Context, order Order) (CheckoutResult, error) {
	lines := domain.StockLines(order.Items)
	if err := s.products.ReserveStock(ctx, lines); err != nil {
		return CheckoutResult{}, s.mapStoreError(err)
	}

	order.StockCommitted = true
	if err := s.orders.Insert(ctx, order); err != nil {
		if releaseErr := s.products.ReleaseStock(ctx, lines); releaseErr != nil {
			s.logger(ctx, "order.reservation.release_failed", map[string]any{
				"orderId": order.ID,
				"error":   releaseErr.Error(),
			})
		}
		return CheckoutResult{}, s.mapStoreError(err)
	}

	s.logger(ctx, orderEventPlaced, map[string]any{
		"orderId": order.ID,
		"code":    order.Code,
		"method":  string(order.PaymentMethod),
	})

	if s.notifications != nil {
		s.notifications.DispatchOrderConfirmation(order)
	}

	return CheckoutResult{Order: order}, nil
}

// placeDeferred handles gateway methods: the order is stored pending and stock
// only commits when the webhook confirms payment.
func (s *orderService) placeDeferred(ctx context.Context, order Order, provider payments.Provider, cmd CreateOrderCommand) (CheckoutResult, error) {
	// The order code doubles as the gateway order id so the webhook and the
	// status poll resolve to the same reference.
	order.Payment.GatewayOrderID = order.Code
	if err := s.orders.Insert(ctx, order); err != nil {
		return CheckoutResult{}, s.mapStoreError(err)
	}

	gateway, err := provider.CreateGatewayOrder(ctx, payments.GatewayOrderRequest{
		OrderID:      order.ID,
		OrderCode:    order.Code,
		UserID:       order.UserID,
		Amount:       order.Total,
		Currency:     s.pricing.Currency,
		CustomerName: cmd.CustomerName,
		Email:        cmd.Email,
		Phone:        order.Shipping.Phone,
	})
	if err != nil {
		s.logger(ctx, "order.payment.init_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrPaymentInit, err)
	}

	if gateway.GatewayOrderID != "" && gateway.GatewayOrderID != order.Payment.GatewayOrderID {
		order.Payment.GatewayOrderID = gateway.GatewayOrderID
		order.UpdatedAt = s.now()
		if err := s.orders.Update(ctx, order); err != nil {
			return CheckoutResult{}, s.mapStoreError(err)
		}
	}

	s.logger(ctx, orderEventPaymentInit, map[string]any{
		"orderId":        order.ID,
		"gatewayOrderId": order.Payment.GatewayOrderID,
	})

	return CheckoutResult{
		Order:            order,
		GatewayOrderID:   order.Payment.GatewayOrderID,
		PaymentSessionID: gateway.PaymentSessionID,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, requester Requester) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapStoreError(err)
	}

	if !requester.Admin && order.UserID != requester.UserID {
		// Foreign orders are indistinguishable from missing ones.
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	return order, nil
}

func (s *orderService) ListMine(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByUser(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapStoreError(err)
	}
	return page, nil
}

func (s *orderService) ListAll(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapStoreError(err)
	}
	return page, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	actor := domain.ActorAdmin
	if !cmd.Requester.Admin {
		actor = domain.ActorUser
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return Order{}, s.mapStoreError(err)
		}
		if order.UserID != cmd.Requester.UserID {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
	}

	order, err := s.orders.Cancel(ctx, repositories.CancelOrderRequest{
		OrderID:   orderID,
		Actor:     actor,
		Reason:    strings.TrimSpace(cmd.Reason),
		Requested: s.now(),
	})
	if err != nil {
		return Order{}, s.mapStoreError(err)
	}

	s.logger(ctx, orderEventCancelled, map[string]any{
		"orderId": order.ID,
		"actor":   string(actor),
	})

	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.Target))))
	if !domain.ValidOrderStatus(target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}

	if target == domain.OrderStatusCancelled {
		return s.Cancel(ctx, CancelOrderCommand{
			OrderID:   orderID,
			Requester: Requester{UserID: cmd.ActorID, Admin: true},
		})
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapStoreError(err)
	}

	currentRank, ok := statusRank[order.Status]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s is terminal", ErrOrderIllegalTransition, order.Status)
	}
	if statusRank[target] <= currentRank {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderIllegalTransition, order.Status, target)
	}

	previous := order.Status
	order.Status = target
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapStoreError(err)
	}

	s.logger(ctx, orderEventTransition, map[string]any{
		"orderId": order.ID,
		"from":    string(previous),
		"to":      string(target),
		"actorId": cmd.ActorID,
	})

	return order, nil
}

func (s *orderService) FindByGatewayRef(ctx context.Context, gatewayOrderID string, requester *Requester) (Order, bool, error) {
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return Order{}, false, fmt.Errorf("%w: gateway order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		mapped := s.mapStoreError(err)
		if errors.Is(mapped, ErrOrderNotFound) {
			// Reconciliation is asynchronous; the webhook may not have landed yet.
			return Order{}, false, nil
		}
		return Order{}, false, mapped
	}

	// A pending payment means the webhook has not been applied; the poll sees
	// the same "not yet" answer as a missing order so the status page never
	// mistakes an unpaid order for a confirmed one.
	if order.Payment.Status != domain.PaymentStatusPaid {
		return Order{}, false, nil
	}

	if requester != nil && !requester.Admin && order.UserID != requester.UserID {
		return Order{}, false, fmt.Errorf("%w: %s", ErrOrderNotFound, gatewayOrderID)
	}

	return order, true, nil
}

// priceItems snapshots catalog data onto the order lines and recomputes the
// subtotal from server-side prices.
func (s *orderService) priceItems(ctx context.Context, items []OrderItem) ([]OrderItem, int64, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, 0, s.mapStoreError(err)
	}

	priced := make([]OrderItem, 0, len(items))
	var subtotal int64
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok || !product.IsActive {
			return nil, 0, fmt.Errorf("%w: %s", ErrProductNotFound, item.ProductID)
		}
		line := OrderItem{
			ProductID: product.ID,
			Title:     product.Title,
			Image:     product.Image,
			UnitPrice: product.Price,
			Quantity:  item.Quantity,
		}
		priced = append(priced, line)
		subtotal += line.LineTotal()
	}

	return priced, subtotal, nil
}

func (s *orderService) deliveryCharge(subtotal int64) int64 {
	if s.pricing.FreeDeliveryAbove > 0 && subtotal >= s.pricing.FreeDeliveryAbove {
		return 0
	}
	return s.pricing.DeliveryCharge
}

// generateOrderCode allocates the next slot in the per-day counter. The day
// key keeps codes short and restarts numbering naturally at midnight.
func (s *orderService) generateOrderCode(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("060102")
	seq, err := s.counters.Next(ctx, "orders-"+day, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%05d", s.pricing.CodePrefix, day, seq), nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) mapStoreError(err error) error {
	if err == nil {
		return nil
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repositories.OrderErrorAlreadyPaid:
			return fmt.Errorf("%w: %v", ErrAlreadyPaid, err)
		case repositories.OrderErrorIllegalTransition:
			return fmt.Errorf("%w: %v", ErrOrderIllegalTransition, err)
		case repositories.OrderErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %v", ErrOutOfStock, err)
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repositories.InventoryErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}

	return err
}

func validateCreateInput(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	}
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item product id is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item quantity must be positive", ErrOrderInvalidInput)
		}
	}
	if strings.TrimSpace(cmd.Shipping.Street) == "" || strings.TrimSpace(cmd.Shipping.Phone) == "" {
		return fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(string(cmd.PaymentMethod)) == "" {
		return fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}
	return nil
}
