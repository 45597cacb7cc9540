package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/strike-edge/api/internal/domain"
	"github.com/strike-edge/api/internal/payments"
	"github.com/strike-edge/api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn         func(ctx context.Context, order domain.Order) error
	findByIDFn       func(ctx context.Context, orderID string) (domain.Order, error)
	findByGatewayFn  func(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	updateFn         func(ctx context.Context, order domain.Order) error
	listByUserFn     func(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	listFn           func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	confirmPaymentFn func(ctx context.Context, req repositories.ConfirmPaymentRequest) (domain.Order, error)
	cancelFn         func(ctx context.Context, req repositories.CancelOrderRequest) (domain.Order, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, order)
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFn == nil {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "not found", nil)
	}
	return s.findByIDFn(ctx, orderID)
}

func (s *stubOrderRepo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	if s.findByGatewayFn == nil {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "not found", nil)
	}
	return s.findByGatewayFn(ctx, gatewayOrderID)
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn == nil {
		return nil
	}
	return s.updateFn(ctx, order)
}

func (s *stubOrderRepo) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s.listByUserFn == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listByUserFn(ctx, userID, pager)
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.Order]{}, nil
	}
	return s.listFn(ctx, filter)
}

func (s *stubOrderRepo) ConfirmPayment(ctx context.Context, req repositories.ConfirmPaymentRequest) (domain.Order, error) {
	if s.confirmPaymentFn == nil {
		return domain.Order{}, errors.New("unexpected ConfirmPayment call")
	}
	return s.confirmPaymentFn(ctx, req)
}

func (s *stubOrderRepo) Cancel(ctx context.Context, req repositories.CancelOrderRequest) (domain.Order, error) {
	if s.cancelFn == nil {
		return domain.Order{}, errors.New("unexpected Cancel call")
	}
	return s.cancelFn(ctx, req)
}

type stubProductRepo struct {
	findByIDsFn    func(ctx context.Context, ids []string) (map[string]domain.Product, error)
	reserveStockFn func(ctx context.Context, lines []domain.StockLine) error
	releaseStockFn func(ctx context.Context, lines []domain.StockLine) error
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	return domain.Product{}, errors.New("unexpected FindByID call")
}

func (s *stubProductRepo) FindByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if s.findByIDsFn == nil {
		return map[string]domain.Product{}, nil
	}
	return s.findByIDsFn(ctx, ids)
}

func (s *stubProductRepo) ReserveStock(ctx context.Context, lines []domain.StockLine) error {
	if s.reserveStockFn == nil {
		return nil
	}
	return s.reserveStockFn(ctx, lines)
}

func (s *stubProductRepo) ReleaseStock(ctx context.Context, lines []domain.StockLine) error {
	if s.releaseStockFn == nil {
		return nil
	}
	return s.releaseStockFn(ctx, lines)
}

type stubCounterRepo struct {
	nextFn func(ctx context.Context, name string, step int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, name string, step int64) (int64, error) {
	if s.nextFn == nil {
		return 1, nil
	}
	return s.nextFn(ctx, name, step)
}

type stubGatewayProvider struct {
	name            string
	timing          payments.ReserveTiming
	createFn        func(ctx context.Context, req payments.GatewayOrderRequest) (payments.GatewayOrder, error)
	verifyFn        func(timestamp string, payload []byte, signature string) error
	parseFn         func(raw []byte) (domain.PaymentEvent, error)
	createdRequests []payments.GatewayOrderRequest
}

func (s *stubGatewayProvider) Name() string { return s.name }

func (s *stubGatewayProvider) ReserveTiming() payments.ReserveTiming { return s.timing }

func (s *stubGatewayProvider) CreateGatewayOrder(ctx context.Context, req payments.GatewayOrderRequest) (payments.GatewayOrder, error) {
	s.createdRequests = append(s.createdRequests, req)
	if s.createFn == nil {
		return payments.GatewayOrder{}, errors.New("unexpected CreateGatewayOrder call")
	}
	return s.createFn(ctx, req)
}

func (s *stubGatewayProvider) VerifySignature(timestamp string, payload []byte, signature string) error {
	if s.verifyFn == nil {
		return nil
	}
	return s.verifyFn(timestamp, payload, signature)
}

func (s *stubGatewayProvider) ParseEvent(raw []byte) (domain.PaymentEvent, error) {
	if s.parseFn == nil {
		return domain.PaymentEvent{}, errors.New("unexpected ParseEvent call")
	}
	return s.parseFn(raw)
}

type recordingNotifier struct {
	mu     sync.Mutex
	orders []domain.Order
}

func (r *recordingNotifier) DispatchOrderConfirmation(order domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func fixedClock(value time.Time) func() time.Time {
	return func() time.Time { return value }
}

func defaultCatalog() map[string]domain.Product {
	return map[string]domain.Product{
		"prod_bat": {
			ID:       "prod_bat",
			Title:    "Willow Bat",
			Image:    "https://cdn.example.com/bat.jpg",
			Price:    2500,
			Stock:    10,
			IsActive: true,
		},
		"prod_ball": {
			ID:       "prod_ball",
			Title:    "Leather Ball",
			Price:    500,
			Stock:    40,
			IsActive: true,
		},
	}
}

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Products == nil {
		catalog := defaultCatalog()
		deps.Products = &stubProductRepo{
			findByIDsFn: func(ctx context.Context, ids []string) (map[string]domain.Product, error) {
				found := make(map[string]domain.Product)
				for _, id := range ids {
					if p, ok := catalog[id]; ok {
						found[id] = p
					}
				}
				return found, nil
			},
		}
	}
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepo{}
	}
	if deps.Payments == nil {
		manager, err := payments.NewManager(map[domain.PaymentMethod]payments.Provider{
			domain.PaymentMethodCOD: payments.NewCODProvider(),
		})
		if err != nil {
			t.Fatalf("NewManager: %v", err)
		}
		deps.Payments = manager
	}
	if deps.Clock == nil {
		deps.Clock = fixedClock(time.Date(2025, 9, 1, 10, 30, 0, 0, time.UTC))
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "01TESTORDERID" }
	}

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func codCommand() CreateOrderCommand {
	return CreateOrderCommand{
		UserID:       "user_1",
		CustomerName: "Asha Rao",
		Email:        "asha@example.com",
		Items: []domain.OrderItem{
			{ProductID: "prod_bat", Quantity: 2},
			{ProductID: "prod_ball", Quantity: 3},
		},
		Shipping: domain.ShippingAddress{
			FullName: "Asha Rao",
			Phone:    "9876543210",
			Street:   "12 MG Road",
			City:     "Bengaluru",
			State:    "KA",
			Pincode:  "560001",
			Country:  "IN",
		},
		PaymentMethod: domain.PaymentMethodCOD,
		Subtotal:      6500,
	}
}

func TestCreateCODOrderReservesStockAndCommits(t *testing.T) {
	var inserted domain.Order
	var reserved []domain.StockLine
	orders := &stubOrderRepo{
		insertFn: func(ctx context.Context, order domain.Order) error {
			inserted = order
			return nil
		},
	}
	products := &stubProductRepo{
		findByIDsFn: func(ctx context.Context, ids []string) (map[string]domain.Product, error) {
			return defaultCatalog(), nil
		},
		reserveStockFn: func(ctx context.Context, lines []domain.StockLine) error {
			reserved = lines
			return nil
		},
	}
	notifier := &recordingNotifier{}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:        orders,
		Products:      products,
		Notifications: notifier,
		Pricing:       OrderPricing{Currency: "INR", DeliveryCharge: 99, FreeDeliveryAbove: 10000, CodePrefix: "SE"},
		Counters: &stubCounterRepo{nextFn: func(ctx context.Context, name string, step int64) (int64, error) {
			if name != "orders-250901" {
				t.Fatalf("counter name = %q", name)
			}
			return 42, nil
		}},
	})

	result, err := svc.Create(context.Background(), codCommand())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if result.Order.Code != "SE-250901-00042" {
		t.Fatalf("order code = %q", result.Order.Code)
	}
	if result.Order.Status != domain.OrderStatusPlaced {
		t.Fatalf("status = %s", result.Order.Status)
	}
	if !result.Order.StockCommitted {
		t.Fatal("expected stock committed for cash on delivery")
	}
	if result.Order.Subtotal != 6500 || result.Order.DeliveryCharge != 99 || result.Order.Total != 6599 {
		t.Fatalf("pricing = %d + %d = %d", result.Order.Subtotal, result.Order.DeliveryCharge, result.Order.Total)
	}
	if result.PaymentSessionID != "" {
		t.Fatalf("unexpected payment session %q", result.PaymentSessionID)
	}
	if len(reserved) != 2 {
		t.Fatalf("reserved %d lines", len(reserved))
	}
	if inserted.Items[0].Title != "Willow Bat" || inserted.Items[0].UnitPrice != 2500 {
		t.Fatalf("item snapshot = %+v", inserted.Items[0])
	}
	if notifier.count() != 1 {
		t.Fatalf("notifications dispatched = %d", notifier.count())
	}
}

func TestCreateRejectsSubtotalMismatch(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{Orders: &stubOrderRepo{}})

	cmd := codCommand()
	cmd.Subtotal = 9999

	_, err := svc.Create(context.Background(), cmd)
	if !errors.Is(err, ErrCartMismatch) {
		t.Fatalf("err = %v, want ErrCartMismatch", err)
	}
}

func TestCreateRejectsUnknownProduct(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{Orders: &stubOrderRepo{}})

	cmd := codCommand()
	cmd.Items = append(cmd.Items, domain.OrderItem{ProductID: "prod_ghost", Quantity: 1})

	_, err := svc.Create(context.Background(), cmd)
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("err = %v, want ErrProductNotFound", err)
	}
}

func TestCreateRejectsInactiveProduct(t *testing.T) {
	catalog := defaultCatalog()
	bat := catalog["prod_bat"]
	bat.IsActive = false
	catalog["prod_bat"] = bat

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{},
		Products: &stubProductRepo{
			findByIDsFn: func(ctx context.Context, ids []string) (map[string]domain.Product, error) {
				return catalog, nil
			},
		},
	})

	_, err := svc.Create(context.Background(), codCommand())
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("err = %v, want ErrProductNotFound", err)
	}
}

func TestCreateMapsInsufficientStock(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{},
		Products: &stubProductRepo{
			findByIDsFn: func(ctx context.Context, ids []string) (map[string]domain.Product, error) {
				return defaultCatalog(), nil
			},
			reserveStockFn: func(ctx context.Context, lines []domain.StockLine) error {
				return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "prod_bat has 1 left", nil)
			},
		},
	})

	_, err := svc.Create(context.Background(), codCommand())
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("err = %v, want ErrOutOfStock", err)
	}
}

func TestCreateCODReleasesStockWhenInsertFails(t *testing.T) {
	var released []domain.StockLine
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			insertFn: func(ctx context.Context, order domain.Order) error {
				return repositories.NewOrderError(repositories.OrderErrorUnknown, "write failed", errors.New("unavailable"))
			},
		},
		Products: &stubProductRepo{
			findByIDsFn: func(ctx context.Context, ids []string) (map[string]domain.Product, error) {
				return defaultCatalog(), nil
			},
			releaseStockFn: func(ctx context.Context, lines []domain.StockLine) error {
				released = lines
				return nil
			},
		},
	})

	_, err := svc.Create(context.Background(), codCommand())
	if err == nil {
		t.Fatal("expected insert failure")
	}
	if len(released) != 2 {
		t.Fatalf("released %d lines, want compensation for both", len(released))
	}
}

func TestCreateOnlineOrderDefersStockAndReturnsSession(t *testing.T) {
	var inserted domain.Order
	provider := &stubGatewayProvider{
		name:   "CASHFREE",
		timing: payments.ReserveOnPayment,
		createFn: func(ctx context.Context, req payments.GatewayOrderRequest) (payments.GatewayOrder, error) {
			return payments.GatewayOrder{
				GatewayOrderID:   req.OrderCode,
				PaymentSessionID: "session_xyz",
			}, nil
		},
	}
	manager, err := payments.NewManager(map[domain.PaymentMethod]payments.Provider{
		domain.PaymentMethodOnline: provider,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	reserveCalled := false
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			insertFn: func(ctx context.Context, order domain.Order) error {
				inserted = order
				return nil
			},
		},
		Products: &stubProductRepo{
			findByIDsFn: func(ctx context.Context, ids []string) (map[string]domain.Product, error) {
				return defaultCatalog(), nil
			},
			reserveStockFn: func(ctx context.Context, lines []domain.StockLine) error {
				reserveCalled = true
				return nil
			},
		},
		Payments: manager,
	})

	cmd := codCommand()
	cmd.PaymentMethod = domain.PaymentMethodOnline

	result, err := svc.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if reserveCalled {
		t.Fatal("stock must not be reserved before payment confirmation")
	}
	if inserted.StockCommitted {
		t.Fatal("stored order must not be marked stock committed")
	}
	if result.PaymentSessionID != "session_xyz" {
		t.Fatalf("session = %q", result.PaymentSessionID)
	}
	if result.GatewayOrderID != inserted.Code {
		t.Fatalf("gateway order id = %q, want order code %q", result.GatewayOrderID, inserted.Code)
	}
	if len(provider.createdRequests) != 1 {
		t.Fatalf("gateway calls = %d", len(provider.createdRequests))
	}
	if got := provider.createdRequests[0]; got.OrderID != inserted.ID || got.Amount != inserted.Total {
		t.Fatalf("gateway request = %+v", got)
	}
}

func TestCreateOnlineOrderSurvivesGatewayFailure(t *testing.T) {
	inserted := false
	provider := &stubGatewayProvider{
		name:   "CASHFREE",
		timing: payments.ReserveOnPayment,
		createFn: func(ctx context.Context, req payments.GatewayOrderRequest) (payments.GatewayOrder, error) {
			return payments.GatewayOrder{}, errors.New("gateway 502")
		},
	}
	manager, err := payments.NewManager(map[domain.PaymentMethod]payments.Provider{
		domain.PaymentMethodOnline: provider,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			insertFn: func(ctx context.Context, order domain.Order) error {
				inserted = true
				return nil
			},
		},
		Payments: manager,
	})

	cmd := codCommand()
	cmd.PaymentMethod = domain.PaymentMethodOnline

	_, err = svc.Create(context.Background(), cmd)
	if !errors.Is(err, ErrPaymentInit) {
		t.Fatalf("err = %v, want ErrPaymentInit", err)
	}
	if !inserted {
		t.Fatal("order should persist pending even when the gateway call fails")
	}
}

func TestCreateRejectsUnsupportedMethod(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{Orders: &stubOrderRepo{}})

	cmd := codCommand()
	cmd.PaymentMethod = domain.PaymentMethod("UPI")

	_, err := svc.Create(context.Background(), cmd)
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("err = %v, want ErrOrderInvalidInput", err)
	}
}

func TestGetOrderHidesForeignOrders(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findByIDFn: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{ID: orderID, UserID: "user_owner"}, nil
			},
		},
	})

	if _, err := svc.GetOrder(context.Background(), "ord_1", Requester{UserID: "user_other"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("foreign read err = %v, want ErrOrderNotFound", err)
	}

	if _, err := svc.GetOrder(context.Background(), "ord_1", Requester{UserID: "user_other", Admin: true}); err != nil {
		t.Fatalf("admin read err = %v", err)
	}

	if _, err := svc.GetOrder(context.Background(), "ord_1", Requester{UserID: "user_owner"}); err != nil {
		t.Fatalf("owner read err = %v", err)
	}
}

func TestCancelByOwnerReleasesThroughStore(t *testing.T) {
	var captured repositories.CancelOrderRequest
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findByIDFn: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{ID: orderID, UserID: "user_1", Status: domain.OrderStatusPlaced}, nil
			},
			cancelFn: func(ctx context.Context, req repositories.CancelOrderRequest) (domain.Order, error) {
				captured = req
				return domain.Order{ID: req.OrderID, Status: domain.OrderStatusCancelled}, nil
			},
		},
	})

	order, err := svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID:   "ord_1",
		Requester: Requester{UserID: "user_1"},
		Reason:    "changed my mind",
	})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s", order.Status)
	}
	if captured.Actor != domain.ActorUser {
		t.Fatalf("actor = %s, want USER", captured.Actor)
	}
	if captured.Reason != "changed my mind" {
		t.Fatalf("reason = %q", captured.Reason)
	}
}

func TestCancelForeignOrderLooksMissing(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findByIDFn: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{ID: orderID, UserID: "user_owner"}, nil
			},
		},
	})

	_, err := svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID:   "ord_1",
		Requester: Requester{UserID: "user_intruder"},
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestCancelAlreadyCancelledIsIdempotent(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			cancelFn: func(ctx context.Context, req repositories.CancelOrderRequest) (domain.Order, error) {
				// The store treats a repeat cancel as a no-op success.
				return domain.Order{ID: req.OrderID, Status: domain.OrderStatusCancelled}, nil
			},
		},
	})

	order, err := svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID:   "ord_1",
		Requester: Requester{Admin: true},
	})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s", order.Status)
	}
}

func TestTransitionStatusAdvancesForward(t *testing.T) {
	var updated domain.Order
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findByIDFn: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{ID: orderID, Status: domain.OrderStatusConfirmed}, nil
			},
			updateFn: func(ctx context.Context, order domain.Order) error {
				updated = order
				return nil
			},
		},
	})

	order, err := svc.TransitionStatus(context.Background(), TransitionStatusCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusShipped,
		ActorID: "admin_1",
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if order.Status != domain.OrderStatusShipped || updated.Status != domain.OrderStatusShipped {
		t.Fatalf("status = %s / %s", order.Status, updated.Status)
	}
}

func TestTransitionStatusRejectsBackwardAndTerminal(t *testing.T) {
	tests := []struct {
		name    string
		current domain.OrderStatus
		target  domain.OrderStatus
	}{
		{name: "backward", current: domain.OrderStatusShipped, target: domain.OrderStatusConfirmed},
		{name: "same status", current: domain.OrderStatusConfirmed, target: domain.OrderStatusConfirmed},
		{name: "delivered is terminal", current: domain.OrderStatusDelivered, target: domain.OrderStatusShipped},
		{name: "cancelled is terminal", current: domain.OrderStatusCancelled, target: domain.OrderStatusConfirmed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestOrderService(t, OrderServiceDeps{
				Orders: &stubOrderRepo{
					findByIDFn: func(ctx context.Context, orderID string) (domain.Order, error) {
						return domain.Order{ID: orderID, Status: tc.current}, nil
					},
				},
			})

			_, err := svc.TransitionStatus(context.Background(), TransitionStatusCommand{
				OrderID: "ord_1",
				Target:  tc.target,
			})
			if !errors.Is(err, ErrOrderIllegalTransition) {
				t.Fatalf("err = %v, want ErrOrderIllegalTransition", err)
			}
		})
	}
}

func TestTransitionStatusRejectsCancellingDelivered(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			cancelFn: func(ctx context.Context, req repositories.CancelOrderRequest) (domain.Order, error) {
				return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorIllegalTransition, "delivered orders cannot be cancelled", nil)
			},
		},
	})

	_, err := svc.TransitionStatus(context.Background(), TransitionStatusCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusCancelled,
		ActorID: "admin_1",
	})
	if !errors.Is(err, ErrOrderIllegalTransition) {
		t.Fatalf("err = %v, want ErrOrderIllegalTransition", err)
	}
}

func TestTransitionStatusRejectsUnknownStatus(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{Orders: &stubOrderRepo{}})

	_, err := svc.TransitionStatus(context.Background(), TransitionStatusCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatus("RETURNED"),
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("err = %v, want ErrOrderInvalidInput", err)
	}
}

func TestFindByGatewayRefMissingIsNotAnError(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{Orders: &stubOrderRepo{}})

	_, found, err := svc.FindByGatewayRef(context.Background(), "SE-250901-00001", nil)
	if err != nil {
		t.Fatalf("FindByGatewayRef: %v", err)
	}
	if found {
		t.Fatal("expected found=false for unknown gateway ref")
	}
}

func TestFindByGatewayRefHidesUnpaidOrders(t *testing.T) {
	orders := &stubOrderRepo{
		findByGatewayFn: func(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
			return domain.Order{
				ID:     "ord_1",
				UserID: "user_owner",
				Status: domain.OrderStatusPlaced,
				Payment: domain.PaymentInfo{
					Gateway:        string(domain.PaymentMethodOnline),
					Status:         domain.PaymentStatusPending,
					GatewayOrderID: "SE-250901-00001",
				},
			}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	// The return-URL poll lands before the webhook; an order whose payment is
	// still pending must look exactly like one that is not there yet.
	_, found, err := svc.FindByGatewayRef(context.Background(), "SE-250901-00001", &Requester{UserID: "user_owner"})
	if err != nil {
		t.Fatalf("FindByGatewayRef: %v", err)
	}
	if found {
		t.Fatal("expected found=false while payment is pending")
	}
}

func TestFindByGatewayRefEnforcesOwnership(t *testing.T) {
	orders := &stubOrderRepo{
		findByGatewayFn: func(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
			return domain.Order{
				ID:     "ord_1",
				UserID: "user_owner",
				Payment: domain.PaymentInfo{
					Gateway: string(domain.PaymentMethodOnline),
					Status:  domain.PaymentStatusPaid,
				},
			}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	if _, _, err := svc.FindByGatewayRef(context.Background(), "SE-250901-00001", &Requester{UserID: "user_other"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("foreign err = %v, want ErrOrderNotFound", err)
	}

	order, found, err := svc.FindByGatewayRef(context.Background(), "SE-250901-00001", &Requester{UserID: "user_owner"})
	if err != nil || !found {
		t.Fatalf("owner lookup = %v found=%v", err, found)
	}
	if order.ID != "ord_1" {
		t.Fatalf("order id = %q", order.ID)
	}
}
