package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/strike-edge/api/internal/domain"
	pfirestore "github.com/strike-edge/api/internal/platform/firestore"
	"github.com/strike-edge/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order aggregates. The payment confirmation and
// cancellation commits span the order document and its product documents in
// one transaction, so duplicate webhooks and cancel/confirm races serialise
// on the order document.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
	now      func() time.Time
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders, products: products, now: time.Now}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order insert: id is required", nil)
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		return tx.Create(ref, newOrderDocument(order))
	})
	return pfirestore.WrapError("orders.insert", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order find: id is required", nil)
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order find: gateway order id is required", nil)
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("payment.gatewayOrderId", "==", gatewayOrderID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order with gateway ref %s not found", gatewayOrderID), nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order update: id is required", nil)
	}
	_, err := r.orders.Set(ctx, order.ID, newOrderDocument(order))
	return err
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order list: user id is required", nil)
	}

	return r.page(ctx, pager, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID)
	})
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	return r.page(ctx, filter.Pager, func(q firestore.Query) firestore.Query {
		if filter.Status != nil {
			q = q.Where("status", "==", string(*filter.Status))
		}
		if search := strings.TrimSpace(filter.Search); search != "" {
			if strings.HasPrefix(strings.ToUpper(search), "SE-") {
				q = q.Where("code", "==", strings.ToUpper(search))
			} else {
				q = q.Where("shipping.phone", "==", search)
			}
		}
		return q
	})
}

func (r *OrderRepository) page(ctx context.Context, pager domain.Pagination, narrow pfirestore.QueryBuilder) (domain.CursorPage[domain.Order], error) {
	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := narrow(client.Collection(ordersCollection).Query).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// ConfirmPayment applies a successful payment notification exactly once.
// The PAID check and the stock commit are evaluated inside one transaction;
// a redelivered webhook observes PAID and stops before touching stock.
func (r *OrderRepository) ConfirmPayment(ctx context.Context, req repositories.ConfirmPaymentRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "confirm payment: order id is required", nil)
	}

	now := req.PaidAt.UTC()
	if now.IsZero() {
		now = r.now().UTC()
	}

	var confirmed domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		if doc.Payment.Status == string(domain.PaymentStatusPaid) {
			return repositories.NewOrderError(repositories.OrderErrorAlreadyPaid, fmt.Sprintf("order %s payment already confirmed", orderID), nil)
		}
		if doc.Status == string(domain.OrderStatusCancelled) {
			return repositories.NewOrderError(repositories.OrderErrorIllegalTransition, fmt.Sprintf("order %s is cancelled", orderID), nil)
		}

		type pending struct {
			ref *firestore.DocumentRef
			doc productDocument
		}

		// All reads happen before any write. Stock commits only for orders
		// that did not reserve at placement.
		var updates []pending
		if !doc.StockCommitted {
			updates = make([]pending, 0, len(doc.Items))
			for _, item := range doc.Items {
				productID := strings.TrimSpace(item.ProductID)
				if productID == "" || item.Quantity <= 0 {
					continue
				}
				ref, err := r.products.DocumentRef(ctx, productID)
				if err != nil {
					return err
				}
				productSnap, err := tx.Get(ref)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("product %s not found", productID), err)
					}
					return err
				}
				var product productDocument
				if err := productSnap.DataTo(&product); err != nil {
					return fmt.Errorf("decode product %s: %w", productID, err)
				}
				if product.Stock < item.Quantity {
					return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s", productID), nil)
				}
				product.Stock -= item.Quantity
				product.SoldCount += item.Quantity
				product.UpdatedAt = now
				updates = append(updates, pending{ref: ref, doc: product})
			}
		}

		for _, update := range updates {
			if err := tx.Set(update.ref, update.doc); err != nil {
				return err
			}
		}

		doc.Payment.Status = string(domain.PaymentStatusPaid)
		doc.Payment.PaidAt = &now
		if gatewayOrderID := strings.TrimSpace(req.GatewayOrderID); gatewayOrderID != "" {
			doc.Payment.GatewayOrderID = gatewayOrderID
		}
		if paymentID := strings.TrimSpace(req.GatewayPaymentID); paymentID != "" {
			doc.Payment.GatewayPaymentID = paymentID
		}
		doc.StockCommitted = true
		doc.Status = string(domain.OrderStatusPlaced)
		doc.UpdatedAt = now
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}

		confirmed = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.confirmPayment", err)
	}
	return confirmed, nil
}

// Cancel moves the order to CANCELLED. Delivered orders are rejected, an
// already cancelled order is a no-op, and stock is released only when it
// was actually committed.
func (r *OrderRepository) Cancel(ctx context.Context, req repositories.CancelOrderRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order cancel: order id is required", nil)
	}

	now := req.Requested.UTC()
	if now.IsZero() {
		now = r.now().UTC()
	}

	var cancelled domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		if doc.Status == string(domain.OrderStatusCancelled) {
			cancelled = doc.toDomain(orderID)
			return nil
		}
		if doc.Status == string(domain.OrderStatusDelivered) {
			return repositories.NewOrderError(repositories.OrderErrorIllegalTransition, fmt.Sprintf("order %s already delivered", orderID), nil)
		}

		type pending struct {
			ref *firestore.DocumentRef
			doc productDocument
		}

		var updates []pending
		if doc.StockCommitted {
			updates = make([]pending, 0, len(doc.Items))
			for _, item := range doc.Items {
				productID := strings.TrimSpace(item.ProductID)
				if productID == "" || item.Quantity <= 0 {
					continue
				}
				ref, err := r.products.DocumentRef(ctx, productID)
				if err != nil {
					return err
				}
				productSnap, err := tx.Get(ref)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						continue
					}
					return err
				}
				var product productDocument
				if err := productSnap.DataTo(&product); err != nil {
					return fmt.Errorf("decode product %s: %w", productID, err)
				}
				product.Stock += item.Quantity
				product.SoldCount -= item.Quantity
				if product.SoldCount < 0 {
					product.SoldCount = 0
				}
				product.UpdatedAt = now
				updates = append(updates, pending{ref: ref, doc: product})
			}
		}

		for _, update := range updates {
			if err := tx.Set(update.ref, update.doc); err != nil {
				return err
			}
		}

		doc.Status = string(domain.OrderStatusCancelled)
		doc.CancelReason = strings.TrimSpace(req.Reason)
		doc.CancelledBy = string(req.Actor)
		doc.StockCommitted = false
		doc.UpdatedAt = now
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}

		cancelled = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.cancel", err)
	}
	return cancelled, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	Code           string              `firestore:"code"`
	UserID         string              `firestore:"userId"`
	Items          []orderItemDocument `firestore:"items"`
	Shipping       shippingDocument    `firestore:"shipping"`
	PaymentMethod  string              `firestore:"paymentMethod"`
	Payment        paymentDocument     `firestore:"payment"`
	Status         string              `firestore:"status"`
	Subtotal       int64               `firestore:"subtotal"`
	DeliveryCharge int64               `firestore:"deliveryCharge"`
	Total          int64               `firestore:"total"`
	CancelReason   string              `firestore:"cancelReason,omitempty"`
	CancelledBy    string              `firestore:"cancelledBy,omitempty"`
	StockCommitted bool                `firestore:"stockCommitted"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Title     string `firestore:"title"`
	Image     string `firestore:"image,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"qty"`
}

type shippingDocument struct {
	FullName string `firestore:"fullName"`
	Phone    string `firestore:"phone"`
	Street   string `firestore:"street"`
	City     string `firestore:"city"`
	State    string `firestore:"state"`
	Pincode  string `firestore:"pincode"`
	Country  string `firestore:"country"`
}

type paymentDocument struct {
	Gateway          string     `firestore:"gateway"`
	GatewayOrderID   string     `firestore:"gatewayOrderId,omitempty"`
	GatewayPaymentID string     `firestore:"gatewayPaymentId,omitempty"`
	Status           string     `firestore:"status"`
	PaidAt           *time.Time `firestore:"paidAt,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Title:     strings.TrimSpace(item.Title),
			Image:     strings.TrimSpace(item.Image),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
	}
	return orderDocument{
		Code:   strings.TrimSpace(order.Code),
		UserID: strings.TrimSpace(order.UserID),
		Items:  items,
		Shipping: shippingDocument{
			FullName: strings.TrimSpace(order.Shipping.FullName),
			Phone:    strings.TrimSpace(order.Shipping.Phone),
			Street:   strings.TrimSpace(order.Shipping.Street),
			City:     strings.TrimSpace(order.Shipping.City),
			State:    strings.TrimSpace(order.Shipping.State),
			Pincode:  strings.TrimSpace(order.Shipping.Pincode),
			Country:  strings.TrimSpace(order.Shipping.Country),
		},
		PaymentMethod: string(order.PaymentMethod),
		Payment: paymentDocument{
			Gateway:          strings.TrimSpace(order.Payment.Gateway),
			GatewayOrderID:   strings.TrimSpace(order.Payment.GatewayOrderID),
			GatewayPaymentID: strings.TrimSpace(order.Payment.GatewayPaymentID),
			Status:           string(order.Payment.Status),
			PaidAt:           order.Payment.PaidAt,
		},
		Status:         string(order.Status),
		Subtotal:       order.Subtotal,
		DeliveryCharge: order.DeliveryCharge,
		Total:          order.Total,
		CancelReason:   strings.TrimSpace(order.CancelReason),
		CancelledBy:    string(order.CancelledBy),
		StockCommitted: order.StockCommitted,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID: item.ProductID,
			Title:     item.Title,
			Image:     item.Image,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
	}
	return domain.Order{
		ID:     id,
		Code:   d.Code,
		UserID: d.UserID,
		Items:  items,
		Shipping: domain.ShippingAddress{
			FullName: d.Shipping.FullName,
			Phone:    d.Shipping.Phone,
			Street:   d.Shipping.Street,
			City:     d.Shipping.City,
			State:    d.Shipping.State,
			Pincode:  d.Shipping.Pincode,
			Country:  d.Shipping.Country,
		},
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		Payment: domain.PaymentInfo{
			Gateway:          d.Payment.Gateway,
			GatewayOrderID:   d.Payment.GatewayOrderID,
			GatewayPaymentID: d.Payment.GatewayPaymentID,
			Status:           domain.PaymentStatus(d.Payment.Status),
			PaidAt:           d.Payment.PaidAt,
		},
		Status:         domain.OrderStatus(d.Status),
		Subtotal:       d.Subtotal,
		DeliveryCharge: d.DeliveryCharge,
		Total:          d.Total,
		CancelReason:   d.CancelReason,
		CancelledBy:    domain.Actor(d.CancelledBy),
		StockCommitted: d.StockCommitted,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
