package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/strike-edge/api/internal/domain"
	pfirestore "github.com/strike-edge/api/internal/platform/firestore"
	"github.com/strike-edge/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository reads catalog documents and owns the stock ledger.
// Stock guards are evaluated inside Firestore transactions so concurrent
// checkouts serialise on the product documents.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
	now      func() time.Time
}

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{provider: provider, products: products, now: time.Now}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "product find: id is required", nil)
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}

	found := make(map[string]domain.Product, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		doc, err := r.products.Get(ctx, id)
		if err != nil {
			if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		found[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return found, nil
}

// ReserveStock validates every line before writing any decrement: the
// transaction fails whole when any product is missing or short.
func (r *ProductRepository) ReserveStock(ctx context.Context, lines []domain.StockLine) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if len(lines) == 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "stock reserve: at least one line is required", nil)
	}

	now := r.now().UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pending struct {
			ref *firestore.DocumentRef
			doc productDocument
		}

		updates := make([]pending, 0, len(lines))
		for _, line := range lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" {
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "stock reserve: product id is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, fmt.Sprintf("stock reserve: quantity for %s must be > 0", productID), nil)
			}

			ref, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("product %s not found", productID), err)
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			if doc.Stock < line.Quantity {
				return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s", productID), nil)
			}
			doc.Stock -= line.Quantity
			doc.SoldCount += line.Quantity
			doc.UpdatedAt = now
			updates = append(updates, pending{ref: ref, doc: doc})
		}

		for _, update := range updates {
			if err := tx.Set(update.ref, update.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapStockError("products.reserve", err)
	}
	return nil
}

// ReleaseStock reverses a committed reservation. Missing products are not an
// error here so cancellations of orders referencing retired catalog entries
// still complete.
func (r *ProductRepository) ReleaseStock(ctx context.Context, lines []domain.StockLine) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if len(lines) == 0 {
		return nil
	}

	now := r.now().UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pending struct {
			ref *firestore.DocumentRef
			doc productDocument
		}

		updates := make([]pending, 0, len(lines))
		for _, line := range lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" || line.Quantity <= 0 {
				continue
			}
			ref, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			doc.Stock += line.Quantity
			doc.SoldCount -= line.Quantity
			if doc.SoldCount < 0 {
				doc.SoldCount = 0
			}
			doc.UpdatedAt = now
			updates = append(updates, pending{ref: ref, doc: doc})
		}

		for _, update := range updates {
			if err := tx.Set(update.ref, update.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapStockError("products.release", err)
	}
	return nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	Title     string    `firestore:"title"`
	Slug      string    `firestore:"slug"`
	Price     int64     `firestore:"price"`
	Image     string    `firestore:"image"`
	Stock     int       `firestore:"stock"`
	SoldCount int       `firestore:"soldCount"`
	IsActive  bool      `firestore:"isActive"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		Title:     strings.TrimSpace(d.Title),
		Slug:      strings.TrimSpace(d.Slug),
		Price:     d.Price,
		Image:     strings.TrimSpace(d.Image),
		Stock:     d.Stock,
		SoldCount: d.SoldCount,
		IsActive:  d.IsActive,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
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
