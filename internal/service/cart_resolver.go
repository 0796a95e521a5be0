package service

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
)

// SnapshotLine is one stock-checked cart line with its current catalog row
type SnapshotLine struct {
	Item    models.CartItem
	Product models.Product
}

// Total returns the line total at the captured cart price
func (l SnapshotLine) Total() decimal.Decimal {
	return l.Item.Price.Mul(decimal.NewFromInt(int64(l.Item.Quantity)))
}

// CartSnapshot is a resolved cart ready to be priced into an order
type CartSnapshot struct {
	Identity    models.CartIdentity
	Lines       []SnapshotLine
	Subtotal    decimal.Decimal
	ProductIDs  []int64
	CategoryIDs []int64
}

// CartResolver loads a cart and checks every line against the catalog
type CartResolver struct {
	carts    CartStore
	products ProductStore
}

// NewCartResolver creates a new cart resolver
func NewCartResolver(carts CartStore, products ProductStore) *CartResolver {
	return &CartResolver{carts: carts, products: products}
}

// Resolve returns a priced snapshot of the identity's cart. It fails with
// ErrCartEmpty when there is nothing to order and ErrOutOfStock naming the
// first line whose product is gone or short of stock.
func (r *CartResolver) Resolve(ctx context.Context, identity models.CartIdentity) (*CartSnapshot, error) {
	ctx, span := util.StartSpan(ctx, "CartResolver.Resolve")
	defer span.End()

	if !identity.Valid() {
		return nil, validationf("exactly one of user id or session id is required")
	}

	cart, err := r.carts.GetCart(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, ErrCartEmpty
	}

	ids := make([]int64, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := r.products.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	byID := make(map[int64]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	snap := &CartSnapshot{Identity: identity, Subtotal: decimal.Zero}
	seenCategory := make(map[int64]bool)
	seenProduct := make(map[int64]bool)
	// requested sums quantities across variant lines of one product
	requested := make(map[int64]int)

	for _, item := range cart.Items {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %d is no longer available", ErrOutOfStock, item.ProductID)
		}
		requested[product.ID] += item.Quantity
		if product.TrackQuantity && product.Stock < requested[product.ID] {
			return nil, fmt.Errorf("%w: %s has %d available, %d requested",
				ErrOutOfStock, product.Name, product.Stock, requested[product.ID])
		}

		line := SnapshotLine{Item: item, Product: product}
		snap.Lines = append(snap.Lines, line)
		snap.Subtotal = snap.Subtotal.Add(line.Total())

		if !seenProduct[product.ID] {
			seenProduct[product.ID] = true
			snap.ProductIDs = append(snap.ProductIDs, product.ID)
		}
		for _, c := range product.CategoryIDs {
			if !seenCategory[c] {
				seenCategory[c] = true
				snap.CategoryIDs = append(snap.CategoryIDs, c)
			}
		}
	}

	return snap, nil
}
