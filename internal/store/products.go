package store

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const productColumns = `id, sku, name, price, stock, track_quantity, sales_count, low_stock_threshold,
	images, category_ids, created_at, updated_at`

// GetProductByID retrieves a product by ID
func (q *Queries) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := q.get(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (q *Queries) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	return q.productsByIDs(ctx, ids, false)
}

// LockProductsByIDs retrieves products with a row lock held until the
// transaction ends. Rows are locked in ascending id order.
func (q *Queries) LockProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	return q.productsByIDs(ctx, ids, true)
}

func (q *Queries) productsByIDs(ctx context.Context, ids []int64, lock bool) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	stmt := "SELECT " + productColumns + " FROM products WHERE id IN (?) ORDER BY id"
	if lock {
		stmt += " FOR UPDATE"
	}
	query, args, err := sqlx.In(stmt, ids)
	if err != nil {
		return nil, err
	}
	query = q.db.Rebind(query)

	var products []models.Product
	if err := q.selectAll(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	return products, nil
}

// LockProduct retrieves a single product FOR UPDATE
func (q *Queries) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := q.get(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateProductStock writes the cached stock level and moves sales_count by salesDelta
func (q *Queries) UpdateProductStock(ctx context.Context, id int64, stock, salesDelta int) error {
	n, err := q.exec(ctx,
		`UPDATE products SET stock = $1, sales_count = GREATEST(sales_count + $2, 0), updated_at = NOW()
		WHERE id = $3`,
		stock, salesDelta, id)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
