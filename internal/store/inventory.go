package store

import (
	"context"
	"fmt"
	"strings"

	"fulfillment-service/internal/models"
)

const inventoryColumns = `id, product_id, variant_id, action, quantity, previous_stock, new_stock,
	reason, reference, performed_by, created_at`

// CreateInventoryTransaction appends a ledger entry
func (q *Queries) CreateInventoryTransaction(ctx context.Context, txn *models.InventoryTransaction) error {
	query := `
		INSERT INTO inventory_transactions
			(product_id, variant_id, action, quantity, previous_stock, new_stock, reason, reference, performed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := q.get(ctx, txn, query,
		txn.ProductID, txn.VariantID, txn.Action, txn.Quantity, txn.PreviousStock, txn.NewStock,
		txn.Reason, txn.Reference, txn.PerformedBy)
	if err != nil {
		return fmt.Errorf("failed to insert inventory transaction: %w", err)
	}
	return nil
}

// ListProductTransactions returns the newest ledger entries for a product
func (q *Queries) ListProductTransactions(ctx context.Context, productID int64, limit int) ([]models.InventoryTransaction, error) {
	var txns []models.InventoryTransaction
	err := q.selectAll(ctx, &txns,
		"SELECT "+inventoryColumns+` FROM inventory_transactions
		WHERE product_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		productID, limit)
	return txns, err
}

// ListInventoryTransactions returns a filtered page of ledger entries and the total match count
func (q *Queries) ListInventoryTransactions(ctx context.Context, filter models.InventoryFilter) ([]models.InventoryTransaction, int, error) {
	var conds []string
	var args []interface{}
	if filter.ProductID != nil {
		args = append(args, *filter.ProductID)
		conds = append(conds, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := q.get(ctx, &total, "SELECT COUNT(*) FROM inventory_transactions"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count inventory transactions: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := "SELECT " + inventoryColumns + " FROM inventory_transactions" + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var txns []models.InventoryTransaction
	if err := q.selectAll(ctx, &txns, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list inventory transactions: %w", err)
	}
	return txns, total, nil
}

// GetInventoryStats aggregates ledger counts and stock levels
func (q *Queries) GetInventoryStats(ctx context.Context) (*models.InventoryStats, error) {
	var stats models.InventoryStats
	err := q.get(ctx, &stats, `
		SELECT
			(SELECT COUNT(*) FROM inventory_transactions) AS total_transactions,
			(SELECT COUNT(*) FROM inventory_transactions WHERE action = 'in') AS stock_in_transactions,
			(SELECT COUNT(*) FROM inventory_transactions WHERE action = 'out') AS stock_out_transactions,
			(SELECT COUNT(*) FROM inventory_transactions WHERE action = 'adjustment') AS adjustment_transactions,
			(SELECT COUNT(*) FROM products
				WHERE track_quantity AND stock > 0 AND stock <= low_stock_threshold) AS low_stock_products,
			(SELECT COUNT(*) FROM products WHERE track_quantity AND stock = 0) AS out_of_stock_products`)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory stats: %w", err)
	}
	return &stats, nil
}
