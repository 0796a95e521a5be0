package service

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

// LedgerEntry describes one stock movement to record
type LedgerEntry struct {
	ProductID   int64
	VariantID   *string
	Action      models.InventoryAction
	Quantity    int
	Reason      string
	Reference   string
	PerformedBy *int64

	// Sale marks checkout and cancellation movements, which also adjust the
	// product sales counter and are skipped for untracked products.
	Sale bool
	// Strict rejects an OUT that would take stock below zero instead of clamping.
	Strict bool
}

// InventoryLedger applies stock movements and records each one in the ledger
type InventoryLedger struct {
	repo   Repository
	logger *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(repo Repository) *InventoryLedger {
	return &InventoryLedger{
		repo:   repo,
		logger: util.GetLogger(),
	}
}

// Record applies a movement in its own transaction
func (l *InventoryLedger) Record(ctx context.Context, entry LedgerEntry) (*models.InventoryTransaction, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Record")
	defer span.End()

	var txn *models.InventoryTransaction
	err := l.repo.InTx(ctx, func(tx Tx) error {
		var err error
		txn, err = l.RecordTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return txn, nil
}

// RecordTx applies a movement inside the caller's transaction. The product row
// is locked first so the stock update and the ledger row stay consistent.
// It returns nil, nil when a sale movement targets an untracked product.
func (l *InventoryLedger) RecordTx(ctx context.Context, tx Tx, entry LedgerEntry) (*models.InventoryTransaction, error) {
	if err := validateLedgerEntry(entry); err != nil {
		return nil, err
	}

	product, err := tx.LockProduct(ctx, entry.ProductID)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("product %d", entry.ProductID))
	}
	if entry.Sale && !product.TrackQuantity {
		return nil, nil
	}

	previous := product.Stock
	next := previous
	switch entry.Action {
	case models.InventoryActionIn:
		next = previous + entry.Quantity
	case models.InventoryActionOut:
		next = previous - entry.Quantity
		if next < 0 {
			if entry.Strict {
				util.InventoryOutOfStockTotal.Inc()
				return nil, fmt.Errorf("%w: %s has %d available, %d requested",
					ErrOutOfStock, product.Name, previous, entry.Quantity)
			}
			next = 0
		}
	case models.InventoryActionAdjustment:
		next = entry.Quantity
	}

	salesDelta := 0
	if entry.Sale {
		switch entry.Action {
		case models.InventoryActionOut:
			salesDelta = entry.Quantity
		case models.InventoryActionIn:
			salesDelta = -entry.Quantity
		}
	}

	txn := &models.InventoryTransaction{
		ProductID:     entry.ProductID,
		VariantID:     entry.VariantID,
		Action:        entry.Action,
		Quantity:      entry.Quantity,
		PreviousStock: previous,
		NewStock:      next,
		Reason:        optionalString(entry.Reason),
		Reference:     optionalString(entry.Reference),
		PerformedBy:   entry.PerformedBy,
	}
	if err := tx.CreateInventoryTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to create inventory transaction: %w", err)
	}
	if err := tx.UpdateProductStock(ctx, entry.ProductID, next, salesDelta); err != nil {
		return nil, translate(err, fmt.Sprintf("product %d", entry.ProductID))
	}

	util.InventoryTransactionsTotal.WithLabelValues(string(entry.Action)).Inc()
	l.logger.Debug("Inventory movement recorded",
		zap.Int64("product_id", entry.ProductID),
		zap.String("action", string(entry.Action)),
		zap.Int("quantity", entry.Quantity),
		zap.Int("previous_stock", previous),
		zap.Int("new_stock", next))

	return txn, nil
}

func validateLedgerEntry(entry LedgerEntry) error {
	if entry.ProductID <= 0 {
		return validationf("product id is required")
	}
	if !entry.Action.Valid() {
		return validationf("unknown inventory action %q", entry.Action)
	}
	if entry.Action == models.InventoryActionAdjustment {
		if entry.Quantity < 0 {
			return validationf("adjusted stock cannot be negative")
		}
		return nil
	}
	if entry.Quantity < 1 {
		return validationf("quantity must be at least 1")
	}
	return nil
}

// History returns the most recent ledger entries for a product
func (l *InventoryLedger) History(ctx context.Context, productID int64, limit int) ([]models.InventoryTransaction, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.History")
	defer span.End()

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if _, err := l.repo.GetProductByID(ctx, productID); err != nil {
		return nil, translate(err, fmt.Sprintf("product %d", productID))
	}
	return l.repo.ListProductTransactions(ctx, productID, limit)
}

// List returns a filtered page of ledger entries and the total match count
func (l *InventoryLedger) List(ctx context.Context, filter models.InventoryFilter) ([]models.InventoryTransaction, int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.List")
	defer span.End()

	if filter.Action != "" && !filter.Action.Valid() {
		return nil, 0, validationf("unknown inventory action %q", filter.Action)
	}
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)
	return l.repo.ListInventoryTransactions(ctx, filter)
}

// Stats summarises ledger activity and stock levels
func (l *InventoryLedger) Stats(ctx context.Context) (*models.InventoryStats, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Stats")
	defer span.End()

	return l.repo.GetInventoryStats(ctx)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
