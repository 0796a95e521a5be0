package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fulfillment-service/internal/models"
)

const orderColumns = `id, order_number, customer_id, session_id, email, phone, subtotal, tax_amount,
	shipping_amount, discount_amount, total_amount, currency, status, payment_status, payment_method,
	gateway_order_id, gateway_payment_id, shipping_address, billing_address, shipping_method,
	tracking_number, notes, coupon_id, coupon_code, refund_amount, refund_reason, idempotency_key,
	cancelled_at, shipped_at, delivered_at, created_at, updated_at`

const orderItemColumns = `id, order_id, product_id, variant_id, name, sku, price, quantity, total, image, stock_tracked`

// NextOrderSequence atomically allocates the next order sequence number for a YYYYMM period
func (q *Queries) NextOrderSequence(ctx context.Context, period string) (int64, error) {
	var value int64
	err := q.get(ctx, &value, `
		INSERT INTO order_sequences (period, value) VALUES ($1, 1)
		ON CONFLICT (period) DO UPDATE SET value = order_sequences.value + 1
		RETURNING value`, period)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate order sequence: %w", err)
	}
	return value, nil
}

// CreateOrder creates a new order
func (q *Queries) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_number, customer_id, session_id, email, phone, subtotal, tax_amount,
			shipping_amount, discount_amount, total_amount, currency, status, payment_status, payment_method,
			shipping_address, billing_address, shipping_method, notes, coupon_id, coupon_code, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id, created_at, updated_at`

	err := q.get(ctx, order, query,
		order.OrderNumber, order.CustomerID, order.SessionID, order.Email, order.Phone,
		order.Subtotal, order.TaxAmount, order.ShippingAmount, order.DiscountAmount, order.TotalAmount,
		order.Currency, order.Status, order.PaymentStatus, order.PaymentMethod,
		order.ShippingAddress, order.BillingAddress, order.ShippingMethod, order.Notes,
		order.CouponID, order.CouponCode, order.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// CreateOrderItem creates a new order item
func (q *Queries) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, variant_id, name, sku, price, quantity, total, image, stock_tracked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := q.get(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.VariantID, item.Name, item.SKU,
		item.Price, item.Quantity, item.Total, item.Image, item.StockTracked)
	if err != nil {
		return fmt.Errorf("failed to insert order item: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (q *Queries) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return q.orderWhere(ctx, "id = $1", id)
}

// LockOrderByID retrieves an order by ID FOR UPDATE
func (q *Queries) LockOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return q.orderWhere(ctx, "id = $1 FOR UPDATE", id)
}

// GetOrderByNumber retrieves an order by its human-facing number
func (q *Queries) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return q.orderWhere(ctx, "order_number = $1", number)
}

// LockOrderByGatewayOrderID retrieves the order a gateway order reference belongs to FOR UPDATE
func (q *Queries) LockOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	return q.orderWhere(ctx, "gateway_order_id = $1 FOR UPDATE", gatewayOrderID)
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (q *Queries) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	order, err := q.orderWhere(ctx, "idempotency_key = $1", key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return order, err
}

func (q *Queries) orderWhere(ctx context.Context, cond string, args ...interface{}) (*models.Order, error) {
	var order models.Order
	if err := q.get(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE "+cond, args...); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (q *Queries) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := q.selectAll(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// UpdateOrder persists the mutable lifecycle fields of an order
func (q *Queries) UpdateOrder(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders SET status = $1, payment_status = $2, gateway_order_id = $3, gateway_payment_id = $4,
			shipping_method = $5, tracking_number = $6, refund_amount = $7, refund_reason = $8,
			cancelled_at = $9, shipped_at = $10, delivered_at = $11, updated_at = NOW()
		WHERE id = $12
		RETURNING updated_at`

	err := q.get(ctx, &order.UpdatedAt, query,
		order.Status, order.PaymentStatus, order.GatewayOrderID, order.GatewayPaymentID,
		order.ShippingMethod, order.TrackingNumber, order.RefundAmount, order.RefundReason,
		order.CancelledAt, order.ShippedAt, order.DeliveredAt, order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

// ReleaseIdempotencyKey detaches the client idempotency key from an order so a retry can reuse it
func (q *Queries) ReleaseIdempotencyKey(ctx context.Context, orderID int64) error {
	if _, err := q.exec(ctx, "UPDATE orders SET idempotency_key = NULL, updated_at = NOW() WHERE id = $1", orderID); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// ListOrders returns a filtered page of orders, newest first, and the total match count
func (q *Queries) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.CustomerID != nil {
		add("customer_id = $%d", *filter.CustomerID)
	}
	if filter.SessionID != nil {
		add("session_id = $%d", *filter.SessionID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.PaymentStatus != "" {
		add("payment_status = $%d", filter.PaymentStatus)
	}
	if filter.PaymentMethod != "" {
		add("payment_method = $%d", filter.PaymentMethod)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}
	if filter.MinAmount != nil {
		add("total_amount >= $%d", *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		add("total_amount <= $%d", *filter.MaxAmount)
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(order_number ILIKE $%d OR email ILIKE $%d)", n, n))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := q.get(ctx, &total, "SELECT COUNT(*) FROM orders"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := "SELECT " + orderColumns + " FROM orders" + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var orders []models.Order
	if err := q.selectAll(ctx, &orders, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

// GetOrderStats counts orders by status; revenue excludes cancelled orders
func (q *Queries) GetOrderStats(ctx context.Context) (*models.OrderStats, error) {
	var stats models.OrderStats
	err := q.get(ctx, &stats, `
		SELECT
			COUNT(*) AS total_orders,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending_orders,
			COUNT(*) FILTER (WHERE status = 'confirmed') AS confirmed_orders,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing_orders,
			COUNT(*) FILTER (WHERE status = 'shipped') AS shipped_orders,
			COUNT(*) FILTER (WHERE status = 'delivered') AS delivered_orders,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled_orders,
			COALESCE(SUM(total_amount) FILTER (WHERE status <> 'cancelled'), 0) AS total_revenue
		FROM orders`)
	if err != nil {
		return nil, fmt.Errorf("failed to load order stats: %w", err)
	}
	return &stats, nil
}
