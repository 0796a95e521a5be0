package store

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"
)

const paymentColumns = `id, order_id, method, gateway_order_id, gateway_payment_id, client_secret, status, amount,
	currency, failure_reason, processed_at, created_at, updated_at`

// CreatePayment creates a new payment record
func (q *Queries) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, method, gateway_order_id, client_secret, status, amount, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := q.get(ctx, payment, query,
		payment.OrderID, payment.Method, payment.GatewayOrderID, payment.ClientSecret,
		payment.Status, payment.Amount, payment.Currency)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// LockPaymentByGatewayOrderID retrieves the payment for a gateway order reference FOR UPDATE
func (q *Queries) LockPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	var payment models.Payment
	err := q.get(ctx, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE gateway_order_id = $1 FOR UPDATE", gatewayOrderID)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// LockPaymentByID retrieves a payment FOR UPDATE
func (q *Queries) LockPaymentByID(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	err := q.get(ctx, &payment, "SELECT "+paymentColumns+" FROM payments WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListPaymentsByOrderID retrieves all payment attempts for an order
func (q *Queries) ListPaymentsByOrderID(ctx context.Context, orderID int64) ([]models.Payment, error) {
	var payments []models.Payment
	err := q.selectAll(ctx, &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 ORDER BY created_at, id", orderID)
	return payments, err
}

// UpdatePayment persists the mutable fields of a payment
func (q *Queries) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		UPDATE payments SET status = $1, gateway_payment_id = $2, failure_reason = $3, processed_at = $4,
			updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`

	err := q.get(ctx, &payment.UpdatedAt, query,
		payment.Status, payment.GatewayPaymentID, payment.FailureReason, payment.ProcessedAt, payment.ID)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return nil
}

// CreateRefund appends a refund entry to a payment
func (q *Queries) CreateRefund(ctx context.Context, refund *models.Refund) error {
	query := `
		INSERT INTO refunds (refund_id, payment_id, amount, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id, processed_at`

	err := q.get(ctx, refund, query, refund.RefundID, refund.PaymentID, refund.Amount, refund.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}
	return nil
}

// ListRefundsByPaymentID retrieves the refunds recorded against a payment
func (q *Queries) ListRefundsByPaymentID(ctx context.Context, paymentID int64) ([]models.Refund, error) {
	var refunds []models.Refund
	err := q.selectAll(ctx, &refunds,
		`SELECT id, refund_id, payment_id, amount, reason, processed_at FROM refunds
		WHERE payment_id = $1 ORDER BY processed_at, id`, paymentID)
	return refunds, err
}
