package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending: {
		models.OrderStatusConfirmed, models.OrderStatusProcessing,
		models.OrderStatusShipped, models.OrderStatusCancelled,
	},
	models.OrderStatusConfirmed: {
		models.OrderStatusProcessing, models.OrderStatusShipped,
		models.OrderStatusDelivered, models.OrderStatusCancelled,
	},
	models.OrderStatusProcessing: {
		models.OrderStatusShipped, models.OrderStatusDelivered, models.OrderStatusCancelled,
	},
	models.OrderStatusShipped:   {models.OrderStatusDelivered},
	models.OrderStatusDelivered: {models.OrderStatusRefunded},
	models.OrderStatusCancelled: {models.OrderStatusRefunded},
}

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentStatusPending: {
		models.PaymentStatusProcessing, models.PaymentStatusCompleted,
		models.PaymentStatusFailed, models.PaymentStatusCancelled,
	},
	models.PaymentStatusProcessing: {
		models.PaymentStatusCompleted, models.PaymentStatusFailed, models.PaymentStatusCancelled,
	},
	models.PaymentStatusFailed: {
		models.PaymentStatusPending, models.PaymentStatusProcessing, models.PaymentStatusCompleted,
	},
	models.PaymentStatusCompleted: {models.PaymentStatusRefunded},
}

// canTransitionOrder reports whether from -> to is allowed. Staying put is allowed.
func canTransitionOrder(from, to models.OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// canTransitionPayment reports whether from -> to is allowed. Staying put is allowed.
func canTransitionPayment(from, to models.PaymentStatus) bool {
	if from == to {
		return true
	}
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// setPaymentStatus moves the order payment status along the payment lifecycle
func setPaymentStatus(order *models.Order, to models.PaymentStatus) error {
	if !canTransitionPayment(order.PaymentStatus, to) {
		return fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, order.PaymentStatus, to)
	}
	order.PaymentStatus = to
	return nil
}

// OrderStateMachine applies order status transitions and their side effects
type OrderStateMachine struct {
	ledger *InventoryLedger
	logger *zap.Logger
	now    func() time.Time
}

// NewOrderStateMachine creates a new order state machine
func NewOrderStateMachine(ledger *InventoryLedger) *OrderStateMachine {
	return &OrderStateMachine{
		ledger: ledger,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Transition moves a locked order to the target status inside tx. Cancelling
// restores stock for tracked lines and releases the coupon use. The returned
// flag is false when the order already had the target status.
func (m *OrderStateMachine) Transition(ctx context.Context, tx Tx, order *models.Order, to models.OrderStatus, performedBy *int64) (bool, error) {
	if !to.Valid() {
		return false, validationf("unknown order status %q", to)
	}
	from := order.Status
	if from == to {
		return false, nil
	}
	if !canTransitionOrder(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := m.now()
	switch to {
	case models.OrderStatusShipped:
		order.ShippedAt = &now
	case models.OrderStatusDelivered:
		order.DeliveredAt = &now
		if err := setPaymentStatus(order, models.PaymentStatusCompleted); err != nil {
			return false, err
		}
	case models.OrderStatusCancelled:
		order.CancelledAt = &now
		if err := m.releaseOrder(ctx, tx, order, performedBy); err != nil {
			return false, err
		}
		if order.PaymentStatus == models.PaymentStatusPending || order.PaymentStatus == models.PaymentStatusProcessing {
			order.PaymentStatus = models.PaymentStatusCancelled
		}
		if err := settleOpenPayments(ctx, tx, order.ID, order.PaymentStatus, now); err != nil {
			return false, err
		}
	}

	order.Status = to
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return false, fmt.Errorf("failed to update order: %w", err)
	}

	util.OrderTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	if to == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.Inc()
	}
	m.logger.Info("Order status changed",
		zap.String("order_number", order.OrderNumber),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	return true, nil
}

// releaseOrder returns stock and the coupon use held by an order
func (m *OrderStateMachine) releaseOrder(ctx context.Context, tx Tx, order *models.Order, performedBy *int64) error {
	items := order.Items
	if items == nil {
		var err error
		items, err = tx.GetOrderItems(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to get order items: %w", err)
		}
		order.Items = items
	}

	// rows are taken in ascending id order, the same order checkout locks them in
	lines := make([]models.OrderItem, 0, len(items))
	var productIDs []int64
	for _, item := range items {
		if item.StockTracked {
			lines = append(lines, item)
			productIDs = append(productIDs, item.ProductID)
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	if len(productIDs) > 0 {
		if _, err := tx.LockProductsByIDs(ctx, productIDs); err != nil {
			return fmt.Errorf("failed to lock products: %w", err)
		}
	}

	for _, item := range lines {
		_, err := m.ledger.RecordTx(ctx, tx, LedgerEntry{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Action:      models.InventoryActionIn,
			Quantity:    item.Quantity,
			Reason:      "Order cancelled",
			Reference:   order.OrderNumber,
			PerformedBy: performedBy,
			Sale:        true,
		})
		if err != nil {
			return fmt.Errorf("failed to restore stock for product %d: %w", item.ProductID, err)
		}
	}

	if order.CouponID != nil {
		released, err := tx.DeleteCouponRedemption(ctx, *order.CouponID, order.ID)
		if err != nil {
			return fmt.Errorf("failed to release coupon redemption: %w", err)
		}
		if released {
			if err := tx.DecrementCouponUsage(ctx, *order.CouponID); err != nil {
				return fmt.Errorf("failed to decrement coupon usage: %w", err)
			}
		}
	}
	return nil
}

// settleOpenPayments moves the order's pending and processing payment rows to
// status. Rows already settled are left alone.
func settleOpenPayments(ctx context.Context, tx Tx, orderID int64, status models.PaymentStatus, at time.Time) error {
	if status == models.PaymentStatusPending || status == models.PaymentStatusProcessing {
		return nil
	}
	rows, err := tx.ListPaymentsByOrderID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to list payments: %w", err)
	}
	for i := range rows {
		payment := &rows[i]
		if payment.Status != models.PaymentStatusPending && payment.Status != models.PaymentStatusProcessing {
			continue
		}
		payment.Status = status
		payment.ProcessedAt = &at
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
	}
	return nil
}

// statusNotification returns the customer notification for a status change, if any
func statusNotification(order *models.Order) (models.Notification, bool) {
	switch order.Status {
	case models.OrderStatusShipped, models.OrderStatusDelivered, models.OrderStatusCancelled:
		return models.Notification{
			Kind:   models.NotifyOrderStatusUpdate,
			Order:  order,
			Status: order.Status,
		}, true
	}
	return models.Notification{}, false
}
