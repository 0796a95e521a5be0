package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/payments"
	"fulfillment-service/internal/util"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// VerifyPaymentRequest is a client-reported gateway payment confirmation
type VerifyPaymentRequest struct {
	OrderID          int64  `json:"order_id" binding:"required"`
	GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
}

// RefundRequest refunds part or all of a completed payment
type RefundRequest struct {
	PaymentID int64           `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Reason    string          `json:"reason,omitempty"`
}

// WebhookParser verifies and decodes gateway webhook deliveries
type WebhookParser interface {
	ParseWebhook(payload []byte, sigHeader string) (payments.StripeConfirmation, error)
}

// PaymentService confirms gateway payments and records refunds
type PaymentService struct {
	repo     Repository
	states   *OrderStateMachine
	methods  *PaymentMethods
	webhooks WebhookParser
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewPaymentService creates a new payment service. webhooks may be nil when
// no webhook-confirmed gateway is configured.
func NewPaymentService(repo Repository, states *OrderStateMachine, methods *PaymentMethods, webhooks WebhookParser, notifier Notifier) *PaymentService {
	return &PaymentService{
		repo:     repo,
		states:   states,
		methods:  methods,
		webhooks: webhooks,
		notifier: notifier,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// VerifyPayment checks the gateway signature and confirms the order. A bad
// signature changes nothing and may be retried with a corrected payload.
func (ps *PaymentService) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyPayment")
	defer span.End()

	order, err := ps.repo.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("order %d", req.OrderID))
	}
	strategy, err := ps.methods.Lookup(order.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if !strategy.VerifySignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		util.PaymentFailedTotal.WithLabelValues(string(order.PaymentMethod), "signature").Inc()
		ps.logger.Warn("Payment signature mismatch",
			zap.Int64("order_id", order.ID),
			zap.String("gateway_order_id", req.GatewayOrderID))
		return nil, ErrInvalidSignature
	}

	return ps.confirm(ctx, strategy, func(tx Tx) (*models.Order, error) {
		order, err := tx.LockOrderByID(ctx, req.OrderID)
		if err != nil {
			return nil, translate(err, fmt.Sprintf("order %d", req.OrderID))
		}
		if order.GatewayOrderID == nil || *order.GatewayOrderID != req.GatewayOrderID {
			return nil, validationf("gateway order id does not match order %s", order.OrderNumber)
		}
		return order, nil
	}, req.GatewayOrderID, req.GatewayPaymentID)
}

// confirm marks the located order paid and confirmed. Confirming an already
// completed payment returns the order unchanged.
func (ps *PaymentService) confirm(ctx context.Context, strategy PaymentStrategy, locate func(tx Tx) (*models.Order, error), gatewayOrderID, gatewayPaymentID string) (*models.Order, error) {
	var order *models.Order
	changed := false
	err := ps.repo.InTx(ctx, func(tx Tx) error {
		var err error
		order, err = locate(tx)
		if err != nil {
			return err
		}
		if order.PaymentStatus == models.PaymentStatusCompleted {
			return nil
		}
		if order.Status == models.OrderStatusCancelled || order.Status == models.OrderStatusRefunded {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, order.OrderNumber, order.Status)
		}

		if err := setPaymentStatus(order, models.PaymentStatusCompleted); err != nil {
			return err
		}
		order.GatewayPaymentID = &gatewayPaymentID
		if order.Status == models.OrderStatusPending {
			if _, err := ps.states.Transition(ctx, tx, order, models.OrderStatusConfirmed, nil); err != nil {
				return err
			}
		} else if err := tx.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		payment, err := tx.LockPaymentByGatewayOrderID(ctx, gatewayOrderID)
		if err != nil {
			return translate(err, "payment "+gatewayOrderID)
		}
		now := ps.now()
		payment.Status = models.PaymentStatusCompleted
		payment.GatewayPaymentID = &gatewayPaymentID
		payment.FailureReason = nil
		payment.ProcessedAt = &now
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	items, err := ps.repo.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	order.Items = items

	if changed {
		util.PaymentSuccessTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
		ps.logger.Info("Payment confirmed",
			zap.String("order_number", order.OrderNumber),
			zap.String("gateway_payment_id", gatewayPaymentID))
		strategy.OnPaymentConfirmed(ctx, order)
		ps.notifier.Send(ctx, models.Notification{Kind: models.NotifyPaymentReceived, Order: order})
	}
	return order, nil
}

// HandleStripeWebhook verifies a Stripe delivery and applies the payment outcome.
// Deliveries are de-duplicated by event id.
func (ps *PaymentService) HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleStripeWebhook")
	defer span.End()

	if ps.webhooks == nil {
		return fmt.Errorf("%w: stripe webhooks are not configured", ErrPaymentGatewayUnavailable)
	}
	conf, err := ps.webhooks.ParseWebhook(payload, sigHeader)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidWebhook) {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return validationf("malformed webhook: %v", err)
	}

	processed, err := ps.repo.IsEventProcessed(ctx, conf.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		ps.logger.Info("Event already processed", zap.String("event_id", conf.EventID))
		return nil
	}

	switch conf.EventType {
	case payments.StripeEventPaymentSucceeded:
		strategy, err := ps.methods.Lookup(models.PaymentMethodStripe)
		if err != nil {
			return err
		}
		_, err = ps.confirm(ctx, strategy, func(tx Tx) (*models.Order, error) {
			order, err := tx.LockOrderByGatewayOrderID(ctx, conf.GatewayOrderID)
			return order, translate(err, "order for "+conf.GatewayOrderID)
		}, conf.GatewayOrderID, conf.GatewayPaymentID)
		if err != nil {
			return err
		}
	case payments.StripeEventPaymentFailed:
		if err := ps.recordFailure(ctx, conf); err != nil {
			return err
		}
	default:
		ps.logger.Debug("Ignoring stripe event", zap.String("type", conf.EventType))
	}

	if err := ps.repo.MarkEventProcessed(ctx, conf.EventID, conf.EventType); err != nil {
		ps.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// recordFailure marks a declined payment failed. The order stays open so the customer can retry.
func (ps *PaymentService) recordFailure(ctx context.Context, conf payments.StripeConfirmation) error {
	return ps.repo.InTx(ctx, func(tx Tx) error {
		order, err := tx.LockOrderByGatewayOrderID(ctx, conf.GatewayOrderID)
		if err != nil {
			return translate(err, "order for "+conf.GatewayOrderID)
		}
		if order.PaymentStatus == models.PaymentStatusCompleted {
			return nil
		}
		if err := setPaymentStatus(order, models.PaymentStatusFailed); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		payment, err := tx.LockPaymentByGatewayOrderID(ctx, conf.GatewayOrderID)
		if err != nil {
			return translate(err, "payment "+conf.GatewayOrderID)
		}
		payment.Status = models.PaymentStatusFailed
		payment.FailureReason = optionalString(conf.FailureReason)
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}

		util.PaymentFailedTotal.WithLabelValues(string(order.PaymentMethod), "declined").Inc()
		ps.logger.Warn("Payment declined",
			zap.String("order_number", order.OrderNumber),
			zap.String("reason", conf.FailureReason))
		return nil
	})
}

// ListPayments returns the payment attempts and refunds of an order
func (ps *PaymentService) ListPayments(ctx context.Context, viewer Viewer, orderID int64) ([]models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ListPayments")
	defer span.End()

	order, err := ps.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("order %d", orderID))
	}
	if !viewer.Staff && !order.OwnedBy(viewer.Identity) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}

	list, err := ps.repo.ListPaymentsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Refunds, err = ps.repo.ListRefundsByPaymentID(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return list, nil
}

// Refund records a refund against a completed payment. The refunded total
// never exceeds the payment amount; a full refund marks the payment refunded.
func (ps *PaymentService) Refund(ctx context.Context, req RefundRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Refund")
	defer span.End()

	if !req.Amount.IsPositive() {
		return nil, validationf("refund amount must be positive")
	}

	var payment *models.Payment
	var order *models.Order
	err := ps.repo.InTx(ctx, func(tx Tx) error {
		var err error
		payment, err = tx.LockPaymentByID(ctx, req.PaymentID)
		if err != nil {
			return translate(err, fmt.Sprintf("payment %d", req.PaymentID))
		}
		if payment.Status != models.PaymentStatusCompleted {
			return validationf("only completed payments can be refunded")
		}
		payment.Refunds, err = tx.ListRefundsByPaymentID(ctx, payment.ID)
		if err != nil {
			return err
		}
		refunded := payment.RefundedAmount().Add(req.Amount)
		if refunded.GreaterThan(payment.Amount) {
			return validationf("refund exceeds remaining amount %s",
				payment.Amount.Sub(payment.RefundedAmount()).StringFixed(2))
		}

		refund := &models.Refund{
			RefundID:    "rfnd_" + strings.ToLower(ulid.Make().String()),
			PaymentID:   payment.ID,
			Amount:      req.Amount,
			Reason:      optionalString(req.Reason),
			ProcessedAt: ps.now(),
		}
		if err := tx.CreateRefund(ctx, refund); err != nil {
			return fmt.Errorf("failed to create refund: %w", err)
		}
		payment.Refunds = append(payment.Refunds, *refund)

		full := refunded.Equal(payment.Amount)
		if full {
			payment.Status = models.PaymentStatusRefunded
			if err := tx.UpdatePayment(ctx, payment); err != nil {
				return fmt.Errorf("failed to update payment: %w", err)
			}
		}

		order, err = tx.LockOrderByID(ctx, payment.OrderID)
		if err != nil {
			return translate(err, fmt.Sprintf("order %d", payment.OrderID))
		}
		order.RefundAmount = order.RefundAmount.Add(req.Amount)
		if req.Reason != "" {
			order.RefundReason = refund.Reason
		}
		if full {
			if err := setPaymentStatus(order, models.PaymentStatusRefunded); err != nil {
				return err
			}
			if order.Status == models.OrderStatusDelivered || order.Status == models.OrderStatusCancelled {
				_, err := ps.states.Transition(ctx, tx, order, models.OrderStatusRefunded, nil)
				return err
			}
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.RefundsTotal.Inc()
	ps.logger.Info("Refund recorded",
		zap.Int64("payment_id", payment.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("amount", req.Amount.StringFixed(2)))
	return payment, nil
}
