package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/payments"
	"fulfillment-service/internal/util"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// PaymentSession is what a client needs to complete a gateway-routed payment
type PaymentSession struct {
	Gateway        string `json:"gateway"`
	GatewayOrderID string `json:"gateway_order_id"`
	ClientSecret   string `json:"client_secret,omitempty"`
	AmountMinor    int64  `json:"amount"`
	Currency       string `json:"currency"`
}

// PaymentStrategy is how one payment method settles an order
type PaymentStrategy interface {
	// InitialStatus is the order status a freshly created order starts in.
	InitialStatus() models.OrderStatus
	// OnOrderCreated runs after the order is committed. It returns the
	// session the client needs to pay, if any.
	OnOrderCreated(ctx context.Context, order *models.Order) (*PaymentSession, error)
	// ResumeSession rebuilds the session of an order still awaiting payment,
	// for a repeated checkout. It returns nil when there is nothing to pay.
	ResumeSession(ctx context.Context, order *models.Order) (*PaymentSession, error)
	// OnPaymentConfirmed runs after a payment confirmation is committed.
	OnPaymentConfirmed(ctx context.Context, order *models.Order)
	// VerifySignature checks a client-reported payment confirmation.
	VerifySignature(orderRef, paymentRef, signature string) bool
}

// SignatureVerifier checks gateway callback signatures
type SignatureVerifier interface {
	VerifySignature(orderRef, paymentRef, signature string) bool
}

// PaymentMethods maps each accepted payment method to its strategy
type PaymentMethods struct {
	strategies map[models.PaymentMethod]PaymentStrategy
}

// NewPaymentMethods creates an empty registry
func NewPaymentMethods() *PaymentMethods {
	return &PaymentMethods{strategies: make(map[models.PaymentMethod]PaymentStrategy)}
}

// Register accepts method at checkout, settled by strategy
func (p *PaymentMethods) Register(method models.PaymentMethod, strategy PaymentStrategy) {
	p.strategies[method] = strategy
}

// Lookup returns the strategy for method
func (p *PaymentMethods) Lookup(method models.PaymentMethod) (PaymentStrategy, error) {
	strategy, ok := p.strategies[method]
	if !ok {
		return nil, validationf("payment method %q is not supported", method)
	}
	return strategy, nil
}

// cashOnDelivery settles offline, so the order is confirmed and the cart cleared at once
type cashOnDelivery struct {
	carts  CartStore
	logger *zap.Logger
}

// NewCashOnDelivery creates the strategy for cash-style methods
func NewCashOnDelivery(carts CartStore) PaymentStrategy {
	return &cashOnDelivery{carts: carts, logger: util.GetLogger()}
}

func (c *cashOnDelivery) InitialStatus() models.OrderStatus {
	return models.OrderStatusConfirmed
}

func (c *cashOnDelivery) OnOrderCreated(ctx context.Context, order *models.Order) (*PaymentSession, error) {
	clearOrderCart(ctx, c.carts, c.logger, order)
	return nil, nil
}

func (c *cashOnDelivery) ResumeSession(context.Context, *models.Order) (*PaymentSession, error) {
	return nil, nil
}

func (c *cashOnDelivery) OnPaymentConfirmed(context.Context, *models.Order) {}

func (c *cashOnDelivery) VerifySignature(string, string, string) bool {
	return false
}

// gatewayRouted waits for an external confirmation before the cart is cleared
type gatewayRouted struct {
	gateway  payments.Gateway
	verifier SignatureVerifier
	repo     Repository
	states   *OrderStateMachine
	carts    CartStore
	timeout  time.Duration
	logger   *zap.Logger
}

// NewGatewayRouted creates the strategy for a remote payment gateway. verifier
// may be nil when the gateway confirms through webhooks only.
func NewGatewayRouted(gateway payments.Gateway, verifier SignatureVerifier, repo Repository, states *OrderStateMachine, carts CartStore, timeout time.Duration) PaymentStrategy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &gatewayRouted{
		gateway:  gateway,
		verifier: verifier,
		repo:     repo,
		states:   states,
		carts:    carts,
		timeout:  timeout,
		logger:   util.GetLogger(),
	}
}

func (g *gatewayRouted) InitialStatus() models.OrderStatus {
	return models.OrderStatusPending
}

func (g *gatewayRouted) OnOrderCreated(ctx context.Context, order *models.Order) (*PaymentSession, error) {
	ctx, span := util.StartSpan(ctx, "PaymentStrategy.OnOrderCreated")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	remote, err := g.gateway.CreateRemoteOrder(callCtx, order.TotalAmount, order.OrderNumber, order.Currency)
	cancel()
	if err != nil {
		util.RecordError(span, err)
		util.PaymentFailedTotal.WithLabelValues(g.gateway.Name(), gatewayFailureReason(err)).Inc()
		g.logger.Error("Payment gateway order creation failed",
			zap.String("order_number", order.OrderNumber),
			zap.String("gateway", g.gateway.Name()),
			zap.Error(err))
		g.fail(ctx, order, err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentGatewayUnavailable, err)
	}

	err = g.repo.InTx(ctx, func(tx Tx) error {
		locked, err := tx.LockOrderByID(ctx, order.ID)
		if err != nil {
			return err
		}
		locked.GatewayOrderID = &remote.GatewayOrderID
		if err := tx.UpdateOrder(ctx, locked); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		payment := &models.Payment{
			OrderID:        order.ID,
			Method:         order.PaymentMethod,
			GatewayOrderID: remote.GatewayOrderID,
			ClientSecret:   optionalString(remote.ClientSecret),
			Status:         models.PaymentStatusPending,
			Amount:         order.TotalAmount,
			Currency:       order.Currency,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		locked.Items = order.Items
		*order = *locked
		return nil
	})
	if err != nil {
		g.fail(ctx, order, err)
		return nil, err
	}

	return &PaymentSession{
		Gateway:        g.gateway.Name(),
		GatewayOrderID: remote.GatewayOrderID,
		ClientSecret:   remote.ClientSecret,
		AmountMinor:    payments.ToMinorUnits(order.TotalAmount),
		Currency:       order.Currency,
	}, nil
}

// fail marks the payment failed and cancels the order, restoring its stock.
// It runs detached from the caller's deadline since the gateway call may have used it up.
func (g *gatewayRouted) fail(ctx context.Context, order *models.Order, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := g.repo.InTx(ctx, func(tx Tx) error {
		locked, err := tx.LockOrderByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := setPaymentStatus(locked, models.PaymentStatusFailed); err != nil {
			return err
		}
		if _, err := g.states.Transition(ctx, tx, locked, models.OrderStatusCancelled, nil); err != nil {
			return err
		}
		if locked.IdempotencyKey != nil {
			if err := tx.ReleaseIdempotencyKey(ctx, locked.ID); err != nil {
				return err
			}
			locked.IdempotencyKey = nil
		}
		*order = *locked
		return nil
	})
	if err != nil {
		g.logger.Error("Failed to cancel order after gateway failure",
			zap.String("order_number", order.OrderNumber),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	util.OrdersFailedTotal.WithLabelValues("payment_gateway").Inc()
}

func (g *gatewayRouted) ResumeSession(ctx context.Context, order *models.Order) (*PaymentSession, error) {
	if order.Status != models.OrderStatusPending || order.GatewayOrderID == nil {
		return nil, nil
	}
	switch order.PaymentStatus {
	case models.PaymentStatusPending, models.PaymentStatusProcessing, models.PaymentStatusFailed:
	default:
		return nil, nil
	}

	rows, err := g.repo.ListPaymentsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	for _, payment := range rows {
		if payment.GatewayOrderID != *order.GatewayOrderID {
			continue
		}
		session := &PaymentSession{
			Gateway:        g.gateway.Name(),
			GatewayOrderID: payment.GatewayOrderID,
			AmountMinor:    payments.ToMinorUnits(payment.Amount),
			Currency:       payment.Currency,
		}
		if payment.ClientSecret != nil {
			session.ClientSecret = *payment.ClientSecret
		}
		return session, nil
	}
	return nil, nil
}

func (g *gatewayRouted) OnPaymentConfirmed(ctx context.Context, order *models.Order) {
	clearOrderCart(ctx, g.carts, g.logger, order)
}

func (g *gatewayRouted) VerifySignature(orderRef, paymentRef, signature string) bool {
	if g.verifier == nil {
		return false
	}
	return g.verifier.VerifySignature(orderRef, paymentRef, signature)
}

func gatewayFailureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	}
	return "error"
}

// clearOrderCart empties the cart an order was placed from. Failures are logged only.
func clearOrderCart(ctx context.Context, carts CartStore, logger *zap.Logger, order *models.Order) {
	identity := order.CartIdentity()
	if !identity.Valid() {
		return
	}
	if err := carts.DeleteCart(ctx, identity); err != nil {
		logger.Warn("Failed to clear cart",
			zap.String("order_number", order.OrderNumber),
			zap.Error(err))
	}
}
