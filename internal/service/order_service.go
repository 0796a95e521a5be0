package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// OrderConfig holds the pricing and checkout settings
type OrderConfig struct {
	TaxRate         decimal.Decimal
	ShippingFee     decimal.Decimal
	Currency        string
	CheckoutLockTTL time.Duration
	IdempotencyTTL  time.Duration
	BcryptCost      int
}

// Viewer is the caller an order operation runs on behalf of
type Viewer struct {
	Identity models.CartIdentity
	Staff    bool
}

// PerformedBy returns the acting user id for audit fields
func (v Viewer) PerformedBy() *int64 {
	if !v.Identity.IsUser() {
		return nil
	}
	id := v.Identity.UserID
	return &id
}

// CreateOrderRequest represents a checkout of the caller's cart
type CreateOrderRequest struct {
	Email           string               `json:"email" binding:"required,email"`
	Phone           string               `json:"phone,omitempty"`
	ShippingAddress models.Address       `json:"shipping_address" binding:"required"`
	BillingAddress  *models.Address      `json:"billing_address,omitempty"`
	ShippingMethod  string               `json:"shipping_method,omitempty"`
	PaymentMethod   models.PaymentMethod `json:"payment_method" binding:"required"`
	CouponCode      string               `json:"coupon_code,omitempty"`
	Notes           string               `json:"notes,omitempty"`
	CreateAccount   bool                 `json:"create_account,omitempty"`
	Password        string               `json:"password,omitempty"`
	IdempotencyKey  string               `json:"-"`
}

// CreateOrderResult is a placed order and, for gateway-routed methods, the payment session
type CreateOrderResult struct {
	Order    *models.Order   `json:"order"`
	Payment  *PaymentSession `json:"payment,omitempty"`
	Replayed bool            `json:"-"`
}

// OrderTotals is the priced breakdown of an order
type OrderTotals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// OrderService handles order business logic
type OrderService struct {
	repo        Repository
	carts       CartStore
	locker      Locker
	idempotency IdempotencyCache
	notifier    Notifier
	resolver    *CartResolver
	coupons     *CouponService
	ledger      *InventoryLedger
	states      *OrderStateMachine
	methods     *PaymentMethods
	cfg         OrderConfig
	logger      *zap.Logger
	now         func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	repo Repository,
	carts CartStore,
	locker Locker,
	idempotency IdempotencyCache,
	notifier Notifier,
	coupons *CouponService,
	ledger *InventoryLedger,
	states *OrderStateMachine,
	methods *PaymentMethods,
	cfg OrderConfig,
) *OrderService {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.CheckoutLockTTL <= 0 {
		cfg.CheckoutLockTTL = 30 * time.Second
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &OrderService{
		repo:        repo,
		carts:       carts,
		locker:      locker,
		idempotency: idempotency,
		notifier:    notifier,
		resolver:    NewCartResolver(carts, repo),
		coupons:     coupons,
		ledger:      ledger,
		states:      states,
		methods:     methods,
		cfg:         cfg,
		logger:      util.GetLogger(),
		now:         time.Now,
	}
}

// PriceOrder computes tax, shipping and the clamped discount for a subtotal
func (s *OrderService) PriceOrder(subtotal, discount decimal.Decimal, freeShipping bool) OrderTotals {
	t := OrderTotals{
		Subtotal: subtotal,
		Tax:      subtotal.Mul(s.cfg.TaxRate).Round(2),
		Shipping: s.cfg.ShippingFee,
	}
	if freeShipping {
		t.Shipping = decimal.Zero
	}
	gross := t.Subtotal.Add(t.Tax).Add(t.Shipping)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(gross) {
		discount = gross
	}
	t.Discount = discount
	t.Total = gross.Sub(discount)
	return t
}

// CreateOrder turns the caller's cart into an order. Stock, the order number,
// the order rows and the coupon use are committed together; the payment
// strategy runs after the commit.
func (s *OrderService) CreateOrder(ctx context.Context, identity models.CartIdentity, req *CreateOrderRequest) (*CreateOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := s.now()
	defer func() {
		util.OrderCreateLatency.Observe(time.Since(start).Seconds())
	}()

	if !identity.Valid() {
		return nil, validationf("exactly one of user id or session id is required")
	}
	if err := validateCreateOrder(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}
	strategy, err := s.methods.Lookup(req.PaymentMethod)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.findReplay(ctx, identity, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_number", existing.OrderNumber))
			return s.replay(ctx, existing), nil
		}
	}

	lockKey := "checkout:" + identityKey(identity)
	token, ok, err := s.locker.AcquireLock(ctx, lockKey, s.cfg.CheckoutLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire checkout lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: a checkout for this cart is already in progress", ErrConflict)
	}
	locked := true
	unlock := func() {
		if !locked {
			return
		}
		locked = false
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.logger.Warn("Failed to release checkout lock", zap.String("key", lockKey), zap.Error(err))
		}
	}
	defer unlock()

	snap, err := s.resolver.Resolve(ctx, identity)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	var customerID *int64
	if identity.IsUser() {
		customerID = &identity.UserID
	}

	discount := decimal.Zero
	freeShipping := false
	var coupon *models.Coupon
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		res, err := s.coupons.evaluate(ctx, s.repo, code, CouponContext{
			OrderValue:  snap.Subtotal,
			ProductIDs:  snap.ProductIDs,
			CategoryIDs: snap.CategoryIDs,
			Now:         s.now(),
		}, customerID, req.Email)
		if err != nil {
			return nil, err
		}
		if !res.Valid {
			util.OrdersFailedTotal.WithLabelValues("invalid_coupon").Inc()
			return nil, fmt.Errorf("%w: %s", ErrInvalidCoupon, res.Message)
		}
		coupon = res.Coupon
		discount = res.Discount
		freeShipping = res.FreeShipping
	}
	totals := s.PriceOrder(snap.Subtotal, discount, freeShipping)

	var signup *models.User
	var verifyToken string
	if req.CreateAccount && !identity.IsUser() {
		signup, verifyToken, err = s.newGuestAccount(req)
		if err != nil {
			return nil, err
		}
	}

	order := &models.Order{
		CustomerID:      customerID,
		Email:           strings.TrimSpace(req.Email),
		Phone:           optionalString(req.Phone),
		Subtotal:        totals.Subtotal,
		TaxAmount:       totals.Tax,
		ShippingAmount:  totals.Shipping,
		DiscountAmount:  totals.Discount,
		TotalAmount:     totals.Total,
		Currency:        s.cfg.Currency,
		Status:          strategy.InitialStatus(),
		PaymentStatus:   models.PaymentStatusPending,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: models.JSONAddress{Address: req.ShippingAddress},
		BillingAddress:  models.JSONAddress{Address: req.ShippingAddress},
		ShippingMethod:  optionalString(req.ShippingMethod),
		Notes:           optionalString(req.Notes),
		RefundAmount:    decimal.Zero,
		IdempotencyKey:  optionalString(req.IdempotencyKey),
	}
	if !identity.IsUser() {
		order.SessionID = &identity.SessionID
	}
	if req.BillingAddress != nil {
		order.BillingAddress = models.JSONAddress{Address: *req.BillingAddress}
	}
	if coupon != nil {
		order.CouponID = &coupon.ID
		order.CouponCode = &coupon.Code
	}

	accountCreated := false
	err = s.repo.InTx(ctx, func(tx Tx) error {
		var err error
		accountCreated, err = s.commitOrder(ctx, tx, order, snap, coupon, signup)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		if errors.Is(err, ErrConflict) && req.IdempotencyKey != "" {
			if existing, ferr := s.findReplay(ctx, identity, req.IdempotencyKey); ferr == nil && existing != nil {
				return s.replay(ctx, existing), nil
			}
		}
		s.logger.Warn("Order creation failed", zap.Error(err))
		return nil, err
	}
	unlock()

	util.OrdersCreatedTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	if req.IdempotencyKey != "" {
		if err := s.idempotency.SetIdempotencyKey(ctx, req.IdempotencyKey, order.ID, s.cfg.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}

	session, err := strategy.OnOrderCreated(ctx, order)
	if err != nil {
		return nil, err
	}

	s.notifier.Send(ctx, models.Notification{Kind: models.NotifyOrderConfirmation, Order: order})
	if accountCreated {
		s.notifier.Send(ctx, models.Notification{Kind: models.NotifyAccountCreated, User: signup, Token: verifyToken})
	}

	return &CreateOrderResult{Order: order, Payment: session}, nil
}

// commitOrder writes everything an order consumes inside one transaction
func (s *OrderService) commitOrder(ctx context.Context, tx Tx, order *models.Order, snap *CartSnapshot, coupon *models.Coupon, signup *models.User) (bool, error) {
	// Lock in ascending id order so concurrent checkouts cannot deadlock.
	products, err := tx.LockProductsByIDs(ctx, snap.ProductIDs)
	if err != nil {
		return false, fmt.Errorf("failed to lock products: %w", err)
	}
	byID := make(map[int64]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	now := s.now()
	seq, err := tx.NextOrderSequence(ctx, now.Format("200601"))
	if err != nil {
		return false, fmt.Errorf("failed to allocate order number: %w", err)
	}
	order.OrderNumber = fmt.Sprintf("ORD-%s-%05d", now.Format("200601"), seq)

	items := make([]models.OrderItem, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		product, ok := byID[line.Item.ProductID]
		if !ok {
			return false, fmt.Errorf("%w: product %d is no longer available", ErrOutOfStock, line.Item.ProductID)
		}
		txn, err := s.ledger.RecordTx(ctx, tx, LedgerEntry{
			ProductID:   product.ID,
			VariantID:   line.Item.VariantID,
			Action:      models.InventoryActionOut,
			Quantity:    line.Item.Quantity,
			Reason:      "Order placed",
			Reference:   order.OrderNumber,
			PerformedBy: order.CustomerID,
			Sale:        true,
			Strict:      true,
		})
		if err != nil {
			return false, err
		}
		items = append(items, models.OrderItem{
			ProductID:    product.ID,
			VariantID:    line.Item.VariantID,
			Name:         product.Name,
			SKU:          product.SKU,
			Price:        line.Item.Price,
			Quantity:     line.Item.Quantity,
			Total:        line.Total(),
			Image:        optionalString(product.PrimaryImage()),
			StockTracked: txn != nil,
		})
	}

	created := false
	if signup != nil {
		created, err = tx.CreateUserIfAbsent(ctx, signup)
		if err != nil {
			return false, fmt.Errorf("failed to create account: %w", err)
		}
		if created {
			order.CustomerID = &signup.ID
		}
	}

	if err := tx.CreateOrder(ctx, order); err != nil {
		return false, translate(err, "order already exists")
	}
	for i := range items {
		items[i].OrderID = order.ID
		if err := tx.CreateOrderItem(ctx, &items[i]); err != nil {
			return false, fmt.Errorf("failed to create order item: %w", err)
		}
	}
	order.Items = items

	if coupon != nil {
		ok, err := tx.IncrementCouponUsage(ctx, coupon.ID)
		if err != nil {
			return false, fmt.Errorf("failed to increment coupon usage: %w", err)
		}
		if !ok {
			return false, fmt.Errorf("%w: Coupon usage limit reached", ErrInvalidCoupon)
		}
		// the usage update holds the coupon row, so this count sees every committed redemption
		if coupon.UserUsageLimit != nil {
			used, err := tx.CountCouponRedemptions(ctx, coupon.ID, order.CustomerID, order.Email)
			if err != nil {
				return false, fmt.Errorf("failed to count coupon redemptions: %w", err)
			}
			if used >= *coupon.UserUsageLimit {
				return false, fmt.Errorf("%w: Coupon already used the maximum number of times", ErrInvalidCoupon)
			}
		}
		err = tx.CreateCouponRedemption(ctx, &models.CouponRedemption{
			CouponID:   coupon.ID,
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Email:      order.Email,
		})
		if err != nil {
			return false, fmt.Errorf("failed to record coupon redemption: %w", err)
		}
	}

	return created, nil
}

// findReplay returns the order an idempotency key already produced. An order
// that gave its key up, after its gateway call failed, is not replayed.
func (s *OrderService) findReplay(ctx context.Context, identity models.CartIdentity, key string) (*models.Order, error) {
	var existing *models.Order
	if cached, err := s.idempotency.GetIdempotencyKey(ctx, key); err != nil {
		s.logger.Warn("Failed to read idempotency key", zap.Error(err))
	} else if id, perr := strconv.ParseInt(cached, 10, 64); perr == nil {
		existing, err = s.repo.GetOrderByID(ctx, id)
		if err != nil || existing.IdempotencyKey == nil || *existing.IdempotencyKey != key {
			existing = nil
		}
	}
	if existing == nil {
		var err error
		existing, err = s.repo.GetOrderByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
	}
	if existing == nil {
		return nil, nil
	}
	if !existing.OwnedBy(identity) {
		return nil, fmt.Errorf("%w: idempotency key already used", ErrConflict)
	}
	items, err := s.repo.GetOrderItems(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	existing.Items = items
	return existing, nil
}

// replay answers a repeated checkout with the original order and, while it is
// still awaiting payment, the session needed to pay it
func (s *OrderService) replay(ctx context.Context, existing *models.Order) *CreateOrderResult {
	res := &CreateOrderResult{Order: existing, Replayed: true}
	strategy, err := s.methods.Lookup(existing.PaymentMethod)
	if err != nil {
		return res
	}
	session, err := strategy.ResumeSession(ctx, existing)
	if err != nil {
		s.logger.Warn("Failed to resume payment session",
			zap.String("order_number", existing.OrderNumber),
			zap.Error(err))
		return res
	}
	res.Payment = session
	return res
}

func (s *OrderService) newGuestAccount(req *CreateOrderRequest) (*models.User, string, error) {
	if len(req.Password) < 8 {
		return nil, "", validationf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("failed to generate verification token: %w", err)
	}
	token := hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))
	tokenHash := hex.EncodeToString(sum[:])

	return &models.User{
		Email:                      strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash:               string(hash),
		FirstName:                  req.ShippingAddress.FirstName,
		LastName:                   req.ShippingAddress.LastName,
		Role:                       "customer",
		EmailVerificationTokenHash: &tokenHash,
	}, token, nil
}

func validateCreateOrder(req *CreateOrderRequest) error {
	if req == nil {
		return validationf("request is required")
	}
	if strings.TrimSpace(req.Email) == "" {
		return validationf("email is required")
	}
	a := req.ShippingAddress
	if a.FirstName == "" || a.LastName == "" || a.AddressLine1 == "" || a.City == "" ||
		a.State == "" || a.PostalCode == "" || a.Country == "" {
		return validationf("shipping address is incomplete")
	}
	if req.PaymentMethod == "" {
		return validationf("payment method is required")
	}
	return nil
}

func identityKey(id models.CartIdentity) string {
	if id.IsUser() {
		return fmt.Sprintf("user:%d", id.UserID)
	}
	return "session:" + id.SessionID
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrCartEmpty):
		return "cart_empty"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrInvalidCoupon):
		return "invalid_coupon"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "internal"
}

// GetOrder returns an order with its items, scoped to its owner unless the viewer is staff
func (s *OrderService) GetOrder(ctx context.Context, viewer Viewer, id int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("order %d", id))
	}
	return s.withItems(ctx, viewer, order)
}

// GetOrderByNumber returns an order by its human-facing number
func (s *OrderService) GetOrderByNumber(ctx context.Context, viewer Viewer, number string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrderByNumber")
	defer span.End()

	order, err := s.repo.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, translate(err, "order "+number)
	}
	return s.withItems(ctx, viewer, order)
}

func (s *OrderService) withItems(ctx context.Context, viewer Viewer, order *models.Order) (*models.Order, error) {
	if !viewer.Staff && !order.OwnedBy(viewer.Identity) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, order.OrderNumber)
	}
	items, err := s.repo.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	order.Items = items
	return order, nil
}

// ListOrders returns a page of orders. Non-staff viewers only see their own.
func (s *OrderService) ListOrders(ctx context.Context, viewer Viewer, filter models.OrderFilter) ([]models.Order, int, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	if !viewer.Staff {
		if !viewer.Identity.Valid() {
			return nil, 0, validationf("exactly one of user id or session id is required")
		}
		filter.CustomerID, filter.SessionID = nil, nil
		if viewer.Identity.IsUser() {
			filter.CustomerID = &viewer.Identity.UserID
		} else {
			filter.SessionID = &viewer.Identity.SessionID
		}
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, validationf("unknown order status %q", filter.Status)
	}
	if filter.PaymentStatus != "" && !filter.PaymentStatus.Valid() {
		return nil, 0, validationf("unknown payment status %q", filter.PaymentStatus)
	}
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)
	return s.repo.ListOrders(ctx, filter)
}

// TrackOrder returns the shipment view of an order
func (s *OrderService) TrackOrder(ctx context.Context, viewer Viewer, number string) (*models.OrderTracking, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TrackOrder")
	defer span.End()

	order, err := s.repo.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, translate(err, "order "+number)
	}
	if !viewer.Staff && !order.OwnedBy(viewer.Identity) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, number)
	}
	return &models.OrderTracking{
		OrderNumber:     order.OrderNumber,
		Status:          order.Status,
		TrackingNumber:  order.TrackingNumber,
		ShippingMethod:  order.ShippingMethod,
		ShippingAddress: order.ShippingAddress.Address,
		Timeline: models.OrderTimeline{
			Ordered:   order.CreatedAt,
			Shipped:   order.ShippedAt,
			Delivered: order.DeliveredAt,
			Cancelled: order.CancelledAt,
		},
	}, nil
}

// Stats returns order counts by status and revenue
func (s *OrderService) Stats(ctx context.Context) (*models.OrderStats, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Stats")
	defer span.End()

	return s.repo.GetOrderStats(ctx)
}

// UpdateStatus moves an order to a new status through the state machine
func (s *OrderService) UpdateStatus(ctx context.Context, viewer Viewer, id int64, to models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	return s.transition(ctx, id, func(tx Tx, order *models.Order) (bool, error) {
		return s.states.Transition(ctx, tx, order, to, viewer.PerformedBy())
	})
}

// CancelOrder cancels an order that has not shipped, restoring its stock
func (s *OrderService) CancelOrder(ctx context.Context, viewer Viewer, id int64, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	order, err := s.transition(ctx, id, func(tx Tx, order *models.Order) (bool, error) {
		if !viewer.Staff && !order.OwnedBy(viewer.Identity) {
			return false, fmt.Errorf("%w: order %d", ErrNotFound, id)
		}
		switch order.Status {
		case models.OrderStatusShipped, models.OrderStatusDelivered, models.OrderStatusRefunded:
			return false, fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, order.Status)
		}
		return s.states.Transition(ctx, tx, order, models.OrderStatusCancelled, viewer.PerformedBy())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Order cancelled",
		zap.String("order_number", order.OrderNumber),
		zap.String("reason", reason))
	return order, nil
}

// UpdatePaymentStatus records a payment status reported by staff, optionally
// with the gateway payment reference. The order's latest payment row follows
// the order. Refunds go through the refund operation instead.
func (s *OrderService) UpdatePaymentStatus(ctx context.Context, viewer Viewer, id int64, to models.PaymentStatus, gatewayPaymentID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdatePaymentStatus")
	defer span.End()

	if !to.Valid() {
		return nil, validationf("unknown payment status %q", to)
	}
	if to == models.PaymentStatusRefunded {
		return nil, validationf("refunds must be issued through the refund endpoint")
	}
	gatewayPaymentID = strings.TrimSpace(gatewayPaymentID)

	order, err := s.transition(ctx, id, func(tx Tx, order *models.Order) (bool, error) {
		from := order.PaymentStatus
		if err := setPaymentStatus(order, to); err != nil {
			return false, err
		}
		if gatewayPaymentID != "" {
			order.GatewayPaymentID = &gatewayPaymentID
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return false, fmt.Errorf("failed to update order: %w", err)
		}

		rows, err := tx.ListPaymentsByOrderID(ctx, order.ID)
		if err != nil {
			return false, fmt.Errorf("failed to list payments: %w", err)
		}
		if len(rows) > 0 {
			latest := &rows[len(rows)-1]
			if canTransitionPayment(latest.Status, to) {
				latest.Status = to
				if gatewayPaymentID != "" {
					latest.GatewayPaymentID = &gatewayPaymentID
				}
				if to != models.PaymentStatusPending && to != models.PaymentStatusProcessing {
					now := s.now()
					latest.ProcessedAt = &now
				}
				if err := tx.UpdatePayment(ctx, latest); err != nil {
					return false, fmt.Errorf("failed to update payment: %w", err)
				}
			}
		}

		s.logger.Info("Payment status updated",
			zap.String("order_number", order.OrderNumber),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Int64p("performed_by", viewer.PerformedBy()))
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// AddTrackingNumber records shipment details and marks the order shipped
func (s *OrderService) AddTrackingNumber(ctx context.Context, viewer Viewer, id int64, trackingNumber, shippingMethod string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.AddTrackingNumber")
	defer span.End()

	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil, validationf("tracking number is required")
	}

	return s.transition(ctx, id, func(tx Tx, order *models.Order) (bool, error) {
		order.TrackingNumber = &trackingNumber
		if shippingMethod != "" {
			order.ShippingMethod = &shippingMethod
		}
		if order.Status == models.OrderStatusShipped || order.Status == models.OrderStatusDelivered {
			if err := tx.UpdateOrder(ctx, order); err != nil {
				return false, fmt.Errorf("failed to update order: %w", err)
			}
			return false, nil
		}
		return s.states.Transition(ctx, tx, order, models.OrderStatusShipped, viewer.PerformedBy())
	})
}

// transition locks an order, applies fn and sends the status notification after commit
func (s *OrderService) transition(ctx context.Context, id int64, fn func(tx Tx, order *models.Order) (bool, error)) (*models.Order, error) {
	var order *models.Order
	var changed bool
	err := s.repo.InTx(ctx, func(tx Tx) error {
		var err error
		order, err = tx.LockOrderByID(ctx, id)
		if err != nil {
			return translate(err, fmt.Sprintf("order %d", id))
		}
		changed, err = fn(tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	if order.Items == nil {
		items, err := s.repo.GetOrderItems(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get order items: %w", err)
		}
		order.Items = items
	}
	if changed {
		if n, ok := statusNotification(order); ok {
			s.notifier.Send(ctx, n)
		}
	}
	return order, nil
}
