package service

import (
	"context"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
)

// ProductStore reads and locks catalog rows
type ProductStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	LockProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	LockProduct(ctx context.Context, id int64) (*models.Product, error)
	UpdateProductStock(ctx context.Context, id int64, stock, salesDelta int) error
}

// LedgerStore persists inventory transactions
type LedgerStore interface {
	CreateInventoryTransaction(ctx context.Context, txn *models.InventoryTransaction) error
	ListProductTransactions(ctx context.Context, productID int64, limit int) ([]models.InventoryTransaction, error)
	ListInventoryTransactions(ctx context.Context, filter models.InventoryFilter) ([]models.InventoryTransaction, int, error)
	GetInventoryStats(ctx context.Context) (*models.InventoryStats, error)
}

// OrderStore persists orders and their line items
type OrderStore interface {
	NextOrderSequence(ctx context.Context, period string) (int64, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	LockOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	LockOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	ReleaseIdempotencyKey(ctx context.Context, orderID int64) error
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error)
	GetOrderStats(ctx context.Context) (*models.OrderStats, error)
}

// PaymentStore persists payment attempts and refunds
type PaymentStore interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	LockPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
	LockPaymentByID(ctx context.Context, id int64) (*models.Payment, error)
	ListPaymentsByOrderID(ctx context.Context, orderID int64) ([]models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	CreateRefund(ctx context.Context, refund *models.Refund) error
	ListRefundsByPaymentID(ctx context.Context, paymentID int64) ([]models.Refund, error)
}

// CouponStore reads coupons and tracks their redemptions
type CouponStore interface {
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	IncrementCouponUsage(ctx context.Context, couponID int64) (bool, error)
	DecrementCouponUsage(ctx context.Context, couponID int64) error
	CountCouponRedemptions(ctx context.Context, couponID int64, customerID *int64, email string) (int, error)
	CreateCouponRedemption(ctx context.Context, r *models.CouponRedemption) error
	DeleteCouponRedemption(ctx context.Context, couponID, orderID int64) (bool, error)
}

// UserStore provisions accounts created at checkout
type UserStore interface {
	CreateUserIfAbsent(ctx context.Context, user *models.User) (bool, error)
}

// EventStore records consumed event ids for de-duplication
type EventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Tx is the full set of queries available inside a unit of work
type Tx interface {
	ProductStore
	LedgerStore
	OrderStore
	PaymentStore
	CouponStore
	UserStore
	EventStore
}

// Repository runs queries directly or inside an all-or-nothing transaction
type Repository interface {
	Tx
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// CartStore persists carts with an inactivity TTL
type CartStore interface {
	GetCart(ctx context.Context, id models.CartIdentity) (*models.Cart, error)
	SaveCart(ctx context.Context, cart *models.Cart) error
	DeleteCart(ctx context.Context, id models.CartIdentity) error
}

// Locker provides short-lived distributed locks
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// IdempotencyCache remembers the order created for a client idempotency key
type IdempotencyCache interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Notifier is the fire-and-forget notification sink. Send must not block on delivery.
type Notifier interface {
	Send(ctx context.Context, n models.Notification)
}

type sqlRepository struct {
	*store.Store
}

// NewSQLRepository adapts the Postgres store to Repository
func NewSQLRepository(s *store.Store) Repository {
	return &sqlRepository{Store: s}
}

func (r *sqlRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.Store.InTx(ctx, func(q *store.Queries) error {
		return fn(q)
	})
}
