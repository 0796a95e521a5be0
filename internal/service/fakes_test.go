package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/payments"
	"fulfillment-service/internal/store"

	"github.com/shopspring/decimal"
)

// memRepo is an in-memory Repository. Transactions are serialised and
// rolled back by restoring a snapshot.
type memRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data memData

	// product ids in the order row locks were requested
	locks []int64
	// beforeTx runs once, ahead of the next transaction, as a concurrent writer would
	beforeTx func()
}

type memData struct {
	nextID      int64
	products    map[int64]models.Product
	txns        []models.InventoryTransaction
	orders      map[int64]models.Order
	items       map[int64][]models.OrderItem
	sequences   map[string]int64
	payments    map[int64]models.Payment
	refunds     []models.Refund
	coupons     map[int64]models.Coupon
	redemptions []models.CouponRedemption
	users       map[string]models.User
	events      map[string]string
}

func newMemRepo() *memRepo {
	return &memRepo{data: memData{
		products:  make(map[int64]models.Product),
		orders:    make(map[int64]models.Order),
		items:     make(map[int64][]models.OrderItem),
		sequences: make(map[string]int64),
		payments:  make(map[int64]models.Payment),
		coupons:   make(map[int64]models.Coupon),
		users:     make(map[string]models.User),
		events:    make(map[string]string),
	}}
}

func (d memData) clone() memData {
	c := d
	c.products = make(map[int64]models.Product, len(d.products))
	for k, v := range d.products {
		c.products[k] = v
	}
	c.txns = append([]models.InventoryTransaction(nil), d.txns...)
	c.orders = make(map[int64]models.Order, len(d.orders))
	for k, v := range d.orders {
		c.orders[k] = v
	}
	c.items = make(map[int64][]models.OrderItem, len(d.items))
	for k, v := range d.items {
		c.items[k] = append([]models.OrderItem(nil), v...)
	}
	c.sequences = make(map[string]int64, len(d.sequences))
	for k, v := range d.sequences {
		c.sequences[k] = v
	}
	c.payments = make(map[int64]models.Payment, len(d.payments))
	for k, v := range d.payments {
		c.payments[k] = v
	}
	c.refunds = append([]models.Refund(nil), d.refunds...)
	c.coupons = make(map[int64]models.Coupon, len(d.coupons))
	for k, v := range d.coupons {
		c.coupons[k] = v
	}
	c.redemptions = append([]models.CouponRedemption(nil), d.redemptions...)
	c.users = make(map[string]models.User, len(d.users))
	for k, v := range d.users {
		c.users[k] = v
	}
	c.events = make(map[string]string, len(d.events))
	for k, v := range d.events {
		c.events[k] = v
	}
	return c
}

func (r *memRepo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	if hook := r.beforeTx; hook != nil {
		r.beforeTx = nil
		hook()
	}

	r.mu.Lock()
	snapshot := r.data.clone()
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.data = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memRepo) id() int64 {
	r.data.nextID++
	return r.data.nextID
}

func (r *memRepo) addProduct(p models.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.products[p.ID] = p
}

func (r *memRepo) product(id int64) models.Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.products[id]
}

func (r *memRepo) addCoupon(c models.Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.coupons[c.ID] = c
}

func (r *memRepo) coupon(id int64) models.Coupon {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.coupons[id]
}

func (r *memRepo) order(id int64) models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.orders[id]
}

func (r *memRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data.orders)
}

func (r *memRepo) ledger(productID int64) []models.InventoryTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.InventoryTransaction
	for _, t := range r.data.txns {
		if t.ProductID == productID {
			out = append(out, t)
		}
	}
	return out
}

func (r *memRepo) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (r *memRepo) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[int64]bool)
	var out []models.Product
	for _, id := range ids {
		if p, ok := r.data.products[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) LockProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	products, err := r.GetProductsByIDs(ctx, ids)
	r.mu.Lock()
	for _, p := range products {
		r.locks = append(r.locks, p.ID)
	}
	r.mu.Unlock()
	return products, err
}

func (r *memRepo) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	r.mu.Lock()
	r.locks = append(r.locks, id)
	r.mu.Unlock()
	return r.GetProductByID(ctx, id)
}

// firstLocks returns product ids in the order each was first locked since the last reset
func (r *memRepo) firstLocks() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[int64]bool)
	var out []int64
	for _, id := range r.locks {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (r *memRepo) resetLocks() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks = nil
}

func (r *memRepo) UpdateProductStock(_ context.Context, id int64, stock, salesDelta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data.products[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock = stock
	p.SalesCount += salesDelta
	if p.SalesCount < 0 {
		p.SalesCount = 0
	}
	r.data.products[id] = p
	return nil
}

func (r *memRepo) CreateInventoryTransaction(_ context.Context, txn *models.InventoryTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn.ID = r.id()
	txn.CreatedAt = time.Now()
	r.data.txns = append(r.data.txns, *txn)
	return nil
}

func (r *memRepo) ListProductTransactions(_ context.Context, productID int64, limit int) ([]models.InventoryTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.InventoryTransaction
	for i := len(r.data.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if r.data.txns[i].ProductID == productID {
			out = append(out, r.data.txns[i])
		}
	}
	return out, nil
}

func (r *memRepo) ListInventoryTransactions(_ context.Context, f models.InventoryFilter) ([]models.InventoryTransaction, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var match []models.InventoryTransaction
	for i := len(r.data.txns) - 1; i >= 0; i-- {
		t := r.data.txns[i]
		if f.ProductID != nil && t.ProductID != *f.ProductID {
			continue
		}
		if f.Action != "" && t.Action != f.Action {
			continue
		}
		match = append(match, t)
	}
	total := len(match)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return match[f.Offset:end], total, nil
}

func (r *memRepo) GetInventoryStats(context.Context) (*models.InventoryStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &models.InventoryStats{TotalTransactions: len(r.data.txns)}
	for _, t := range r.data.txns {
		switch t.Action {
		case models.InventoryActionIn:
			s.StockInTransactions++
		case models.InventoryActionOut:
			s.StockOutTransactions++
		case models.InventoryActionAdjustment:
			s.AdjustmentTransactions++
		}
	}
	for _, p := range r.data.products {
		if !p.TrackQuantity {
			continue
		}
		if p.Stock == 0 {
			s.OutOfStockProducts++
		} else if p.Stock <= p.LowStockThreshold {
			s.LowStockProducts++
		}
	}
	return s, nil
}

func (r *memRepo) NextOrderSequence(_ context.Context, period string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.sequences[period]++
	return r.data.sequences[period], nil
}

func (r *memRepo) CreateOrder(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.data.orders {
		if o.OrderNumber == order.OrderNumber {
			return store.ErrConflict
		}
		if order.IdempotencyKey != nil && o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
			return store.ErrConflict
		}
	}
	order.ID = r.id()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	stored := *order
	stored.Items = nil
	r.data.orders[order.ID] = stored
	return nil
}

func (r *memRepo) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item.ID = r.id()
	r.data.items[item.OrderID] = append(r.data.items[item.OrderID], *item)
	return nil
}

func (r *memRepo) orderWhere(match func(o models.Order) bool) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.data.orders {
		if match(o) {
			return &o, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	return r.orderWhere(func(o models.Order) bool { return o.ID == id })
}

func (r *memRepo) LockOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return r.GetOrderByID(ctx, id)
}

func (r *memRepo) GetOrderByNumber(_ context.Context, number string) (*models.Order, error) {
	return r.orderWhere(func(o models.Order) bool { return o.OrderNumber == number })
}

func (r *memRepo) LockOrderByGatewayOrderID(_ context.Context, ref string) (*models.Order, error) {
	return r.orderWhere(func(o models.Order) bool { return o.GatewayOrderID != nil && *o.GatewayOrderID == ref })
}

func (r *memRepo) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	o, err := r.orderWhere(func(o models.Order) bool { return o.IdempotencyKey != nil && *o.IdempotencyKey == key })
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return o, err
}

func (r *memRepo) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.OrderItem{}, r.data.items[orderID]...), nil
}

func (r *memRepo) UpdateOrder(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data.orders[order.ID]; !ok {
		return store.ErrNotFound
	}
	order.UpdatedAt = time.Now()
	stored := *order
	stored.Items = nil
	r.data.orders[order.ID] = stored
	return nil
}

func (r *memRepo) ReleaseIdempotencyKey(_ context.Context, orderID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.data.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	o.IdempotencyKey = nil
	r.data.orders[orderID] = o
	return nil
}

func (r *memRepo) ListOrders(_ context.Context, f models.OrderFilter) ([]models.Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var match []models.Order
	for _, o := range r.data.orders {
		if f.CustomerID != nil && (o.CustomerID == nil || *o.CustomerID != *f.CustomerID) {
			continue
		}
		if f.SessionID != nil && (o.SessionID == nil || *o.SessionID != *f.SessionID) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PaymentMethod != "" && o.PaymentMethod != f.PaymentMethod {
			continue
		}
		match = append(match, o)
	}
	sort.Slice(match, func(i, j int) bool { return match[i].ID > match[j].ID })
	total := len(match)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return match[f.Offset:end], total, nil
}

func (r *memRepo) GetOrderStats(context.Context) (*models.OrderStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &models.OrderStats{TotalRevenue: decimal.Zero}
	for _, o := range r.data.orders {
		s.TotalOrders++
		switch o.Status {
		case models.OrderStatusPending:
			s.PendingOrders++
		case models.OrderStatusConfirmed:
			s.ConfirmedOrders++
		case models.OrderStatusProcessing:
			s.ProcessingOrders++
		case models.OrderStatusShipped:
			s.ShippedOrders++
		case models.OrderStatusDelivered:
			s.DeliveredOrders++
		case models.OrderStatusCancelled:
			s.CancelledOrders++
		}
		if o.Status != models.OrderStatusCancelled {
			s.TotalRevenue = s.TotalRevenue.Add(o.TotalAmount)
		}
	}
	return s, nil
}

func (r *memRepo) CreatePayment(_ context.Context, p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.data.payments {
		if existing.GatewayOrderID == p.GatewayOrderID {
			return store.ErrConflict
		}
	}
	p.ID = r.id()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.data.payments[p.ID] = *p
	return nil
}

func (r *memRepo) LockPaymentByGatewayOrderID(_ context.Context, ref string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data.payments {
		if p.GatewayOrderID == ref {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) LockPaymentByID(_ context.Context, id int64) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (r *memRepo) ListPaymentsByOrderID(_ context.Context, orderID int64) ([]models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Payment
	for _, p := range r.data.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) UpdatePayment(_ context.Context, p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data.payments[p.ID]; !ok {
		return store.ErrNotFound
	}
	stored := *p
	stored.Refunds = nil
	r.data.payments[p.ID] = stored
	return nil
}

func (r *memRepo) CreateRefund(_ context.Context, refund *models.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	refund.ID = r.id()
	r.data.refunds = append(r.data.refunds, *refund)
	return nil
}

func (r *memRepo) ListRefundsByPaymentID(_ context.Context, paymentID int64) ([]models.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Refund
	for _, rf := range r.data.refunds {
		if rf.PaymentID == paymentID {
			out = append(out, rf)
		}
	}
	return out, nil
}

func (r *memRepo) GetCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range r.data.coupons {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *memRepo) IncrementCouponUsage(_ context.Context, couponID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.data.coupons[couponID]
	if !ok || (c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit) {
		return false, nil
	}
	c.UsageCount++
	r.data.coupons[couponID] = c
	return true, nil
}

func (r *memRepo) DecrementCouponUsage(_ context.Context, couponID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.data.coupons[couponID]
	if c.UsageCount > 0 {
		c.UsageCount--
	}
	r.data.coupons[couponID] = c
	return nil
}

func (r *memRepo) CountCouponRedemptions(_ context.Context, couponID int64, customerID *int64, email string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rd := range r.data.redemptions {
		if rd.CouponID != couponID {
			continue
		}
		if (customerID != nil && rd.CustomerID != nil && *rd.CustomerID == *customerID) ||
			(email != "" && strings.EqualFold(rd.Email, email)) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) CreateCouponRedemption(_ context.Context, rd *models.CouponRedemption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rd.ID = r.id()
	r.data.redemptions = append(r.data.redemptions, *rd)
	return nil
}

func (r *memRepo) DeleteCouponRedemption(_ context.Context, couponID, orderID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rd := range r.data.redemptions {
		if rd.CouponID == couponID && rd.OrderID == orderID {
			r.data.redemptions = append(r.data.redemptions[:i], r.data.redemptions[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) CreateUserIfAbsent(_ context.Context, u *models.User) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data.users[u.Email]; ok {
		return false, nil
	}
	u.ID = r.id()
	r.data.users[u.Email] = *u
	return true, nil
}

func (r *memRepo) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.data.events[eventID]
	return ok, nil
}

func (r *memRepo) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.events[eventID] = eventType
	return nil
}

// memCarts is an in-memory CartStore
type memCarts struct {
	mu    sync.Mutex
	carts map[string]models.Cart
}

func newMemCarts() *memCarts {
	return &memCarts{carts: make(map[string]models.Cart)}
}

func (m *memCarts) GetCart(_ context.Context, id models.CartIdentity) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[identityKey(id)]
	if !ok {
		return nil, nil
	}
	c.Items = append([]models.CartItem(nil), c.Items...)
	return &c, nil
}

func (m *memCarts) SaveCart(_ context.Context, cart *models.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cart
	c.Items = append([]models.CartItem(nil), cart.Items...)
	m.carts[identityKey(cart.Identity)] = c
	return nil
}

func (m *memCarts) DeleteCart(_ context.Context, id models.CartIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, identityKey(id))
	return nil
}

func (m *memCarts) put(id models.CartIdentity, items ...models.CartItem) {
	cart := &models.Cart{Identity: id, Items: items}
	cart.Recalculate()
	_ = m.SaveCart(context.Background(), cart)
}

func (m *memCarts) items(id models.CartIdentity) []models.CartItem {
	c, _ := m.GetCart(context.Background(), id)
	if c == nil {
		return nil
	}
	return c.Items
}

// memLocker hands out tokens like the Redis lock
type memLocker struct {
	mu   sync.Mutex
	held map[string]string
	seq  int
	fail bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]string)}
}

func (l *memLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return "", false, errors.New("redis unavailable")
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.seq++
	token := strconv.Itoa(l.seq)
	l.held[key] = token
	return token, true, nil
}

func (l *memLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// memIdempotency is an in-memory IdempotencyCache
type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memIdempotency) GetIdempotencyKey(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memIdempotency) SetIdempotencyKey(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]string)
	}
	m.keys[key] = fmt.Sprint(value)
	return nil
}

// recordingNotifier captures notifications synchronously
type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (n *recordingNotifier) Send(_ context.Context, msg models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) kinds() []models.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.NotificationKind, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}

// fakeGateway issues sequential remote order ids or fails
type fakeGateway struct {
	mu    sync.Mutex
	name  string
	err   error
	delay time.Duration
	calls int
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, reference, currency string) (payments.RemoteOrder, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return payments.RemoteOrder{}, ctx.Err()
		}
	}
	if g.err != nil {
		return payments.RemoteOrder{}, g.err
	}
	remote := payments.RemoteOrder{
		GatewayOrderID: fmt.Sprintf("%s_order_%d", g.name, n),
		AmountMinor:    payments.ToMinorUnits(amount),
		Currency:       currency,
	}
	if g.name == "stripe" {
		remote.ClientSecret = remote.GatewayOrderID + "_secret"
	}
	return remote, nil
}

// secretVerifier checks HMAC signatures with a fixed secret
type secretVerifier string

func (s secretVerifier) VerifySignature(orderRef, paymentRef, signature string) bool {
	return payments.VerifySignature(orderRef, paymentRef, signature, string(s))
}

// fakeWebhooks maps signature headers to decoded deliveries
type fakeWebhooks struct {
	events map[string]payments.StripeConfirmation
}

func (f *fakeWebhooks) ParseWebhook(_ []byte, sigHeader string) (payments.StripeConfirmation, error) {
	conf, ok := f.events[sigHeader]
	if !ok {
		return payments.StripeConfirmation{}, fmt.Errorf("%w: no signatures found", payments.ErrInvalidWebhook)
	}
	return conf, nil
}
