package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrders struct {
	OrderService
	created  *service.CreateOrderRequest
	identity models.CartIdentity
	viewer   service.Viewer
	filter   models.OrderFilter
	payment  models.PaymentStatus
	payRef   string
	deadline bool
	err      error
}

func (s *stubOrders) CreateOrder(_ context.Context, id models.CartIdentity, req *service.CreateOrderRequest) (*service.CreateOrderResult, error) {
	s.identity, s.created = id, req
	if s.err != nil {
		return nil, s.err
	}
	return &service.CreateOrderResult{
		Order:    &models.Order{ID: 1, OrderNumber: "ORD-202605-00001", Status: models.OrderStatusConfirmed},
		Replayed: req.IdempotencyKey == "seen",
	}, nil
}

func (s *stubOrders) GetOrder(_ context.Context, v service.Viewer, id int64) (*models.Order, error) {
	s.viewer = v
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: id, OrderNumber: "ORD-202605-00001"}, nil
}

func (s *stubOrders) ListOrders(_ context.Context, v service.Viewer, f models.OrderFilter) ([]models.Order, int, error) {
	s.viewer, s.filter = v, f
	return []models.Order{{ID: 1}}, 1, s.err
}

func (s *stubOrders) Stats(ctx context.Context) (*models.OrderStats, error) {
	_, s.deadline = ctx.Deadline()
	return &models.OrderStats{TotalOrders: 3}, nil
}

func (s *stubOrders) CancelOrder(_ context.Context, v service.Viewer, id int64, _ string) (*models.Order, error) {
	s.viewer = v
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: id, Status: models.OrderStatusCancelled}, nil
}

func (s *stubOrders) UpdatePaymentStatus(_ context.Context, v service.Viewer, id int64, to models.PaymentStatus, ref string) (*models.Order, error) {
	s.viewer, s.payment, s.payRef = v, to, ref
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: id, PaymentStatus: to}, nil
}

type stubPayments struct {
	PaymentService
	payload []byte
	sig     string
	refund  service.RefundRequest
	err     error
}

func (s *stubPayments) VerifyPayment(context.Context, service.VerifyPaymentRequest) (*models.Order, error) {
	return nil, s.err
}

func (s *stubPayments) HandleStripeWebhook(_ context.Context, payload []byte, sig string) error {
	s.payload, s.sig = payload, sig
	return s.err
}

func (s *stubPayments) Refund(_ context.Context, req service.RefundRequest) (*models.Payment, error) {
	s.refund = req
	return &models.Payment{ID: req.PaymentID, Status: models.PaymentStatusRefunded}, s.err
}

type stubInventory struct {
	InventoryService
	entry service.LedgerEntry
}

func (s *stubInventory) Record(_ context.Context, e service.LedgerEntry) (*models.InventoryTransaction, error) {
	s.entry = e
	return &models.InventoryTransaction{ID: 1, ProductID: e.ProductID, Action: e.Action, Quantity: e.Quantity}, nil
}

type stubCarts struct {
	CartService
	identity models.CartIdentity
}

func (s *stubCarts) Get(_ context.Context, id models.CartIdentity) (*models.Cart, error) {
	s.identity = id
	if !id.Valid() {
		return nil, fmt.Errorf("%w: identity required", service.ErrValidation)
	}
	return &models.Cart{Identity: id, Items: []models.CartItem{}}, nil
}

type stubCoupons struct {
	customerID *int64
}

func (s *stubCoupons) Validate(_ context.Context, code string, cc service.CouponContext, customerID *int64, _ string) (service.CouponResult, error) {
	s.customerID = customerID
	if code != "SAVE10" {
		return service.CouponResult{Message: "Coupon not found"}, nil
	}
	return service.CouponResult{Valid: true, Discount: cc.OrderValue.Div(decimal.NewFromInt(10)), Message: "Coupon applied successfully"}, nil
}

type fixture struct {
	router    *gin.Engine
	orders    *stubOrders
	payments  *stubPayments
	inventory *stubInventory
	carts     *stubCarts
	coupons   *stubCoupons
}

func newFixture(readiness map[string]ReadinessCheck) *fixture {
	return newFixtureWithTimeout(readiness, 0)
}

func newFixtureWithTimeout(readiness map[string]ReadinessCheck, timeout time.Duration) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		router:    gin.New(),
		orders:    &stubOrders{},
		payments:  &stubPayments{},
		inventory: &stubInventory{},
		carts:     &stubCarts{},
		coupons:   &stubCoupons{},
	}
	NewHandler(Services{
		Orders:    f.orders,
		Carts:     f.carts,
		Payments:  f.payments,
		Inventory: f.inventory,
		Coupons:   f.coupons,
		Readiness: readiness,

		RequestTimeout: timeout,
	}).SetupRoutes(f.router)
	return f
}

func (f *fixture) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

var (
	customer = map[string]string{HeaderUserID: "5"}
	staff    = map[string]string{HeaderUserID: "1", HeaderUserRole: "admin"}
)

func checkoutBody() map[string]interface{} {
	return map[string]interface{}{
		"email": "buyer@example.com",
		"shipping_address": map[string]string{
			"first_name": "Asha", "last_name": "Rao", "address_line1": "1 Main St",
			"city": "Pune", "state": "MH", "postal_code": "411001", "country": "IN",
		},
		"payment_method": "cod",
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReady(t *testing.T) {
	f := newFixture(map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
	})
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/ready", nil, nil).Code)

	f = newFixture(map[string]ReadinessCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	w := f.do(http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(nil)

	w := f.do(http.MethodPost, "/api/v1/orders", checkoutBody(), map[string]string{
		HeaderSessionID: "sess-1", HeaderIdempotencyKey: "key-1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, models.CartIdentity{SessionID: "sess-1"}, f.orders.identity)
	assert.Equal(t, "key-1", f.orders.created.IdempotencyKey)

	var res struct {
		Order models.Order `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "ORD-202605-00001", res.Order.OrderNumber)

	w = f.do(http.MethodPost, "/api/v1/orders", checkoutBody(), map[string]string{
		HeaderUserID: "5", HeaderIdempotencyKey: "seen",
	})
	assert.Equal(t, http.StatusOK, w.Code, "replays are not re-created")
}

func TestCreateOrder_InvalidBody(t *testing.T) {
	f := newFixture(nil)
	body := checkoutBody()
	delete(body, "email")

	w := f.do(http.MethodPost, "/api/v1/orders", body, customer)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, f.orders.created)
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: email", service.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: Widget", service.ErrOutOfStock), http.StatusUnprocessableEntity},
		{service.ErrCartEmpty, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: Coupon has expired", service.ErrInvalidCoupon), http.StatusUnprocessableEntity},
		{service.ErrConflict, http.StatusConflict},
		{service.ErrPaymentGatewayUnavailable, http.StatusServiceUnavailable},
		{errors.New("pq: connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		f := newFixture(nil)
		f.orders.err = tt.err
		w := f.do(http.MethodPost, "/api/v1/orders", checkoutBody(), customer)
		assert.Equal(t, tt.status, w.Code, tt.err.Error())
		if tt.status == http.StatusInternalServerError {
			assert.NotContains(t, w.Body.String(), "pq:")
		}
	}
}

func TestGetOrder(t *testing.T) {
	f := newFixture(nil)

	w := f.do(http.MethodGet, "/api/v1/orders/42", nil, customer)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(5), f.orders.viewer.Identity.UserID)
	assert.False(t, f.orders.viewer.Staff)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/orders/abc", nil, customer).Code)

	f.orders.err = fmt.Errorf("%w: order 42", service.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/orders/42", nil, customer).Code)
}

func TestListOrders_ParsesFilters(t *testing.T) {
	f := newFixture(nil)

	w := f.do(http.MethodGet, "/api/v1/orders?status=shipped&min_amount=10.50&from=2026-05-01&limit=5", nil, staff)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, f.orders.viewer.Staff)
	assert.Equal(t, models.OrderStatusShipped, f.orders.filter.Status)
	require.NotNil(t, f.orders.filter.MinAmount)
	assert.Equal(t, "10.5", f.orders.filter.MinAmount.String())
	require.NotNil(t, f.orders.filter.From)
	assert.Equal(t, 5, f.orders.filter.Limit)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/orders?from=yesterday", nil, staff).Code)
}

func TestStaffRoutesRequireRole(t *testing.T) {
	f := newFixture(nil)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/v1/orders/stats", nil, customer).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/v1/orders/stats", nil,
		map[string]string{HeaderSessionID: "s", HeaderUserRole: "admin"}).Code, "sessions are never staff")
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/orders/stats", nil, staff).Code)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(nil)

	w := f.do(http.MethodPost, "/api/v1/orders/7/cancel", map[string]string{"reason": "changed my mind"}, customer)
	assert.Equal(t, http.StatusOK, w.Code)

	f.orders.err = fmt.Errorf("%w: order is shipped", service.ErrOrderNotCancellable)
	w = f.do(http.MethodPost, "/api/v1/orders/7/cancel", nil, customer)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "order is shipped")
}

func TestUpdatePaymentStatus(t *testing.T) {
	f := newFixture(nil)
	body := map[string]string{"payment_status": "completed", "gateway_payment_id": "pay_9"}

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPut, "/api/v1/orders/7/payment", body, customer).Code)

	w := f.do(http.MethodPut, "/api/v1/orders/7/payment", body, staff)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.PaymentStatusCompleted, f.orders.payment)
	assert.Equal(t, "pay_9", f.orders.payRef)
	assert.True(t, f.orders.viewer.Staff)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/v1/orders/7/payment", map[string]string{}, staff).Code)

	f.orders.err = fmt.Errorf("%w: payment refunded -> pending", service.ErrInvalidTransition)
	w = f.do(http.MethodPut, "/api/v1/orders/7/payment", map[string]string{"payment_status": "pending"}, staff)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestVerifyPayment_InvalidSignature(t *testing.T) {
	f := newFixture(nil)
	f.payments.err = service.ErrInvalidSignature

	w := f.do(http.MethodPost, "/api/v1/payments/verify", map[string]interface{}{
		"order_id": 1, "gateway_order_id": "order_1", "gateway_payment_id": "pay_1", "signature": "bad",
	}, customer)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStripeWebhook_PassesRawBody(t *testing.T) {
	f := newFixture(nil)

	w := f.do(http.MethodPost, "/api/v1/payments/stripe/webhook", `{"id":"evt_1"}`, map[string]string{HeaderStripeSig: "t=1,v1=abc"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"id":"evt_1"}`, string(f.payments.payload))
	assert.Equal(t, "t=1,v1=abc", f.payments.sig)
}

func TestRefund(t *testing.T) {
	f := newFixture(nil)

	w := f.do(http.MethodPost, "/api/v1/payments/9/refunds", map[string]interface{}{"amount": "25.00", "reason": "damaged"}, staff)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, int64(9), f.payments.refund.PaymentID)
	assert.True(t, f.payments.refund.Amount.Equal(decimal.NewFromInt(25)))
}

func TestRecordInventory(t *testing.T) {
	f := newFixture(nil)

	w := f.do(http.MethodPost, "/api/v1/inventory", map[string]interface{}{
		"product_id": 3, "action": "in", "quantity": 12, "reason": "restock",
	}, staff)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, int64(3), f.inventory.entry.ProductID)
	assert.Equal(t, models.InventoryActionIn, f.inventory.entry.Action)
	require.NotNil(t, f.inventory.entry.PerformedBy)
	assert.Equal(t, int64(1), *f.inventory.entry.PerformedBy)
}

func TestGetCart_RequiresIdentity(t *testing.T) {
	f := newFixture(nil)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/cart", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/cart", nil, map[string]string{HeaderUserID: "x"}).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/cart", nil, map[string]string{HeaderSessionID: "s1"}).Code)
}

func TestValidateCoupon(t *testing.T) {
	f := newFixture(nil)

	w := f.do(http.MethodPost, "/api/v1/coupons/validate", map[string]interface{}{"code": "SAVE10", "order_value": "200"}, customer)
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Valid    bool            `json:"valid"`
		Discount decimal.Decimal `json:"discount"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Valid)
	assert.True(t, res.Discount.Equal(decimal.NewFromInt(20)))
	require.NotNil(t, f.coupons.customerID)
	assert.Equal(t, int64(5), *f.coupons.customerID)
}

func TestRequestTimeout(t *testing.T) {
	f := newFixture(nil)
	f.do(http.MethodGet, "/api/v1/orders/stats", nil, staff)
	assert.False(t, f.orders.deadline)

	f = newFixtureWithTimeout(nil, time.Minute)
	f.do(http.MethodGet, "/api/v1/orders/stats", nil, staff)
	assert.True(t, f.orders.deadline)
}
