package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxWebhookBytes = 64 << 10

// OrderService is the order surface the handler needs
type OrderService interface {
	CreateOrder(ctx context.Context, identity models.CartIdentity, req *service.CreateOrderRequest) (*service.CreateOrderResult, error)
	GetOrder(ctx context.Context, viewer service.Viewer, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, viewer service.Viewer, number string) (*models.Order, error)
	ListOrders(ctx context.Context, viewer service.Viewer, filter models.OrderFilter) ([]models.Order, int, error)
	TrackOrder(ctx context.Context, viewer service.Viewer, number string) (*models.OrderTracking, error)
	Stats(ctx context.Context) (*models.OrderStats, error)
	UpdateStatus(ctx context.Context, viewer service.Viewer, id int64, to models.OrderStatus) (*models.Order, error)
	CancelOrder(ctx context.Context, viewer service.Viewer, id int64, reason string) (*models.Order, error)
	AddTrackingNumber(ctx context.Context, viewer service.Viewer, id int64, trackingNumber, shippingMethod string) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, viewer service.Viewer, id int64, to models.PaymentStatus, gatewayPaymentID string) (*models.Order, error)
}

// CartService is the cart surface the handler needs
type CartService interface {
	Get(ctx context.Context, identity models.CartIdentity) (*models.Cart, error)
	AddItem(ctx context.Context, identity models.CartIdentity, req service.AddCartItemRequest) (*models.Cart, error)
	UpdateItem(ctx context.Context, identity models.CartIdentity, req service.UpdateCartItemRequest) (*models.Cart, error)
	RemoveItem(ctx context.Context, identity models.CartIdentity, productID int64, variantID *string) (*models.Cart, error)
	Clear(ctx context.Context, identity models.CartIdentity) error
	Merge(ctx context.Context, sessionID string, userID int64) (*models.Cart, error)
}

// PaymentService is the payment surface the handler needs
type PaymentService interface {
	VerifyPayment(ctx context.Context, req service.VerifyPaymentRequest) (*models.Order, error)
	HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) error
	ListPayments(ctx context.Context, viewer service.Viewer, orderID int64) ([]models.Payment, error)
	Refund(ctx context.Context, req service.RefundRequest) (*models.Payment, error)
}

// InventoryService is the ledger surface the handler needs
type InventoryService interface {
	Record(ctx context.Context, entry service.LedgerEntry) (*models.InventoryTransaction, error)
	History(ctx context.Context, productID int64, limit int) ([]models.InventoryTransaction, error)
	List(ctx context.Context, filter models.InventoryFilter) ([]models.InventoryTransaction, int, error)
	Stats(ctx context.Context) (*models.InventoryStats, error)
}

// CouponService is the coupon surface the handler needs
type CouponService interface {
	Validate(ctx context.Context, code string, cc service.CouponContext, customerID *int64, email string) (service.CouponResult, error)
}

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Services groups the handler's collaborators
type Services struct {
	Orders    OrderService
	Carts     CartService
	Payments  PaymentService
	Inventory InventoryService
	Coupons   CouponService
	Readiness map[string]ReadinessCheck

	// RequestTimeout bounds every API request; zero disables it
	RequestTimeout time.Duration
}

// Handler contains HTTP handlers
type Handler struct {
	orders    OrderService
	carts     CartService
	payments  PaymentService
	inventory InventoryService
	coupons   CouponService
	readiness map[string]ReadinessCheck
	timeout   time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(s Services) *Handler {
	return &Handler{
		orders:    s.Orders,
		carts:     s.Carts,
		payments:  s.Payments,
		inventory: s.Inventory,
		coupons:   s.Coupons,
		readiness: s.Readiness,
		timeout:   s.RequestTimeout,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(loggingMiddleware(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(timeoutMiddleware(h.timeout))
	v1.POST("/payments/stripe/webhook", h.stripeWebhook)

	authed := v1.Group("")
	authed.Use(identityMiddleware())
	{
		authed.GET("/cart", h.getCart)
		authed.DELETE("/cart", h.clearCart)
		authed.POST("/cart/items", h.addCartItem)
		authed.PUT("/cart/items", h.updateCartItem)
		authed.DELETE("/cart/items/:productId", h.removeCartItem)
		authed.POST("/cart/merge", h.mergeCart)

		authed.POST("/orders", h.createOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.GET("/orders/number/:number", h.getOrderByNumber)
		authed.GET("/orders/track/:number", h.trackOrder)
		authed.POST("/orders/:id/cancel", h.cancelOrder)
		authed.GET("/orders/:id/payments", h.listPayments)

		authed.POST("/payments/verify", h.verifyPayment)
		authed.POST("/coupons/validate", h.validateCoupon)
	}

	staff := authed.Group("")
	staff.Use(requireStaff())
	{
		staff.GET("/orders/stats", h.orderStats)
		staff.PATCH("/orders/:id/status", h.updateStatus)
		staff.PUT("/orders/:id/payment", h.updatePaymentStatus)
		staff.POST("/orders/:id/tracking", h.addTrackingNumber)
		staff.POST("/payments/:id/refunds", h.refund)

		staff.POST("/inventory", h.recordInventory)
		staff.GET("/inventory", h.listInventory)
		staff.GET("/inventory/stats", h.inventoryStats)
		staff.GET("/inventory/products/:id/history", h.inventoryHistory)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.readiness {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not ready",
			"failures": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid "+name, nil)
		return 0, false
	}
	return id, true
}

func optionalQuery(c *gin.Context, key string) *string {
	if v := c.Query(key); v != "" {
		return &v
	}
	return nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// Cart

func (h *Handler) getCart(c *gin.Context) {
	cart, err := h.carts.Get(c.Request.Context(), viewerFrom(c).Identity)
	if err != nil {
		writeError(c, "Failed to get cart", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req service.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	cart, err := h.carts.AddItem(c.Request.Context(), viewerFrom(c).Identity, req)
	if err != nil {
		writeError(c, "Failed to add item", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	var req service.UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	cart, err := h.carts.UpdateItem(c.Request.Context(), viewerFrom(c).Identity, req)
	if err != nil {
		writeError(c, "Failed to update item", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}

	cart, err := h.carts.RemoveItem(c.Request.Context(), viewerFrom(c).Identity, productID, optionalQuery(c, "variant_id"))
	if err != nil {
		writeError(c, "Failed to remove item", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.carts.Clear(c.Request.Context(), viewerFrom(c).Identity); err != nil {
		writeError(c, "Failed to clear cart", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// mergeCart folds the caller's session cart into their user cart after sign-in
func (h *Handler) mergeCart(c *gin.Context) {
	viewer := viewerFrom(c)
	cart, err := h.carts.Merge(c.Request.Context(), c.GetHeader(HeaderSessionID), viewer.Identity.UserID)
	if err != nil {
		writeError(c, "Failed to merge cart", err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// Orders

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.IdempotencyKey = c.GetHeader(HeaderIdempotencyKey)

	res, err := h.orders.CreateOrder(c.Request.Context(), viewerFrom(c).Identity, &req)
	if err != nil {
		writeError(c, "Failed to create order", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), viewerFrom(c), id)
	if err != nil {
		writeError(c, "Order not found", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) getOrderByNumber(c *gin.Context) {
	order, err := h.orders.GetOrderByNumber(c.Request.Context(), viewerFrom(c), c.Param("number"))
	if err != nil {
		writeError(c, "Order not found", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) trackOrder(c *gin.Context) {
	tracking, err := h.orders.TrackOrder(c.Request.Context(), viewerFrom(c), c.Param("number"))
	if err != nil {
		writeError(c, "Order not found", err)
		return
	}
	c.JSON(http.StatusOK, tracking)
}

func (h *Handler) listOrders(c *gin.Context) {
	filter, err := orderFilterFrom(c)
	if err != nil {
		badRequest(c, "Invalid query", err)
		return
	}

	orders, total, err := h.orders.ListOrders(c.Request.Context(), viewerFrom(c), filter)
	if err != nil {
		writeError(c, "Failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func orderFilterFrom(c *gin.Context) (models.OrderFilter, error) {
	filter := models.OrderFilter{
		Status:        models.OrderStatus(c.Query("status")),
		PaymentStatus: models.PaymentStatus(c.Query("payment_status")),
		PaymentMethod: models.PaymentMethod(c.Query("payment_method")),
		Search:        c.Query("search"),
	}

	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		return filter, err
	}
	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if v := c.Query(key); v != "" {
			t, err := parseTime(v)
			if err != nil {
				return filter, err
			}
			*dst = &t
		}
	}
	for key, dst := range map[string]**decimal.Decimal{"min_amount": &filter.MinAmount, "max_amount": &filter.MaxAmount} {
		if v := c.Query(key); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return filter, err
			}
			*dst = &d
		}
	}
	return filter, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func (h *Handler) orderStats(c *gin.Context) {
	stats, err := h.orders.Stats(c.Request.Context())
	if err != nil {
		writeError(c, "Failed to get order stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type updateStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), viewerFrom(c), id, req.Status)
	if err != nil {
		writeError(c, "Failed to update order status", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type updatePaymentStatusRequest struct {
	PaymentStatus    models.PaymentStatus `json:"payment_status" binding:"required"`
	GatewayPaymentID string               `json:"gateway_payment_id"`
}

func (h *Handler) updatePaymentStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.orders.UpdatePaymentStatus(c.Request.Context(), viewerFrom(c), id, req.PaymentStatus, req.GatewayPaymentID)
	if err != nil {
		writeError(c, "Failed to update payment status", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), viewerFrom(c), id, req.Reason)
	if err != nil {
		writeError(c, "Failed to cancel order", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type trackingRequest struct {
	TrackingNumber string `json:"tracking_number" binding:"required"`
	ShippingMethod string `json:"shipping_method"`
}

func (h *Handler) addTrackingNumber(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req trackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.orders.AddTrackingNumber(c.Request.Context(), viewerFrom(c), id, req.TrackingNumber, req.ShippingMethod)
	if err != nil {
		writeError(c, "Failed to add tracking number", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// Payments

func (h *Handler) verifyPayment(c *gin.Context) {
	var req service.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.payments.VerifyPayment(c.Request.Context(), req)
	if err != nil {
		writeError(c, "Payment verification failed", err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		badRequest(c, "Failed to read body", err)
		return
	}

	if err := h.payments.HandleStripeWebhook(c.Request.Context(), payload, c.GetHeader(HeaderStripeSig)); err != nil {
		writeError(c, "Webhook rejected", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) listPayments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	list, err := h.payments.ListPayments(c.Request.Context(), viewerFrom(c), id)
	if err != nil {
		writeError(c, "Failed to list payments", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": list})
}

func (h *Handler) refund(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.PaymentID = id

	payment, err := h.payments.Refund(c.Request.Context(), req)
	if err != nil {
		writeError(c, "Failed to refund payment", err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// Inventory

type recordInventoryRequest struct {
	ProductID int64                  `json:"product_id" binding:"required"`
	VariantID *string                `json:"variant_id,omitempty"`
	Action    models.InventoryAction `json:"action" binding:"required"`
	Quantity  int                    `json:"quantity"`
	Reason    string                 `json:"reason"`
	Reference string                 `json:"reference"`
}

func (h *Handler) recordInventory(c *gin.Context) {
	var req recordInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	txn, err := h.inventory.Record(c.Request.Context(), service.LedgerEntry{
		ProductID:   req.ProductID,
		VariantID:   req.VariantID,
		Action:      req.Action,
		Quantity:    req.Quantity,
		Reason:      req.Reason,
		Reference:   req.Reference,
		PerformedBy: viewerFrom(c).PerformedBy(),
	})
	if err != nil {
		writeError(c, "Failed to record inventory transaction", err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

func (h *Handler) listInventory(c *gin.Context) {
	filter := models.InventoryFilter{Action: models.InventoryAction(c.Query("action"))}
	if v := c.Query("product_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badRequest(c, "Invalid product_id", err)
			return
		}
		filter.ProductID = &id
	}
	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		badRequest(c, "Invalid limit", err)
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		badRequest(c, "Invalid offset", err)
		return
	}

	list, total, err := h.inventory.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, "Failed to list inventory transactions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": list,
		"total":        total,
	})
}

func (h *Handler) inventoryStats(c *gin.Context) {
	stats, err := h.inventory.Stats(c.Request.Context())
	if err != nil {
		writeError(c, "Failed to get inventory stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) inventoryHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, "Invalid limit", err)
		return
	}

	history, err := h.inventory.History(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, "Failed to get inventory history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": history})
}

// Coupons

type validateCouponRequest struct {
	Code        string          `json:"code" binding:"required"`
	OrderValue  decimal.Decimal `json:"order_value"`
	ProductIDs  []int64         `json:"product_ids"`
	CategoryIDs []int64         `json:"category_ids"`
	Email       string          `json:"email"`
}

func (h *Handler) validateCoupon(c *gin.Context) {
	var req validateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	var customerID *int64
	if id := viewerFrom(c).Identity; id.IsUser() {
		customerID = &id.UserID
	}
	res, err := h.coupons.Validate(c.Request.Context(), req.Code, service.CouponContext{
		OrderValue:  req.OrderValue,
		ProductIDs:  req.ProductIDs,
		CategoryIDs: req.CategoryIDs,
	}, customerID, req.Email)
	if err != nil {
		writeError(c, "Failed to validate coupon", err)
		return
	}

	body := gin.H{
		"valid":         res.Valid,
		"message":       res.Message,
		"discount":      res.Discount,
		"free_shipping": res.FreeShipping,
	}
	if res.Coupon != nil {
		body["coupon"] = gin.H{"code": res.Coupon.Code, "name": res.Coupon.Name, "type": res.Coupon.Type}
	}
	c.JSON(http.StatusOK, body)
}
