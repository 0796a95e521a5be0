package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Product is the read-only catalog view the order engine works with
type Product struct {
	ID                int64           `db:"id" json:"id"`
	SKU               string          `db:"sku" json:"sku"`
	Name              string          `db:"name" json:"name"`
	Price             decimal.Decimal `db:"price" json:"price"`
	Stock             int             `db:"stock" json:"stock"`
	TrackQuantity     bool            `db:"track_quantity" json:"track_quantity"`
	SalesCount        int             `db:"sales_count" json:"sales_count"`
	LowStockThreshold int             `db:"low_stock_threshold" json:"low_stock_threshold"`
	Images            pq.StringArray  `db:"images" json:"images"`
	CategoryIDs       pq.Int64Array   `db:"category_ids" json:"category_ids"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// PrimaryImage returns the first product image, if any
func (p *Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// InventoryTransaction is one immutable ledger entry
type InventoryTransaction struct {
	ID            int64           `db:"id" json:"id"`
	ProductID     int64           `db:"product_id" json:"product_id"`
	VariantID     *string         `db:"variant_id" json:"variant_id,omitempty"`
	Action        InventoryAction `db:"action" json:"action"`
	Quantity      int             `db:"quantity" json:"quantity"`
	PreviousStock int             `db:"previous_stock" json:"previous_stock"`
	NewStock      int             `db:"new_stock" json:"new_stock"`
	Reason        *string         `db:"reason" json:"reason,omitempty"`
	Reference     *string         `db:"reference" json:"reference,omitempty"`
	PerformedBy   *int64          `db:"performed_by" json:"performed_by,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Address is a shipping or billing address
type Address struct {
	FirstName    string `json:"first_name" binding:"required"`
	LastName     string `json:"last_name" binding:"required"`
	Company      string `json:"company,omitempty"`
	AddressLine1 string `json:"address_line1" binding:"required"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city" binding:"required"`
	State        string `json:"state" binding:"required"`
	PostalCode   string `json:"postal_code" binding:"required"`
	Country      string `json:"country" binding:"required"`
	Phone        string `json:"phone,omitempty"`
}

// Order is a placed customer order. Line items are frozen at purchase time.
type Order struct {
	ID               int64           `db:"id" json:"id"`
	OrderNumber      string          `db:"order_number" json:"order_number"`
	CustomerID       *int64          `db:"customer_id" json:"customer_id,omitempty"`
	SessionID        *string         `db:"session_id" json:"session_id,omitempty"`
	Email            string          `db:"email" json:"email"`
	Phone            *string         `db:"phone" json:"phone,omitempty"`
	Subtotal         decimal.Decimal `db:"subtotal" json:"subtotal"`
	TaxAmount        decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	ShippingAmount   decimal.Decimal `db:"shipping_amount" json:"shipping_amount"`
	DiscountAmount   decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TotalAmount      decimal.Decimal `db:"total_amount" json:"total_amount"`
	Currency         string          `db:"currency" json:"currency"`
	Status           OrderStatus     `db:"status" json:"status"`
	PaymentStatus    PaymentStatus   `db:"payment_status" json:"payment_status"`
	PaymentMethod    PaymentMethod   `db:"payment_method" json:"payment_method"`
	GatewayOrderID   *string         `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string         `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`
	ShippingAddress  JSONAddress     `db:"shipping_address" json:"shipping_address"`
	BillingAddress   JSONAddress     `db:"billing_address" json:"billing_address"`
	ShippingMethod   *string         `db:"shipping_method" json:"shipping_method,omitempty"`
	TrackingNumber   *string         `db:"tracking_number" json:"tracking_number,omitempty"`
	Notes            *string         `db:"notes" json:"notes,omitempty"`
	CouponID         *int64          `db:"coupon_id" json:"-"`
	CouponCode       *string         `db:"coupon_code" json:"coupon_code,omitempty"`
	RefundAmount     decimal.Decimal `db:"refund_amount" json:"refund_amount"`
	RefundReason     *string         `db:"refund_reason" json:"refund_reason,omitempty"`
	IdempotencyKey   *string         `db:"idempotency_key" json:"-"`
	CancelledAt      *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	ShippedAt        *time.Time      `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt      *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items"`
}

// CartIdentity returns the identity of the cart the order was placed from.
// A guest who signed up at checkout keeps the session cart.
func (o *Order) CartIdentity() CartIdentity {
	if o.SessionID != nil {
		return CartIdentity{SessionID: *o.SessionID}
	}
	if o.CustomerID != nil {
		return CartIdentity{UserID: *o.CustomerID}
	}
	return CartIdentity{}
}

// OwnedBy reports whether the order belongs to the given identity
func (o *Order) OwnedBy(id CartIdentity) bool {
	if id.IsUser() {
		return o.CustomerID != nil && *o.CustomerID == id.UserID
	}
	return id.SessionID != "" && o.SessionID != nil && *o.SessionID == id.SessionID
}

// OrderItem freezes product details at purchase time
type OrderItem struct {
	ID           int64           `db:"id" json:"id"`
	OrderID      int64           `db:"order_id" json:"order_id"`
	ProductID    int64           `db:"product_id" json:"product_id"`
	VariantID    *string         `db:"variant_id" json:"variant_id,omitempty"`
	Name         string          `db:"name" json:"name"`
	SKU          string          `db:"sku" json:"sku"`
	Price        decimal.Decimal `db:"price" json:"price"`
	Quantity     int             `db:"quantity" json:"quantity"`
	Total        decimal.Decimal `db:"total" json:"total"`
	Image        *string         `db:"image" json:"image,omitempty"`
	StockTracked bool            `db:"stock_tracked" json:"-"`
}

// Payment is one externally issued payment intent for an order
type Payment struct {
	ID               int64           `db:"id" json:"id"`
	OrderID          int64           `db:"order_id" json:"order_id"`
	Method           PaymentMethod   `db:"method" json:"method"`
	GatewayOrderID   string          `db:"gateway_order_id" json:"gateway_order_id"`
	GatewayPaymentID *string         `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`
	ClientSecret     *string         `db:"client_secret" json:"-"`
	Status           PaymentStatus   `db:"status" json:"status"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Currency         string          `db:"currency" json:"currency"`
	FailureReason    *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	ProcessedAt      *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`

	Refunds []Refund `db:"-" json:"refunds"`
}

// RefundedAmount sums all refunds recorded against the payment
func (p *Payment) RefundedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, r := range p.Refunds {
		total = total.Add(r.Amount)
	}
	return total
}

// Refund is an append-only refund entry
type Refund struct {
	ID          int64           `db:"id" json:"-"`
	RefundID    string          `db:"refund_id" json:"refund_id"`
	PaymentID   int64           `db:"payment_id" json:"payment_id"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Reason      *string         `db:"reason" json:"reason,omitempty"`
	ProcessedAt time.Time       `db:"processed_at" json:"processed_at"`
}

// Coupon is a code-addressed discount rule
type Coupon struct {
	ID                    int64            `db:"id" json:"id"`
	Code                  string           `db:"code" json:"code"`
	Name                  string           `db:"name" json:"name"`
	Type                  CouponType       `db:"type" json:"type"`
	Value                 decimal.Decimal  `db:"value" json:"value"`
	MinimumOrderValue     *decimal.Decimal `db:"minimum_order_value" json:"minimum_order_value,omitempty"`
	MaximumDiscountAmount *decimal.Decimal `db:"maximum_discount_amount" json:"maximum_discount_amount,omitempty"`
	UsageLimit            *int             `db:"usage_limit" json:"usage_limit,omitempty"`
	UsageCount            int              `db:"usage_count" json:"usage_count"`
	UserUsageLimit        *int             `db:"user_usage_limit" json:"user_usage_limit,omitempty"`
	IsActive              bool             `db:"is_active" json:"is_active"`
	StartsAt              *time.Time       `db:"starts_at" json:"starts_at,omitempty"`
	ExpiresAt             *time.Time       `db:"expires_at" json:"expires_at,omitempty"`
	ApplicableProducts    pq.Int64Array    `db:"applicable_products" json:"applicable_products"`
	ApplicableCategories  pq.Int64Array    `db:"applicable_categories" json:"applicable_categories"`
	ExcludedProducts      pq.Int64Array    `db:"excluded_products" json:"excluded_products"`
	ExcludedCategories    pq.Int64Array    `db:"excluded_categories" json:"excluded_categories"`
	CreatedAt             time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updated_at"`
}

// CouponRedemption links a coupon use to the order that consumed it
type CouponRedemption struct {
	ID         int64     `db:"id"`
	CouponID   int64     `db:"coupon_id"`
	OrderID    int64     `db:"order_id"`
	CustomerID *int64    `db:"customer_id"`
	Email      string    `db:"email"`
	CreatedAt  time.Time `db:"created_at"`
}

// User is the minimal account record needed for inline guest sign-up
type User struct {
	ID                         int64     `db:"id"`
	Email                      string    `db:"email"`
	PasswordHash               string    `db:"password_hash"`
	FirstName                  string    `db:"first_name"`
	LastName                   string    `db:"last_name"`
	Role                       string    `db:"role"`
	EmailVerificationTokenHash *string   `db:"email_verification_token_hash"`
	IsEmailVerified            bool      `db:"is_email_verified"`
	CreatedAt                  time.Time `db:"created_at"`
}

// CartIdentity names the owner of a cart: exactly one of UserID or SessionID
type CartIdentity struct {
	UserID    int64  `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Valid reports whether exactly one owner field is set
func (c CartIdentity) Valid() bool {
	return (c.UserID > 0) != (c.SessionID != "")
}

// IsUser reports whether the identity is an authenticated user
func (c CartIdentity) IsUser() bool {
	return c.UserID > 0
}

// Cart is a shopping cart owned by a user or an anonymous session
type Cart struct {
	Identity  CartIdentity    `json:"identity"`
	Items     []CartItem      `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	ItemCount int             `json:"item_count"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Recalculate refreshes the derived subtotal and item count
func (c *Cart) Recalculate() {
	subtotal := decimal.Zero
	count := 0
	for _, item := range c.Items {
		subtotal = subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		count += item.Quantity
	}
	c.Subtotal = subtotal
	c.ItemCount = count
}

// CartItem is one line of a cart with the unit price captured at add-time
type CartItem struct {
	ProductID int64           `json:"product_id"`
	VariantID *string         `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	AddedAt   time.Time       `json:"added_at"`
}

// SameLine reports whether two items refer to the same product and variant
func (i CartItem) SameLine(productID int64, variantID *string) bool {
	if i.ProductID != productID {
		return false
	}
	if i.VariantID == nil || variantID == nil {
		return i.VariantID == nil && variantID == nil
	}
	return *i.VariantID == *variantID
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
