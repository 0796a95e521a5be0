package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderFilter narrows an order listing
type OrderFilter struct {
	CustomerID    *int64
	SessionID     *string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	PaymentMethod PaymentMethod
	From          *time.Time
	To            *time.Time
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
	Search        string
	Limit         int
	Offset        int
}

// OrderStats is the aggregate order summary for staff
type OrderStats struct {
	TotalOrders      int             `db:"total_orders" json:"total_orders"`
	PendingOrders    int             `db:"pending_orders" json:"pending_orders"`
	ConfirmedOrders  int             `db:"confirmed_orders" json:"confirmed_orders"`
	ProcessingOrders int             `db:"processing_orders" json:"processing_orders"`
	ShippedOrders    int             `db:"shipped_orders" json:"shipped_orders"`
	DeliveredOrders  int             `db:"delivered_orders" json:"delivered_orders"`
	CancelledOrders  int             `db:"cancelled_orders" json:"cancelled_orders"`
	TotalRevenue     decimal.Decimal `db:"total_revenue" json:"total_revenue"`
}

// OrderTracking is the customer-facing shipment view of an order
type OrderTracking struct {
	OrderNumber     string        `json:"order_number"`
	Status          OrderStatus   `json:"status"`
	TrackingNumber  *string       `json:"tracking_number,omitempty"`
	ShippingMethod  *string       `json:"shipping_method,omitempty"`
	ShippingAddress Address       `json:"shipping_address"`
	Timeline        OrderTimeline `json:"timeline"`
}

// OrderTimeline lists the lifecycle timestamps
type OrderTimeline struct {
	Ordered   time.Time  `json:"ordered"`
	Shipped   *time.Time `json:"shipped,omitempty"`
	Delivered *time.Time `json:"delivered,omitempty"`
	Cancelled *time.Time `json:"cancelled,omitempty"`
}

// InventoryFilter narrows a ledger listing
type InventoryFilter struct {
	ProductID *int64
	Action    InventoryAction
	Limit     int
	Offset    int
}

// InventoryStats summarises the ledger and stock levels
type InventoryStats struct {
	TotalTransactions      int `db:"total_transactions" json:"total_transactions"`
	StockInTransactions    int `db:"stock_in_transactions" json:"stock_in_transactions"`
	StockOutTransactions   int `db:"stock_out_transactions" json:"stock_out_transactions"`
	AdjustmentTransactions int `db:"adjustment_transactions" json:"adjustment_transactions"`
	LowStockProducts       int `db:"low_stock_products" json:"low_stock_products"`
	OutOfStockProducts     int `db:"out_of_stock_products" json:"out_of_stock_products"`
}
