package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// OrderStatus is the fulfillment lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// PaymentStatus is the money-movement state of an order or payment
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Valid reports whether s is a known payment status
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// PaymentMethod selects how an order is paid
type PaymentMethod string

const (
	PaymentMethodCreditCard   PaymentMethod = "credit_card"
	PaymentMethodDebitCard    PaymentMethod = "debit_card"
	PaymentMethodPaypal       PaymentMethod = "paypal"
	PaymentMethodStripe       PaymentMethod = "stripe"
	PaymentMethodRazorpay     PaymentMethod = "razorpay"
	PaymentMethodCOD          PaymentMethod = "cod"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// CouponType is the kind of discount a coupon grants
type CouponType string

const (
	CouponTypePercentage   CouponType = "percentage"
	CouponTypeFixedAmount  CouponType = "fixed_amount"
	CouponTypeFreeShipping CouponType = "free_shipping"
)

// InventoryAction is the kind of stock movement recorded in the ledger
type InventoryAction string

const (
	InventoryActionIn         InventoryAction = "in"
	InventoryActionOut        InventoryAction = "out"
	InventoryActionAdjustment InventoryAction = "adjustment"
)

// Valid reports whether a is a known inventory action
func (a InventoryAction) Valid() bool {
	return a == InventoryActionIn || a == InventoryActionOut || a == InventoryActionAdjustment
}

// JSONAddress stores an Address in a jsonb column
type JSONAddress struct {
	Address
}

// Value implements driver.Valuer
func (a JSONAddress) Value() (driver.Value, error) {
	b, err := json.Marshal(a.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal address: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (a *JSONAddress) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		a.Address = Address{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported address type %T", src)
	}
	return json.Unmarshal(raw, &a.Address)
}

// MarshalJSON flattens the wrapper
func (a JSONAddress) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Address)
}

// UnmarshalJSON flattens the wrapper
func (a *JSONAddress) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &a.Address)
}
