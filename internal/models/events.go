package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderConfirmation = "ORDER_CONFIRMATION"
	EventTypePaymentReceived   = "PAYMENT_RECEIVED"
	EventTypeOrderStatusUpdate = "ORDER_STATUS_UPDATE"
	EventTypeAccountCreated    = "ACCOUNT_CREATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderConfirmationEvent published when an order is placed
type OrderConfirmationEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	Email         string          `json:"email"`
	CustomerName  string          `json:"customer_name"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Items         []OrderItemData `json:"items"`
}

// PaymentReceivedEvent published when a gateway payment is confirmed
type PaymentReceivedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Email       string          `json:"email"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PaymentID   string          `json:"payment_id"`
}

// OrderStatusUpdateEvent published on shipped, delivered and cancelled transitions
type OrderStatusUpdateEvent struct {
	BaseEvent
	OrderID        int64       `json:"order_id"`
	OrderNumber    string      `json:"order_number"`
	Email          string      `json:"email"`
	Status         OrderStatus `json:"status"`
	TrackingNumber string      `json:"tracking_number,omitempty"`
}

// AccountCreatedEvent published when checkout provisions a guest account
type AccountCreatedEvent struct {
	BaseEvent
	UserID            int64  `json:"user_id"`
	Email             string `json:"email"`
	FirstName         string `json:"first_name"`
	VerificationToken string `json:"verification_token"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
