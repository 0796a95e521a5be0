package models

// NotificationKind names a customer-facing message
type NotificationKind string

const (
	NotifyOrderConfirmation NotificationKind = "order_confirmation"
	NotifyPaymentReceived   NotificationKind = "payment_received"
	NotifyOrderStatusUpdate NotificationKind = "order_status_update"
	NotifyAccountCreated    NotificationKind = "account_created"
)

// Notification is a fire-and-forget message for the notification sink.
// Order is set for order kinds; User and Token for account_created.
type Notification struct {
	Kind   NotificationKind
	Order  *Order
	Status OrderStatus
	User   *User
	Token  string
}
