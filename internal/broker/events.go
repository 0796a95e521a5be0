package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const defaultPublishTimeout = 5 * time.Second

// Publisher publishes a keyed event
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// BuildEvent turns a notification into its wire event and partition key
func BuildEvent(n models.Notification, now time.Time) (string, interface{}, error) {
	base := models.BaseEvent{EventID: uuid.NewString(), Timestamp: now.UTC()}

	switch n.Kind {
	case models.NotifyOrderConfirmation:
		if n.Order == nil {
			return "", nil, fmt.Errorf("%s notification without order", n.Kind)
		}
		o := n.Order
		base.EventType = models.EventTypeOrderConfirmation
		items := make([]models.OrderItemData, 0, len(o.Items))
		for _, item := range o.Items {
			items = append(items, models.OrderItemData{
				ProductID: item.ProductID,
				Name:      item.Name,
				Quantity:  item.Quantity,
				UnitPrice: item.Price,
			})
		}
		return orderKey(o), &models.OrderConfirmationEvent{
			BaseEvent:     base,
			OrderID:       o.ID,
			OrderNumber:   o.OrderNumber,
			Email:         o.Email,
			CustomerName:  customerName(o),
			TotalAmount:   o.TotalAmount,
			Currency:      o.Currency,
			PaymentMethod: o.PaymentMethod,
			Items:         items,
		}, nil

	case models.NotifyPaymentReceived:
		if n.Order == nil {
			return "", nil, fmt.Errorf("%s notification without order", n.Kind)
		}
		o := n.Order
		base.EventType = models.EventTypePaymentReceived
		event := &models.PaymentReceivedEvent{
			BaseEvent:   base,
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			Email:       o.Email,
			Amount:      o.TotalAmount,
			Currency:    o.Currency,
		}
		if o.GatewayPaymentID != nil {
			event.PaymentID = *o.GatewayPaymentID
		}
		return orderKey(o), event, nil

	case models.NotifyOrderStatusUpdate:
		if n.Order == nil {
			return "", nil, fmt.Errorf("%s notification without order", n.Kind)
		}
		o := n.Order
		base.EventType = models.EventTypeOrderStatusUpdate
		status := n.Status
		if status == "" {
			status = o.Status
		}
		event := &models.OrderStatusUpdateEvent{
			BaseEvent:   base,
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			Email:       o.Email,
			Status:      status,
		}
		if o.TrackingNumber != nil {
			event.TrackingNumber = *o.TrackingNumber
		}
		return orderKey(o), event, nil

	case models.NotifyAccountCreated:
		if n.User == nil {
			return "", nil, fmt.Errorf("%s notification without user", n.Kind)
		}
		base.EventType = models.EventTypeAccountCreated
		return fmt.Sprintf("user-%d", n.User.ID), &models.AccountCreatedEvent{
			BaseEvent:         base,
			UserID:            n.User.ID,
			Email:             n.User.Email,
			FirstName:         n.User.FirstName,
			VerificationToken: n.Token,
		}, nil
	}

	return "", nil, fmt.Errorf("unknown notification kind %q", n.Kind)
}

func orderKey(o *models.Order) string {
	return fmt.Sprintf("order-%d", o.ID)
}

func customerName(o *models.Order) string {
	return strings.TrimSpace(o.ShippingAddress.FirstName + " " + o.ShippingAddress.LastName)
}

// KafkaNotifier is the notification sink. Send never blocks the caller and
// never reports failure; publish errors are logged and counted.
type KafkaNotifier struct {
	publisher Publisher
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewKafkaNotifier creates a notifier publishing through p
func NewKafkaNotifier(p Publisher, timeout time.Duration) *KafkaNotifier {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &KafkaNotifier{
		publisher: p,
		timeout:   timeout,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// Send publishes the notification in the background
func (n *KafkaNotifier) Send(ctx context.Context, msg models.Notification) {
	key, event, err := BuildEvent(msg, n.now())
	if err != nil {
		util.NotificationsPublishedTotal.WithLabelValues(string(msg.Kind), "invalid").Inc()
		n.logger.Error("Failed to build notification", zap.Error(err))
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()

		if err := n.publisher.PublishEvent(ctx, key, event); err != nil {
			util.NotificationsPublishedTotal.WithLabelValues(string(msg.Kind), "error").Inc()
			n.logger.Error("Failed to publish notification",
				zap.String("kind", string(msg.Kind)),
				zap.String("key", key),
				zap.Error(err))
			return
		}
		util.NotificationsPublishedTotal.WithLabelValues(string(msg.Kind), "ok").Inc()
	}()
}

// Wait blocks until in-flight publishes finish
func (n *KafkaNotifier) Wait() {
	n.wg.Wait()
}

// EventHandler routes notification events to registered handlers
type EventHandler struct {
	onOrderConfirmation func(context.Context, *models.OrderConfirmationEvent) error
	onPaymentReceived   func(context.Context, *models.PaymentReceivedEvent) error
	onOrderStatusUpdate func(context.Context, *models.OrderStatusUpdateEvent) error
	onAccountCreated    func(context.Context, *models.AccountCreatedEvent) error
	logger              *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderConfirmation registers a handler for order confirmation events
func (eh *EventHandler) OnOrderConfirmation(handler func(context.Context, *models.OrderConfirmationEvent) error) {
	eh.onOrderConfirmation = handler
}

// OnPaymentReceived registers a handler for payment received events
func (eh *EventHandler) OnPaymentReceived(handler func(context.Context, *models.PaymentReceivedEvent) error) {
	eh.onPaymentReceived = handler
}

// OnOrderStatusUpdate registers a handler for order status events
func (eh *EventHandler) OnOrderStatusUpdate(handler func(context.Context, *models.OrderStatusUpdateEvent) error) {
	eh.onOrderStatusUpdate = handler
}

// OnAccountCreated registers a handler for account created events
func (eh *EventHandler) OnAccountCreated(handler func(context.Context, *models.AccountCreatedEvent) error) {
	eh.onAccountCreated = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderConfirmation:
		if eh.onOrderConfirmation != nil {
			var event models.OrderConfirmationEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderConfirmation event: %w", err)
			}
			return eh.onOrderConfirmation(ctx, &event)
		}

	case models.EventTypePaymentReceived:
		if eh.onPaymentReceived != nil {
			var event models.PaymentReceivedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentReceived event: %w", err)
			}
			return eh.onPaymentReceived(ctx, &event)
		}

	case models.EventTypeOrderStatusUpdate:
		if eh.onOrderStatusUpdate != nil {
			var event models.OrderStatusUpdateEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderStatusUpdate event: %w", err)
			}
			return eh.onOrderStatusUpdate(ctx, &event)
		}

	case models.EventTypeAccountCreated:
		if eh.onAccountCreated != nil {
			var event models.AccountCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal AccountCreated event: %w", err)
			}
			return eh.onAccountCreated(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
