package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Mail is a rendered customer message
type Mail struct {
	Kind    string
	To      string
	Subject string
	Body    string
}

// Mailer delivers mail. Delivery itself is outside this service.
type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// LogMailer writes mail to the log instead of sending it
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a new log mailer
func NewLogMailer() *LogMailer {
	return &LogMailer{logger: util.GetLogger()}
}

// Send logs the mail
func (m *LogMailer) Send(_ context.Context, mail Mail) error {
	m.logger.Info("Mail queued",
		zap.String("kind", mail.Kind),
		zap.String("to", mail.To),
		zap.String("subject", mail.Subject))
	return nil
}

// NotificationWorker consumes notification events and hands them to the mailer.
// Each event is delivered at most once per event id.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	events       service.EventStore
	mailer       Mailer
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, events service.EventStore, mailer Mailer) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		events:       events,
		mailer:       mailer,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnOrderConfirmation(w.handleOrderConfirmation)
	w.eventHandler.OnPaymentReceived(w.handlePaymentReceived)
	w.eventHandler.OnOrderStatusUpdate(w.handleOrderStatusUpdate)
	w.eventHandler.OnAccountCreated(w.handleAccountCreated)

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// HandleMessage de-duplicates by event id and routes the event
func (w *NotificationWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	ctx, span := util.StartSpan(ctx, "NotificationWorker.HandleMessage")
	defer span.End()

	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		w.logger.Error("Dropping malformed event", zap.Error(err))
		return nil
	}

	processed, err := w.events.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", base.EventID))
		return nil
	}

	if err := w.eventHandler.HandleMessage(ctx, msg); err != nil {
		util.RecordError(span, err)
		return err
	}

	if err := w.events.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		w.logger.Error("Failed to mark event processed",
			zap.String("event_id", base.EventID),
			zap.Error(err))
	}
	return nil
}

func (w *NotificationWorker) deliver(ctx context.Context, mail Mail) error {
	if err := w.mailer.Send(ctx, mail); err != nil {
		return fmt.Errorf("failed to send %s mail: %w", mail.Kind, err)
	}
	util.NotificationsDeliveredTotal.WithLabelValues(mail.Kind).Inc()
	return nil
}

func (w *NotificationWorker) handleOrderConfirmation(ctx context.Context, e *models.OrderConfirmationEvent) error {
	return w.deliver(ctx, Mail{
		Kind:    string(models.NotifyOrderConfirmation),
		To:      e.Email,
		Subject: fmt.Sprintf("Order Confirmation - %s", e.OrderNumber),
		Body: fmt.Sprintf("Hi %s, thank you for your order %s. Total: %s %s.",
			e.CustomerName, e.OrderNumber, e.TotalAmount.StringFixed(2), e.Currency),
	})
}

func (w *NotificationWorker) handlePaymentReceived(ctx context.Context, e *models.PaymentReceivedEvent) error {
	return w.deliver(ctx, Mail{
		Kind:    string(models.NotifyPaymentReceived),
		To:      e.Email,
		Subject: fmt.Sprintf("Payment Received - %s", e.OrderNumber),
		Body: fmt.Sprintf("We received your payment of %s %s for order %s.",
			e.Amount.StringFixed(2), e.Currency, e.OrderNumber),
	})
}

func (w *NotificationWorker) handleOrderStatusUpdate(ctx context.Context, e *models.OrderStatusUpdateEvent) error {
	body := fmt.Sprintf("Your order %s is now %s.", e.OrderNumber, e.Status)
	if e.TrackingNumber != "" {
		body += " Tracking number: " + e.TrackingNumber
	}
	return w.deliver(ctx, Mail{
		Kind:    string(models.NotifyOrderStatusUpdate),
		To:      e.Email,
		Subject: fmt.Sprintf("Order Update - %s", e.OrderNumber),
		Body:    body,
	})
}

func (w *NotificationWorker) handleAccountCreated(ctx context.Context, e *models.AccountCreatedEvent) error {
	return w.deliver(ctx, Mail{
		Kind:    string(models.NotifyAccountCreated),
		To:      e.Email,
		Subject: "Verify your email",
		Body:    fmt.Sprintf("Welcome %s. Your verification code is %s.", e.FirstName, e.VerificationToken),
	})
}
