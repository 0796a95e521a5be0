package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"
)

// Stripe webhook event types the service acts on
const (
	StripeEventPaymentSucceeded = "payment_intent.succeeded"
	StripeEventPaymentFailed    = "payment_intent.payment_failed"
)

// ErrInvalidWebhook is returned when a Stripe webhook fails signature verification
var ErrInvalidWebhook = errors.New("invalid stripe webhook")

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGateway creates PaymentIntents and verifies webhook deliveries
type StripeGateway struct {
	intents       stripePaymentIntentAPI
	webhookSecret string
	logger        *zap.Logger
}

// StripeConfirmation is the payment outcome carried by a verified webhook
type StripeConfirmation struct {
	EventID          string
	EventType        string
	GatewayOrderID   string
	GatewayPaymentID string
	FailureReason    string
}

// NewStripeGateway creates a gateway backed by the Stripe API
func NewStripeGateway(secretKey, webhookSecret string) (*StripeGateway, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("stripe: %w", ErrGatewayNotConfigured)
	}
	sc := client.New(secretKey, nil)
	return newStripeGateway(sc.PaymentIntents, webhookSecret), nil
}

func newStripeGateway(intents stripePaymentIntentAPI, webhookSecret string) *StripeGateway {
	return &StripeGateway{
		intents:       intents,
		webhookSecret: webhookSecret,
		logger:        util.GetLogger(),
	}
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return "stripe"
}

// CreateRemoteOrder creates a PaymentIntent for the order amount
func (g *StripeGateway) CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, reference, currency string) (RemoteOrder, error) {
	ctx, span := util.StartSpan(ctx, "StripeGateway.CreateRemoteOrder")
	defer span.End()

	minor := ToMinorUnits(amount)
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(strings.ToLower(currency)),
	}
	params.Context = ctx
	params.AddMetadata("order_number", reference)
	params.SetIdempotencyKey("pi-" + reference)

	start := time.Now()
	pi, err := g.intents.New(params)
	util.PaymentGatewayLatency.WithLabelValues(g.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		util.RecordError(span, err)
		return RemoteOrder{}, fmt.Errorf("stripe payment intent create: %w", err)
	}

	g.logger.Info("Stripe payment intent created",
		zap.String("gateway_order_id", pi.ID),
		zap.String("order_number", reference),
		zap.Int64("amount_minor", minor))

	return RemoteOrder{
		GatewayOrderID: pi.ID,
		ClientSecret:   pi.ClientSecret,
		AmountMinor:    minor,
		Currency:       currency,
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the payment outcome
func (g *StripeGateway) ParseWebhook(payload []byte, sigHeader string) (StripeConfirmation, error) {
	if g.webhookSecret == "" {
		return StripeConfirmation{}, fmt.Errorf("stripe webhook: %w", ErrGatewayNotConfigured)
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return StripeConfirmation{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	conf := StripeConfirmation{EventID: event.ID, EventType: string(event.Type)}
	if event.Type != StripeEventPaymentSucceeded && event.Type != StripeEventPaymentFailed {
		return conf, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return StripeConfirmation{}, fmt.Errorf("failed to decode payment intent: %w", err)
	}
	conf.GatewayOrderID = pi.ID
	conf.GatewayPaymentID = pi.ID
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		conf.GatewayPaymentID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		conf.FailureReason = pi.LastPaymentError.Msg
	}
	return conf, nil
}
