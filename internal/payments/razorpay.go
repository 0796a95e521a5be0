package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/internal/util"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayGateway creates Razorpay orders and verifies their checkout signatures
type RazorpayGateway struct {
	orders    razorpayOrderAPI
	keySecret string
	logger    *zap.Logger
}

// NewRazorpayGateway creates a gateway backed by the Razorpay API
func NewRazorpayGateway(keyID, keySecret string) (*RazorpayGateway, error) {
	if strings.TrimSpace(keyID) == "" || strings.TrimSpace(keySecret) == "" {
		return nil, fmt.Errorf("razorpay: %w", ErrGatewayNotConfigured)
	}
	client := razorpay.NewClient(keyID, keySecret)
	return newRazorpayGateway(client.Order, keySecret), nil
}

func newRazorpayGateway(orders razorpayOrderAPI, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{
		orders:    orders,
		keySecret: keySecret,
		logger:    util.GetLogger(),
	}
}

// Name returns the gateway name
func (g *RazorpayGateway) Name() string {
	return "razorpay"
}

type razorpayResult struct {
	body map[string]interface{}
	err  error
}

// CreateRemoteOrder creates a Razorpay order. The SDK call does not take a
// context, so it runs in its own goroutine and is abandoned when ctx ends.
func (g *RazorpayGateway) CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, reference, currency string) (RemoteOrder, error) {
	ctx, span := util.StartSpan(ctx, "RazorpayGateway.CreateRemoteOrder")
	defer span.End()

	minor := ToMinorUnits(amount)
	data := map[string]interface{}{
		"amount":   minor,
		"currency": currency,
		"receipt":  reference,
	}

	start := time.Now()
	done := make(chan razorpayResult, 1)
	go func() {
		body, err := g.orders.Create(data, nil)
		done <- razorpayResult{body: body, err: err}
	}()

	var res razorpayResult
	select {
	case <-ctx.Done():
		util.RecordError(span, ctx.Err())
		return RemoteOrder{}, fmt.Errorf("razorpay order create: %w", ctx.Err())
	case res = <-done:
	}
	util.PaymentGatewayLatency.WithLabelValues(g.Name()).Observe(time.Since(start).Seconds())

	if res.err != nil {
		util.RecordError(span, res.err)
		return RemoteOrder{}, fmt.Errorf("razorpay order create: %w", res.err)
	}

	id, _ := res.body["id"].(string)
	if id == "" {
		return RemoteOrder{}, fmt.Errorf("razorpay order create: response missing order id")
	}

	g.logger.Info("Razorpay order created",
		zap.String("gateway_order_id", id),
		zap.String("receipt", reference),
		zap.Int64("amount_minor", minor))

	return RemoteOrder{GatewayOrderID: id, AmountMinor: minor, Currency: currency}, nil
}

// VerifySignature checks the checkout callback signature with the key secret
func (g *RazorpayGateway) VerifySignature(orderRef, paymentRef, signature string) bool {
	return VerifySignature(orderRef, paymentRef, signature, g.keySecret)
}
