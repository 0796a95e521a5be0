package payments

import (
	"context"
	"time"

	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerSettings tunes the circuit breaker around a gateway
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
	Interval    time.Duration
}

// BreakerGateway wraps a Gateway so repeated failures stop calls to the remote API
type BreakerGateway struct {
	inner Gateway
	cb    *gobreaker.CircuitBreaker[RemoteOrder]
}

// NewBreakerGateway wraps inner with a circuit breaker
func NewBreakerGateway(inner Gateway, s BreakerSettings) *BreakerGateway {
	logger := util.GetLogger()
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}

	cb := gobreaker.NewCircuitBreaker[RemoteOrder](gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Payment gateway breaker state changed",
				zap.String("gateway", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &BreakerGateway{inner: inner, cb: cb}
}

// Name returns the wrapped gateway name
func (g *BreakerGateway) Name() string {
	return g.inner.Name()
}

// CreateRemoteOrder calls the wrapped gateway unless the breaker is open
func (g *BreakerGateway) CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, reference, currency string) (RemoteOrder, error) {
	util.PaymentAttemptsTotal.WithLabelValues(g.Name()).Inc()
	return g.cb.Execute(func() (RemoteOrder, error) {
		return g.inner.CreateRemoteOrder(ctx, amount, reference, currency)
	})
}

// State reports the breaker state
func (g *BreakerGateway) State() gobreaker.State {
	return g.cb.State()
}
