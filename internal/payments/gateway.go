package payments

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrGatewayNotConfigured is returned when a gateway has no credentials
var ErrGatewayNotConfigured = errors.New("payment gateway not configured")

// RemoteOrder is the gateway-side reference issued for an order
type RemoteOrder struct {
	GatewayOrderID string
	ClientSecret   string
	AmountMinor    int64
	Currency       string
}

// Gateway creates remote payment orders for gateway-routed checkouts
type Gateway interface {
	Name() string
	CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, reference, currency string) (RemoteOrder, error)
}

// ToMinorUnits converts a major-unit amount (rupees, dollars) to minor units (paise, cents)
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
