package service

import (
	"errors"
	"fmt"

	"fulfillment-service/internal/store"
)

// Domain errors returned by the services. Details are attached with %w so
// callers can match with errors.Is.
var (
	ErrValidation                = errors.New("validation failed")
	ErrNotFound                  = errors.New("not found")
	ErrConflict                  = errors.New("conflict")
	ErrOutOfStock                = errors.New("out of stock")
	ErrCartEmpty                 = errors.New("cart is empty")
	ErrOrderNotCancellable       = errors.New("order cannot be cancelled")
	ErrInvalidCoupon             = errors.New("invalid coupon")
	ErrInvalidSignature          = errors.New("invalid payment signature")
	ErrPaymentGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrInvalidTransition         = errors.New("invalid status transition")
)

// translate maps store errors onto the service taxonomy
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, what)
	}
	return err
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
