package store

import (
	"context"
	"fmt"
	"strings"

	"fulfillment-service/internal/models"
)

const couponColumns = `id, code, name, type, value, minimum_order_value, maximum_discount_amount, usage_limit,
	usage_count, user_usage_limit, is_active, starts_at, expires_at, applicable_products,
	applicable_categories, excluded_products, excluded_categories, created_at, updated_at`

// GetCouponByCode retrieves a coupon by its code, case-insensitively
func (q *Queries) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := q.get(ctx, &coupon,
		"SELECT "+couponColumns+" FROM coupons WHERE code = $1", strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// IncrementCouponUsage consumes one use of a coupon. It reports false when the
// global usage limit has already been reached.
func (q *Queries) IncrementCouponUsage(ctx context.Context, couponID int64) (bool, error) {
	n, err := q.exec(ctx, `
		UPDATE coupons SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`, couponID)
	if err != nil {
		return false, fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	return n == 1, nil
}

// DecrementCouponUsage returns one use of a coupon
func (q *Queries) DecrementCouponUsage(ctx context.Context, couponID int64) error {
	_, err := q.exec(ctx, `
		UPDATE coupons SET usage_count = GREATEST(usage_count - 1, 0), updated_at = NOW()
		WHERE id = $1`, couponID)
	if err != nil {
		return fmt.Errorf("failed to decrement coupon usage: %w", err)
	}
	return nil
}

// CountCouponRedemptions counts prior uses of a coupon by a customer id or e-mail
func (q *Queries) CountCouponRedemptions(ctx context.Context, couponID int64, customerID *int64, email string) (int, error) {
	var count int
	err := q.get(ctx, &count, `
		SELECT COUNT(*) FROM coupon_redemptions
		WHERE coupon_id = $1 AND ((customer_id IS NOT NULL AND customer_id = $2) OR LOWER(email) = LOWER($3))`,
		couponID, customerID, email)
	if err != nil {
		return 0, fmt.Errorf("failed to count coupon redemptions: %w", err)
	}
	return count, nil
}

// CreateCouponRedemption records that an order consumed a coupon
func (q *Queries) CreateCouponRedemption(ctx context.Context, r *models.CouponRedemption) error {
	err := q.get(ctx, r, `
		INSERT INTO coupon_redemptions (coupon_id, order_id, customer_id, email)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		r.CouponID, r.OrderID, r.CustomerID, r.Email)
	if err != nil {
		return fmt.Errorf("failed to insert coupon redemption: %w", err)
	}
	return nil
}

// DeleteCouponRedemption removes the redemption an order holds. It reports whether one existed.
func (q *Queries) DeleteCouponRedemption(ctx context.Context, couponID, orderID int64) (bool, error) {
	n, err := q.exec(ctx,
		"DELETE FROM coupon_redemptions WHERE coupon_id = $1 AND order_id = $2", couponID, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to delete coupon redemption: %w", err)
	}
	return n > 0, nil
}
