package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CouponContext is the prospective order a coupon is evaluated against
type CouponContext struct {
	OrderValue       decimal.Decimal `json:"order_value"`
	ProductIDs       []int64         `json:"product_ids"`
	CategoryIDs      []int64         `json:"category_ids"`
	PriorRedemptions int             `json:"-"`
	Now              time.Time       `json:"-"`
}

// CouponResult is the outcome of a coupon evaluation
type CouponResult struct {
	Valid        bool            `json:"valid"`
	Discount     decimal.Decimal `json:"discount"`
	FreeShipping bool            `json:"free_shipping"`
	Message      string          `json:"message"`
	Coupon       *models.Coupon  `json:"-"`
}

func rejectCoupon(c *models.Coupon, msg string) CouponResult {
	return CouponResult{Valid: false, Discount: decimal.Zero, Message: msg, Coupon: c}
}

// EvaluateCoupon applies the coupon rules in order and stops at the first failing check.
// A nil coupon is reported as not found. It never writes anything.
func EvaluateCoupon(c *models.Coupon, cc CouponContext) CouponResult {
	if c == nil {
		return rejectCoupon(nil, "Coupon not found")
	}
	if !c.IsActive {
		return rejectCoupon(c, "Coupon is not active")
	}
	if c.StartsAt != nil && cc.Now.Before(*c.StartsAt) {
		return rejectCoupon(c, "Coupon not yet valid")
	}
	if c.ExpiresAt != nil && cc.Now.After(*c.ExpiresAt) {
		return rejectCoupon(c, "Coupon has expired")
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return rejectCoupon(c, "Coupon usage limit reached")
	}
	if c.UserUsageLimit != nil && cc.PriorRedemptions >= *c.UserUsageLimit {
		return rejectCoupon(c, "Coupon already used the maximum number of times")
	}
	if c.MinimumOrderValue != nil && cc.OrderValue.LessThan(*c.MinimumOrderValue) {
		return rejectCoupon(c, fmt.Sprintf("Minimum order value of %s required", c.MinimumOrderValue.StringFixed(2)))
	}
	if len(c.ApplicableProducts) > 0 && !intersects(c.ApplicableProducts, cc.ProductIDs) {
		return rejectCoupon(c, "Coupon not applicable to cart items")
	}
	if len(c.ApplicableCategories) > 0 && !intersects(c.ApplicableCategories, cc.CategoryIDs) {
		return rejectCoupon(c, "Coupon not applicable to cart items")
	}
	if intersects(c.ExcludedProducts, cc.ProductIDs) || intersects(c.ExcludedCategories, cc.CategoryIDs) {
		return rejectCoupon(c, "Coupon not applicable to some cart items")
	}

	res := CouponResult{Valid: true, Discount: decimal.Zero, Message: "Coupon applied successfully", Coupon: c}
	switch c.Type {
	case models.CouponTypePercentage:
		discount := cc.OrderValue.Mul(c.Value).Div(decimal.NewFromInt(100)).Round(2)
		if c.MaximumDiscountAmount != nil && discount.GreaterThan(*c.MaximumDiscountAmount) {
			discount = *c.MaximumDiscountAmount
		}
		res.Discount = discount
	case models.CouponTypeFixedAmount:
		res.Discount = c.Value
	case models.CouponTypeFreeShipping:
		res.FreeShipping = true
	default:
		return rejectCoupon(c, "Unknown coupon type")
	}
	return res
}

func intersects(list []int64, ids []int64) bool {
	if len(list) == 0 || len(ids) == 0 {
		return false
	}
	set := make(map[int64]struct{}, len(list))
	for _, id := range list {
		set[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// CouponService looks up coupons and evaluates them for a shopper
type CouponService struct {
	coupons CouponStore
	logger  *zap.Logger
	now     func() time.Time
}

// NewCouponService creates a new coupon service
func NewCouponService(coupons CouponStore) *CouponService {
	return &CouponService{
		coupons: coupons,
		logger:  util.GetLogger(),
		now:     time.Now,
	}
}

// Validate evaluates a code against a prospective order without consuming a use.
// customerID and email scope the per-user usage limit.
func (s *CouponService) Validate(ctx context.Context, code string, cc CouponContext, customerID *int64, email string) (CouponResult, error) {
	ctx, span := util.StartSpan(ctx, "CouponService.Validate")
	defer span.End()

	return s.evaluate(ctx, s.coupons, code, cc, customerID, email)
}

func (s *CouponService) evaluate(ctx context.Context, coupons CouponStore, code string, cc CouponContext, customerID *int64, email string) (CouponResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return CouponResult{}, validationf("coupon code is required")
	}
	if cc.Now.IsZero() {
		cc.Now = s.now()
	}

	coupon, err := coupons.GetCouponByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		util.CouponEvaluationsTotal.WithLabelValues("not_found").Inc()
		return EvaluateCoupon(nil, cc), nil
	}
	if err != nil {
		return CouponResult{}, fmt.Errorf("failed to load coupon: %w", err)
	}

	if coupon.UserUsageLimit != nil && (customerID != nil || email != "") {
		n, err := coupons.CountCouponRedemptions(ctx, coupon.ID, customerID, email)
		if err != nil {
			return CouponResult{}, err
		}
		cc.PriorRedemptions = n
	}

	res := EvaluateCoupon(coupon, cc)
	if res.Valid {
		util.CouponEvaluationsTotal.WithLabelValues("valid").Inc()
	} else {
		util.CouponEvaluationsTotal.WithLabelValues("invalid").Inc()
		s.logger.Debug("Coupon rejected",
			zap.String("code", coupon.Code),
			zap.String("reason", res.Message))
	}
	return res, nil
}
