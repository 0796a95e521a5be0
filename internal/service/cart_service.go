package service

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// AddCartItemRequest adds a product to a cart
type AddCartItemRequest struct {
	ProductID int64   `json:"product_id" binding:"required"`
	VariantID *string `json:"variant_id,omitempty"`
	Quantity  int     `json:"quantity" binding:"required,min=1"`
}

// UpdateCartItemRequest sets the quantity of a cart line. Zero or less removes it.
type UpdateCartItemRequest struct {
	ProductID int64   `json:"product_id" binding:"required"`
	VariantID *string `json:"variant_id,omitempty"`
	Quantity  int     `json:"quantity"`
}

// CartService manages shopping carts
type CartService struct {
	carts    CartStore
	products ProductStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewCartService creates a new cart service
func NewCartService(carts CartStore, products ProductStore) *CartService {
	return &CartService{
		carts:    carts,
		products: products,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// Get returns the identity's cart, creating an empty one if none exists
func (s *CartService) Get(ctx context.Context, identity models.CartIdentity) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Get")
	defer span.End()

	return s.load(ctx, identity)
}

func (s *CartService) load(ctx context.Context, identity models.CartIdentity) (*models.Cart, error) {
	if !identity.Valid() {
		return nil, validationf("exactly one of user id or session id is required")
	}
	cart, err := s.carts.GetCart(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil {
		now := s.now()
		cart = &models.Cart{Identity: identity, Items: []models.CartItem{}, CreatedAt: now, UpdatedAt: now}
		cart.Recalculate()
	}
	return cart, nil
}

func (s *CartService) save(ctx context.Context, cart *models.Cart) error {
	cart.Recalculate()
	cart.UpdatedAt = s.now()
	if err := s.carts.SaveCart(ctx, cart); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

// AddItem adds a product at its current catalog price, merging with an existing line
func (s *CartService) AddItem(ctx context.Context, identity models.CartIdentity, req AddCartItemRequest) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if req.Quantity < 1 {
		return nil, validationf("quantity must be at least 1")
	}
	cart, err := s.load(ctx, identity)
	if err != nil {
		return nil, err
	}
	product, err := s.products.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("product %d", req.ProductID))
	}

	idx := lineIndex(cart, req.ProductID, req.VariantID)
	quantity := req.Quantity
	if idx >= 0 {
		quantity += cart.Items[idx].Quantity
	}
	if product.TrackQuantity && product.Stock < quantity {
		return nil, fmt.Errorf("%w: only %d of %s available", ErrOutOfStock, product.Stock, product.Name)
	}

	if idx >= 0 {
		cart.Items[idx].Quantity = quantity
	} else {
		cart.Items = append(cart.Items, models.CartItem{
			ProductID: req.ProductID,
			VariantID: req.VariantID,
			Quantity:  quantity,
			Price:     product.Price,
			AddedAt:   s.now(),
		})
	}

	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	s.logger.Debug("Cart item added",
		zap.Int64("product_id", req.ProductID),
		zap.Int("quantity", quantity))
	return cart, nil
}

// UpdateItem sets a line's quantity, removing the line when the quantity is zero or less
func (s *CartService) UpdateItem(ctx context.Context, identity models.CartIdentity, req UpdateCartItemRequest) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItem")
	defer span.End()

	cart, err := s.load(ctx, identity)
	if err != nil {
		return nil, err
	}
	idx := lineIndex(cart, req.ProductID, req.VariantID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: product %d is not in the cart", ErrNotFound, req.ProductID)
	}

	if req.Quantity <= 0 {
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	} else {
		product, err := s.products.GetProductByID(ctx, req.ProductID)
		if err != nil {
			return nil, translate(err, fmt.Sprintf("product %d", req.ProductID))
		}
		if product.TrackQuantity && product.Stock < req.Quantity {
			return nil, fmt.Errorf("%w: only %d of %s available", ErrOutOfStock, product.Stock, product.Name)
		}
		cart.Items[idx].Quantity = req.Quantity
	}

	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// RemoveItem drops a line from the cart
func (s *CartService) RemoveItem(ctx context.Context, identity models.CartIdentity, productID int64, variantID *string) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	cart, err := s.load(ctx, identity)
	if err != nil {
		return nil, err
	}
	idx := lineIndex(cart, productID, variantID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: product %d is not in the cart", ErrNotFound, productID)
	}
	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)

	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// Clear empties the cart
func (s *CartService) Clear(ctx context.Context, identity models.CartIdentity) error {
	ctx, span := util.StartSpan(ctx, "CartService.Clear")
	defer span.End()

	if !identity.Valid() {
		return validationf("exactly one of user id or session id is required")
	}
	return s.carts.DeleteCart(ctx, identity)
}

// Merge moves a session cart into a user's cart after sign-in. Quantities of
// matching lines are added; the session cart is removed.
func (s *CartService) Merge(ctx context.Context, sessionID string, userID int64) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Merge")
	defer span.End()

	session := models.CartIdentity{SessionID: sessionID}
	user := models.CartIdentity{UserID: userID}
	if !session.Valid() || !user.Valid() {
		return nil, validationf("session id and user id are required")
	}

	guest, err := s.carts.GetCart(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to load session cart: %w", err)
	}
	cart, err := s.load(ctx, user)
	if err != nil {
		return nil, err
	}
	if guest == nil || len(guest.Items) == 0 {
		return cart, nil
	}

	for _, item := range guest.Items {
		if idx := lineIndex(cart, item.ProductID, item.VariantID); idx >= 0 {
			cart.Items[idx].Quantity += item.Quantity
			continue
		}
		cart.Items = append(cart.Items, item)
	}

	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	if err := s.carts.DeleteCart(ctx, session); err != nil {
		s.logger.Warn("Failed to delete merged session cart",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	return cart, nil
}

func lineIndex(cart *models.Cart, productID int64, variantID *string) int {
	for i, item := range cart.Items {
		if item.SameLine(productID, variantID) {
			return i
		}
	}
	return -1
}
