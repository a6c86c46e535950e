// Package cartsync bridges the local cart state and the remote cart
// store. Remote writes go first; local state only moves after a
// confirmed write, so it never runs ahead of the store.
package cartsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/greenharvest/storefront/internal/catalog"
	"github.com/greenharvest/storefront/internal/cartstore"
	"github.com/greenharvest/storefront/internal/events"
	"github.com/greenharvest/storefront/internal/logging"
	"github.com/greenharvest/storefront/internal/models"
	"github.com/greenharvest/storefront/internal/state"
)

var (
	ErrSignedOut  = errors.New("sign in to use the cart")
	ErrOutOfStock = errors.New("product is out of stock")
)

type Syncer struct {
	Store    *state.Store
	Cart     *cartstore.Client
	Catalog  *catalog.Client
	Producer *events.Producer
}

// LoadCart hydrates the local cart from the remote store. It runs only
// when a user is present and the local cart is empty. Product lookups
// fan out one per row and join before anything is dispatched; rows
// whose product cannot be resolved are dropped with a log, duplicates
// keep their first occurrence. A failed fetch leaves the cart empty.
func (s *Syncer) LoadCart(ctx context.Context, user *models.User, bearer string) error {
	if user == nil {
		return nil
	}
	if len(s.Store.Snapshot().Cart) > 0 {
		return nil
	}
	l := logging.FromContext(ctx).With("component", "cartsync")

	rows, err := s.Cart.List(ctx, user.ID, bearer)
	if err != nil {
		l.Error("cart load failed", "error", err)
		return nil
	}
	if len(rows) == 0 {
		return nil
	}

	resolved := make([]*models.CartItem, len(rows))
	var wg sync.WaitGroup
	for i, row := range rows {
		wg.Add(1)
		go func(i int, row models.CartRow) {
			defer wg.Done()
			p, err := s.Catalog.GetProduct(ctx, row.ProductID)
			if err != nil {
				l.Warn("cart row dropped, product lookup failed",
					"product_id", row.ProductID, "error", err)
				return
			}
			resolved[i] = &models.CartItem{Product: *p, Quantity: row.Quantity}
		}(i, row)
	}
	wg.Wait()

	seen := make(map[int]struct{}, len(resolved))
	items := make([]models.CartItem, 0, len(resolved))
	for _, it := range resolved {
		if it == nil {
			continue
		}
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		items = append(items, *it)
	}

	if len(items) > 0 {
		s.Store.Dispatch(state.SetCart{Items: items})
	}
	return nil
}

// AddToCart inserts a new row, or bumps an existing one by 1. The
// increment is clamped at the product's stock, so adding an item that
// is already at its maximum is a no-op.
func (s *Syncer) AddToCart(ctx context.Context, user *models.User, bearer string, product models.Product) error {
	if user == nil {
		return ErrSignedOut
	}
	if product.StockQuantity <= 0 {
		return ErrOutOfStock
	}

	for _, it := range s.Store.Snapshot().Cart {
		if it.ID != product.ID {
			continue
		}
		next := it.Quantity + 1
		if next > it.StockQuantity {
			next = it.StockQuantity
		}
		if next == it.Quantity {
			return nil
		}
		if err := s.Cart.UpdateQuantity(ctx, user.ID, product.ID, next, bearer); err != nil {
			return fmt.Errorf("update cart row: %w", err)
		}
		s.Store.Dispatch(state.UpdateQuantity{ProductID: product.ID, Quantity: next})
		s.publish(ctx, "add_to_cart", user, product.ID, next)
		return nil
	}

	row := models.CartRow{UserID: user.ID, ProductID: product.ID, Quantity: 1}
	if err := s.Cart.Insert(ctx, row, bearer); err != nil {
		return fmt.Errorf("insert cart row: %w", err)
	}
	s.Store.Dispatch(state.AddToCart{Product: product})
	s.publish(ctx, "add_to_cart", user, product.ID, 1)
	return nil
}

// RemoveFromCart deletes the remote row first; on failure the local
// entry stays put.
func (s *Syncer) RemoveFromCart(ctx context.Context, user *models.User, bearer string, productID int) error {
	if user == nil {
		return ErrSignedOut
	}
	if err := s.Cart.Delete(ctx, user.ID, productID, bearer); err != nil {
		return fmt.Errorf("delete cart row: %w", err)
	}
	s.Store.Dispatch(state.RemoveFromCart{ProductID: productID})
	s.publish(ctx, "remove_from_cart", user, productID, 0)
	return nil
}

// UpdateQuantity writes a clamped quantity remotely, then locally.
// Requests below 1 change nothing.
func (s *Syncer) UpdateQuantity(ctx context.Context, user *models.User, bearer string, productID, quantity int) error {
	if user == nil {
		return ErrSignedOut
	}
	if quantity < 1 {
		return nil
	}

	for _, it := range s.Store.Snapshot().Cart {
		if it.ID != productID {
			continue
		}
		if quantity > it.StockQuantity {
			quantity = it.StockQuantity
		}
		if err := s.Cart.UpdateQuantity(ctx, user.ID, productID, quantity, bearer); err != nil {
			return fmt.Errorf("update cart row: %w", err)
		}
		s.Store.Dispatch(state.UpdateQuantity{ProductID: productID, Quantity: quantity})
		s.publish(ctx, "update_quantity", user, productID, quantity)
		return nil
	}
	return nil
}

// ClearLocal empties the local cart only. The remote rows stay with
// the user's id for their next session, which is what sign-out wants.
func (s *Syncer) ClearLocal() {
	s.Store.Dispatch(state.ClearCart{})
}

func (s *Syncer) publish(ctx context.Context, typ string, user *models.User, productID, quantity int) {
	event := map[string]any{
		"type":       typ,
		"user_id":    user.ID,
		"product_id": productID,
		"quantity":   quantity,
	}
	if err := s.Producer.PublishEvent(ctx, events.TopicCartEvents, user.ID.String(), event); err != nil {
		logging.FromContext(ctx).Warn("cart event publish failed", "type", typ, "error", err)
	}
}
