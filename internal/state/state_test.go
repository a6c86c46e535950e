package state

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/greenharvest/storefront/internal/models"
)

func product(id int, price float64, stock int) models.Product {
	return models.Product{
		ID:            id,
		Title:         fmt.Sprintf("product-%d", id),
		Price:         price,
		StockQuantity: stock,
		Category:      "Vegetables",
	}
}

func TestCartHoldsOneEntryPerProduct(t *testing.T) {
	s := NewStore()

	s.Dispatch(AddToCart{Product: product(1, 5, 10)})
	s.Dispatch(AddToCart{Product: product(1, 5, 10)})
	s.Dispatch(AddToCart{Product: product(2, 3, 10)})
	s.Dispatch(UpdateQuantity{ProductID: 1, Quantity: 4})
	s.Dispatch(AddToCart{Product: product(1, 5, 10)})
	s.Dispatch(RemoveFromCart{ProductID: 2})
	s.Dispatch(AddToCart{Product: product(2, 3, 10)})

	cart := s.Snapshot().Cart
	seen := map[int]int{}
	for _, it := range cart {
		seen[it.ID]++
	}
	for id, n := range seen {
		require.Equal(t, 1, n, "product %d appears %d times", id, n)
	}
	require.Len(t, cart, 2)
	require.Equal(t, 4, cart[0].Quantity)
}

func TestAddToCartStartsAtOne(t *testing.T) {
	s := NewStore()
	s.Dispatch(AddToCart{Product: product(7, 2.5, 3)})

	cart := s.Snapshot().Cart
	require.Len(t, cart, 1)
	require.Equal(t, 1, cart[0].Quantity)
}

func TestUpdateQuantityUnknownProductIsNoop(t *testing.T) {
	s := NewStore()
	s.Dispatch(AddToCart{Product: product(1, 5, 10)})
	before := s.Snapshot()

	s.Dispatch(UpdateQuantity{ProductID: 99, Quantity: 5})
	require.Equal(t, before.Cart, s.Snapshot().Cart)
}

func TestUnknownActionIsIdentity(t *testing.T) {
	s := NewStore()
	s.Dispatch(AddToCart{Product: product(1, 5, 10)})
	before := s.Snapshot()

	s.Dispatch(bogusAction{})

	after := s.Snapshot()
	require.Equal(t, before.Cart, after.Cart)
	require.Equal(t, before.User, after.User)
}

type bogusAction struct{}

func (bogusAction) isAction() {}

func TestSetCartIsIdempotent(t *testing.T) {
	s := NewStore()
	items := []models.CartItem{
		{Product: product(1, 5, 10), Quantity: 2},
		{Product: product(2, 3, 10), Quantity: 1},
	}

	s.Dispatch(SetCart{Items: items})
	first := s.Snapshot().Cart
	s.Dispatch(SetCart{Items: items})
	second := s.Snapshot().Cart

	require.Equal(t, first, second)
	require.Len(t, second, 2)
}

func TestSignOutClearsUserAndCart(t *testing.T) {
	s := NewStore()
	u := &models.User{Email: "farmer@example.com"}
	s.Dispatch(SetUser{User: u})
	s.Dispatch(AddToCart{Product: product(1, 5, 10)})
	s.Dispatch(AddToCart{Product: product(2, 3, 10)})

	// The sign-out pair: user first, then the cart.
	s.Dispatch(SetUser{User: nil})
	s.Dispatch(ClearCart{})

	snap := s.Snapshot()
	require.Nil(t, snap.User)
	require.Empty(t, snap.Cart)
}

func TestCartTotal(t *testing.T) {
	cart := []models.CartItem{
		{Product: product(1, 5, 10), Quantity: 2},
		{Product: product(2, 3, 10), Quantity: 1},
	}
	require.InDelta(t, 13.00, CartTotal(cart), 1e-9)
}

func TestSnapshotIsIsolated(t *testing.T) {
	s := NewStore()
	s.Dispatch(AddToCart{Product: product(1, 5, 10)})

	snap := s.Snapshot()
	snap.Cart[0].Quantity = 99

	require.Equal(t, 1, s.Snapshot().Cart[0].Quantity)
}
