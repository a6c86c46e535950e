// Package state owns the storefront's client-side application state.
// All mutation goes through Dispatch with one of the closed set of
// actions; the reducer itself is pure and unknown actions are no-ops.
package state

import (
	"sync"

	"github.com/greenharvest/storefront/internal/models"
)

// AppState is the single mutable root: catalog snapshot, cart, signed
// in user and order history.
type AppState struct {
	Products []models.Product
	Cart     []models.CartItem
	User     *models.User
	Orders   []models.Order
}

// Action is the closed set of state transitions. Implementations live
// in this package only.
type Action interface {
	isAction()
}

type SetProducts struct{ Products []models.Product }

type AddToCart struct{ Product models.Product }

type RemoveFromCart struct{ ProductID int }

type UpdateQuantity struct {
	ProductID int
	Quantity  int
}

type SetUser struct{ User *models.User }

type ClearCart struct{}

type SetCart struct{ Items []models.CartItem }

type SetOrders struct{ Orders []models.Order }

func (SetProducts) isAction()    {}
func (AddToCart) isAction()      {}
func (RemoveFromCart) isAction() {}
func (UpdateQuantity) isAction() {}
func (SetUser) isAction()        {}
func (ClearCart) isAction()      {}
func (SetCart) isAction()        {}
func (SetOrders) isAction()      {}

// reduce returns the next state. It never mutates prev's slices.
func reduce(prev AppState, action Action) AppState {
	next := prev
	switch a := action.(type) {
	case SetProducts:
		next.Products = append([]models.Product(nil), a.Products...)
	case AddToCart:
		// At most one entry per product id. Increments go through
		// UpdateQuantity, so a second add of the same product is a
		// no-op here.
		for _, it := range prev.Cart {
			if it.ID == a.Product.ID {
				return prev
			}
		}
		cart := append([]models.CartItem(nil), prev.Cart...)
		next.Cart = append(cart, models.CartItem{Product: a.Product, Quantity: 1})
	case RemoveFromCart:
		cart := make([]models.CartItem, 0, len(prev.Cart))
		for _, it := range prev.Cart {
			if it.ID != a.ProductID {
				cart = append(cart, it)
			}
		}
		next.Cart = cart
	case UpdateQuantity:
		cart := append([]models.CartItem(nil), prev.Cart...)
		for i := range cart {
			if cart[i].ID == a.ProductID {
				cart[i].Quantity = a.Quantity
			}
		}
		next.Cart = cart
	case SetUser:
		next.User = a.User
	case ClearCart:
		next.Cart = nil
	case SetCart:
		// Replaces wholesale; dispatching the same payload twice
		// yields the same cart, nothing accumulates.
		next.Cart = append([]models.CartItem(nil), a.Items...)
	case SetOrders:
		next.Orders = append([]models.Order(nil), a.Orders...)
	}
	return next
}

// Store holds one session's AppState behind a mutex. Page handlers
// read snapshots and dispatch actions, they never reach into the
// state directly.
type Store struct {
	mu    sync.Mutex
	state AppState
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = reduce(s.state, a)
}

// Snapshot returns a copy safe to read while other handlers dispatch.
func (s *Store) Snapshot() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Products = append([]models.Product(nil), s.state.Products...)
	st.Cart = append([]models.CartItem(nil), s.state.Cart...)
	st.Orders = append([]models.Order(nil), s.state.Orders...)
	return st
}

// CartTotal sums price times quantity over the cart.
func CartTotal(cart []models.CartItem) float64 {
	var total float64
	for _, it := range cart {
		total += it.Price * float64(it.Quantity)
	}
	return total
}
