// Package checkout owns the multi-step order placement flow:
// Browsing -> Checkout -> Submitting -> Completed or Failed. Failed
// collapses back to Checkout with the cart intact, Completed back to
// Browsing with the cart cleared.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/greenharvest/storefront/internal/catalog"
	"github.com/greenharvest/storefront/internal/cartstore"
	"github.com/greenharvest/storefront/internal/events"
	"github.com/greenharvest/storefront/internal/logging"
	"github.com/greenharvest/storefront/internal/models"
	"github.com/greenharvest/storefront/internal/sheets"
	"github.com/greenharvest/storefront/internal/state"
)

type Phase int

const (
	Browsing Phase = iota
	Checkout
	Submitting
	Completed
	Failed
)

func (p Phase) String() string {
	switch p {
	case Browsing:
		return "browsing"
	case Checkout:
		return "checkout"
	case Submitting:
		return "submitting"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

var (
	ErrValidation = errors.New("validation")
	ErrEmptyCart  = errors.New("cart is empty")
	ErrSignedOut  = errors.New("sign in to check out")
	ErrSubmit     = errors.New("order submission failed")
)

// Sequencer drives one session's checkout. GuestCheckout switches the
// account-gated variant (sign-in required, no address field) to the
// guest variant (address required, anonymous order POST allowed).
type Sequencer struct {
	Store         *state.Store
	Catalog       *catalog.Client
	Cart          *cartstore.Client
	Exporter      *sheets.Exporter
	Producer      *events.Producer
	GuestCheckout bool

	mu    sync.Mutex
	phase Phase
	form  models.CheckoutForm
	alert string
}

func (s *Sequencer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Alert returns and clears the pending user-visible failure message.
func (s *Sequencer) Alert() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.alert
	s.alert = ""
	return a
}

func (s *Sequencer) Form() models.CheckoutForm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form
}

// Begin moves Browsing -> Checkout. It needs a non-empty cart, and a
// signed-in user unless guest checkout is enabled.
func (s *Sequencer) Begin(user *models.User) error {
	if len(s.Store.Snapshot().Cart) == 0 {
		return ErrEmptyCart
	}
	if user == nil && !s.GuestCheckout {
		return ErrSignedOut
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = Checkout
	return nil
}

// Cancel returns to Browsing without touching the cart.
func (s *Sequencer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = Browsing
	s.form = models.CheckoutForm{}
}

func (s *Sequencer) validate(form models.CheckoutForm) error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	if strings.TrimSpace(form.Name) == "" {
		return missing("name")
	}
	if strings.TrimSpace(form.Email) == "" {
		return missing("email")
	}
	if strings.TrimSpace(form.Phone) == "" {
		return missing("phone")
	}
	if s.GuestCheckout && strings.TrimSpace(form.Address) == "" {
		return missing("address")
	}
	return nil
}

// Submit validates the form and runs the placement sequence. A
// validation failure makes no remote call and keeps the Checkout
// phase. A rejected or unreachable order endpoint records an alert,
// keeps the cart and returns to Checkout. On success the remote and
// local carts are cleared, the form resets and order history is
// refreshed best-effort.
func (s *Sequencer) Submit(ctx context.Context, user *models.User, bearer string, form models.CheckoutForm) error {
	l := logging.FromContext(ctx).With("component", "checkout")

	s.mu.Lock()
	if s.phase != Checkout {
		s.mu.Unlock()
		return fmt.Errorf("%w: not in checkout", ErrValidation)
	}
	s.form = form
	s.mu.Unlock()

	if err := s.validate(form); err != nil {
		return err
	}
	if user == nil && !s.GuestCheckout {
		return ErrSignedOut
	}

	snapshot := s.Store.Snapshot()
	if len(snapshot.Cart) == 0 {
		return ErrEmptyCart
	}

	s.setPhase(Submitting)

	// Side-channel first: queued, never blocking, never fatal.
	s.Exporter.Enqueue(sheets.OrderExport{
		Timestamp:   time.Now(),
		Name:        form.Name,
		Email:       form.Email,
		Phone:       form.Phone,
		Address:     form.Address,
		Items:       snapshot.Cart,
		TotalAmount: state.CartTotal(snapshot.Cart),
	})

	lines := make([]catalog.OrderLine, 0, len(snapshot.Cart))
	for _, it := range snapshot.Cart {
		lines = append(lines, catalog.OrderLine{ProductID: it.ID, Quantity: it.Quantity})
	}

	order, err := s.Catalog.CreateOrder(ctx, lines, bearer)
	if err != nil {
		l.Error("order submission failed", "error", err)
		s.mu.Lock()
		s.phase = Checkout
		s.alert = "Order failed: " + err.Error()
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSubmit, err)
	}

	if user != nil {
		if err := s.Cart.DeleteAll(ctx, user.ID, bearer); err != nil {
			l.Warn("remote cart clear failed after order", "error", err)
		}
	}

	s.Store.Dispatch(state.ClearCart{})
	s.mu.Lock()
	s.phase = Completed
	s.form = models.CheckoutForm{}
	s.mu.Unlock()

	s.publishOrder(ctx, user, order)

	if user != nil {
		if orders, err := s.Catalog.ListOrders(ctx, bearer); err != nil {
			l.Warn("order history refresh failed", "error", err)
		} else {
			s.Store.Dispatch(state.SetOrders{Orders: orders})
		}
	}

	// Completed collapses straight back to Browsing.
	s.setPhase(Browsing)
	l.Info("order placed", "order_id", order.ID, "total", order.TotalAmount)
	return nil
}

func (s *Sequencer) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Sequencer) publishOrder(ctx context.Context, user *models.User, order *models.Order) {
	key := "guest"
	event := map[string]any{
		"type":     "order_placed",
		"order_id": order.ID,
		"total":    order.TotalAmount,
	}
	if user != nil {
		key = user.ID.String()
		event["user_id"] = user.ID
	}
	if err := s.Producer.PublishEvent(ctx, events.TopicOrderEvents, key, event); err != nil {
		logging.FromContext(ctx).Warn("order event publish failed", "error", err)
	}
}
