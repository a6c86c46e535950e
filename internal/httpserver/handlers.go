package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/greenharvest/storefront/internal/authbridge"
	"github.com/greenharvest/storefront/internal/cartsync"
	"github.com/greenharvest/storefront/internal/checkout"
	"github.com/greenharvest/storefront/internal/logging"
	"github.com/greenharvest/storefront/internal/models"
	"github.com/greenharvest/storefront/internal/search"
	"github.com/greenharvest/storefront/internal/session"
	"github.com/greenharvest/storefront/internal/state"
)

type pageData struct {
	Page      string
	User      *models.User
	CartCount int

	Products   []models.Product
	Categories []string
	Query      string
	Category   string

	Cart  []models.CartItem
	Total float64
	Phase string

	Orders []models.Order

	Form          models.CheckoutForm
	GuestCheckout bool

	Alert   string
	Error   string
	Success string
}

func (s *Server) page(ls *liveSession, name string) pageData {
	snap := ls.store.Snapshot()
	count := 0
	for _, it := range snap.Cart {
		count += it.Quantity
	}
	return pageData{
		Page:          name,
		User:          snap.User,
		CartCount:     count,
		Products:      snap.Products,
		Cart:          snap.Cart,
		Total:         state.CartTotal(snap.Cart),
		Orders:        snap.Orders,
		Phase:         ls.seq.Phase().String(),
		Form:          ls.seq.Form(),
		GuestCheckout: s.deps.GuestCheckout,
	}
}

func (s *Server) HomePage(c echo.Context) error {
	ls := s.session(c)
	s.refreshProducts(c, ls)

	data := s.page(ls, "home")
	data.Categories = search.Categories(data.Products)
	return c.Render(http.StatusOK, "home", data)
}

func (s *Server) ProductsPage(c echo.Context) error {
	ls := s.session(c)
	s.refreshProducts(c, ls)

	query := c.QueryParam("q")
	category := c.QueryParam("category")

	data := s.page(ls, "products")
	data.Categories = search.Categories(data.Products)
	data.Query = query
	data.Category = category
	data.Products = s.deps.Searcher.Filter(c.Request().Context(), data.Products, query, category)
	return c.Render(http.StatusOK, "products", data)
}

func (s *Server) AddToCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.add")
	ls := s.session(c)

	id, err := strconv.Atoi(c.FormValue("product_id"))
	if err != nil || id <= 0 {
		return c.Redirect(http.StatusSeeOther, "/products")
	}

	snap := ls.store.Snapshot()
	if len(snap.Products) == 0 {
		s.refreshProducts(c, ls)
		snap = ls.store.Snapshot()
	}

	var product *models.Product
	for i := range snap.Products {
		if snap.Products[i].ID == id {
			product = &snap.Products[i]
			break
		}
	}
	if product == nil {
		return c.Redirect(http.StatusSeeOther, "/products")
	}

	err = ls.syncer.AddToCart(ctx, ls.user(), s.bearer(ctx, ls), *product)
	switch {
	case errors.Is(err, cartsync.ErrSignedOut):
		return c.Redirect(http.StatusSeeOther, "/login")
	case errors.Is(err, cartsync.ErrOutOfStock):
		return c.Redirect(http.StatusSeeOther, "/products")
	case err != nil:
		// Remote write failed, local state untouched.
		l.Error("add to cart failed", "product_id", id, "error", err)
	}
	return c.Redirect(http.StatusSeeOther, "/products")
}

func (s *Server) CartPage(c echo.Context) error {
	ctx := c.Request().Context()
	ls := s.session(c)

	if u := ls.user(); u != nil {
		if err := ls.syncer.LoadCart(ctx, u, s.bearer(ctx, ls)); err != nil {
			logging.FromContext(ctx).Warn("cart load failed", "error", err)
		}
	}

	data := s.page(ls, "cart")
	data.Alert = ls.seq.Alert()
	if c.QueryParam("placed") == "1" {
		data.Success = "Order placed successfully! Thank you for your purchase."
	}
	return c.Render(http.StatusOK, "cart", data)
}

func (s *Server) UpdateQuantity(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.update")
	ls := s.session(c)

	id, err := strconv.Atoi(c.FormValue("product_id"))
	if err != nil || id <= 0 {
		return c.Redirect(http.StatusSeeOther, "/cart")
	}
	quantity, err := strconv.Atoi(c.FormValue("quantity"))
	if err != nil {
		return c.Redirect(http.StatusSeeOther, "/cart")
	}

	if err := ls.syncer.UpdateQuantity(ctx, ls.user(), s.bearer(ctx, ls), id, quantity); err != nil {
		l.Error("quantity update failed", "product_id", id, "error", err)
	}
	return c.Redirect(http.StatusSeeOther, "/cart")
}

func (s *Server) RemoveFromCart(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "cart.remove")
	ls := s.session(c)

	id, err := strconv.Atoi(c.FormValue("product_id"))
	if err != nil || id <= 0 {
		return c.Redirect(http.StatusSeeOther, "/cart")
	}

	if err := ls.syncer.RemoveFromCart(ctx, ls.user(), s.bearer(ctx, ls), id); err != nil {
		l.Error("remove from cart failed", "product_id", id, "error", err)
	}
	return c.Redirect(http.StatusSeeOther, "/cart")
}

func (s *Server) BeginCheckout(c echo.Context) error {
	ls := s.session(c)

	err := ls.seq.Begin(ls.user())
	switch {
	case errors.Is(err, checkout.ErrSignedOut):
		return c.Redirect(http.StatusSeeOther, "/login")
	case err != nil:
		return c.Redirect(http.StatusSeeOther, "/cart")
	}
	return c.Redirect(http.StatusSeeOther, "/cart")
}

func (s *Server) CancelCheckout(c echo.Context) error {
	ls := s.session(c)
	ls.seq.Cancel()
	return c.Redirect(http.StatusSeeOther, "/cart")
}

func (s *Server) SubmitOrder(c echo.Context) error {
	ctx := c.Request().Context()
	ls := s.session(c)

	var form models.CheckoutForm
	if err := c.Bind(&form); err != nil {
		return c.Redirect(http.StatusSeeOther, "/cart")
	}

	err := ls.seq.Submit(ctx, ls.user(), s.bearer(ctx, ls), form)
	switch {
	case errors.Is(err, checkout.ErrValidation):
		data := s.page(ls, "cart")
		data.Error = err.Error()
		return c.Render(http.StatusOK, "cart", data)
	case errors.Is(err, checkout.ErrSignedOut):
		return c.Redirect(http.StatusSeeOther, "/login")
	case err != nil:
		// Submission failure: the sequencer holds the alert and the
		// cart is untouched.
		return c.Redirect(http.StatusSeeOther, "/cart")
	}
	return c.Redirect(http.StatusSeeOther, "/cart?placed=1")
}

func (s *Server) LoginPage(c echo.Context) error {
	ls := s.session(c)
	return c.Render(http.StatusOK, "login", s.page(ls, "login"))
}

func (s *Server) SignIn(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.signin")
	ls := s.session(c)

	email := c.FormValue("email")
	password := c.FormValue("password")

	var (
		authSess *authbridge.Session
		err      error
	)
	if c.FormValue("mode") == "signup" {
		authSess, err = s.deps.Auth.SignUp(ctx, email, password)
	} else {
		authSess, err = s.deps.Auth.SignIn(ctx, email, password)
	}
	if err != nil {
		l.Warn("sign in failed", "error", err)
		data := s.page(ls, "login")
		data.Error = err.Error()
		return c.Render(http.StatusOK, "login", data)
	}

	tokens := session.Tokens{
		AccessToken:  authSess.AccessToken,
		RefreshToken: authSess.RefreshToken,
	}
	if err := s.deps.Sessions.Save(ctx, ls.id, authSess.User.ID, tokens, authSess.ExpiresAt(time.Now())); err != nil {
		l.Warn("session persist failed", "error", err)
	}
	ls.setTokens(tokens)

	ls.bridge.Emit(authbridge.Event{SignedIn: true, Session: authSess})

	if err := ls.syncer.LoadCart(ctx, &authSess.User, tokens.AccessToken); err != nil {
		l.Warn("cart load after sign in failed", "error", err)
	}

	l.Info("signed in", "user_id", authSess.User.ID)
	return c.Redirect(http.StatusSeeOther, "/products")
}

func (s *Server) SignOut(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.signout")
	ls := s.session(c)

	if bearer := s.bearer(ctx, ls); bearer != "" {
		if err := s.deps.Auth.SignOut(ctx, bearer); err != nil {
			l.Warn("remote sign out failed", "error", err)
		}
	}
	if err := s.deps.Sessions.Delete(ctx, ls.id); err != nil {
		l.Warn("session delete failed", "error", err)
	}
	ls.setTokens(session.Tokens{})
	ls.bridge.Emit(authbridge.Event{SignedIn: false})

	return c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) OrdersPage(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "orders.page")
	ls := s.session(c)

	data := s.page(ls, "orders")
	if u := ls.user(); u != nil {
		if orders, err := s.deps.Catalog.ListOrders(ctx, s.bearer(ctx, ls)); err != nil {
			l.Error("order history fetch failed", "error", err)
		} else {
			ls.store.Dispatch(state.SetOrders{Orders: orders})
			data.Orders = orders
		}
	}
	return c.Render(http.StatusOK, "orders", data)
}
