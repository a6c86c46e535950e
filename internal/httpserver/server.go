// Package httpserver is the view layer: it renders the store pages
// from state snapshots and turns form posts into dispatched intents.
// It never mutates state directly.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/greenharvest/storefront/internal/authbridge"
	"github.com/greenharvest/storefront/internal/cartstore"
	"github.com/greenharvest/storefront/internal/cartsync"
	"github.com/greenharvest/storefront/internal/catalog"
	"github.com/greenharvest/storefront/internal/checkout"
	"github.com/greenharvest/storefront/internal/events"
	"github.com/greenharvest/storefront/internal/logging"
	"github.com/greenharvest/storefront/internal/models"
	"github.com/greenharvest/storefront/internal/search"
	"github.com/greenharvest/storefront/internal/session"
	"github.com/greenharvest/storefront/internal/sheets"
	"github.com/greenharvest/storefront/internal/state"
)

const sessionCookie = "storefront_sid"

const (
	sweepInterval  = 5 * time.Minute
	liveSessionTTL = 30 * time.Minute
)

type Deps struct {
	Auth          *authbridge.Client
	Cart          *cartstore.Client
	Catalog       *catalog.Client
	Sessions      *session.Store
	Searcher      *search.Searcher
	Producer      *events.Producer
	Exporter      *sheets.Exporter
	Log           *slog.Logger
	GuestCheckout bool
}

// liveSession is one browser's slice of the application: its state
// store, synchronizer, checkout sequencer and auth bridge wiring.
type liveSession struct {
	id      uuid.UUID
	store   *state.Store
	syncer  *cartsync.Syncer
	seq     *checkout.Sequencer
	bridge  *authbridge.Bridge
	release func()

	mu       sync.Mutex
	tokens   session.Tokens
	lastSeen time.Time
}

func (ls *liveSession) setTokens(t session.Tokens) {
	ls.mu.Lock()
	ls.tokens = t
	ls.mu.Unlock()
}

func (ls *liveSession) bearer() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.tokens.AccessToken
}

func (ls *liveSession) refreshToken() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.tokens.RefreshToken
}

func (ls *liveSession) touch(now time.Time) {
	ls.mu.Lock()
	ls.lastSeen = now
	ls.mu.Unlock()
}

func (ls *liveSession) seen() time.Time {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.lastSeen
}

func (ls *liveSession) user() *models.User {
	return ls.store.Snapshot().User
}

type Server struct {
	deps Deps

	mu   sync.Mutex
	live map[uuid.UUID]*liveSession

	done      chan struct{}
	closeOnce sync.Once
}

func New(deps Deps) *Server {
	s := &Server{
		deps: deps,
		live: make(map[uuid.UUID]*liveSession),
		done: make(chan struct{}),
	}
	go s.sweep()
	return s
}

func Register(e *echo.Echo, s *Server) {
	e.Renderer = newRenderer()

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e.GET("/", s.HomePage)
	e.GET("/products", s.ProductsPage)
	e.GET("/cart", s.CartPage)
	e.GET("/login", s.LoginPage)
	e.GET("/orders", s.OrdersPage)

	e.POST("/cart/add", s.AddToCart)
	e.POST("/cart/update", s.UpdateQuantity)
	e.POST("/cart/remove", s.RemoveFromCart)
	e.POST("/checkout", s.BeginCheckout)
	e.POST("/checkout/cancel", s.CancelCheckout)
	e.POST("/checkout/submit", s.SubmitOrder)
	e.POST("/login", s.SignIn)
	e.POST("/logout", s.SignOut)
}

// Close stops the sweeper and releases every session's auth
// subscription. Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ls := range s.live {
		ls.release()
		delete(s.live, id)
	}
}

// sweep periodically drops live sessions that have gone idle, and
// purges expired session rows alongside. A dropped session is rebuilt
// from its persisted row on the browser's next request.
func (s *Server) sweep() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.evictIdle(time.Now())
			if err := s.deps.Sessions.PurgeExpired(context.Background()); err != nil {
				s.deps.Log.Warn("session purge failed", "error", err)
			}
		}
	}
}

func (s *Server) evictIdle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ls := range s.live {
		if now.Sub(ls.seen()) > liveSessionTTL {
			ls.release()
			delete(s.live, id)
		}
	}
}

// session resolves the browser's live session, creating and restoring
// it on first sight.
func (s *Server) session(c echo.Context) *liveSession {
	ctx := c.Request().Context()

	var sid uuid.UUID
	if ck, err := c.Cookie(sessionCookie); err == nil {
		if parsed, err := uuid.Parse(ck.Value); err == nil {
			sid = parsed
		}
	}
	if sid == uuid.Nil {
		sid = uuid.New()
		c.SetCookie(&http.Cookie{
			Name:     sessionCookie,
			Value:    sid.String(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	s.mu.Lock()
	ls, ok := s.live[sid]
	if !ok {
		ls = s.newLiveSession(sid)
		s.live[sid] = ls
	}
	s.mu.Unlock()
	ls.touch(time.Now())

	if !ok {
		s.restore(ctx, ls)
	}
	return ls
}

// bearer hands out the session's access token, refreshing it through
// the auth backend first when it has expired. Refresh failure falls
// back to the stale token and lets the remote call report the outcome.
func (s *Server) bearer(ctx context.Context, ls *liveSession) string {
	access := ls.bearer()
	if access == "" {
		return ""
	}
	exp := authbridge.TokenExpiry(access)
	if exp.IsZero() || time.Now().Before(exp) {
		return access
	}

	l := s.deps.Log.With("component", "httpserver")
	fresh, err := s.deps.Auth.Refresh(ctx, ls.refreshToken())
	if err != nil {
		l.Warn("token refresh failed", "error", err)
		return access
	}

	tokens := session.Tokens{AccessToken: fresh.AccessToken, RefreshToken: fresh.RefreshToken}
	ls.setTokens(tokens)
	if u := ls.user(); u != nil {
		if err := s.deps.Sessions.Save(ctx, ls.id, u.ID, tokens, fresh.ExpiresAt(time.Now())); err != nil {
			l.Warn("session save failed", "error", err)
		}
	}
	return tokens.AccessToken
}

func (s *Server) newLiveSession(sid uuid.UUID) *liveSession {
	store := state.NewStore()
	bridge := authbridge.NewBridge()

	syncer := &cartsync.Syncer{
		Store:    store,
		Cart:     s.deps.Cart,
		Catalog:  s.deps.Catalog,
		Producer: s.deps.Producer,
	}
	seq := &checkout.Sequencer{
		Store:         store,
		Catalog:       s.deps.Catalog,
		Cart:          s.deps.Cart,
		Exporter:      s.deps.Exporter,
		Producer:      s.deps.Producer,
		GuestCheckout: s.deps.GuestCheckout,
	}

	ls := &liveSession{
		id:     sid,
		store:  store,
		syncer: syncer,
		seq:    seq,
		bridge: bridge,
	}

	// The bridge is the only path from auth changes into state:
	// sign-in sets the user, sign-out clears user and cart together.
	ls.release = bridge.Subscribe(func(e authbridge.Event) {
		if e.SignedIn {
			u := e.Session.User
			store.Dispatch(state.SetUser{User: &u})
			return
		}
		store.Dispatch(state.SetUser{User: nil})
		store.Dispatch(state.ClearCart{})
	})
	return ls
}

// restore rehydrates auth from the persisted session row, refreshing
// the token when it has expired.
func (s *Server) restore(ctx context.Context, ls *liveSession) {
	l := s.deps.Log.With("component", "httpserver")

	row, tokens, err := s.deps.Sessions.Get(ctx, ls.id)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			l.Warn("session restore failed", "error", err)
		}
		return
	}

	if exp := authbridge.TokenExpiry(tokens.AccessToken); !exp.IsZero() && time.Now().After(exp) {
		fresh, err := s.deps.Auth.Refresh(ctx, tokens.RefreshToken)
		if err != nil {
			l.Warn("session refresh failed", "error", err)
			_ = s.deps.Sessions.Delete(ctx, ls.id)
			return
		}
		tokens = session.Tokens{AccessToken: fresh.AccessToken, RefreshToken: fresh.RefreshToken}
		if err := s.deps.Sessions.Save(ctx, ls.id, row.UserID, tokens, fresh.ExpiresAt(time.Now())); err != nil {
			l.Warn("session save failed", "error", err)
		}
	}

	user, err := authbridge.UserFromToken(tokens.AccessToken)
	if err != nil {
		l.Warn("session token unreadable", "error", err)
		return
	}

	ls.setTokens(tokens)
	ls.bridge.Emit(authbridge.Event{
		SignedIn: true,
		Session: &authbridge.Session{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			User:         *user,
		},
	})

	if err := ls.syncer.LoadCart(ctx, user, tokens.AccessToken); err != nil {
		l.Warn("cart restore failed", "error", err)
	}
}

// refreshProducts mirrors the original page-load fetch: failure leaves
// an empty grid rather than an error page.
func (s *Server) refreshProducts(c echo.Context, ls *liveSession) {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx)

	products, err := s.deps.Catalog.ListProducts(ctx)
	if err != nil {
		l.Error("product fetch failed", "error", err)
		ls.store.Dispatch(state.SetProducts{Products: nil})
		return
	}
	ls.store.Dispatch(state.SetProducts{Products: products})
	s.deps.Searcher.Index(ctx, products)
}
