package cartsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/greenharvest/storefront/internal/cartstore"
	"github.com/greenharvest/storefront/internal/catalog"
	"github.com/greenharvest/storefront/internal/models"
	"github.com/greenharvest/storefront/internal/state"
)

// fakeCatalog serves the product-by-id endpoint from a fixed map.
type fakeCatalog struct {
	products map[int]models.Product
}

func (f *fakeCatalog) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	id, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	p, ok := f.products[id]
	if !ok {
		http.Error(w, `{"detail": "Not found."}`, http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"id":             p.ID,
		"name":           p.Title,
		"price":          fmt.Sprintf("%.2f", p.Price),
		"stock_quantity": p.StockQuantity,
		"category":       p.Category,
	})
}

// fakeCartStore keeps rows in memory and counts writes.
type fakeCartStore struct {
	mu     sync.Mutex
	rows   []models.CartRow
	writes int
	fail   bool
}

func (f *fakeCartStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Method != http.MethodGet {
		f.writes++
	}
	if f.fail {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}

	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(f.rows)
	case http.MethodPost:
		var row models.CartRow
		json.NewDecoder(r.Body).Decode(&row)
		f.rows = append(f.rows, row)
		w.WriteHeader(http.StatusCreated)
	case http.MethodPatch:
		pid, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Query().Get("product_id"), "eq."))
		var body map[string]int
		json.NewDecoder(r.Body).Decode(&body)
		for i := range f.rows {
			if f.rows[i].ProductID == pid {
				f.rows[i].Quantity = body["quantity"]
			}
		}
	case http.MethodDelete:
		pid, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Query().Get("product_id"), "eq."))
		kept := f.rows[:0]
		for _, row := range f.rows {
			if row.ProductID != pid {
				kept = append(kept, row)
			}
		}
		f.rows = kept
	}
}

func newSyncer(t *testing.T, cat *fakeCatalog, cart *fakeCartStore) *Syncer {
	t.Helper()
	catSrv := httptest.NewServer(cat)
	cartSrv := httptest.NewServer(cart)
	t.Cleanup(catSrv.Close)
	t.Cleanup(cartSrv.Close)
	return &Syncer{
		Store:   state.NewStore(),
		Cart:    cartstore.NewClient(cartSrv.URL, ""),
		Catalog: catalog.NewClient(catSrv.URL),
	}
}

func testUser() *models.User {
	return &models.User{ID: uuid.New(), Email: "farmer@example.com"}
}

func TestLoadCartDeduplicatesRows(t *testing.T) {
	user := testUser()
	cat := &fakeCatalog{products: map[int]models.Product{
		1: {ID: 1, Title: "Carrots", Price: 5, StockQuantity: 10},
	}}
	cart := &fakeCartStore{rows: []models.CartRow{
		{UserID: user.ID, ProductID: 1, Quantity: 2},
		{UserID: user.ID, ProductID: 1, Quantity: 7},
	}}
	s := newSyncer(t, cat, cart)

	require.NoError(t, s.LoadCart(context.Background(), user, "tok"))

	items := s.Store.Snapshot().Cart
	require.Len(t, items, 1)
	require.Equal(t, 2, items[0].Quantity)
}

func TestLoadCartDropsUnresolvableRows(t *testing.T) {
	user := testUser()
	cat := &fakeCatalog{products: map[int]models.Product{
		1: {ID: 1, Title: "Carrots", Price: 5, StockQuantity: 10},
	}}
	cart := &fakeCartStore{rows: []models.CartRow{
		{UserID: user.ID, ProductID: 1, Quantity: 2},
		{UserID: user.ID, ProductID: 99, Quantity: 1},
	}}
	s := newSyncer(t, cat, cart)

	require.NoError(t, s.LoadCart(context.Background(), user, "tok"))

	items := s.Store.Snapshot().Cart
	require.Len(t, items, 1)
	require.Equal(t, "Carrots", items[0].Title)
}

func TestLoadCartSkipsWhenLocalCartNotEmpty(t *testing.T) {
	user := testUser()
	cat := &fakeCatalog{products: map[int]models.Product{}}
	cart := &fakeCartStore{rows: []models.CartRow{
		{UserID: user.ID, ProductID: 1, Quantity: 2},
	}}
	s := newSyncer(t, cat, cart)

	local := models.Product{ID: 5, Title: "Eggs", Price: 4, StockQuantity: 6}
	s.Store.Dispatch(state.AddToCart{Product: local})

	require.NoError(t, s.LoadCart(context.Background(), user, "tok"))

	items := s.Store.Snapshot().Cart
	require.Len(t, items, 1)
	require.Equal(t, 5, items[0].ID)
}

func TestLoadCartNoUserIsNoop(t *testing.T) {
	s := newSyncer(t, &fakeCatalog{}, &fakeCartStore{})
	require.NoError(t, s.LoadCart(context.Background(), nil, ""))
	require.Empty(t, s.Store.Snapshot().Cart)
}

func TestAddToCartRequiresUser(t *testing.T) {
	s := newSyncer(t, &fakeCatalog{}, &fakeCartStore{})
	err := s.AddToCart(context.Background(), nil, "", models.Product{ID: 1, StockQuantity: 5})
	require.ErrorIs(t, err, ErrSignedOut)
}

func TestAddToCartRejectsOutOfStock(t *testing.T) {
	s := newSyncer(t, &fakeCatalog{}, &fakeCartStore{})
	err := s.AddToCart(context.Background(), testUser(), "tok", models.Product{ID: 1, StockQuantity: 0})
	require.ErrorIs(t, err, ErrOutOfStock)
}

func TestAddToCartInsertsThenIncrements(t *testing.T) {
	user := testUser()
	cart := &fakeCartStore{}
	s := newSyncer(t, &fakeCatalog{}, cart)
	p := models.Product{ID: 1, Title: "Carrots", Price: 5, StockQuantity: 2}

	require.NoError(t, s.AddToCart(context.Background(), user, "tok", p))
	require.Equal(t, 1, s.Store.Snapshot().Cart[0].Quantity)

	require.NoError(t, s.AddToCart(context.Background(), user, "tok", p))
	require.Equal(t, 2, s.Store.Snapshot().Cart[0].Quantity)

	// At stock already, the third add changes nothing and writes nothing.
	cart.mu.Lock()
	before := cart.writes
	cart.mu.Unlock()
	require.NoError(t, s.AddToCart(context.Background(), user, "tok", p))
	require.Equal(t, 2, s.Store.Snapshot().Cart[0].Quantity)
	cart.mu.Lock()
	require.Equal(t, before, cart.writes)
	cart.mu.Unlock()
}

func TestAddToCartRemoteFailureLeavesLocalUnchanged(t *testing.T) {
	user := testUser()
	cart := &fakeCartStore{fail: true}
	s := newSyncer(t, &fakeCatalog{}, cart)

	err := s.AddToCart(context.Background(), user, "tok", models.Product{ID: 1, StockQuantity: 5})
	require.Error(t, err)
	require.Empty(t, s.Store.Snapshot().Cart)
}

func TestUpdateQuantityBelowOneIsNoop(t *testing.T) {
	user := testUser()
	cart := &fakeCartStore{}
	s := newSyncer(t, &fakeCatalog{}, cart)
	p := models.Product{ID: 1, StockQuantity: 5}
	require.NoError(t, s.AddToCart(context.Background(), user, "tok", p))

	cart.mu.Lock()
	before := cart.writes
	cart.mu.Unlock()

	require.NoError(t, s.UpdateQuantity(context.Background(), user, "tok", 1, 0))

	require.Equal(t, 1, s.Store.Snapshot().Cart[0].Quantity)
	cart.mu.Lock()
	require.Equal(t, before, cart.writes)
	cart.mu.Unlock()
}

func TestUpdateQuantityClampsToStock(t *testing.T) {
	user := testUser()
	cart := &fakeCartStore{}
	s := newSyncer(t, &fakeCatalog{}, cart)
	require.NoError(t, s.AddToCart(context.Background(), user, "tok", models.Product{ID: 1, StockQuantity: 3}))

	require.NoError(t, s.UpdateQuantity(context.Background(), user, "tok", 1, 10))
	require.Equal(t, 3, s.Store.Snapshot().Cart[0].Quantity)

	cart.mu.Lock()
	require.Equal(t, 3, cart.rows[0].Quantity)
	cart.mu.Unlock()
}

func TestUpdateQuantityRemoteFailureLeavesLocalUnchanged(t *testing.T) {
	user := testUser()
	cart := &fakeCartStore{}
	s := newSyncer(t, &fakeCatalog{}, cart)
	require.NoError(t, s.AddToCart(context.Background(), user, "tok", models.Product{ID: 1, StockQuantity: 5}))

	cart.mu.Lock()
	cart.fail = true
	cart.mu.Unlock()

	err := s.UpdateQuantity(context.Background(), user, "tok", 1, 3)
	require.Error(t, err)
	require.Equal(t, 1, s.Store.Snapshot().Cart[0].Quantity)
}

func TestRemoveFromCartDeletesRemoteFirst(t *testing.T) {
	user := testUser()
	cart := &fakeCartStore{}
	s := newSyncer(t, &fakeCatalog{}, cart)
	require.NoError(t, s.AddToCart(context.Background(), user, "tok", models.Product{ID: 1, StockQuantity: 5}))

	require.NoError(t, s.RemoveFromCart(context.Background(), user, "tok", 1))
	require.Empty(t, s.Store.Snapshot().Cart)
	cart.mu.Lock()
	require.Empty(t, cart.rows)
	cart.mu.Unlock()
}

func TestRemoveFromCartRemoteFailureKeepsLocalEntry(t *testing.T) {
	user := testUser()
	cart := &fakeCartStore{}
	s := newSyncer(t, &fakeCatalog{}, cart)
	require.NoError(t, s.AddToCart(context.Background(), user, "tok", models.Product{ID: 1, StockQuantity: 5}))

	cart.mu.Lock()
	cart.fail = true
	cart.mu.Unlock()

	err := s.RemoveFromCart(context.Background(), user, "tok", 1)
	require.Error(t, err)
	require.Len(t, s.Store.Snapshot().Cart, 1)
}
