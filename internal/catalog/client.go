// Package catalog is the HTTP client for the remote product/order
// service. The service is consumed, never implemented here.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/greenharvest/storefront/internal/models"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(shopAPIURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(shopAPIURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// price is a float that also accepts the quoted decimal strings the
// remote API serializes money as.
type price float64

func (p *price) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse price %q: %w", s, err)
	}
	*p = price(v)
	return nil
}

// productWire mirrors the remote product payload, which serves the
// title under "name".
type productWire struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Price         price  `json:"price"`
	Image         string `json:"image"`
	StockQuantity int    `json:"stock_quantity"`
	Category      string `json:"category"`
}

func (w productWire) toModel() models.Product {
	return models.Product{
		ID:            w.ID,
		Title:         w.Name,
		Description:   w.Description,
		Price:         float64(w.Price),
		Image:         w.Image,
		StockQuantity: w.StockQuantity,
		Category:      w.Category,
	}
}

type orderItemWire struct {
	ID              int    `json:"id"`
	ProductName     string `json:"product_name"`
	Quantity        int    `json:"quantity"`
	PriceAtPurchase price  `json:"price_at_purchase"`
}

type orderWire struct {
	ID          int             `json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	Status      string          `json:"status"`
	OrderItems  []orderItemWire `json:"order_items"`
	TotalAmount price           `json:"total_amount"`
}

func (w orderWire) toModel() models.Order {
	items := make([]models.OrderItem, 0, len(w.OrderItems))
	for _, it := range w.OrderItems {
		items = append(items, models.OrderItem{
			ID:              it.ID,
			ProductName:     it.ProductName,
			Quantity:        it.Quantity,
			PriceAtPurchase: float64(it.PriceAtPurchase),
		})
	}
	return models.Order{
		ID:          w.ID,
		CreatedAt:   w.CreatedAt,
		Status:      w.Status,
		OrderItems:  items,
		TotalAmount: float64(w.TotalAmount),
	}
}

func (c *Client) ListProducts(ctx context.Context) ([]models.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/products/", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list products failed with status: %d", resp.StatusCode)
	}

	var wires []productWire
	if err := json.NewDecoder(resp.Body).Decode(&wires); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	products := make([]models.Product, 0, len(wires))
	for _, w := range wires {
		products = append(products, w.toModel())
	}
	return products, nil
}

func (c *Client) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	url := fmt.Sprintf("%s/api/products/%d/", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get product %d failed with status: %d", id, resp.StatusCode)
	}

	var w productWire
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	p := w.toModel()
	return &p, nil
}

// OrderLine is the {product_id, quantity} pair the order-creation
// endpoint expects.
type OrderLine struct {
	ProductID int `json:"product_id"`
	Quantity  int `json:"quantity"`
}

// CreateOrder posts the cart lines to the order endpoint. The bearer
// token is optional; guest orders go out unauthenticated. A non-2xx
// status or an "error" field in the body fails the call.
func (c *Client) CreateOrder(ctx context.Context, lines []OrderLine, bearer string) (*models.Order, error) {
	body, err := json.Marshal(map[string]any{"items": lines})
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/orders/create-with-items/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var wire struct {
		orderWire
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if wire.Error != "" {
		return nil, fmt.Errorf("order rejected: %s", wire.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("create order failed with status: %d", resp.StatusCode)
	}

	order := wire.toModel()
	return &order, nil
}

// ListOrders fetches the signed-in user's order history, newest first.
func (c *Client) ListOrders(ctx context.Context, bearer string) ([]models.Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/orders/", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list orders failed with status: %d", resp.StatusCode)
	}

	var wires []orderWire
	if err := json.NewDecoder(resp.Body).Decode(&wires); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	orders := make([]models.Order, 0, len(wires))
	for _, w := range wires {
		orders = append(orders, w.toModel())
	}
	return orders, nil
}
