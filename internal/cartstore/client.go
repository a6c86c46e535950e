// Package cartstore is the client for the remote per-user cart table:
// rows keyed (user_id, product_id) with a quantity column, scoped to
// the current user by the bearer token.
package cartstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/greenharvest/storefront/internal/models"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(authURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(authURL, "/"),
		apiKey:  apiKey,
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

func (c *Client) rowsURL(filters url.Values) string {
	u := c.baseURL + "/rest/v1/cart_items"
	if len(filters) > 0 {
		u += "?" + filters.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, rawURL, bearer string, body any) (*http.Response, error) {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("cart store %s failed with status: %d", method, resp.StatusCode)
	}
	return resp, nil
}

func eq(v string) string { return "eq." + v }

// List returns the user's cart rows.
func (c *Client) List(ctx context.Context, userID uuid.UUID, bearer string) ([]models.CartRow, error) {
	f := url.Values{"user_id": {eq(userID.String())}}
	resp, err := c.do(ctx, http.MethodGet, c.rowsURL(f), bearer, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rows []models.CartRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return rows, nil
}

// Insert creates a new row for (user, product).
func (c *Client) Insert(ctx context.Context, row models.CartRow, bearer string) error {
	resp, err := c.do(ctx, http.MethodPost, c.rowsURL(nil), bearer, row)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// UpdateQuantity writes a new quantity for an existing row.
func (c *Client) UpdateQuantity(ctx context.Context, userID uuid.UUID, productID, quantity int, bearer string) error {
	f := url.Values{
		"user_id":    {eq(userID.String())},
		"product_id": {eq(fmt.Sprint(productID))},
	}
	resp, err := c.do(ctx, http.MethodPatch, c.rowsURL(f), bearer, map[string]int{"quantity": quantity})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Delete removes the row for (user, product).
func (c *Client) Delete(ctx context.Context, userID uuid.UUID, productID int, bearer string) error {
	f := url.Values{
		"user_id":    {eq(userID.String())},
		"product_id": {eq(fmt.Sprint(productID))},
	}
	resp, err := c.do(ctx, http.MethodDelete, c.rowsURL(f), bearer, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// DeleteAll clears every row the user owns, used after checkout.
func (c *Client) DeleteAll(ctx context.Context, userID uuid.UUID, bearer string) error {
	f := url.Values{"user_id": {eq(userID.String())}}
	resp, err := c.do(ctx, http.MethodDelete, c.rowsURL(f), bearer, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
