package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is a catalog entry as served by the remote product API.
// Products are read-only from the storefront's perspective.
type Product struct {
	ID            int     `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Price         float64 `json:"price"`
	Image         string  `json:"image"`
	StockQuantity int     `json:"stock_quantity"`
	Category      string  `json:"category"`
}

// CartItem is a product plus the quantity held in the cart. A cart
// holds at most one item per product id, and quantity never exceeds
// the product's stock (clamped on writes, not rejected).
type CartItem struct {
	Product
	Quantity int `json:"quantity"`
}

// User is the identity handed back by the auth backend. Nil means
// signed out.
type User struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// OrderItem is a line of a placed order, priced at purchase time.
type OrderItem struct {
	ID              int     `json:"id"`
	ProductName     string  `json:"product_name"`
	Quantity        int     `json:"quantity"`
	PriceAtPurchase float64 `json:"price_at_purchase"`
}

// Order statuses used by the remote service. Anything else renders
// as-is.
const (
	OrderStatusProcessing = "Processing"
	OrderStatusShipped    = "Shipped"
	OrderStatusDelivered  = "Delivered"
)

// Order is created by the remote order service and read-only here.
type Order struct {
	ID          int         `json:"id"`
	CreatedAt   time.Time   `json:"created_at"`
	Status      string      `json:"status"`
	OrderItems  []OrderItem `json:"order_items"`
	TotalAmount float64     `json:"total_amount"`
}

// CartRow is a single (user, product, quantity) record in the remote
// cart store.
type CartRow struct {
	UserID    uuid.UUID `json:"user_id"`
	ProductID int       `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// CheckoutForm carries the contact/shipping fields collected on the
// checkout page. Address is only required when guest checkout is
// enabled.
type CheckoutForm struct {
	Name    string `json:"name" form:"name"`
	Email   string `json:"email" form:"email"`
	Phone   string `json:"phone" form:"phone"`
	Address string `json:"address" form:"address"`
}
