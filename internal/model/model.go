// Package model defines the entities exchanged with the storefront API.
// Field tags follow the server's JSON contract; the client never rewrites them.
package model

import (
	"strings"
	"time"
)

// Identity is the client-visible profile of the logged-in principal.
type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsAdmin  bool   `json:"is_admin"`
}

// ProductInCart is the denormalized product snapshot the server embeds in a line item.
type ProductInCart struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	ImageURL      string  `json:"image_url"`
	StockQuantity int     `json:"stock_quantity"`
}

// CartItem is one product reference with the requested quantity.
type CartItem struct {
	ProductID string         `json:"product_id"`
	Quantity  int            `json:"quantity"`
	Product   *ProductInCart `json:"product,omitempty"`
}

// Cart is the server's snapshot of a user's pending order contents.
type Cart struct {
	ID     string     `json:"id"`
	UserID string     `json:"user_id"`
	Items  []CartItem `json:"items"`
	Total  float64    `json:"total"` // server-computed
}

// Item returns the line item for productID, if present.
func (c *Cart) Item(productID string) (CartItem, bool) {
	if c == nil {
		return CartItem{}, false
	}
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return CartItem{}, false
}

// Empty reports whether the cart is absent or has no lines.
func (c *Cart) Empty() bool { return c == nil || len(c.Items) == 0 }

// Product is a catalog entry.
type Product struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Price         float64   `json:"price"`
	ImageURL      string    `json:"image_url"`
	Category      string    `json:"category"`
	StockQuantity int       `json:"stock_quantity"`
	AvgRating     float64   `json:"avg_rating"`
	ReviewCount   int       `json:"review_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// ProductPage is one page of a filtered listing.
type ProductPage struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
}

// Review is a product review.
type Review struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	UserID    string    `json:"user_id"`
	UserEmail string    `json:"user_email"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewInput is the body of a review submission.
type ReviewInput struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// ShippingAddress is the delivery address of an order.
type ShippingAddress struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

// Missing returns the names of empty required fields.
func (a ShippingAddress) Missing() []string {
	var out []string
	for _, f := range []struct{ name, v string }{
		{"street", a.Street},
		{"city", a.City},
		{"state", a.State},
		{"zip_code", a.ZipCode},
		{"country", a.Country},
	} {
		if strings.TrimSpace(f.v) == "" {
			out = append(out, f.name)
		}
	}
	return out
}

// OrderItem is a price-frozen line of a placed order.
type OrderItem struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
}

// Order status vocabulary accepted by the admin API.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

// OrderStatuses lists valid statuses in lifecycle order.
var OrderStatuses = []string{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

// ValidOrderStatus reports whether s is part of the status vocabulary.
func ValidOrderStatus(s string) bool {
	for _, v := range OrderStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Order is a placed order.
type Order struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"user_id"`
	UserEmail             string          `json:"user_email,omitempty"`
	Items                 []OrderItem     `json:"items"`
	TotalAmount           float64         `json:"total_amount"`
	ShippingAddress       ShippingAddress `json:"shipping_address"`
	Status                string          `json:"status"`
	StripePaymentIntentID string          `json:"stripe_payment_intent_id"`
	CreatedAt             time.Time       `json:"created_at"`
}

// OrderInput is the body of order creation after a confirmed payment.
type OrderInput struct {
	PaymentIntentID string          `json:"payment_intent_id"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
}

// PaymentIntent is the server's answer to a payment-intent request.
type PaymentIntent struct {
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
}

// Token is the credential exchange response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Registration is the body of account creation.
type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// AddCartItem is the body of POST /cart/items.
type AddCartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// UpdateCartItem is the body of PUT /cart/items/{id}.
type UpdateCartItem struct {
	Quantity int `json:"quantity"`
}

// StatusUpdate is the body of PATCH /admin/orders/{id}/status.
type StatusUpdate struct {
	Status string `json:"status"`
}
