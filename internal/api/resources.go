package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/and161185/shopfront/internal/errs"
	"github.com/and161185/shopfront/internal/model"
)

// Page-local resources. These carry no state across views; callers hold the results.

// ProductFilter narrows a product listing. Zero fields are not sent.
type ProductFilter struct {
	Search   string
	Category string
	MinPrice float64
	MaxPrice float64
	Limit    int
}

// Query encodes the non-zero filter fields.
func (f ProductFilter) Query() url.Values {
	q := url.Values{}
	if s := strings.TrimSpace(f.Search); s != "" {
		q.Set("search", s)
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.MinPrice > 0 {
		q.Set("min_price", strconv.FormatFloat(f.MinPrice, 'f', -1, 64))
	}
	if f.MaxPrice > 0 {
		q.Set("max_price", strconv.FormatFloat(f.MaxPrice, 'f', -1, 64))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

func segment(id string) string { return "/" + url.PathEscape(id) }

// Products returns a filtered product listing.
func (c *Client) Products(ctx context.Context, f ProductFilter) (model.ProductPage, error) {
	if f.MinPrice > 0 && f.MaxPrice > 0 && f.MinPrice > f.MaxPrice {
		return model.ProductPage{}, fmt.Errorf("%w: min_price > max_price", errs.ErrValidation)
	}
	var page model.ProductPage
	err := c.Get(ctx, "/products", f.Query(), &page)
	return page, err
}

// Product returns a single product.
func (c *Client) Product(ctx context.Context, id string) (model.Product, error) {
	var p model.Product
	if id == "" {
		return p, fmt.Errorf("%w: empty product id", errs.ErrValidation)
	}
	err := c.Get(ctx, "/products"+segment(id), nil, &p)
	return p, err
}

// Reviews lists reviews of a product.
func (c *Client) Reviews(ctx context.Context, productID string) ([]model.Review, error) {
	var out []model.Review
	err := c.Get(ctx, "/products"+segment(productID)+"/reviews", nil, &out)
	return out, err
}

// SubmitReview posts a review; rating must be 1..5 and comment non-empty.
func (c *Client) SubmitReview(ctx context.Context, productID string, in model.ReviewInput) (model.Review, error) {
	var r model.Review
	if in.Rating < 1 || in.Rating > 5 {
		return r, fmt.Errorf("%w: rating must be 1..5", errs.ErrValidation)
	}
	if strings.TrimSpace(in.Comment) == "" {
		return r, fmt.Errorf("%w: empty comment", errs.ErrValidation)
	}
	err := c.Post(ctx, "/products"+segment(productID)+"/reviews", in, &r)
	return r, err
}

// CreatePaymentIntent asks the server for a processor client secret for amountCents.
func (c *Client) CreatePaymentIntent(ctx context.Context, amountCents int64) (model.PaymentIntent, error) {
	var pi model.PaymentIntent
	if amountCents <= 0 {
		return pi, fmt.Errorf("%w: non-positive amount", errs.ErrValidation)
	}
	err := c.Post(ctx, "/orders/create-payment-intent", map[string]int64{"amount": amountCents}, &pi)
	return pi, err
}

// CreateOrder turns the server-side cart into an order after payment confirmation.
func (c *Client) CreateOrder(ctx context.Context, in model.OrderInput) (model.Order, error) {
	var o model.Order
	if in.PaymentIntentID == "" {
		return o, fmt.Errorf("%w: empty payment intent", errs.ErrValidation)
	}
	err := c.DoIdempotent(ctx, http.MethodPost, "/orders", in, &o)
	return o, err
}

// MyOrders returns the order history of the current user.
func (c *Client) MyOrders(ctx context.Context) ([]model.Order, error) {
	var out []model.Order
	err := c.Get(ctx, "/orders/my-orders", nil, &out)
	return out, err
}

// AdminOrders returns all orders (admin only).
func (c *Client) AdminOrders(ctx context.Context) ([]model.Order, error) {
	var out []model.Order
	err := c.Get(ctx, "/admin/orders", nil, &out)
	return out, err
}

// UpdateOrderStatus moves an order to status (admin only).
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID, status string) (model.Order, error) {
	var o model.Order
	if !model.ValidOrderStatus(status) {
		return o, fmt.Errorf("%w: unknown status %q", errs.ErrValidation, status)
	}
	err := c.Patch(ctx, "/admin/orders"+segment(orderID)+"/status", model.StatusUpdate{Status: status}, &o)
	return o, err
}

// DeleteProduct removes a product from the catalog (admin only).
func (c *Client) DeleteProduct(ctx context.Context, productID string) error {
	return c.Delete(ctx, "/admin/products"+segment(productID), nil)
}
