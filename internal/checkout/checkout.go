// Package checkout runs the purchase flow: payment intent, external
// confirmation, order creation and cart refresh.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/shopfront/internal/errs"
	"github.com/and161185/shopfront/internal/model"
)

// PaymentProcessor is the external payment client. It confirms the intent
// identified by clientSecret and returns the processor's intent id.
// A refused payment should wrap errs.ErrPaymentDeclined.
type PaymentProcessor interface {
	Confirm(ctx context.Context, clientSecret string, amountCents int64) (intentID string, err error)
}

// Orders is the slice of the API client used by the flow.
type Orders interface {
	CreatePaymentIntent(ctx context.Context, amountCents int64) (model.PaymentIntent, error)
	CreateOrder(ctx context.Context, in model.OrderInput) (model.Order, error)
}

// Carts is the slice of the cart store used by the flow.
type Carts interface {
	FetchCart(ctx context.Context) *model.Cart
}

// Flow wires the collaborators.
type Flow struct {
	carts     Carts
	orders    Orders
	processor PaymentProcessor
	log       *zap.Logger
}

// New constructs a Flow. A nil logger means no logging.
func New(carts Carts, orders Orders, processor PaymentProcessor, log *zap.Logger) *Flow {
	if log == nil {
		log = zap.NewNop()
	}
	return &Flow{carts: carts, orders: orders, processor: processor, log: log}
}

// AmountCents converts the server total to minor units.
func AmountCents(total float64) int64 { return int64(math.Round(total * 100)) }

// Place buys the current cart and ships it to addr.
func (f *Flow) Place(ctx context.Context, addr model.ShippingAddress) (model.Order, error) {
	if missing := addr.Missing(); len(missing) > 0 {
		return model.Order{}, fmt.Errorf("%w: shipping address missing %s", errs.ErrValidation, strings.Join(missing, ", "))
	}

	c := f.carts.FetchCart(ctx)
	if err := ctx.Err(); err != nil {
		return model.Order{}, err
	}
	if c.Empty() {
		return model.Order{}, fmt.Errorf("%w: cart is empty", errs.ErrValidation)
	}
	amount := AmountCents(c.Total)

	pi, err := f.orders.CreatePaymentIntent(ctx, amount)
	if err != nil {
		return model.Order{}, fmt.Errorf("create payment intent: %w", err)
	}

	intentID, err := f.processor.Confirm(ctx, pi.ClientSecret, amount)
	if err != nil {
		if !errors.Is(err, errs.ErrPaymentDeclined) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", errs.ErrPaymentDeclined, err)
		}
		f.log.Info("checkout: payment not confirmed", zap.Int64("amount", amount), zap.Error(err))
		return model.Order{}, err
	}

	order, err := f.orders.CreateOrder(ctx, model.OrderInput{PaymentIntentID: intentID, ShippingAddress: addr})
	if err != nil {
		return model.Order{}, fmt.Errorf("create order: %w", err)
	}
	f.log.Info("checkout: order placed", zap.String("order", order.ID), zap.Int64("amount", amount))

	// the server empties the cart on order creation
	f.carts.FetchCart(ctx)
	return order, nil
}

// ConfirmedIntent is a processor for an intent already confirmed out of band.
type ConfirmedIntent string

// Confirm returns the intent id unchanged.
func (c ConfirmedIntent) Confirm(context.Context, string, int64) (string, error) {
	if c == "" {
		return "", fmt.Errorf("%w: no confirmed payment intent", errs.ErrPaymentDeclined)
	}
	return string(c), nil
}
