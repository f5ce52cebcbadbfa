package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/shopfront/internal/api"
	"github.com/and161185/shopfront/internal/cart"
	"github.com/and161185/shopfront/internal/errs"
	"github.com/and161185/shopfront/internal/model"
	"github.com/and161185/shopfront/internal/shoptest"
)

var (
	_ Orders           = (*api.Client)(nil)
	_ Carts            = (*cart.Store)(nil)
	_ PaymentProcessor = ConfirmedIntent("")
	_ PaymentProcessor = (*fakeProcessor)(nil)
)

// fakeProcessor confirms any intent by deriving its id from the client secret.
type fakeProcessor struct {
	err    error
	amount int64
	calls  int
}

func (p *fakeProcessor) Confirm(_ context.Context, secret string, amount int64) (string, error) {
	p.calls++
	p.amount = amount
	if p.err != nil {
		return "", p.err
	}
	return strings.TrimSuffix(secret, "_secret"), nil
}

var addr = model.ShippingAddress{Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701", Country: "US"}

type fixture struct {
	srv   *shoptest.Server
	api   *api.Client
	carts *cart.Store
	proc  *fakeProcessor
	flow  *Flow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := shoptest.New(t)
	srv.AddProduct(model.Product{ID: "p1", Name: "Mug", Price: 12.5, StockQuantity: 5})
	srv.AddProduct(model.Product{ID: "p2", Name: "Lamp", Price: 40, StockQuantity: 2})
	srv.AddUser("a@b.com", "secret", "Alice", false)
	c, err := api.New(srv.URL, api.WithToken(srv.IssueToken("a@b.com")))
	require.NoError(t, err)
	carts := cart.New(c)
	proc := &fakeProcessor{}
	return &fixture{srv: srv, api: c, carts: carts, proc: proc, flow: New(carts, c, proc, zaptest.NewLogger(t))}
}

func TestAmountCents(t *testing.T) {
	t.Parallel()
	require.Equal(t, int64(0), AmountCents(0))
	require.Equal(t, int64(1999), AmountCents(19.99))
	require.Equal(t, int64(30), AmountCents(0.1+0.2))
}

func TestPlace(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "p1", 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, "p2", 1)
	require.NoError(t, err)

	order, err := f.flow.Place(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, order.Status)
	require.Len(t, order.Items, 2)
	require.Equal(t, addr, order.ShippingAddress)
	require.InDelta(t, 2*12.5+40, order.TotalAmount, 1e-9)
	require.Equal(t, AmountCents(2*12.5+40), f.proc.amount)
	require.True(t, strings.HasPrefix(order.StripePaymentIntentID, "pi_"))

	require.True(t, f.carts.Cart().Empty(), "cart refreshed after order")
	require.Equal(t, 3, f.srv.Stock("p1"))
	require.Equal(t, 1, f.srv.Stock("p2"))

	mine, err := f.api.MyOrders(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, order.ID, mine[0].ID)
}

func TestPlace_InvalidAddress(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	bad := addr
	bad.City, bad.ZipCode = "", " "
	_, err := f.flow.Place(context.Background(), bad)
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Contains(t, err.Error(), "city, zip_code")
	require.Empty(t, f.srv.Requests())
}

func TestPlace_EmptyCart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.flow.Place(context.Background(), addr)
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Zero(t, f.proc.calls)
}

func TestPlace_Declined(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "p1", 1)
	require.NoError(t, err)

	cause := errors.New("card_declined")
	f.proc.err = cause
	_, err = f.flow.Place(ctx, addr)
	require.ErrorIs(t, err, errs.ErrPaymentDeclined)
	require.ErrorIs(t, err, cause)

	require.False(t, f.carts.Cart().Empty(), "cart untouched")
	for _, r := range f.srv.Requests() {
		require.NotEqual(t, http.MethodPost+" /orders", r, "no order after decline")
	}
}

func TestPlace_ConfirmedIntent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "p2", 2)
	require.NoError(t, err)

	pi, err := f.api.CreatePaymentIntent(ctx, 8000)
	require.NoError(t, err)
	flow := New(f.carts, f.api, ConfirmedIntent(strings.TrimSuffix(pi.ClientSecret, "_secret")), nil)

	order, err := flow.Place(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, 0, f.srv.Stock("p2"))
	require.NotEmpty(t, order.ID)

	_, err = New(f.carts, f.api, ConfirmedIntent(""), nil).Place(ctx, addr)
	require.ErrorIs(t, err, errs.ErrValidation, "cart now empty")
}

func TestPlace_UnknownIntentRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "p1", 1)
	require.NoError(t, err)

	_, err = New(f.carts, f.api, ConfirmedIntent("pi_forged"), nil).Place(ctx, addr)
	require.ErrorIs(t, err, errs.ErrConflict)
	require.Contains(t, err.Error(), "create order")
	require.Equal(t, 5, f.srv.Stock("p1"))
}

func TestConfirmedIntent_Empty(t *testing.T) {
	t.Parallel()
	_, err := ConfirmedIntent("").Confirm(context.Background(), "s", 1)
	require.ErrorIs(t, err, errs.ErrPaymentDeclined)
}
