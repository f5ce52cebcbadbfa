package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/and161185/shopfront/internal/admin"
	"github.com/and161185/shopfront/internal/api"
	"github.com/and161185/shopfront/internal/checkout"
	"github.com/and161185/shopfront/internal/errs"
	"github.com/and161185/shopfront/internal/model"
)

// command is a subcommand bound to the page route whose guard gates it.
type command struct {
	route string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"register":         {"/register", cmdRegister},
	"login":            {"/login", cmdLogin},
	"logout":           {"/", cmdLogout},
	"whoami":           {"/", cmdWhoami},
	"products":         {"/products", cmdProducts},
	"product":          {"/products/{id}", cmdProduct},
	"reviews":          {"/products/{id}", cmdReviews},
	"review":           {"/products/{id}", cmdReview},
	"cart":             {"/", cmdCart},
	"add":              {"/", cmdAdd},
	"update":           {"/", cmdUpdate},
	"rm":               {"/", cmdRemove},
	"checkout":         {"/checkout", cmdCheckout},
	"orders":           {"/orders", cmdOrders},
	"admin-stats":      {"/admin", cmdAdminStats},
	"admin-orders":     {"/admin/orders", cmdAdminOrders},
	"admin-status":     {"/admin/orders", cmdAdminStatus},
	"admin-rm-product": {"/admin/products", cmdAdminRemoveProduct},
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func need(fs *flag.FlagSet, names ...string) error {
	for _, n := range names {
		if f := fs.Lookup(n); f == nil || f.Value.String() == "" || f.Value.String() == "0" {
			return fmt.Errorf("%w: %s: need -%s", errs.ErrValidation, fs.Name(), n)
		}
	}
	return nil
}

// requireSession refuses cart-bound commands before any request when nobody is logged in.
func (a *app) requireSession() error {
	if !a.session.Snapshot().Authenticated() {
		return errs.ErrNotAuthenticated
	}
	return nil
}

// ---- auth ----

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := a.flags("register")
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	name := fs.String("name", "", "full name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "email", "password", "name"); err != nil {
		return err
	}
	id, err := a.session.Register(ctx, *email, *password, *name)
	if err != nil {
		return err
	}
	printJSON(a.out, id)
	return nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := a.flags("login")
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "email", "password"); err != nil {
		return err
	}
	id, err := a.session.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "ok %s\n", id.Email)
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	err := a.session.Logout(ctx)
	a.cart.Reset()
	if err != nil {
		// the local session is gone either way
		fmt.Fprintln(a.errOut, "warning:", message(err))
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

func cmdWhoami(_ context.Context, a *app, _ []string) error {
	snap := a.session.Snapshot()
	if !snap.Authenticated() {
		fmt.Fprintln(a.out, snap.State)
		return nil
	}
	printJSON(a.out, snap.Identity)
	return nil
}

// ---- catalog ----

func cmdProducts(ctx context.Context, a *app, args []string) error {
	fs := a.flags("products")
	var f api.ProductFilter
	fs.StringVar(&f.Search, "search", "", "full-text search")
	fs.StringVar(&f.Category, "category", "", "category")
	fs.Float64Var(&f.MinPrice, "min", 0, "min price")
	fs.Float64Var(&f.MaxPrice, "max", 0, "max price")
	fs.IntVar(&f.Limit, "limit", 0, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	page, err := a.api.Products(ctx, f)
	if err != nil {
		return err
	}
	printJSON(a.out, page)
	return nil
}

func cmdProduct(ctx context.Context, a *app, args []string) error {
	fs := a.flags("product")
	id := fs.String("id", "", "product id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := a.api.Product(ctx, *id)
	if err != nil {
		return err
	}
	printJSON(a.out, p)
	return nil
}

func cmdReviews(ctx context.Context, a *app, args []string) error {
	fs := a.flags("reviews")
	id := fs.String("id", "", "product id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "id"); err != nil {
		return err
	}
	list, err := a.api.Reviews(ctx, *id)
	if err != nil {
		return err
	}
	printJSON(a.out, list)
	return nil
}

func cmdReview(ctx context.Context, a *app, args []string) error {
	fs := a.flags("review")
	id := fs.String("id", "", "product id")
	var in model.ReviewInput
	fs.IntVar(&in.Rating, "rating", 0, "rating 1..5")
	fs.StringVar(&in.Comment, "comment", "", "comment")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "id"); err != nil {
		return err
	}
	if err := a.requireSession(); err != nil {
		return err
	}
	r, err := a.api.SubmitReview(ctx, *id, in)
	if err != nil {
		return err
	}
	printJSON(a.out, r)
	return nil
}

// ---- cart ----

func cmdCart(ctx context.Context, a *app, _ []string) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	c := a.cart.FetchCart(ctx)
	if c == nil {
		return errors.New("cart unavailable")
	}
	printJSON(a.out, c)
	return nil
}

func cmdAdd(ctx context.Context, a *app, args []string) error {
	fs := a.flags("add")
	id := fs.String("id", "", "product id")
	qty := fs.Int("qty", 1, "quantity")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.requireSession(); err != nil {
		return err
	}
	c, err := a.cart.AddItem(ctx, *id, *qty)
	if err != nil {
		return err
	}
	printJSON(a.out, c)
	return nil
}

func cmdUpdate(ctx context.Context, a *app, args []string) error {
	fs := a.flags("update")
	id := fs.String("id", "", "product id")
	qty := fs.Int("qty", 0, "new quantity")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "id"); err != nil {
		return err
	}
	if err := a.requireSession(); err != nil {
		return err
	}
	c, err := a.cart.UpdateItem(ctx, *id, *qty)
	if err != nil {
		return err
	}
	printJSON(a.out, c)
	return nil
}

func cmdRemove(ctx context.Context, a *app, args []string) error {
	fs := a.flags("rm")
	id := fs.String("id", "", "product id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "id"); err != nil {
		return err
	}
	if err := a.requireSession(); err != nil {
		return err
	}
	c, err := a.cart.RemoveItem(ctx, *id)
	if err != nil {
		return err
	}
	printJSON(a.out, c)
	return nil
}

// ---- orders ----

func cmdCheckout(ctx context.Context, a *app, args []string) error {
	fs := a.flags("checkout")
	intent := fs.String("intent", "", "payment intent id confirmed with the processor")
	var addr model.ShippingAddress
	fs.StringVar(&addr.Street, "street", "", "street")
	fs.StringVar(&addr.City, "city", "", "city")
	fs.StringVar(&addr.State, "state", "", "state")
	fs.StringVar(&addr.ZipCode, "zip", "", "zip code")
	fs.StringVar(&addr.Country, "country", "US", "country")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var proc checkout.PaymentProcessor = checkout.ConfirmedIntent(*intent)
	if *intent == "" {
		proc = pendingPayment{w: a.out}
	}
	flow := checkout.New(a.cart, a.api, proc, a.log)
	o, err := flow.Place(ctx, addr)
	if err != nil {
		return err
	}
	printJSON(a.out, o)
	return nil
}

// pendingPayment prints the client secret so the payment can be confirmed
// with the processor out of band, then stops the flow before order creation.
type pendingPayment struct{ w io.Writer }

func (p pendingPayment) Confirm(_ context.Context, secret string, amountCents int64) (string, error) {
	fmt.Fprintf(p.w, "client_secret %s amount %d\n", secret, amountCents)
	return "", fmt.Errorf("%w: confirm the payment, then rerun with -intent", errs.ErrPaymentDeclined)
}

func cmdOrders(ctx context.Context, a *app, _ []string) error {
	list, err := a.api.MyOrders(ctx)
	if err != nil {
		return err
	}
	printJSON(a.out, list)
	return nil
}

// ---- admin ----

func cmdAdminStats(ctx context.Context, a *app, _ []string) error {
	d, err := admin.Stats(ctx, a.api)
	if err != nil {
		return err
	}
	printJSON(a.out, d)
	return nil
}

func cmdAdminOrders(ctx context.Context, a *app, args []string) error {
	fs := a.flags("admin-orders")
	status := fs.String("status", "", "only orders in this status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := a.api.AdminOrders(ctx)
	if err != nil {
		return err
	}
	if *status != "" {
		kept := list[:0]
		for _, o := range list {
			if o.Status == *status {
				kept = append(kept, o)
			}
		}
		list = kept
	}
	printJSON(a.out, list)
	return nil
}

func cmdAdminStatus(ctx context.Context, a *app, args []string) error {
	fs := a.flags("admin-status")
	id := fs.String("id", "", "order id")
	status := fs.String("status", "", "new status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "id", "status"); err != nil {
		return err
	}
	o, err := a.api.UpdateOrderStatus(ctx, *id, *status)
	if err != nil {
		return err
	}
	printJSON(a.out, o)
	return nil
}

func cmdAdminRemoveProduct(ctx context.Context, a *app, args []string) error {
	fs := a.flags("admin-rm-product")
	id := fs.String("id", "", "product id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs, "id"); err != nil {
		return err
	}
	if err := a.api.DeleteProduct(ctx, *id); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}
