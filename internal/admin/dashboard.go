// Package admin aggregates back-office figures from the admin API.
package admin

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/and161185/shopfront/internal/api"
	"github.com/and161185/shopfront/internal/model"
)

// catalogLimit is the listing size used to count the catalog.
const catalogLimit = 1000

// Source is the slice of the API client the dashboard reads.
type Source interface {
	Products(ctx context.Context, f api.ProductFilter) (model.ProductPage, error)
	AdminOrders(ctx context.Context) ([]model.Order, error)
}

// Dashboard holds the headline numbers of the back office.
type Dashboard struct {
	TotalProducts int
	TotalOrders   int
	TotalRevenue  float64
	PendingOrders int
}

// Stats fetches the catalog and all orders concurrently and summarizes them.
// Revenue is the sum of server-reported order totals.
func Stats(ctx context.Context, src Source) (Dashboard, error) {
	var (
		page   model.ProductPage
		orders []model.Order
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, err = src.Products(gctx, api.ProductFilter{Limit: catalogLimit})
		return err
	})
	g.Go(func() error {
		var err error
		orders, err = src.AdminOrders(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{TotalProducts: page.Total, TotalOrders: len(orders)}
	if d.TotalProducts == 0 {
		d.TotalProducts = len(page.Products)
	}
	for _, o := range orders {
		d.TotalRevenue += o.TotalAmount
		if o.Status == model.StatusPending {
			d.PendingOrders++
		}
	}
	return d, nil
}
