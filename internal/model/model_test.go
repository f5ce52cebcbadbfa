package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCart_Item(t *testing.T) {
	t.Parallel()
	var nilCart *Cart
	_, ok := nilCart.Item("p1")
	require.False(t, ok)
	require.True(t, nilCart.Empty())

	c := &Cart{Items: []CartItem{{ProductID: "p1", Quantity: 2}}}
	it, ok := c.Item("p1")
	require.True(t, ok)
	require.Equal(t, 2, it.Quantity)
	_, ok = c.Item("p2")
	require.False(t, ok)
	require.False(t, c.Empty())
	require.True(t, (&Cart{}).Empty())
}

func TestShippingAddress_Missing(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"street", "city", "state", "zip_code", "country"}, ShippingAddress{}.Missing())
	require.Empty(t, ShippingAddress{Street: "s", City: "c", State: "st", ZipCode: "z", Country: "US"}.Missing())
	require.Equal(t, []string{"state"}, ShippingAddress{Street: "s", City: "c", State: "\t", ZipCode: "z", Country: "US"}.Missing())
}

func TestValidOrderStatus(t *testing.T) {
	t.Parallel()
	for _, s := range OrderStatuses {
		require.True(t, ValidOrderStatus(s), s)
	}
	require.False(t, ValidOrderStatus("Pending"))
	require.False(t, ValidOrderStatus(""))
}

// Field names must match the server contract exactly.
func TestCart_WireNames(t *testing.T) {
	t.Parallel()
	raw := `{"id":"c1","user_id":"u1","total":12.5,"items":[{"product_id":"p1","quantity":1,
		"product":{"id":"p1","name":"Mug","price":12.5,"image_url":"/m.png","stock_quantity":3}}]}`
	var c Cart
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	require.Equal(t, "u1", c.UserID)
	require.Equal(t, 12.5, c.Total)
	require.Equal(t, "/m.png", c.Items[0].Product.ImageURL)
	require.Equal(t, 3, c.Items[0].Product.StockQuantity)
}
