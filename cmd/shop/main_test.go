package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/shopfront/internal/admin"
	"github.com/and161185/shopfront/internal/api"
	"github.com/and161185/shopfront/internal/model"
	"github.com/and161185/shopfront/internal/shoptest"
	"github.com/and161185/shopfront/internal/tokenstore"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, k := range []string{"SHOP_API_URL", "SHOP_TIMEOUT", "SHOP_TOKEN_PASSPHRASE", "SHOP_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	cfg := filepath.Join(dir, "shop")
	require.NoError(t, os.MkdirAll(cfg, 0o700))
	return cfg
}

type result struct {
	code   int
	stdout string
	stderr string
}

func shop(t *testing.T, srv *shoptest.Server, args ...string) result {
	t.Helper()
	var out, errb bytes.Buffer
	code := run(context.Background(), append([]string{"-addr", srv.URL}, args...), &out, &errb)
	return result{code: code, stdout: out.String(), stderr: errb.String()}
}

func storefront(t *testing.T) *shoptest.Server {
	t.Helper()
	srv := shoptest.New(t)
	srv.AddProduct(model.Product{ID: "p1", Name: "Mug", Category: "kitchen", Price: 12.5, StockQuantity: 4})
	srv.AddProduct(model.Product{ID: "p2", Name: "Lamp", Category: "home", Price: 40, StockQuantity: 1})
	srv.AddUser("a@b.com", "secret", "Alice", false)
	srv.AddUser("root@b.com", "rootpass", "Root", true)
	return srv
}

func Test_version_and_usage(t *testing.T) {
	_ = withTmpConfig(t)
	var out, errb bytes.Buffer
	require.Equal(t, exitOK, run(context.Background(), []string{"version"}, &out, &errb))
	require.Equal(t, "shop dev (unknown)\n", out.String())

	errb.Reset()
	require.Equal(t, exitUsage, run(context.Background(), nil, &out, &errb))
	require.Contains(t, errb.String(), "Commands:")

	errb.Reset()
	require.Equal(t, exitUsage, run(context.Background(), []string{"frobnicate"}, &out, &errb))
	require.Contains(t, errb.String(), `unknown command "frobnicate"`)
}

func Test_bad_config(t *testing.T) {
	dir := withTmpConfig(t)
	var out, errb bytes.Buffer
	code := run(context.Background(), []string{"-config", filepath.Join(dir, "missing.yaml"), "whoami"}, &out, &errb)
	require.Equal(t, exitErr, code)
	require.Contains(t, errb.String(), "failed to read config file")

	errb.Reset()
	code = run(context.Background(), []string{"-addr", "localhost:8000", "whoami"}, &out, &errb)
	require.Equal(t, exitErr, code)
	require.Contains(t, errb.String(), "must be an absolute URL")
}

func Test_config_file(t *testing.T) {
	dir := withTmpConfig(t)
	srv := storefront(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  base_url: "+srv.URL+"\n  timeout: 5s\n"), 0o600))

	var out, errb bytes.Buffer
	code := run(context.Background(), []string{"-config", path, "products"}, &out, &errb)
	require.Equal(t, exitOK, code, errb.String())
	var page model.ProductPage
	require.NoError(t, json.Unmarshal(out.Bytes(), &page))
	require.Equal(t, 2, page.Total)
}

func Test_session_persists_between_runs(t *testing.T) {
	dir := withTmpConfig(t)
	srv := storefront(t)

	r := shop(t, srv, "whoami")
	require.Equal(t, exitOK, r.code)
	require.Equal(t, "anonymous\n", r.stdout)

	r = shop(t, srv, "login", "-email", "a@b.com", "-password", "wrong")
	require.Equal(t, exitErr, r.code)
	require.Contains(t, r.stderr, "Incorrect email or password (status 401)")
	_, err := os.Stat(filepath.Join(dir, "token.json"))
	require.True(t, os.IsNotExist(err))

	r = shop(t, srv, "login", "-email", "a@b.com", "-password", "secret")
	require.Equal(t, exitOK, r.code, r.stderr)
	require.Equal(t, "ok a@b.com\n", r.stdout)

	tok, err := tokenstore.New(filepath.Join(dir, "token.json"), nil).Load()
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	r = shop(t, srv, "whoami")
	require.Equal(t, exitOK, r.code)
	var id model.Identity
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &id))
	require.Equal(t, "Alice", id.FullName)

	r = shop(t, srv, "logout")
	require.Equal(t, exitOK, r.code)
	_, err = os.Stat(filepath.Join(dir, "token.json"))
	require.True(t, os.IsNotExist(err))

	r = shop(t, srv, "whoami")
	require.Equal(t, "anonymous\n", r.stdout)
}

func Test_sealed_token(t *testing.T) {
	dir := withTmpConfig(t)
	t.Setenv("SHOP_TOKEN_PASSPHRASE", "hunter2")
	srv := storefront(t)

	r := shop(t, srv, "login", "-email", "a@b.com", "-password", "secret")
	require.Equal(t, exitOK, r.code, r.stderr)

	b, err := os.ReadFile(filepath.Join(dir, "token.json"))
	require.NoError(t, err)
	require.False(t, bytes.Contains(b, []byte("access_token")), "token must be sealed")

	r = shop(t, srv, "whoami")
	require.Contains(t, r.stdout, "a@b.com")

	t.Setenv("SHOP_TOKEN_PASSPHRASE", "")
	r = shop(t, srv, "whoami")
	require.Equal(t, "anonymous\n", r.stdout)
}

func Test_guards(t *testing.T) {
	_ = withTmpConfig(t)
	srv := storefront(t)

	for _, cmd := range []string{"orders", "checkout", "cart", "add"} {
		r := shop(t, srv, cmd, "-id", "p1")
		require.Equal(t, exitErr, r.code, cmd)
		require.Equal(t, "login required\n", r.stderr, cmd)
	}
	r := shop(t, srv, "admin-stats")
	require.Equal(t, "login required\n", r.stderr)

	require.Equal(t, exitOK, shop(t, srv, "login", "-email", "a@b.com", "-password", "secret").code)
	for _, cmd := range []string{"admin-stats", "admin-orders", "admin-rm-product"} {
		r := shop(t, srv, cmd)
		require.Equal(t, exitErr, r.code, cmd)
		require.Equal(t, "admin only\n", r.stderr, cmd)
	}
	require.Equal(t, exitOK, shop(t, srv, "orders").code)
}

var secretRe = regexp.MustCompile(`client_secret (pi_[0-9a-f]+)_secret`)

func Test_shopping_flow(t *testing.T) {
	_ = withTmpConfig(t)
	srv := storefront(t)
	require.Equal(t, exitOK, shop(t, srv, "login", "-email", "a@b.com", "-password", "secret").code)

	r := shop(t, srv, "add", "-id", "p1", "-qty", "2")
	require.Equal(t, exitOK, r.code, r.stderr)
	var c model.Cart
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &c))
	require.InDelta(t, 25.0, c.Total, 1e-9)

	r = shop(t, srv, "add", "-id", "p2", "-qty", "3")
	require.Equal(t, exitErr, r.code)
	require.Contains(t, r.stderr, "Insufficient stock. Only 1 available. (status 400)")

	r = shop(t, srv, "update", "-id", "p1", "-qty", "3")
	require.Equal(t, exitOK, r.code, r.stderr)
	require.Contains(t, r.stdout, `"quantity": 3`)

	addr := []string{"-street", "1 Main St", "-city", "Springfield", "-state", "IL", "-zip", "62701"}
	r = shop(t, srv, append([]string{"checkout"}, addr...)...)
	require.Equal(t, exitErr, r.code)
	m := secretRe.FindStringSubmatch(r.stdout)
	require.Len(t, m, 2, r.stdout)
	require.Contains(t, r.stdout, "amount 3750")

	r = shop(t, srv, append([]string{"checkout", "-intent", m[1]}, addr...)...)
	require.Equal(t, exitOK, r.code, r.stderr)
	var o model.Order
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &o))
	require.Equal(t, model.StatusPending, o.Status)
	require.Equal(t, 1, srv.Stock("p1"))

	r = shop(t, srv, "cart")
	require.Equal(t, exitOK, r.code)
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &c))
	require.True(t, c.Empty())

	r = shop(t, srv, "orders")
	var list []model.Order
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &list))
	require.Len(t, list, 1)

	r = shop(t, srv, "review", "-id", "p1", "-rating", "5", "-comment", "nice mug")
	require.Equal(t, exitOK, r.code, r.stderr)
	r = shop(t, srv, "reviews", "-id", "p1")
	require.Contains(t, r.stdout, "nice mug")

	// back office
	require.Equal(t, exitOK, shop(t, srv, "login", "-email", "root@b.com", "-password", "rootpass").code)
	r = shop(t, srv, "admin-stats")
	require.Equal(t, exitOK, r.code, r.stderr)
	var d admin.Dashboard
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &d))
	require.Equal(t, admin.Dashboard{TotalProducts: 2, TotalOrders: 1, TotalRevenue: 37.5, PendingOrders: 1}, d)

	r = shop(t, srv, "admin-status", "-id", o.ID, "-status", "shipped")
	require.Equal(t, exitOK, r.code, r.stderr)
	r = shop(t, srv, "admin-orders", "-status", "pending")
	require.Equal(t, "[]\n", r.stdout)

	r = shop(t, srv, "admin-rm-product", "-id", "p2")
	require.Equal(t, exitOK, r.code, r.stderr)
	r = shop(t, srv, "product", "-id", "p2")
	require.Equal(t, exitErr, r.code)
	require.Contains(t, r.stderr, "Product not found (status 404)")
}

func Test_logout_server_failure(t *testing.T) {
	dir := withTmpConfig(t)
	srv := storefront(t)
	r := shop(t, srv, "login", "-email", "a@b.com", "-password", "secret")
	require.Equal(t, exitOK, r.code, r.stderr)

	srv.FailLogout(true)
	r = shop(t, srv, "logout")
	require.Equal(t, exitOK, r.code)
	require.Equal(t, "ok\n", r.stdout)
	require.Equal(t, "warning: logout backend unavailable (status 500)\n", r.stderr)
	_, err := os.Stat(filepath.Join(dir, "token.json"))
	require.True(t, os.IsNotExist(err))
}

func Test_message(t *testing.T) {
	re := &api.RequestError{Method: "GET", Path: "/cart", Status: 404, Detail: "Item not found in cart"}
	require.Equal(t, "Item not found in cart (status 404)", message(fmt.Errorf("update: %w", re)))
	te := &api.TransportError{Method: "GET", Path: "/cart", Err: errors.New("connection refused")}
	require.Equal(t, "cannot reach server: connection refused", message(te))
	require.Equal(t, "boom", message(errors.New("boom")))

	var b bytes.Buffer
	require.Equal(t, exitErr, fail(&b, re))
	require.Equal(t, "error: Item not found in cart (status 404)\n", b.String())
}

func Test_register(t *testing.T) {
	_ = withTmpConfig(t)
	srv := storefront(t)

	r := shop(t, srv, "register", "-email", "a@b.com", "-password", "secret1", "-name", "Dup")
	require.Equal(t, exitErr, r.code)
	require.Contains(t, r.stderr, "Email already registered")

	r = shop(t, srv, "register", "-email", "new@b.com")
	require.Equal(t, exitErr, r.code)
	require.Contains(t, r.stderr, "need -password")

	r = shop(t, srv, "register", "-email", "new@b.com", "-password", "secret1", "-name", "New")
	require.Equal(t, exitOK, r.code, r.stderr)
	require.True(t, strings.Contains(shop(t, srv, "whoami").stdout, "new@b.com"))
}

func Test_unreachable_server(t *testing.T) {
	_ = withTmpConfig(t)
	srv := storefront(t)
	srv.Close()

	r := shop(t, srv, "products")
	require.Equal(t, exitErr, r.code)
	require.Contains(t, r.stderr, "cannot reach server")
}
