package guard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/shopfront/internal/model"
	"github.com/and161185/shopfront/internal/session"
)

var (
	unknown   = session.Snapshot{State: session.Unknown}
	anonymous = session.Snapshot{State: session.Anonymous}
	customer  = session.Snapshot{State: session.Authenticated, Identity: &model.Identity{ID: "u1", Email: "a@b.com"}}
	admin     = session.Snapshot{State: session.Authenticated, Identity: &model.Identity{ID: "u2", Email: "root@b.com", IsAdmin: true}}
)

func TestAuth(t *testing.T) {
	t.Parallel()
	require.Equal(t, Decision{Outcome: Loading}, Auth(unknown))
	require.Equal(t, Decision{Outcome: Redirect, Target: LoginPath}, Auth(anonymous))
	require.Equal(t, Decision{Outcome: Allow}, Auth(customer))
	require.Equal(t, Decision{Outcome: Allow}, Auth(admin))
}

func TestAdmin(t *testing.T) {
	t.Parallel()
	require.Equal(t, Decision{Outcome: Loading}, Admin(unknown))
	require.Equal(t, Decision{Outcome: Redirect, Target: LoginPath}, Admin(anonymous))
	require.Equal(t, Decision{Outcome: Redirect, Target: HomePath}, Admin(customer))
	require.Equal(t, Decision{Outcome: Allow}, Admin(admin))
}

func TestPublic(t *testing.T) {
	t.Parallel()
	for _, s := range []session.Snapshot{unknown, anonymous, customer, admin} {
		require.Equal(t, Allow, Public(s).Outcome)
	}
}

func TestDefaultTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path string
		snap session.Snapshot
		want string
	}{
		{"/", unknown, "allow"},
		{"/products/p1", anonymous, "allow"},
		{"/login", anonymous, "allow"},
		{"/checkout", unknown, "loading"},
		{"/checkout", anonymous, "redirect /login"},
		{"/orders", customer, "allow"},
		{"/admin", customer, "redirect /"},
		{"/admin/orders", anonymous, "redirect /login"},
		{"/admin/orders/o1", admin, "allow"},
		{"/admin/", unknown, "loading"},
		{"/administrator", anonymous, "allow"},
		{"/nowhere", anonymous, "allow"},
		{"/Admin/orders", anonymous, "redirect /login"},
		{"/ADMIN", customer, "redirect /"},
		{"/Checkout", anonymous, "redirect /login"},
	}
	for _, tt := range tests {
		t.Run(tt.path+" "+tt.snap.State.String(), func(t *testing.T) {
			require.Equal(t, tt.want, DefaultTable.Evaluate(tt.path, tt.snap).String())
		})
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()
	require.True(t, match("/", ""))
	require.True(t, match("/products/{id}", "/products/abc"))
	require.False(t, match("/products/{id}", "/products/"))
	require.False(t, match("/products/{id}", "/products/a/b"))
	require.True(t, match("/admin/*", "/admin/x/y"))
	require.False(t, match("/admin/*", "/admin/"))
	require.False(t, match("/admin/*", "/admin"))
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()
	require.Equal(t, "Outcome(7)", Outcome(7).String())
}
