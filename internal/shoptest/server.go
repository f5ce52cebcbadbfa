// Package shoptest runs an in-memory storefront API for tests. It follows the
// REST contract and status codes of the real backend closely enough for the
// stores, the checkout flow and the CLI to be exercised end to end.
package shoptest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/shopfront/internal/crypto"
	"github.com/and161185/shopfront/internal/model"
)

const (
	cookieName = "access_token"
	tokenTTL   = 30 * time.Minute
)

type user struct {
	model.Identity
	password []byte
}

type line struct {
	productID string
	quantity  int
}

// Server is the fake storefront. Zero value is not usable; call New.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	key        []byte
	users      map[string]*user // by email
	products   map[string]*model.Product
	carts      map[string][]line // by user id
	reviews    map[string][]model.Review
	orders     []model.Order
	intents    map[string]string // intent id -> user id
	idem       map[string]string // idempotency key -> order id
	revoked    map[string]bool
	failLogout bool
	hook       func(r *http.Request)
	requests   []string
}

// New starts a server and registers its shutdown with t.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		key:      []byte("shoptest-signing-key"),
		users:    map[string]*user{},
		products: map[string]*model.Product{},
		carts:    map[string][]line{},
		reviews:  map[string][]model.Review{},
		intents:  map[string]string{},
		idem:     map[string]string{},
		revoked:  map[string]bool{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.register)
		r.Post("/login", s.login)
		r.Post("/logout", s.logout)
		r.Get("/me", s.authed(s.me))
	})
	r.Route("/products", func(r chi.Router) {
		r.Get("/", s.listProducts)
		r.Get("/{id}", s.getProduct)
		r.Get("/{id}/reviews", s.listReviews)
		r.Post("/{id}/reviews", s.authed(s.addReview))
	})
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", s.authed(s.getCart))
		r.Post("/items", s.authed(s.addItem))
		r.Put("/items/{id}", s.authed(s.updateItem))
		r.Delete("/items/{id}", s.authed(s.removeItem))
	})
	r.Route("/orders", func(r chi.Router) {
		r.Post("/create-payment-intent", s.authed(s.createIntent))
		r.Post("/", s.authed(s.createOrder))
		r.Get("/my-orders", s.authed(s.myOrders))
	})
	r.Route("/admin", func(r chi.Router) {
		r.Get("/orders", s.admin(s.allOrders))
		r.Patch("/orders/{id}/status", s.admin(s.setStatus))
		r.Delete("/products/{id}", s.admin(s.deleteProduct))
	})
	return r
}

// --- fixtures and fault injection ---

// AddUser creates an account directly.
func (s *Server) AddUser(email, password, fullName string, admin bool) model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &user{
		Identity: model.Identity{ID: newID(), Email: email, FullName: fullName, IsAdmin: admin},
		password: []byte(password),
	}
	s.users[email] = u
	return u.Identity
}

// AddProduct inserts p, assigning an id when empty.
func (s *Server) AddProduct(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := p
	s.products[p.ID] = &cp
	return p
}

// Stock returns the current stock of a product.
func (s *Server) Stock(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[productID]; ok {
		return p.StockQuantity
	}
	return 0
}

// FailLogout makes /auth/logout answer 500 (the session is still revoked).
func (s *Server) FailLogout(v bool) {
	s.mu.Lock()
	s.failLogout = v
	s.mu.Unlock()
}

// SetHook installs a func run before every handler, outside the server lock.
func (s *Server) SetHook(fn func(r *http.Request)) {
	s.mu.Lock()
	s.hook = fn
	s.mu.Unlock()
}

// Requests returns "METHOD /path" for every request served so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// IssueToken returns a valid bearer token for email.
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return ""
	}
	tok, _ := s.sign(u.ID)
	return tok
}

// --- middleware ---

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		hook := s.hook
		s.mu.Unlock()
		if hook != nil {
			hook(r)
		}
		next.ServeHTTP(w, r)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, u *user)

func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		u, err := s.userFromRequest(r)
		if err != nil {
			writeErr(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		h(w, r, u)
	}
}

func (s *Server) admin(h authedHandler) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, u *user) {
		if !u.IsAdmin {
			writeErr(w, http.StatusForbidden, "Not enough permissions")
			return
		}
		h(w, r, u)
	})
}

func (s *Server) userFromRequest(r *http.Request) (*user, error) {
	tok := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		tok = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	} else if c, err := r.Cookie(cookieName); err == nil {
		tok = c.Value
	}
	if tok == "" || s.revoked[tok] {
		return nil, errors.New("no token")
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.key, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	for _, u := range s.users {
		if u.ID == claims.Subject {
			return u, nil
		}
	}
	return nil, errors.New("unknown subject")
}

func (s *Server) sign(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        newID(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// --- auth ---

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in model.Registration
	if !decode(w, r, &in) {
		return
	}
	if !strings.Contains(in.Email, "@") || len(in.Password) < 6 || strings.TrimSpace(in.FullName) == "" {
		writeErr(w, http.StatusUnprocessableEntity, "invalid registration data")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[in.Email]; exists {
		writeErr(w, http.StatusBadRequest, "Email already registered")
		return
	}
	u := &user{
		Identity: model.Identity{ID: newID(), Email: in.Email, FullName: in.FullName},
		password: []byte(in.Password),
	}
	s.users[in.Email] = u
	writeJSON(w, http.StatusCreated, u.Identity)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErr(w, http.StatusUnprocessableEntity, "invalid form")
		return
	}
	email, password := r.PostForm.Get("username"), r.PostForm.Get("password")

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok || !crypto.Equal(u.password, []byte(password)) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeErr(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	tok, err := s.sign(u.ID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "token")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: tok, Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, model.Token{AccessToken: tok, TokenType: "bearer"})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		s.revoked[strings.TrimPrefix(h, "Bearer ")] = true
	}
	if c, err := r.Cookie(cookieName); err == nil {
		s.revoked[c.Value] = true
	}
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: "", Path: "/", MaxAge: -1})
	if s.failLogout {
		writeErr(w, http.StatusInternalServerError, "logout backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (s *Server) me(w http.ResponseWriter, _ *http.Request, u *user) {
	writeJSON(w, http.StatusOK, u.Identity)
}

// --- catalog ---

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 20
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeErr(w, http.StatusUnprocessableEntity, "limit must be 1..1000")
			return
		}
		limit = n
	}
	minP, _ := strconv.ParseFloat(q.Get("min_price"), 64)
	maxP, _ := strconv.ParseFloat(q.Get("max_price"), 64)
	search := strings.ToLower(q.Get("search"))
	category := q.Get("category")

	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []model.Product
	for _, p := range s.products {
		switch {
		case category != "" && p.Category != category:
		case minP > 0 && p.Price < minP:
		case maxP > 0 && p.Price > maxP:
		case search != "" && !strings.Contains(strings.ToLower(p.Name+" "+p.Description), search):
		default:
			matched = append(matched, *p)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	page := model.ProductPage{Products: matched, Total: len(matched)}
	if len(page.Products) > limit {
		page.Products = page.Products[:limit]
	}
	if page.Products == nil {
		page.Products = []model.Product{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[chi.URLParam(r, "id")]
	if !ok {
		writeErr(w, http.StatusNotFound, "Product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := chi.URLParam(r, "id")
	if _, ok := s.products[id]; !ok {
		writeErr(w, http.StatusNotFound, "Product not found")
		return
	}
	out := append([]model.Review{}, s.reviews[id]...)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) addReview(w http.ResponseWriter, r *http.Request, u *user) {
	var in model.ReviewInput
	if !decode(w, r, &in) {
		return
	}
	id := chi.URLParam(r, "id")
	p, ok := s.products[id]
	if !ok {
		writeErr(w, http.StatusNotFound, "Product not found")
		return
	}
	if in.Rating < 1 || in.Rating > 5 || in.Comment == "" {
		writeErr(w, http.StatusUnprocessableEntity, "invalid review")
		return
	}
	for _, rv := range s.reviews[id] {
		if rv.UserID == u.ID {
			writeErr(w, http.StatusBadRequest, "You have already reviewed this product")
			return
		}
	}
	rv := model.Review{
		ID: newID(), ProductID: id, UserID: u.ID, UserEmail: u.Email,
		Rating: in.Rating, Comment: in.Comment, CreatedAt: time.Now().UTC(),
	}
	s.reviews[id] = append(s.reviews[id], rv)

	sum := 0
	for _, x := range s.reviews[id] {
		sum += x.Rating
	}
	p.ReviewCount = len(s.reviews[id])
	p.AvgRating = float64(sum) / float64(p.ReviewCount)
	writeJSON(w, http.StatusCreated, rv)
}

// --- cart ---

func (s *Server) populated(u *user) model.Cart {
	c := model.Cart{ID: "cart-" + u.ID, UserID: u.ID, Items: []model.CartItem{}}
	for _, l := range s.carts[u.ID] {
		it := model.CartItem{ProductID: l.productID, Quantity: l.quantity}
		if p, ok := s.products[l.productID]; ok {
			it.Product = &model.ProductInCart{
				ID: p.ID, Name: p.Name, Price: p.Price, ImageURL: p.ImageURL, StockQuantity: p.StockQuantity,
			}
			c.Total += p.Price * float64(l.quantity)
		}
		c.Items = append(c.Items, it)
	}
	return c
}

func (s *Server) getCart(w http.ResponseWriter, _ *http.Request, u *user) {
	writeJSON(w, http.StatusOK, s.populated(u))
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request, u *user) {
	var in model.AddCartItem
	if !decode(w, r, &in) {
		return
	}
	if in.Quantity <= 0 {
		writeErr(w, http.StatusUnprocessableEntity, "quantity must be greater than 0")
		return
	}
	p, ok := s.products[in.ProductID]
	if !ok {
		writeErr(w, http.StatusNotFound, "Product not found")
		return
	}
	lines := s.carts[u.ID]
	for i := range lines {
		if lines[i].productID == in.ProductID {
			if p.StockQuantity < lines[i].quantity+in.Quantity {
				writeErr(w, http.StatusBadRequest, insufficient(p))
				return
			}
			lines[i].quantity += in.Quantity
			writeJSON(w, http.StatusCreated, s.populated(u))
			return
		}
	}
	if p.StockQuantity < in.Quantity {
		writeErr(w, http.StatusBadRequest, insufficient(p))
		return
	}
	s.carts[u.ID] = append(lines, line{productID: in.ProductID, quantity: in.Quantity})
	writeJSON(w, http.StatusCreated, s.populated(u))
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request, u *user) {
	var in model.UpdateCartItem
	if !decode(w, r, &in) {
		return
	}
	if in.Quantity <= 0 {
		writeErr(w, http.StatusUnprocessableEntity, "quantity must be greater than 0")
		return
	}
	id := chi.URLParam(r, "id")
	p, ok := s.products[id]
	if !ok {
		writeErr(w, http.StatusNotFound, "Product not found")
		return
	}
	if p.StockQuantity < in.Quantity {
		writeErr(w, http.StatusBadRequest, insufficient(p))
		return
	}
	lines := s.carts[u.ID]
	for i := range lines {
		if lines[i].productID == id {
			lines[i].quantity = in.Quantity
			writeJSON(w, http.StatusOK, s.populated(u))
			return
		}
	}
	writeErr(w, http.StatusNotFound, "Item not found in cart")
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request, u *user) {
	id := chi.URLParam(r, "id")
	lines := s.carts[u.ID]
	kept := lines[:0]
	for _, l := range lines {
		if l.productID != id {
			kept = append(kept, l)
		}
	}
	if len(kept) == len(lines) {
		writeErr(w, http.StatusNotFound, "Item not found in cart")
		return
	}
	s.carts[u.ID] = kept
	writeJSON(w, http.StatusOK, s.populated(u))
}

func insufficient(p *model.Product) string {
	return fmt.Sprintf("Insufficient stock. Only %d available.", p.StockQuantity)
}

// --- orders ---

func (s *Server) createIntent(w http.ResponseWriter, r *http.Request, u *user) {
	var in struct {
		Amount int64 `json:"amount"`
	}
	if !decode(w, r, &in) {
		return
	}
	c := s.populated(u)
	if len(c.Items) == 0 {
		writeErr(w, http.StatusBadRequest, "Cart is empty")
		return
	}
	id := "pi_" + strings.ReplaceAll(newID(), "-", "")
	s.intents[id] = u.ID
	writeJSON(w, http.StatusOK, model.PaymentIntent{ClientSecret: id + "_secret", Amount: in.Amount})
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request, u *user) {
	var in model.OrderInput
	if !decode(w, r, &in) {
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if id, ok := s.idem[key]; ok && key != "" {
		for _, o := range s.orders {
			if o.ID == id {
				writeJSON(w, http.StatusCreated, o)
				return
			}
		}
	}
	if owner, ok := s.intents[in.PaymentIntentID]; !ok || owner != u.ID {
		writeErr(w, http.StatusBadRequest, "Payment not confirmed")
		return
	}
	c := s.populated(u)
	if len(c.Items) == 0 {
		writeErr(w, http.StatusBadRequest, "Cart is empty")
		return
	}
	o := model.Order{
		ID: newID(), UserID: u.ID, UserEmail: u.Email, TotalAmount: c.Total,
		ShippingAddress: in.ShippingAddress, Status: model.StatusPending,
		StripePaymentIntentID: in.PaymentIntentID, CreatedAt: time.Now().UTC(),
	}
	for _, it := range c.Items {
		oi := model.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity}
		if p, ok := s.products[it.ProductID]; ok {
			oi.ProductName, oi.Price = p.Name, p.Price
			p.StockQuantity -= it.Quantity
		}
		o.Items = append(o.Items, oi)
	}
	delete(s.intents, in.PaymentIntentID)
	delete(s.carts, u.ID)
	s.orders = append(s.orders, o)
	if key != "" {
		s.idem[key] = o.ID
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) myOrders(w http.ResponseWriter, _ *http.Request, u *user) {
	out := []model.Order{}
	for _, o := range s.orders {
		if o.UserID == u.ID {
			out = append(out, o)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) allOrders(w http.ResponseWriter, _ *http.Request, _ *user) {
	writeJSON(w, http.StatusOK, append([]model.Order{}, s.orders...))
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request, _ *user) {
	var in model.StatusUpdate
	if !decode(w, r, &in) {
		return
	}
	if !model.ValidOrderStatus(in.Status) {
		writeErr(w, http.StatusUnprocessableEntity, "invalid status")
		return
	}
	id := chi.URLParam(r, "id")
	for i := range s.orders {
		if s.orders[i].ID == id {
			s.orders[i].Status = in.Status
			writeJSON(w, http.StatusOK, s.orders[i])
			return
		}
	}
	writeErr(w, http.StatusNotFound, "Order not found")
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request, _ *user) {
	id := chi.URLParam(r, "id")
	if _, ok := s.products[id]; !ok {
		writeErr(w, http.StatusNotFound, "Product not found")
		return
	}
	delete(s.products, id)
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func newID() string { return uuid.Must(uuid.NewV4()).String() }

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "invalid body: " + err.Error()}},
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
