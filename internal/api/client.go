// Package api is the single point of outbound HTTP communication with the storefront API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	headerRequestID   = "X-Request-ID"
	headerIdempotency = "Idempotency-Key"

	maxBody = 4 << 20
)

// ErrResponseTooLarge is returned for a success body over the 4 MiB read limit.
var ErrResponseTooLarge = errors.New("response body exceeds 4 MiB")

// Client attaches credentials to every request and normalizes failures into
// *RequestError / *TransportError. It never retries and never caches.
type Client struct {
	base      string
	hc        *http.Client
	log       *zap.Logger
	userAgent string

	jar   *sessionJar // nil when the caller supplied its own jar

	mu    sync.RWMutex
	token string
}

// sessionJar is a cookie jar that can be emptied in one step.
type sessionJar struct {
	mu  sync.Mutex
	jar *cookiejar.Jar
}

func newSessionJar() (*sessionJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &sessionJar{jar: jar}, nil
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar.SetCookies(u, cookies)
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}

func (j *sessionJar) reset() {
	fresh, err := cookiejar.New(nil)
	if err != nil {
		return
	}
	j.mu.Lock()
	j.jar = fresh
	j.mu.Unlock()
}

type options struct {
	hc        *http.Client
	log       *zap.Logger
	token     string
	timeout   time.Duration
	userAgent string
	tracing   bool
	tp        trace.TracerProvider
}

// Option configures a Client.
type Option func(*options)

// WithHTTPClient replaces the underlying http.Client. A nil Jar gets a fresh cookie jar.
func WithHTTPClient(hc *http.Client) Option { return func(o *options) { o.hc = hc } }

// WithLogger sets the logger used for per-request metadata lines.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithToken installs an initial bearer token.
func WithToken(tok string) Option { return func(o *options) { o.token = tok } }

// WithTimeout bounds every round trip.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option { return func(o *options) { o.userAgent = ua } }

// WithTracing wraps the transport with otelhttp. A nil provider means the global one.
func WithTracing(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracing = true
		o.tp = tp
	}
}

// New constructs a Client for baseURL (scheme and host required).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q: scheme and host required", baseURL)
	}

	o := options{userAgent: "shopfront"}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}

	hc := o.hc
	if hc == nil {
		hc = &http.Client{}
	} else {
		cp := *hc
		hc = &cp
	}
	var sj *sessionJar
	if hc.Jar == nil {
		sj, err = newSessionJar()
		if err != nil {
			return nil, err
		}
		hc.Jar = sj
	}
	if o.timeout > 0 {
		hc.Timeout = o.timeout
	}
	rt := hc.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	if o.tracing {
		tp := o.tp
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		rt = otelhttp.NewTransport(rt, otelhttp.WithTracerProvider(tp),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "HTTP " + r.Method + " " + r.URL.Path
			}))
	}
	hc.Transport = &loggingTransport{next: rt, log: o.log}

	return &Client{
		base:      strings.TrimRight(u.String(), "/"),
		hc:        hc,
		log:       o.log,
		userAgent: o.userAgent,
		jar:       sj,
		token:     o.token,
	}, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.base }

// SetToken installs a bearer token for subsequent requests.
func (c *Client) SetToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

// Token returns the current bearer token ("" if none).
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ClearToken drops the bearer token and every stored cookie. With a jar from
// WithHTTPClient only cookies visible at the base URL are expired, at Path "/"
// and at the base path, since http.CookieJar does not report cookie paths.
func (c *Client) ClearToken() {
	c.SetToken("")
	if c.jar != nil {
		c.jar.reset()
		return
	}
	if u, err := url.Parse(c.base); err == nil && c.hc.Jar != nil {
		var expired []*http.Cookie
		for _, ck := range c.hc.Jar.Cookies(u) {
			expired = append(expired, &http.Cookie{Name: ck.Name, Value: "", Path: "/", MaxAge: -1})
			if p := strings.TrimRight(u.Path, "/"); p != "" {
				expired = append(expired, &http.Cookie{Name: ck.Name, Value: "", Path: p, MaxAge: -1})
			}
		}
		if len(expired) > 0 {
			c.hc.Jar.SetCookies(u, expired)
		}
	}
}

// Get issues GET path?query and decodes the body into out (may be nil).
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Put issues PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

// Patch issues PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, nil, body, out)
}

// Delete issues DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, out)
}

// PostForm issues POST with an application/x-www-form-urlencoded body.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, out any) error {
	return c.send(ctx, request{
		method:      http.MethodPost,
		path:        path,
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, out)
}

// Do issues method path with an optional JSON body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.send(ctx, c.jsonRequest(method, path, query, body, nil), out)
}

// DoIdempotent is Do with an Idempotency-Key header, for non-replayable creates.
func (c *Client) DoIdempotent(ctx context.Context, method, path string, body, out any) error {
	key, err := uuid.NewV4()
	if err != nil {
		return err
	}
	h := http.Header{}
	h.Set(headerIdempotency, key.String())
	return c.send(ctx, c.jsonRequest(method, path, nil, body, h), out)
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	header      http.Header
	err         error
}

func (c *Client) jsonRequest(method, path string, query url.Values, body any, h http.Header) request {
	r := request{method: method, path: path, query: query, header: h}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			r.err = fmt.Errorf("encode %s %s: %w", method, path, err)
			return r
		}
		r.body = bytes.NewReader(b)
		r.contentType = "application/json"
	}
	return r
}

func (c *Client) send(ctx context.Context, r request, out any) error {
	if r.err != nil {
		return r.err
	}
	target := c.base + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, r.body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", r.method, r.path, err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if id, err := uuid.NewV4(); err == nil {
		req.Header.Set(headerRequestID, id.String())
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransportError{Method: r.method, Path: r.path, Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransportError{Method: r.method, Path: r.path, Err: err}
	}
	tooLarge := len(data) > maxBody
	if tooLarge {
		data = data[:maxBody]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{
			Method: r.method,
			Path:   r.path,
			Status: resp.StatusCode,
			Detail: parseDetail(data),
		}
	}
	if tooLarge {
		return fmt.Errorf("%s %s: %w", r.method, r.path, ErrResponseTooLarge)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.method, r.path, err)
	}
	return nil
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
