// Package session holds the authenticated identity of the client and the
// operations that establish, probe and end it.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/shopfront/internal/errs"
	"github.com/and161185/shopfront/internal/model"
	"github.com/and161185/shopfront/internal/notify"
)

// State is the logical session state.
type State int

const (
	// Unknown: the startup probe has not completed yet.
	Unknown State = iota
	// Authenticated: an Identity is held.
	Authenticated
	// Anonymous: no valid server session.
	Anonymous
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrSuperseded is returned by Login and Register when a later-issued
// operation, such as Logout, finished first. The session is left as that
// operation set it.
var ErrSuperseded = errors.New("session: superseded by a later operation")

// Snapshot is an immutable view of the store.
type Snapshot struct {
	State    State
	Identity *model.Identity // non-nil iff State == Authenticated
}

// Authenticated reports whether an identity is present.
func (s Snapshot) Authenticated() bool { return s.State == Authenticated && s.Identity != nil }

// Admin reports whether the identity carries the administrator flag.
func (s Snapshot) Admin() bool { return s.Authenticated() && s.Identity.IsAdmin }

// Client is the slice of the API client the store needs.
type Client interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	PostForm(ctx context.Context, path string, form url.Values, out any) error
	Token() string
	SetToken(tok string)
	ClearToken()
}

// TokenSink persists bearer tokens between process runs.
type TokenSink interface {
	Save(token string) error
	Clear() error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for state transitions.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// WithTokenSink persists tokens obtained by Login and clears them on Logout.
func WithTokenSink(ts TokenSink) Option { return func(s *Store) { s.sink = ts } }

// Store is the single source of truth for "who is logged in".
// Results are applied in issue order: a response never overwrites the result
// of an operation issued after it.
type Store struct {
	client Client
	sink   TokenSink
	log    *zap.Logger

	mu      sync.RWMutex
	state   State
	ident   model.Identity
	issued  uint64
	applied uint64
	ready   chan struct{}

	changes notify.Broadcaster[Snapshot]
}

// New constructs a Store in the Unknown state.
func New(client Client, opts ...Option) *Store {
	s := &Store{client: client, ready: make(chan struct{})}
	for _, fn := range opts {
		fn(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Snapshot returns the current state; the Identity is a copy.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	if s.state != Authenticated {
		return Snapshot{State: s.state}
	}
	id := s.ident
	return Snapshot{State: Authenticated, Identity: &id}
}

// Subscribe returns a channel receiving every applied snapshot and a cancel func.
func (s *Store) Subscribe() (<-chan Snapshot, func()) { return s.changes.Subscribe() }

// Ready is closed once the store has left Unknown. It never reopens.
func (s *Store) Ready() <-chan struct{} { return s.ready }

func (s *Store) ticket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// apply installs a result unless a later-issued operation already did.
func (s *Store) apply(ticket uint64, st State, id *model.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket < s.applied {
		s.log.Debug("session: stale result dropped", zap.Uint64("ticket", ticket), zap.Uint64("applied", s.applied))
		return false
	}
	s.applied = ticket
	prev := s.state
	s.state = st
	s.ident = model.Identity{}
	if id != nil {
		s.ident = *id
	}
	if prev == Unknown && st != Unknown {
		close(s.ready)
	}
	s.log.Debug("session: state", zap.Stringer("from", prev), zap.Stringer("to", st))
	s.changes.Publish(s.snapshotLocked())
	return true
}

// FetchCurrentUser probes the server session. Any failure means Anonymous, and
// is never returned: "not logged in" is an expected outcome. A cancelled ctx
// leaves the state as it was.
func (s *Store) FetchCurrentUser(ctx context.Context) Snapshot {
	t := s.ticket()

	var id model.Identity
	err := s.client.Get(ctx, "/auth/me", nil, &id)
	if ctx.Err() != nil {
		return s.Snapshot()
	}
	if err != nil {
		s.log.Debug("session: probe failed", zap.Error(err))
		if s.apply(t, Anonymous, nil) && errors.Is(err, errs.ErrUnauthorized) {
			s.dropToken()
		}
		return s.Snapshot()
	}
	s.apply(t, Authenticated, &id)
	return s.Snapshot()
}

// Login exchanges credentials for a session and loads the identity.
// On failure the state is unchanged and the error (a *api.RequestError for
// rejected credentials, a *api.TransportError for network failure) is returned.
func (s *Store) Login(ctx context.Context, email, password string) (model.Identity, error) {
	t := s.ticket()
	return s.login(ctx, t, email, password)
}

func (s *Store) login(ctx context.Context, t uint64, email, password string) (model.Identity, error) {
	prevTok := s.client.Token()

	var tok model.Token
	form := url.Values{"username": {email}, "password": {password}}
	if err := s.client.PostForm(ctx, "/auth/login", form, &tok); err != nil {
		return model.Identity{}, err
	}
	if tok.AccessToken != "" {
		s.client.SetToken(tok.AccessToken)
	}

	var id model.Identity
	if err := s.client.Get(ctx, "/auth/me", nil, &id); err != nil {
		s.restoreToken(prevTok)
		return model.Identity{}, fmt.Errorf("load identity: %w", err)
	}
	if err := ctx.Err(); err != nil {
		s.restoreToken(prevTok)
		return model.Identity{}, err
	}

	if !s.apply(t, Authenticated, &id) {
		s.discardLogin(tok.AccessToken, prevTok)
		return model.Identity{}, ErrSuperseded
	}
	if s.sink != nil && tok.AccessToken != "" {
		if err := s.sink.Save(tok.AccessToken); err != nil {
			s.log.Warn("session: persist token", zap.Error(err))
		}
	}
	return id, nil
}

// restoreToken undoes a half-finished login: the cookies it received are
// dropped and the previous bearer token is put back.
func (s *Store) restoreToken(prev string) {
	s.client.ClearToken()
	if prev != "" {
		s.client.SetToken(prev)
	}
}

// discardLogin undoes a login overtaken by a later operation. After a logout
// nothing of it may survive; after a later login its token is left alone.
func (s *Store) discardLogin(tok, prev string) {
	if !s.Snapshot().Authenticated() {
		s.client.ClearToken()
		return
	}
	if tok != "" && s.client.Token() == tok {
		s.client.SetToken(prev)
	}
}

// Register creates the account and then logs in with the same credentials.
func (s *Store) Register(ctx context.Context, email, password, fullName string) (model.Identity, error) {
	t := s.ticket()
	body := model.Registration{Email: email, Password: password, FullName: fullName}
	if err := s.client.Post(ctx, "/auth/register", body, nil); err != nil {
		return model.Identity{}, err
	}
	return s.login(ctx, t, email, password)
}

// Logout asks the server to end the session, then moves to Anonymous whatever
// the server answered. The server error, if any, is returned for display only.
func (s *Store) Logout(ctx context.Context) error {
	t := s.ticket()
	err := s.client.Post(ctx, "/auth/logout", nil, nil)
	s.dropToken()
	s.apply(t, Anonymous, nil)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (s *Store) dropToken() {
	s.client.ClearToken()
	if s.sink != nil {
		if err := s.sink.Clear(); err != nil {
			s.log.Warn("session: clear token", zap.Error(err))
		}
	}
}
