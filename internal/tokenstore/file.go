// Package tokenstore persists the bearer token between CLI invocations.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/shopfront/internal/crypto"
)

// DefaultTTL is assumed when the token carries no exp claim.
const DefaultTTL = 15 * time.Minute

// ErrNoToken means there is no usable token (missing, expired or unreadable).
var ErrNoToken = errors.New("no valid token (login required)")

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// File stores the token as JSON at Path, sealed when Passphrase is set.
type File struct {
	Path       string
	Passphrase []byte

	now func() time.Time
}

// ConfigDir returns $XDG_CONFIG_HOME/shop or ~/.config/shop.
func ConfigDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "shop")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "shop")
}

// DefaultPath is the token file inside ConfigDir.
func DefaultPath() string { return filepath.Join(ConfigDir(), "token.json") }

// New returns a File at path (DefaultPath when empty).
func New(path string, passphrase []byte) *File {
	if path == "" {
		path = DefaultPath()
	}
	return &File{Path: path, Passphrase: passphrase}
}

func (f *File) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}

// Expiry reads the exp claim without verifying the signature; the server is
// the authority on validity, the client only needs to know when to stop sending it.
func Expiry(token string, fallback time.Time) time.Time {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return fallback
	}
	return claims.ExpiresAt.Time
}

// Save writes token with its expiry (mode 0600).
func (f *File) Save(token string) error {
	if token == "" {
		return errors.New("empty token")
	}
	exp := Expiry(token, f.clock().Add(DefaultTTL))
	b, err := json.MarshalIndent(tokenFile{AccessToken: token, ExpiresAt: exp}, "", "  ")
	if err != nil {
		return err
	}
	if len(f.Passphrase) > 0 {
		if b, err = crypto.Seal(f.Passphrase, b); err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(f.Path, b, 0o600)
}

// Load returns the stored token, or ErrNoToken if absent or expired.
func (f *File) Load() (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", err
	}
	if crypto.IsSealed(b) {
		if len(f.Passphrase) == 0 {
			return "", fmt.Errorf("%w: token file is sealed, passphrase required", ErrNoToken)
		}
		if b, err = crypto.Open(f.Passphrase, b); err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoToken, err)
		}
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoToken, err)
	}
	if tf.AccessToken == "" || f.clock().After(tf.ExpiresAt) {
		return "", ErrNoToken
	}
	return tf.AccessToken, nil
}

// Clear removes the token file; a missing file is not an error.
func (f *File) Clear() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
