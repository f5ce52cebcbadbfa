package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_MissingOptionalFileGivesDefaults(t *testing.T) {
	t.Setenv("SHOP_API_URL", "")
	t.Setenv("SHOP_LOG_LEVEL", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), true)
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	require.Equal(t, DefaultTimeout, cfg.API.Timeout)
	require.NoError(t, cfg.Validate())

	_, err = Load(filepath.Join(t.TempDir(), "nope.yaml"), false)
	require.Error(t, err)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: https://shop.example.com/api
  timeout: 5s
  tracing: true
session:
  token_file: /tmp/tok.json
log:
  level: info
`), 0o600))
	t.Setenv("SHOP_TIMEOUT", "7s")
	t.Setenv("SHOP_API_URL", "")

	cfg, err := Load(path, false)
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com/api", cfg.API.BaseURL)
	require.Equal(t, 7*time.Second, cfg.API.Timeout)
	require.True(t, cfg.API.Tracing)
	require.Equal(t, "/tmp/tok.json", cfg.Session.TokenFile)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "shop-cli", cfg.API.UserAgent, "unset keys keep defaults")
}

func TestLoad_BadYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [unterminated"), 0o600))
	_, err := Load(path, false)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"SHOP_API_URL":          "http://127.0.0.1:9000",
		"SHOP_TOKEN_PASSPHRASE": "pp",
		"SHOP_LOG_LEVEL":        "debug",
	})))
	require.Equal(t, "http://127.0.0.1:9000", cfg.API.BaseURL)
	require.Equal(t, "pp", cfg.Session.Passphrase)
	require.Equal(t, "debug", cfg.Log.Level)

	require.Error(t, cfg.ApplyEnv(env(map[string]string{"SHOP_TIMEOUT": "soon"})))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"relative url", func(c *Config) { c.API.BaseURL = "/api" }},
		{"bad scheme", func(c *Config) { c.API.BaseURL = "ftp://x" }},
		{"zero timeout", func(c *Config) { c.API.Timeout = 0 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mut(&cfg)
		require.Error(t, cfg.Validate(), tc.name)
	}
}
