package main

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/and161185/shopfront/internal/api"
	"github.com/and161185/shopfront/internal/cart"
	"github.com/and161185/shopfront/internal/config"
	"github.com/and161185/shopfront/internal/session"
	"github.com/and161185/shopfront/internal/tokenstore"
)

// app holds the wired collaborators of one CLI invocation.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	api     *api.Client
	tokens  *tokenstore.File
	session *session.Store
	cart    *cart.Store
	out     io.Writer
	errOut  io.Writer
}

func newApp(cfg config.Config, stdout, stderr io.Writer) (*app, error) {
	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	var passphrase []byte
	if cfg.Session.Passphrase != "" {
		passphrase = []byte(cfg.Session.Passphrase)
	}
	tokens := tokenstore.New(cfg.Session.TokenFile, passphrase)

	opts := []api.Option{
		api.WithLogger(log),
		api.WithTimeout(cfg.API.Timeout),
		api.WithUserAgent(cfg.API.UserAgent),
	}
	if cfg.API.Tracing {
		opts = append(opts, api.WithTracing(nil))
	}
	switch tok, err := tokens.Load(); {
	case err == nil:
		opts = append(opts, api.WithToken(tok))
	case !errors.Is(err, tokenstore.ErrNoToken):
		log.Warn("token file unreadable", zap.String("path", tokens.Path), zap.Error(err))
	}

	client, err := api.New(cfg.API.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	log.Debug("client ready", zap.String("base_url", client.BaseURL()), zap.Bool("token", client.Token() != ""))

	return &app{
		cfg:     cfg,
		log:     log,
		api:     client,
		tokens:  tokens,
		session: session.New(client, session.WithLogger(log), session.WithTokenSink(tokens)),
		cart:    cart.New(client, cart.WithLogger(log)),
		out:     stdout,
		errOut:  stderr,
	}, nil
}

// newLogger returns a production logger on stderr, or a nop logger when level is "" or "off".
func newLogger(level string) (*zap.Logger, error) {
	if level == "" || level == "off" {
		return zap.NewNop(), nil
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.Sampling = nil
	return zc.Build()
}
