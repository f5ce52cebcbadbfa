// Command shop is a CLI client for the storefront API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/and161185/shopfront/internal/api"
	"github.com/and161185/shopfront/internal/config"
	"github.com/and161185/shopfront/internal/errs"
	"github.com/and161185/shopfront/internal/guard"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const usageText = `shop CLI
Usage:
  shop [-addr URL] [-config file] [-timeout d] [-verbose] <cmd> [args]

Commands:
  version
  register          -email <e> -password <p> -name <full name>
  login             -email <e> -password <p>         (saves token)
  logout
  whoami
  products          [-search s] [-category c] [-min n] [-max n] [-limit n]
  product           -id <product>
  reviews           -id <product>
  review            -id <product> -rating 1..5 -comment <text>
  cart
  add               -id <product> [-qty n]
  update            -id <product> -qty n
  rm                -id <product>
  checkout          -intent <pi_id> -street s -city c -state s -zip z -country c
  orders
  admin-stats
  admin-orders      [-status s]
  admin-status      -id <order> -status s
  admin-rm-product  -id <product>
`

// exit codes
const (
	exitOK    = 0
	exitErr   = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run parses global flags, wires the stores, runs the startup probe, applies
// the route guard of the command and dispatches it.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("shop", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "", "API base URL (overrides config)")
	cfgPath := fs.String("config", "", "config file (default "+config.DefaultPath()+")")
	timeout := fs.Duration("timeout", 0, "per-request timeout (overrides config)")
	verbose := fs.Bool("verbose", false, "debug logging to stderr")
	fs.Usage = func() { fmt.Fprint(stderr, usageText) }
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return exitUsage
	}
	name := fs.Arg(0)

	if name == "version" {
		fmt.Fprintf(stdout, "shop %s (%s)\n", version, buildDate)
		return exitOK
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		fs.Usage()
		return exitUsage
	}

	cfg, err := loadConfig(*cfgPath, *addr, *timeout)
	if err != nil {
		return fail(stderr, err)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	a, err := newApp(cfg, stdout, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer func() { _ = a.log.Sync() }()

	snap := a.session.FetchCurrentUser(ctx)
	switch d := guard.DefaultTable.Evaluate(cmd.route, snap); d.Outcome {
	case guard.Allow:
	case guard.Redirect:
		if d.Target == guard.LoginPath {
			return fail(stderr, errs.ErrNotAuthenticated)
		}
		return fail(stderr, errs.ErrForbidden)
	default:
		return fail(stderr, errors.New("session probe did not finish"))
	}

	if err := cmd.run(ctx, a, fs.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitUsage
		}
		return fail(stderr, err)
	}
	return exitOK
}

func loadConfig(path, addr string, timeout time.Duration) (config.Config, error) {
	optional := path == ""
	if optional {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		return cfg, err
	}
	if addr != "" {
		cfg.API.BaseURL = addr
	}
	if timeout > 0 {
		cfg.API.Timeout = timeout
	}
	return cfg, cfg.Validate()
}

// ---- helpers ----

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// fail prints err the way a user should see it and returns the exit code.
func fail(w io.Writer, err error) int {
	var re *api.RequestError
	switch {
	case errors.Is(err, errs.ErrNotAuthenticated):
		fmt.Fprintln(w, "login required")
	case errors.Is(err, errs.ErrForbidden) && !errors.As(err, &re):
		fmt.Fprintln(w, "admin only")
	case errors.As(err, new(*api.TransportError)):
		fmt.Fprintln(w, message(err))
	default:
		fmt.Fprintln(w, "error:", message(err))
	}
	return exitErr
}

// message renders err for display, with the HTTP status for server rejections.
func message(err error) string {
	var (
		re *api.RequestError
		te *api.TransportError
	)
	switch {
	case errors.As(err, &re):
		return fmt.Sprintf("%s (status %d)", re.Message(), re.Status)
	case errors.As(err, &te):
		return fmt.Sprintf("cannot reach server: %v", te.Err)
	}
	return err.Error()
}
