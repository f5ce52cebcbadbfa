// Package guard gates page subtrees on the session state.
package guard

import (
	"fmt"
	"strings"

	"github.com/and161185/shopfront/internal/session"
)

// Redirect targets.
const (
	LoginPath = "/login"
	HomePath  = "/"
)

// Outcome of a guard evaluation.
type Outcome int

const (
	// Loading: the startup probe is still pending; render neither content nor a redirect.
	Loading Outcome = iota
	// Allow: render the guarded content.
	Allow
	// Redirect: navigate to Decision.Target.
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Loading:
		return "loading"
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Decision is the result of a guard.
type Decision struct {
	Outcome Outcome
	Target  string // set when Outcome == Redirect
}

func (d Decision) String() string {
	if d.Outcome == Redirect {
		return "redirect " + d.Target
	}
	return d.Outcome.String()
}

// Guard is a stateless predicate over a session snapshot.
type Guard func(session.Snapshot) Decision

// Public always allows.
func Public(session.Snapshot) Decision { return Decision{Outcome: Allow} }

// Auth allows any authenticated identity and sends everyone else to the login view.
func Auth(s session.Snapshot) Decision {
	switch {
	case s.State == session.Unknown:
		return Decision{Outcome: Loading}
	case s.Authenticated():
		return Decision{Outcome: Allow}
	default:
		return Decision{Outcome: Redirect, Target: LoginPath}
	}
}

// Admin allows administrators only. Anonymous users go to the login view;
// authenticated non-admins go home.
func Admin(s session.Snapshot) Decision {
	switch {
	case s.State == session.Unknown:
		return Decision{Outcome: Loading}
	case !s.Authenticated():
		return Decision{Outcome: Redirect, Target: LoginPath}
	case !s.Admin():
		return Decision{Outcome: Redirect, Target: HomePath}
	default:
		return Decision{Outcome: Allow}
	}
}

// Route binds a path pattern to a guard. A trailing "/*" matches the subtree,
// a "{name}" segment matches any single segment.
type Route struct {
	Pattern string
	Guard   Guard
}

// Table is an ordered route list; the first match wins.
type Table []Route

// DefaultTable is the storefront page tree.
var DefaultTable = Table{
	{Pattern: "/", Guard: Public},
	{Pattern: "/products", Guard: Public},
	{Pattern: "/products/{id}", Guard: Public},
	{Pattern: "/login", Guard: Public},
	{Pattern: "/register", Guard: Public},
	{Pattern: "/checkout", Guard: Auth},
	{Pattern: "/orders", Guard: Auth},
	{Pattern: "/admin", Guard: Admin},
	{Pattern: "/admin/*", Guard: Admin},
}

// Evaluate finds the guard for path and applies it. Matching ignores case;
// unknown paths are public.
func (t Table) Evaluate(path string, s session.Snapshot) Decision {
	path = strings.ToLower(path)
	for _, r := range t {
		if match(r.Pattern, path) {
			return r.Guard(s)
		}
	}
	return Public(s)
}

func match(pattern, path string) bool {
	if path == "" {
		path = "/"
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(path, prefix) && len(path) > len(prefix)
	}
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	xs := strings.Split(strings.Trim(path, "/"), "/")
	if len(ps) != len(xs) {
		return false
	}
	for i := range ps {
		if strings.HasPrefix(ps[i], "{") && strings.HasSuffix(ps[i], "}") {
			if xs[i] == "" {
				return false
			}
			continue
		}
		if ps[i] != xs[i] {
			return false
		}
	}
	return true
}
