// Package routes defines the application's navigation surface and the
// guard that keeps unauthenticated users out of protected pages.
package routes

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Route names. Everything under auth/ requires a session.
const (
	Landing   = "landing"
	Login     = "login"
	Dashboard = "auth/dashboard"
	Todos     = "auth/todos"
	Profile   = "auth/profile"
	Settings  = "auth/settings"
)

// maxRedirects bounds alias chains so a cyclic table cannot hang Resolve
const maxRedirects = 8

// Route is one entry in the navigation table
type Route struct {
	Name         string
	RequiresAuth bool
	// RedirectTo marks the route as an alias for another entry
	RedirectTo string
}

// Table maps route names to their definitions
type Table struct {
	routes   map[string]Route
	catchAll string
}

// NewTable creates an empty table whose unknown paths resolve to catchAll
func NewTable(catchAll string) *Table {
	return &Table{
		routes:   make(map[string]Route),
		catchAll: catchAll,
	}
}

// Add registers a route
func (t *Table) Add(r Route) {
	t.routes[r.Name] = r
}

// DefaultTable returns the application's navigation table: landing and
// login are public, the auth/ pages are guarded, the legacy todo path
// forwards to auth/todos, and anything unknown lands on the landing page.
func DefaultTable() *Table {
	t := NewTable(Landing)
	t.Add(Route{Name: Landing})
	t.Add(Route{Name: Login})
	t.Add(Route{Name: Dashboard, RequiresAuth: true})
	t.Add(Route{Name: Todos, RequiresAuth: true})
	t.Add(Route{Name: Profile, RequiresAuth: true})
	t.Add(Route{Name: Settings, RequiresAuth: true})
	t.Add(Route{Name: "todo", RedirectTo: Todos})
	return t
}

// Resolve normalizes a path, follows redirects and falls back to the
// catch-all for anything unknown
func (t *Table) Resolve(path string) Route {
	name := strings.Trim(strings.TrimSpace(path), "/")
	if name == "" {
		name = t.catchAll
	}

	for i := 0; i < maxRedirects; i++ {
		route, ok := t.routes[name]
		if !ok {
			name = t.catchAll
			continue
		}
		if route.RedirectTo == "" {
			return route
		}
		name = route.RedirectTo
	}
	return t.routes[t.catchAll]
}

// Names returns all registered route names, aliases included
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.routes))
	for name := range t.routes {
		names = append(names, name)
	}
	return names
}

// SessionChecker is the slice of the auth service the guard needs
type SessionChecker interface {
	// WaitReady blocks until the startup session check completed
	WaitReady(ctx context.Context) error

	// CheckStatus revalidates the session with the provider
	CheckStatus(ctx context.Context) bool

	// SetReturnURL records where to resume after login
	SetReturnURL(url string)
}

// Decision is the guard's verdict for one navigation
type Decision struct {
	Allowed    bool
	RedirectTo string
}

// Guard admits or denies navigation into guarded routes
type Guard struct {
	auth SessionChecker
	log  zerolog.Logger
}

// NewGuard creates a guard over the given session source
func NewGuard(auth SessionChecker, log zerolog.Logger) *Guard {
	return &Guard{
		auth: auth,
		log:  log.With().Str("component", "guard").Logger(),
	}
}

// CanEnter decides whether the route may be entered. Guarded routes
// wait for the startup check, then revalidate the session; a denial
// records the attempted destination and redirects to login.
func (g *Guard) CanEnter(ctx context.Context, route Route) Decision {
	if !route.RequiresAuth {
		return Decision{Allowed: true}
	}

	if err := g.auth.WaitReady(ctx); err != nil {
		g.log.Debug().Err(err).Str("route", route.Name).Msg("session check unavailable; denying")
		g.auth.SetReturnURL(route.Name)
		return Decision{RedirectTo: Login}
	}

	if g.auth.CheckStatus(ctx) {
		return Decision{Allowed: true}
	}

	g.log.Debug().Str("route", route.Name).Msg("navigation denied; login required")
	g.auth.SetReturnURL(route.Name)
	return Decision{RedirectTo: Login}
}
