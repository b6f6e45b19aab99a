package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/todocloud-dev/todocloud/internal/auth"
	"github.com/todocloud-dev/todocloud/internal/config"
	"github.com/todocloud-dev/todocloud/internal/idp"
	"github.com/todocloud-dev/todocloud/internal/idp/cognito"
	"github.com/todocloud-dev/todocloud/internal/idp/local"
	"github.com/todocloud-dev/todocloud/internal/idp/tokenstore"
	"github.com/todocloud-dev/todocloud/internal/logger"
	"github.com/todocloud-dev/todocloud/internal/routes"
	"github.com/todocloud-dev/todocloud/internal/session"
	"github.com/todocloud-dev/todocloud/internal/todos"
	"github.com/todocloud-dev/todocloud/internal/transport"
	"github.com/todocloud-dev/todocloud/internal/userconfig"
)

// App wires the full client stack for one CLI invocation: provider,
// session service, intercepting HTTP client, data client and route
// guard, all sharing one session store.
type App struct {
	Config   *config.Config
	UserCfg  *userconfig.UserConfig
	Log      zerolog.Logger
	Sessions *session.Store
	Provider idp.Provider
	Service  *auth.Service
	Client   *todos.Client
	Table    *routes.Table
	Guard    *routes.Guard

	mu        sync.Mutex
	lastRoute string
}

// newApp loads configuration and assembles the stack
func newApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()

	userCfg, err := userconfig.Load()
	if err != nil {
		log.Warn().Err(err).Msg("failed to load user settings; using defaults")
		userCfg = &userconfig.UserConfig{}
	}

	apiURL := cfg.API.BaseURL
	if userCfg.APIURL != "" {
		apiURL = userCfg.APIURL
	}

	tokens := tokenstore.NewKeyring()

	var provider idp.Provider
	switch cfg.Provider.Kind {
	case "cognito":
		provider, err = cognito.New(ctx, cfg.Provider.Cognito, tokens, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize identity provider: %w", err)
		}
	default:
		provider = local.New(apiURL, tokens, log)
	}

	app := &App{
		Config:   cfg,
		UserCfg:  userCfg,
		Log:      log,
		Sessions: session.NewStore(),
		Provider: provider,
	}

	defaultRoute := routes.Dashboard
	if userCfg.DefaultRoute != "" {
		defaultRoute = userCfg.DefaultRoute
	}

	app.Service = auth.New(provider, app.Sessions, log,
		auth.WithRefreshInterval(cfg.Session.RefreshInterval),
		auth.WithReadyTimeout(cfg.Session.ReadyTimeout),
		auth.WithRoutes(defaultRoute, routes.Login),
		auth.WithNavigate(app.navigate),
	)

	httpClient := transport.NewHTTPClient(app.Service, log)
	app.Client = todos.NewClient(apiURL, httpClient, log)
	app.Client.SetTokenFunc(app.Service.GetAccessToken)

	app.Table = routes.DefaultTable()
	app.Guard = routes.NewGuard(app.Service, log)

	return app, nil
}

// Close releases background work owned by the app
func (a *App) Close() {
	a.Service.Close()
}

// navigate records where the session service last sent us
func (a *App) navigate(route string) {
	a.mu.Lock()
	a.lastRoute = route
	a.mu.Unlock()
	a.Log.Debug().Str("route", route).Msg("navigate")
}

// LastRoute returns the most recent navigation target
func (a *App) LastRoute() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRoute
}
