package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/todocloud-dev/todocloud/internal/idp"
	"github.com/todocloud-dev/todocloud/internal/routes"
	"github.com/todocloud-dev/todocloud/internal/todos"
	"github.com/todocloud-dev/todocloud/internal/userconfig"
)

// NewOpenCmd creates the open command
func NewOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open [path]",
		Short: "Open an application page",
		Long: `Open an application page by path.

Pages under auth/ require a session. Opening one while signed out
asks for credentials and then resumes at the requested page. Unknown
paths land on the landing page; the legacy 'todo' path forwards to
auth/todos.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			path := ""
			if len(args) > 0 {
				path = args[0]
			}

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if path == "" {
				path = routes.Landing
			}

			return openPage(ctx, app, path)
		},
	}

	return cmd
}

// openPage resolves the path, runs it past the guard and renders the
// resulting page. A denial detours through an interactive login, then
// resumes at the page the user originally asked for.
func openPage(ctx context.Context, app *App, path string) error {
	route := app.Table.Resolve(path)

	decision := app.Guard.CanEnter(ctx, route)
	if !decision.Allowed {
		fmt.Printf("Opening %s requires login.\n\n", route.Name)
		if err := promptSignIn(ctx, app); err != nil {
			return err
		}

		// The sign-in consumed the recorded return URL and navigated there
		route = app.Table.Resolve(app.LastRoute())
		decision = app.Guard.CanEnter(ctx, route)
		if !decision.Allowed {
			return fmt.Errorf("access to %s denied after login", route.Name)
		}
		fmt.Println()
	}

	return renderPage(ctx, app, route.Name)
}

// promptSignIn runs an interactive sign-in using environment
// credentials when present
func promptSignIn(ctx context.Context, app *App) error {
	email := os.Getenv("TODOCLOUD_EMAIL")
	password := os.Getenv("TODOCLOUD_PASSWORD")

	var err error
	if email == "" {
		email, err = promptLine("Email")
		if err != nil {
			return err
		}
	}
	if password == "" {
		password, err = promptPassword("Password")
		if err != nil {
			return err
		}
	}

	result, err := app.Service.SignIn(ctx, idp.Credentials{Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if !result.Complete {
		if result.Step == idp.StepConfirmSignUp {
			return fmt.Errorf("account %s is not confirmed yet; run: todocloud confirm --email %s --code <code>", email, email)
		}
		return fmt.Errorf("login incomplete: next step %s", result.Step)
	}

	fmt.Println("✓ Login successful!")
	return nil
}

// renderPage prints the page for the given route name
func renderPage(ctx context.Context, app *App, name string) error {
	switch name {
	case routes.Landing:
		return renderLanding(ctx, app)
	case routes.Login:
		return renderLogin(ctx, app)
	case routes.Dashboard:
		return renderDashboard(ctx, app)
	case routes.Todos:
		return renderTodos(ctx, app)
	case routes.Profile:
		return renderProfile(app)
	case routes.Settings:
		return renderSettings()
	default:
		return fmt.Errorf("no page registered for route %s", name)
	}
}

func renderLanding(ctx context.Context, app *App) error {
	// Public page, but the banner reflects the session once known
	_ = app.Service.WaitReady(ctx)

	fmt.Println("TodoCloud")
	fmt.Println("─────────")
	fmt.Println("A todo list that follows you around.")
	fmt.Println()

	if app.Service.Current().Authenticated {
		fmt.Printf("Logged in as %s\n", app.Service.Current().User.Email)
		fmt.Println("Open your todos with: todocloud open auth/todos")
		return nil
	}

	fmt.Println("Get started:")
	fmt.Println("  todocloud signup        Register an account")
	fmt.Println("  todocloud login         Sign in")
	fmt.Println("  todocloud open todo     Jump to your todo list")
	return nil
}

func renderLogin(ctx context.Context, app *App) error {
	if err := app.Service.WaitReady(ctx); err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}

	if sess := app.Service.Current(); sess.Authenticated {
		fmt.Printf("Already logged in as %s\n", sess.User.Email)
		return nil
	}

	if err := promptSignIn(ctx, app); err != nil {
		return err
	}

	// Login landed somewhere: the consumed return URL or the default route
	if target := app.LastRoute(); target != "" {
		fmt.Println()
		return renderPage(ctx, app, app.Table.Resolve(target).Name)
	}
	return nil
}

func renderDashboard(ctx context.Context, app *App) error {
	sess := app.Service.Current()

	fmt.Printf("Dashboard for %s\n", sess.User.Email)
	fmt.Println("─────────")

	items, err := app.Client.List(ctx, todos.ListFilter{})
	if err != nil {
		return err
	}

	open := 0
	for _, item := range items {
		if !item.Done {
			open++
		}
	}
	fmt.Printf("Todos: %d total, %d pending, %d done\n", len(items), open, len(items)-open)

	if !sess.Expiry.IsZero() {
		fmt.Printf("Session expires: %s\n", sess.Expiry.Local().Format("15:04:05"))
	}

	fmt.Println()
	fmt.Println("  todocloud open auth/todos     Your todo list")
	fmt.Println("  todocloud open auth/profile   Your profile")
	fmt.Println("  todocloud open auth/settings  Preferences")
	return nil
}

func renderTodos(ctx context.Context, app *App) error {
	sess := app.Service.Current()

	fmt.Printf("Todos for %s\n", sess.User.Email)
	fmt.Println("─────")

	items, err := app.Client.List(ctx, todos.ListFilter{})
	if err != nil {
		return err
	}

	if len(items) == 0 {
		fmt.Println("Nothing here yet. Add one with: todocloud todos add <content>")
		return nil
	}

	for _, item := range items {
		mark := " "
		if item.Done {
			mark = "x"
		}
		fmt.Printf("  [%s] %s  (%s)\n", mark, item.Content, item.ID)
	}
	return nil
}

func renderProfile(app *App) error {
	sess := app.Service.Current()

	fmt.Printf("Profile for %s\n", sess.User.Email)
	fmt.Println("───────")
	fmt.Printf("Name:   %s\n", sess.User.Name)
	fmt.Printf("Email:  %s\n", sess.User.Email)
	if len(sess.User.Groups) > 0 {
		fmt.Printf("Groups: %s\n", strings.Join(sess.User.Groups, ", "))
	}
	if app.Service.HasRole("admin") {
		fmt.Println("Role:   Admin")
	}
	return nil
}

func renderSettings() error {
	fmt.Println("Settings")
	fmt.Println("────────")

	cfg, err := userconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	for _, key := range userconfig.Keys() {
		value, err := cfg.Get(key)
		if err != nil {
			return err
		}
		if value == "" {
			value = "(not set)"
		}
		fmt.Printf("  %s = %s\n", key, value)
	}

	fmt.Println()
	fmt.Println("Change one with: todocloud settings set <key> <value>")
	return nil
}
