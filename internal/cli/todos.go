package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/todocloud-dev/todocloud/internal/todos"
)

// NewTodosCmd creates the todos command group
func NewTodosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "todos",
		Short: "Manage your todo list",
	}

	cmd.AddCommand(
		newTodosListCmd(),
		newTodosAddCmd(),
		newTodosDoneCmd(),
		newTodosRemoveCmd(),
		newTodosWatchCmd(),
	)

	return cmd
}

// requireAuth waits for the session check and fails with a login hint
// when no user is signed in
func requireAuth(ctx context.Context, app *App) error {
	if err := app.Service.WaitReady(ctx); err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}
	if !app.Service.Current().Authenticated {
		return fmt.Errorf("not logged in. Run: todocloud login")
	}
	return nil
}

func newTodosListCmd() *cobra.Command {
	var done, pending bool
	var search string

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List todos",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if done && pending {
				return fmt.Errorf("--done and --pending are mutually exclusive")
			}

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := requireAuth(ctx, app); err != nil {
				return err
			}

			filter := todos.ListFilter{Search: search}
			if done {
				v := true
				filter.Done = &v
			}
			if pending {
				v := false
				filter.Done = &v
			}

			items, err := app.Client.List(ctx, filter)
			if err != nil {
				return err
			}

			if app.UserCfg.Output == "json" {
				data, err := json.MarshalIndent(items, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal todos: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			if len(items) == 0 {
				fmt.Println("No todos found.")
				fmt.Println("\nAdd one with: todocloud todos add <content>")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tCONTENT\tCREATED AT")
			fmt.Fprintln(w, "──\t─────\t───────\t──────────")

			for _, item := range items {
				state := "pending"
				if item.Done {
					state = "done"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					item.ID,
					state,
					item.Content,
					item.CreatedAt.Local().Format("2006-01-02 15:04"),
				)
			}

			w.Flush()

			return nil
		},
	}

	cmd.Flags().BoolVar(&done, "done", false, "Show only completed todos")
	cmd.Flags().BoolVar(&pending, "pending", false, "Show only pending todos")
	cmd.Flags().StringVarP(&search, "search", "s", "", "Filter by content substring")

	return cmd
}

func newTodosAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Add a todo",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			content := strings.Join(args, " ")

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := requireAuth(ctx, app); err != nil {
				return err
			}

			item, err := app.Client.Create(ctx, content)
			if err != nil {
				return err
			}

			fmt.Printf("✓ Added: %s (%s)\n", item.Content, item.ID)
			return nil
		},
	}

	return cmd
}

func newTodosDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Toggle a todo between done and pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := requireAuth(ctx, app); err != nil {
				return err
			}

			item, err := app.Client.Toggle(ctx, args[0])
			if err != nil {
				return err
			}

			state := "pending"
			if item.Done {
				state = "done"
			}
			fmt.Printf("✓ %s is now %s\n", item.Content, state)
			return nil
		},
	}

	return cmd
}

func newTodosRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a todo",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := requireAuth(ctx, app); err != nil {
				return err
			}

			if err := app.Client.Delete(ctx, args[0]); err != nil {
				return err
			}

			fmt.Printf("✓ Deleted %s\n", args[0])
			return nil
		},
	}

	return cmd
}

func newTodosWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live changes to your todo list",
		Long: `Stream live changes to your todo list.

Changes made from any session are printed as they happen.
Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := requireAuth(ctx, app); err != nil {
				return err
			}

			events, err := app.Client.Observe(ctx)
			if err != nil {
				return err
			}

			fmt.Println("Watching todos (Ctrl+C to stop)...")

			for {
				select {
				case <-ctx.Done():
					fmt.Println("\nStopped.")
					return nil
				case ev, ok := <-events:
					if !ok {
						return fmt.Errorf("stream closed by server")
					}
					printEvent(ev)
				}
			}
		},
	}

	return cmd
}

func printEvent(ev todos.Event) {
	ts := time.Now().Local().Format("15:04:05")
	switch ev.Type {
	case todos.EventCreated:
		fmt.Printf("[%s] + %s (%s)\n", ts, ev.Todo.Content, ev.Todo.ID)
	case todos.EventUpdated:
		state := "pending"
		if ev.Todo.Done {
			state = "done"
		}
		fmt.Printf("[%s] ~ %s is now %s\n", ts, ev.Todo.Content, state)
	case todos.EventDeleted:
		fmt.Printf("[%s] - %s (%s)\n", ts, ev.Todo.Content, ev.Todo.ID)
	default:
		fmt.Printf("[%s] ? unknown event %q\n", ts, ev.Type)
	}
}
