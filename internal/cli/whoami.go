package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Service.WaitReady(ctx); err != nil {
				return fmt.Errorf("failed to initialize session: %w", err)
			}

			sess := app.Service.Current()

			if app.UserCfg.Output == "json" {
				out := map[string]any{
					"authenticated": sess.Authenticated,
				}
				if sess.Authenticated {
					out["email"] = sess.User.Email
					out["name"] = sess.User.Name
					out["groups"] = sess.User.Groups
					if !sess.Expiry.IsZero() {
						out["session_expiry"] = sess.Expiry.Format(time.RFC3339)
					}
				}
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal session: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			if !sess.Authenticated {
				fmt.Println("Not logged in.")
				fmt.Println("Run: todocloud login")
				return nil
			}

			fmt.Printf("Logged in as %s (%s)\n", sess.User.Name, sess.User.Email)
			if len(sess.User.Groups) > 0 {
				fmt.Printf("  Groups: %s\n", strings.Join(sess.User.Groups, ", "))
			}
			if app.Service.HasRole("admin") {
				fmt.Println("  Role: Admin")
			}
			if !sess.Expiry.IsZero() {
				fmt.Printf("  Session expires: %s (%s)\n",
					sess.Expiry.Local().Format("2006-01-02 15:04:05"),
					time.Until(sess.Expiry).Round(time.Second))
			}
			return nil
		},
	}

	return cmd
}
