package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/todocloud-dev/todocloud/internal/idp"
)

// NewLoginCmd creates the login command
func NewLoginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Long: `Sign in with your email and password.

The refreshed session is stored in the system keyring, so later
commands run without signing in again. Credentials can also be
supplied via the TODOCLOUD_EMAIL and TODOCLOUD_PASSWORD environment
variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// Check environment variables if flags not provided
			if email == "" {
				email = os.Getenv("TODOCLOUD_EMAIL")
			}
			if password == "" {
				password = os.Getenv("TODOCLOUD_PASSWORD")
			}

			if email == "" {
				var err error
				email, err = promptLine("Email")
				if err != nil {
					return err
				}
			}
			if password == "" {
				var err error
				password, err = promptPassword("Password")
				if err != nil {
					return err
				}
			}
			if err := validEmail(email); err != nil {
				return err
			}

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Service.WaitReady(ctx); err != nil {
				return fmt.Errorf("failed to initialize session: %w", err)
			}

			result, err := app.Service.SignIn(ctx, idp.Credentials{Email: email, Password: password})
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			if !result.Complete {
				if result.Step == idp.StepConfirmSignUp {
					fmt.Printf("Account %s is not confirmed yet.\n", email)
					fmt.Printf("Run: todocloud confirm --email %s --code <code>\n", email)
					return nil
				}
				return fmt.Errorf("login incomplete: next step %s", result.Step)
			}

			sess := app.Service.Current()
			fmt.Println("✓ Login successful!")
			fmt.Printf("  User: %s (%s)\n", sess.User.Name, sess.User.Email)
			if app.Service.HasRole("admin") {
				fmt.Println("  Role: Admin")
			}
			if !sess.Expiry.IsZero() {
				fmt.Printf("  Session valid until: %s\n", sess.Expiry.Local().Format("15:04:05"))
			}
			if route := app.LastRoute(); route != "" {
				fmt.Printf("  Landed on: %s\n", route)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted if not provided)")

	return cmd
}
