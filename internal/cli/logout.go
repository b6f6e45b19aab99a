package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
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

			if !app.Service.Current().Authenticated {
				fmt.Println("Not logged in.")
				return nil
			}

			// Local state is cleared even when revocation fails, so a
			// dead emulator cannot trap a session in the keyring.
			if err := app.Service.SignOut(ctx); err != nil {
				fmt.Println("✓ Logged out (session revocation failed, local state cleared)")
				return nil
			}

			fmt.Println("✓ Logged out")
			return nil
		},
	}

	return cmd
}
