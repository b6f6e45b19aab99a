package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewResetPasswordCmd creates the reset-password command
func NewResetPasswordCmd() *cobra.Command {
	var email, code, newPassword string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Reset a forgotten password",
		Long: `Reset a forgotten password.

Without --code this requests a reset code for the email address.
With --code it completes the reset. Existing sessions are revoked
once the password changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if email == "" {
				email = os.Getenv("TODOCLOUD_EMAIL")
			}
			if email == "" {
				var err error
				email, err = promptLine("Email")
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

			// Phase one: no code yet, request one
			if code == "" {
				if err := app.Provider.ResetPassword(ctx, email); err != nil {
					return fmt.Errorf("reset request failed: %w", err)
				}
				fmt.Printf("✓ A reset code was sent to %s\n", email)
				fmt.Printf("  Run: todocloud reset-password --email %s --code <code>\n", email)
				return nil
			}

			// Phase two: code in hand, set the new password
			if newPassword == "" {
				newPassword, err = promptPassword("New password")
				if err != nil {
					return err
				}
				again, err := promptPassword("Confirm new password")
				if err != nil {
					return err
				}
				if newPassword != again {
					return fmt.Errorf("passwords do not match")
				}
			}
			if err := validPassword(newPassword); err != nil {
				return err
			}

			if err := app.Provider.ConfirmResetPassword(ctx, email, code, newPassword); err != nil {
				return fmt.Errorf("password reset failed: %w", err)
			}

			fmt.Println("✓ Password reset!")
			fmt.Println("  Log in again with: todocloud login")
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address")
	cmd.Flags().StringVarP(&code, "code", "c", "", "Reset code from the email")
	cmd.Flags().StringVarP(&newPassword, "new-password", "p", "", "New password (prompted if not provided)")

	return cmd
}
