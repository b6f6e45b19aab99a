package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewConfirmCmd creates the confirm command
func NewConfirmCmd() *cobra.Command {
	var email, code string

	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm a new account with the emailed code",
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
			if code == "" {
				var err error
				code, err = promptLine("Confirmation code")
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

			if err := app.Provider.ConfirmSignUp(ctx, email, code); err != nil {
				return fmt.Errorf("confirmation failed: %w", err)
			}

			fmt.Println("✓ Account confirmed!")
			fmt.Println("  You can now log in with: todocloud login")
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address")
	cmd.Flags().StringVarP(&code, "code", "c", "", "Confirmation code from the email")

	return cmd
}

// NewResendCmd creates the resend command
func NewResendCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Request a fresh confirmation code",
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

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Provider.ResendCode(ctx, email); err != nil {
				return fmt.Errorf("resend failed: %w", err)
			}

			fmt.Printf("✓ A new confirmation code was sent to %s\n", email)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address")

	return cmd
}
