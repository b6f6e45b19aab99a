package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/todocloud-dev/todocloud/internal/idp"
)

// NewSignUpCmd creates the signup command
func NewSignUpCmd() *cobra.Command {
	var email, password, name string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a new account",
		Long: `Register a new account.

A confirmation code is sent to the email address. Finish registration
with 'todocloud confirm' before logging in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

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
			if name == "" {
				var err error
				name, err = promptLine("Name")
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
				again, err := promptPassword("Confirm password")
				if err != nil {
					return err
				}
				if password != again {
					return fmt.Errorf("passwords do not match")
				}
			}
			if err := validEmail(email); err != nil {
				return err
			}
			if err := validPassword(password); err != nil {
				return err
			}

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			step, err := app.Provider.SignUp(ctx, idp.SignUpDetails{
				Email:    email,
				Password: password,
				Name:     name,
			})
			if err != nil {
				return fmt.Errorf("signup failed: %w", err)
			}

			fmt.Println("✓ Account created!")
			if step == idp.StepConfirmSignUp {
				fmt.Printf("  A confirmation code was sent to %s\n", email)
				fmt.Printf("  Run: todocloud confirm --email %s --code <code>\n", email)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted if not provided)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name")

	return cmd
}
