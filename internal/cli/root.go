package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // Will be set during build

var rootCmd = &cobra.Command{
	Use:   "todocloud",
	Short: "TodoCloud - Your todos, signed in everywhere",
	Long: `TodoCloud CLI - Manage your todo list against a TodoCloud backend.

Sessions are kept fresh automatically and survive restarts: sign in once
and the CLI silently resumes your session from the system keyring.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("todocloud version %s\n", version)
		},
	})

	// Add all subcommands
	rootCmd.AddCommand(NewLoginCmd())
	rootCmd.AddCommand(NewLogoutCmd())
	rootCmd.AddCommand(NewSignUpCmd())
	rootCmd.AddCommand(NewConfirmCmd())
	rootCmd.AddCommand(NewResendCmd())
	rootCmd.AddCommand(NewResetPasswordCmd())
	rootCmd.AddCommand(NewWhoamiCmd())
	rootCmd.AddCommand(NewTodosCmd())
	rootCmd.AddCommand(NewSettingsCmd())
	rootCmd.AddCommand(NewOpenCmd())
	rootCmd.AddCommand(NewDashCmd())
}

// Execute runs the root command
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
