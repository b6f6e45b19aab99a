package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/todocloud-dev/todocloud/internal/userconfig"
)

// NewSettingsCmd creates the settings command group. Settings are local
// preferences stored in the user's config file, not server state.
func NewSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage local preferences",
	}

	cmd.AddCommand(
		newSettingsListCmd(),
		newSettingsGetCmd(),
		newSettingsSetCmd(),
	)

	return cmd
}

func newSettingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show all settings",
		RunE: func(cmd *cobra.Command, args []string) error {
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
				fmt.Printf("%s = %s\n", key, value)
			}
			return nil
		},
	}
}

func newSettingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := userconfig.Load()
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}

			value, err := cfg.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Long: `Change one setting.

Available keys:
  api_url        Override the API base URL
  default_route  Page opened after login (default auth/dashboard)
  output         Output format: table or json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := userconfig.Load()
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}

			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := userconfig.Save(cfg); err != nil {
				return fmt.Errorf("failed to save settings: %w", err)
			}

			fmt.Printf("✓ %s = %s\n", args[0], args[1])
			return nil
		},
	}
}
