package cli

import (
	"fmt"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/todocloud-dev/todocloud/internal/routes"
)

// NewDashCmd creates the dash command
func NewDashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dash",
		Short: "Pick a page interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if !term.IsTerminal(int(syscall.Stdin)) {
				return fmt.Errorf("dash needs an interactive terminal; use 'todocloud open <path>' instead")
			}

			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			type pageOption struct {
				Label string
				Route string
			}

			options := []pageOption{
				{Label: "Landing", Route: routes.Landing},
				{Label: "Dashboard", Route: routes.Dashboard},
				{Label: "Todos", Route: routes.Todos},
				{Label: "Profile", Route: routes.Profile},
				{Label: "Settings", Route: routes.Settings},
			}

			templates := &promptui.SelectTemplates{
				Label:    "{{ . }}",
				Active:   "> {{ .Label | cyan }}",
				Inactive: "  {{ .Label }}",
				Selected: "{{ .Label | green }}",
			}

			prompt := promptui.Select{
				Label:     "Open a page",
				Items:     options,
				Templates: templates,
				Size:      10,
			}

			index, _, err := prompt.Run()
			if err != nil {
				return fmt.Errorf("page selection cancelled: %w", err)
			}

			fmt.Println()
			return openPage(ctx, app, options[index].Route)
		},
	}

	return cmd
}
