package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/lxc-compose/cmd/lxc-compose/handlers"
)

// List returns the list command.
func List(opts *handlers.Options) *cobra.Command {
	var (
		running bool
		stopped bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "ps"},
		Short:   "List containers with their state, address and ports",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.List(cmd.Context(), *opts, running, stopped, asJSON)
		},
	}

	cmd.Flags().BoolVar(&running, "running", false, "Only show running containers")
	cmd.Flags().BoolVar(&stopped, "stopped", false, "Only show containers that are not running")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	return cmd
}
