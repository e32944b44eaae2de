package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/lxc-compose/cmd/lxc-compose/handlers"
)

// Config returns the config command.
func Config(opts *handlers.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "config [container]",
		Short: "Print the merged configuration",
		Long: `Config prints the configuration each container resolves to after its
template, library includes and local settings are merged.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container := ""
			if len(args) == 1 {
				container = args[0]
			}
			return handlers.Config(cmd.Context(), *opts, container)
		},
	}
}
