package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/lxc-compose/cmd/lxc-compose/handlers"
)

// Exec returns the exec command.
func Exec(opts *handlers.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <container> [-- command...]",
		Short: "Run a command or a shell inside a container",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Exec(cmd.Context(), *opts, args[0], args[1:])
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}
