// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/lxc-compose/cmd/lxc-compose/handlers"
)

// Root returns the root command for the lxc-compose CLI.
//
// The root command owns the global flags and organizes the command
// hierarchy.
func Root() *cobra.Command {
	opts := &handlers.Options{}

	cmd := &cobra.Command{
		Use:           "lxc-compose",
		Short:         "Declarative provisioning for LXC containers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.File, "file", "f", "", "Path to the compose file (default: lxc-compose.yml in the current directory)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable debug logging")

	// Lifecycle commands
	cmd.AddCommand(Up(opts))
	cmd.AddCommand(Down(opts))
	cmd.AddCommand(Start(opts))
	cmd.AddCommand(Stop(opts))
	cmd.AddCommand(Destroy(opts))

	// Inspection commands
	cmd.AddCommand(List(opts))
	cmd.AddCommand(Test(opts))
	cmd.AddCommand(Logs(opts))
	cmd.AddCommand(Exec(opts))
	cmd.AddCommand(Config(opts))

	// Utility commands
	cmd.AddCommand(Version())
	cmd.AddCommand(Completion())

	return cmd
}
