package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/lxc-compose/cmd/lxc-compose/handlers"
	"github.com/imamik/lxc-compose/internal/config"
)

// Test returns the test command.
func Test(opts *handlers.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "test [container] [list|internal|external|port_forwarding]",
		Short: "Run container tests",
		Long: `Test runs the tests declared by containers and their library services.

  internal         scripts copied into the container and run there
  external         scripts run on the host with CONTAINER_IP set
  port_forwarding  host scripts, preceded by a check of the firewall rules

Without a container every container of the compose file is tested. The
list mode prints the defined tests without running them.

Example:
  lxc-compose test
  lxc-compose test web internal
  lxc-compose test web list`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, mode := parseTestArgs(args)
			return handlers.Test(cmd.Context(), *opts, container, mode)
		},
	}
}

// parseTestArgs splits [container] [mode]. A single argument naming a mode
// applies that mode to every container.
func parseTestArgs(args []string) (container, mode string) {
	switch len(args) {
	case 0:
		return "", ""
	case 1:
		if isTestMode(args[0]) {
			return "", args[0]
		}
		return args[0], ""
	default:
		return args[0], args[1]
	}
}

func isTestMode(s string) bool {
	if s == handlers.TestModeList {
		return true
	}
	_, err := config.ParseTestKind(s)
	return err == nil
}
