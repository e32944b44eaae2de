package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/lxc-compose/cmd/lxc-compose/handlers"
)

// Logs returns the logs command.
func Logs(opts *handlers.Options) *cobra.Command {
	var (
		follow bool
		lines  int
	)

	cmd := &cobra.Command{
		Use:   "logs <container> [log]",
		Short: "Show a log file of a container",
		Long: `Logs tails one of the log files declared for a container. Without a log
name the declared logs are listed.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			return handlers.Logs(cmd.Context(), *opts, args[0], name, follow, lines)
		},
	}

	cmd.Flags().BoolVar(&follow, "follow", false, "Keep printing new lines")
	cmd.Flags().IntVarP(&lines, "lines", "n", handlers.DefaultLogLines, "Number of lines to show")

	return cmd
}
